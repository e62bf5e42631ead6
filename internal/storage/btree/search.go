package btree

import (
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// get looks up key in st's view of the tree. The returned value is shared
// with the tree.
func (t *BPlusTree) get(st *txnState, key []byte) ([]byte, bool, error) {
	if st.root == InvalidBlockID {
		return nil, false, nil
	}

	n, err := t.load(st, st.root)
	if err != nil {
		return nil, false, err
	}
	for !n.IsLeaf {
		n, err = t.load(st, n.Children[n.childIndex(key)])
		if err != nil {
			return nil, false, err
		}
	}

	idx, found := n.FindKeyIndex(key)
	if !found {
		return nil, false, nil
	}
	return n.Values[idx], true, nil
}

// Get returns a copy of the value stored under key and whether it exists.
func (t *BPlusTree) Get(txn *tx.Transaction, key []byte) ([]byte, bool, error) {
	if len(key) == 0 {
		return nil, false, ErrEmptyKey
	}
	st, err := t.state(txn)
	if err != nil {
		return nil, false, err
	}
	v, found, err := t.get(st, key)
	if err != nil || !found {
		return nil, false, err
	}
	return cloneBytes(v), true, nil
}

// Contains reports whether key exists.
func (t *BPlusTree) Contains(txn *tx.Transaction, key []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	st, err := t.state(txn)
	if err != nil {
		return false, err
	}
	_, found, err := t.get(st, key)
	return found, err
}

// IsEmpty reports whether the transaction sees an empty tree.
func (t *BPlusTree) IsEmpty(txn *tx.Transaction) (bool, error) {
	st, err := t.state(txn)
	if err != nil {
		return false, err
	}
	return st.root == InvalidBlockID, nil
}

// Range calls fn for each pair with lo <= key < hi in ascending key order
// until fn returns false. A nil bound is open. Key and value slices passed
// to fn are shared with the tree and must not be modified or retained, and
// fn must not modify the tree.
func (t *BPlusTree) Range(txn *tx.Transaction, lo, hi []byte, fn func(key, value []byte) bool) error {
	it, err := t.NewIterator(txn, lo, hi)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Err()
}

// Count returns the number of keys in the transaction's view of the tree.
func (t *BPlusTree) Count(txn *tx.Transaction) (int, error) {
	n := 0
	err := t.Range(txn, nil, nil, func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// Min returns a copy of the smallest key, or nil for an empty tree.
func (t *BPlusTree) Min(txn *tx.Transaction) ([]byte, error) {
	var key []byte
	err := t.Range(txn, nil, nil, func(k, _ []byte) bool {
		key = cloneBytes(k)
		return false
	})
	return key, err
}
