package btree

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// validateEntry checks key and value limits.
func validateEntry(key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return errors.Wrapf(ErrKeyTooLarge, "%d bytes", len(key))
	}
	if len(value) > MaxValueSize {
		return errors.Wrapf(ErrValueTooLarge, "%d bytes", len(value))
	}
	return nil
}

// Insert stores value under key in the write transaction's view of the
// tree, replacing any previous value. It reports whether the tree changed:
// inserting a pair that is already present copies nothing and returns
// false.
//
// Full nodes are split on the way down, so a single pass from the root
// reaches a leaf with room for the key.
func (t *BPlusTree) Insert(txn *tx.Transaction, key, value []byte) (bool, error) {
	if err := validateEntry(key, value); err != nil {
		return false, err
	}
	st, err := t.writeState(txn)
	if err != nil {
		return false, err
	}

	if st.root != InvalidBlockID {
		old, found, err := t.get(st, key)
		if err != nil {
			return false, err
		}
		if found && bytes.Equal(old, value) {
			return false, nil
		}
	}

	key = cloneBytes(key)
	value = cloneBytes(value)

	if st.root == InvalidBlockID {
		leaf := t.newNode(st, true)
		leaf.insertLeafAt(0, key, value)
		st.root = leaf.ID
		return true, nil
	}

	root, err := t.load(st, st.root)
	if err != nil {
		return false, err
	}
	root = t.writable(st, root)
	if len(root.Keys) >= t.params.MaxKeys {
		newRoot := t.newNode(st, false)
		newRoot.Children = []BlockID{root.ID}
		t.splitChild(st, newRoot, 0, root)
		root = newRoot
	}
	st.root = root.ID

	n := root
	for !n.IsLeaf {
		i := n.childIndex(key)
		child, err := t.load(st, n.Children[i])
		if err != nil {
			return false, err
		}
		child = t.writable(st, child)
		n.Children[i] = child.ID

		if len(child.Keys) >= t.params.MaxKeys {
			t.splitChild(st, n, i, child)
			if compareKeys(key, n.Keys[i]) >= 0 {
				child = st.pending[n.Children[i+1]]
			}
		}
		n = child
	}

	idx, found := n.FindKeyIndex(key)
	if found {
		n.Values[idx] = value
		return true, nil
	}
	n.insertLeafAt(idx, key, value)
	return true, nil
}

// splitChild splits the full node child, found at parent.Children[i], into
// two and inserts the separator into parent. Both parent and child are
// owned by st.
func (t *BPlusTree) splitChild(st *txnState, parent *BPlusNode, i int, child *BPlusNode) {
	mid := len(child.Keys) / 2
	right := t.newNode(st, child.IsLeaf)

	var sep []byte
	if child.IsLeaf {
		right.Keys = append([][]byte(nil), child.Keys[mid:]...)
		right.Values = append([][]byte(nil), child.Values[mid:]...)
		child.Keys = child.Keys[:mid]
		child.Values = child.Values[:mid]
		sep = right.Keys[0]
	} else {
		sep = child.Keys[mid]
		right.Keys = append([][]byte(nil), child.Keys[mid+1:]...)
		right.Children = append([]BlockID(nil), child.Children[mid+1:]...)
		child.Keys = child.Keys[:mid]
		child.Children = child.Children[:mid+1]
	}

	parent.insertChildAt(i, sep, right.ID)
}
