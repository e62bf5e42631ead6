package btree

import (
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// iterFrame is one level of an iterator's path. For an internal node pos
// is the child being visited; for a leaf it is the next entry.
type iterFrame struct {
	node *BPlusNode
	pos  int
}

// Iterator walks a range of one transaction's view of the tree in
// ascending key order. Nodes carry no sibling links, so the iterator keeps
// the path from the root to the current leaf.
type Iterator struct {
	tree   *BPlusTree
	st     *txnState
	stack  []iterFrame
	hi     []byte
	key    []byte
	value  []byte
	err    error
	closed bool
}

// NewIterator returns an iterator over lo <= key < hi. A nil bound is open.
// The tree must not be modified through txn while the iterator is in use.
func (t *BPlusTree) NewIterator(txn *tx.Transaction, lo, hi []byte) (*Iterator, error) {
	st, err := t.state(txn)
	if err != nil {
		return nil, err
	}

	it := &Iterator{tree: t, st: st, hi: hi}
	if st.root == InvalidBlockID {
		it.closed = true
		return it, nil
	}
	if err := it.seek(lo); err != nil {
		return nil, err
	}
	return it, nil
}

// seek builds the path to the first key >= lo.
func (it *Iterator) seek(lo []byte) error {
	n, err := it.tree.load(it.st, it.st.root)
	if err != nil {
		return err
	}
	for !n.IsLeaf {
		i := 0
		if lo != nil {
			i = n.childIndex(lo)
		}
		it.stack = append(it.stack, iterFrame{node: n, pos: i})
		n, err = it.tree.load(it.st, n.Children[i])
		if err != nil {
			return err
		}
	}

	pos := 0
	if lo != nil {
		pos, _ = n.FindKeyIndex(lo)
	}
	it.stack = append(it.stack, iterFrame{node: n, pos: pos})
	return nil
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator) Next() bool {
	if it.closed {
		return false
	}

	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]

		if top.node.IsLeaf {
			if top.pos < len(top.node.Keys) {
				k := top.node.Keys[top.pos]
				if it.hi != nil && compareKeys(k, it.hi) >= 0 {
					break
				}
				it.key, it.value = k, top.node.Values[top.pos]
				top.pos++
				return true
			}
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}

		top.pos++
		if top.pos >= len(top.node.Children) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		child, err := it.tree.load(it.st, top.node.Children[top.pos])
		if err != nil {
			it.err = err
			break
		}
		pos := 0
		if !child.IsLeaf {
			pos = -1
		}
		it.stack = append(it.stack, iterFrame{node: child, pos: pos})
	}

	it.Close()
	return false
}

// Key returns the current key. It is shared with the tree.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current value. It is shared with the tree.
func (it *Iterator) Value() []byte {
	return it.value
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator.
func (it *Iterator) Close() {
	it.closed = true
	it.stack = nil
	it.key = nil
	it.value = nil
}
