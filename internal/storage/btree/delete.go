package btree

import (
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

// Delete removes key from the write transaction's view of the tree and
// reports whether it was present. Deleting a missing key copies nothing.
//
// Nodes on the way down are refilled before they are entered, by borrowing
// from a sibling or merging with one, so removal from the leaf never
// leaves a node below the minimum.
func (t *BPlusTree) Delete(txn *tx.Transaction, key []byte) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	st, err := t.writeState(txn)
	if err != nil {
		return false, err
	}
	if st.root == InvalidBlockID {
		return false, nil
	}

	_, found, err := t.get(st, key)
	if err != nil || !found {
		return false, err
	}

	root, err := t.load(st, st.root)
	if err != nil {
		return false, err
	}
	root = t.writable(st, root)
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

		if len(child.Keys) <= t.params.minKeys() {
			child, err = t.refill(st, n, i, child)
			if err != nil {
				return false, err
			}
		}
		n = child
	}

	if idx, ok := n.FindKeyIndex(key); ok {
		n.removeLeafAt(idx)
	}

	t.shrinkRoot(st)
	return true, nil
}

// refill brings child, found at parent.Children[i], above the minimum and
// returns the node that now covers its keys.
func (t *BPlusTree) refill(st *txnState, parent *BPlusNode, i int, child *BPlusNode) (*BPlusNode, error) {
	minKeys := t.params.minKeys()

	var left, right *BPlusNode
	if i > 0 {
		l, err := t.load(st, parent.Children[i-1])
		if err != nil {
			return nil, err
		}
		if len(l.Keys) > minKeys {
			l = t.writable(st, l)
			parent.Children[i-1] = l.ID
			borrowFromLeft(parent, i, l, child)
			return child, nil
		}
		left = l
	}
	if i < len(parent.Children)-1 {
		r, err := t.load(st, parent.Children[i+1])
		if err != nil {
			return nil, err
		}
		if len(r.Keys) > minKeys {
			r = t.writable(st, r)
			parent.Children[i+1] = r.ID
			borrowFromRight(parent, i, child, r)
			return child, nil
		}
		right = r
	}

	if left != nil {
		left = t.writable(st, left)
		parent.Children[i-1] = left.ID
		t.merge(st, parent, i-1, left, child)
		return left, nil
	}
	if right == nil {
		return nil, ErrCorruptStructure
	}
	t.merge(st, parent, i, child, right)
	return child, nil
}

// borrowFromLeft moves the last entry of left into child.
func borrowFromLeft(parent *BPlusNode, i int, left, child *BPlusNode) {
	last := len(left.Keys) - 1
	if child.IsLeaf {
		child.Keys = append([][]byte{left.Keys[last]}, child.Keys...)
		child.Values = append([][]byte{left.Values[last]}, child.Values...)
		left.Keys = left.Keys[:last]
		left.Values = left.Values[:last]
		parent.Keys[i-1] = child.Keys[0]
		return
	}

	child.Keys = append([][]byte{parent.Keys[i-1]}, child.Keys...)
	child.Children = append([]BlockID{left.Children[last+1]}, child.Children...)
	parent.Keys[i-1] = left.Keys[last]
	left.Keys = left.Keys[:last]
	left.Children = left.Children[:last+1]
}

// borrowFromRight moves the first entry of right into child.
func borrowFromRight(parent *BPlusNode, i int, child, right *BPlusNode) {
	if child.IsLeaf {
		child.Keys = append(child.Keys, right.Keys[0])
		child.Values = append(child.Values, right.Values[0])
		right.Keys = append([][]byte(nil), right.Keys[1:]...)
		right.Values = append([][]byte(nil), right.Values[1:]...)
		parent.Keys[i] = right.Keys[0]
		return
	}

	child.Keys = append(child.Keys, parent.Keys[i])
	child.Children = append(child.Children, right.Children[0])
	parent.Keys[i] = right.Keys[0]
	right.Keys = append([][]byte(nil), right.Keys[1:]...)
	right.Children = append([]BlockID(nil), right.Children[1:]...)
}

// merge folds right, at parent.Children[j+1], into left, at
// parent.Children[j], and drops the separator between them. left is owned
// by st; right is discarded.
func (t *BPlusTree) merge(st *txnState, parent *BPlusNode, j int, left, right *BPlusNode) {
	if left.IsLeaf {
		left.Keys = append(left.Keys, right.Keys...)
		left.Values = append(left.Values, right.Values...)
	} else {
		left.Keys = append(left.Keys, parent.Keys[j])
		left.Keys = append(left.Keys, right.Keys...)
		left.Children = append(left.Children, right.Children...)
	}
	parent.removeChildAt(j)
	t.discard(st, right)
}

// shrinkRoot removes empty root levels.
func (t *BPlusTree) shrinkRoot(st *txnState) {
	for st.root != InvalidBlockID {
		root, ok := st.pending[st.root]
		if !ok || len(root.Keys) > 0 {
			return
		}
		t.discard(st, root)
		if root.IsLeaf {
			st.root = InvalidBlockID
			return
		}
		st.root = root.Children[0]
	}
}
