// Package btree provides the copy-on-write B+ Tree used by ObaDB storage
// components.
package btree

import (
	"bytes"
)

// B+ Tree constants.
const (
	// InvalidBlockID is the root of an empty tree and never names a block.
	InvalidBlockID BlockID = 0

	// MaxKeySize is the maximum size of a single key in bytes.
	MaxKeySize = 4096

	// MaxValueSize is the maximum size of a single value in bytes.
	MaxValueSize = 1 << 20
)

// BlockID identifies a node in the block store.
type BlockID uint32

// BPlusNode is a node of the tree. A node reachable from a published root
// is immutable; a write transaction mutates only nodes it allocated itself.
type BPlusNode struct {
	// ID is the block holding this node.
	ID BlockID

	// IsLeaf indicates whether this is a leaf node.
	IsLeaf bool

	// Keys are sorted ascending.
	// For internal nodes: Keys[i] separates Children[i] and Children[i+1];
	// every key in Children[i+1] is >= Keys[i].
	// For leaf nodes: Keys[i] corresponds to Values[i].
	Keys [][]byte

	// Values holds the value of each key (leaf nodes only).
	Values [][]byte

	// Children holds child block ids (internal nodes only).
	// len(Children) = len(Keys) + 1.
	Children []BlockID
}

// NewLeafNode creates an empty leaf node.
func NewLeafNode(id BlockID) *BPlusNode {
	return &BPlusNode{ID: id, IsLeaf: true}
}

// NewInternalNode creates an empty internal node.
func NewInternalNode(id BlockID) *BPlusNode {
	return &BPlusNode{ID: id, IsLeaf: false}
}

// KeyCount returns the number of keys in the node.
func (n *BPlusNode) KeyCount() int {
	return len(n.Keys)
}

// clone returns a copy of the node under a new id. Key and value byte
// slices are shared; they are never modified in place.
func (n *BPlusNode) clone(id BlockID) *BPlusNode {
	c := &BPlusNode{
		ID:     id,
		IsLeaf: n.IsLeaf,
		Keys:   append([][]byte(nil), n.Keys...),
	}
	if n.IsLeaf {
		c.Values = append([][]byte(nil), n.Values...)
	} else {
		c.Children = append([]BlockID(nil), n.Children...)
	}
	return c
}

// FindKeyIndex returns the index of the first key >= key and whether that
// key equals key.
func (n *BPlusNode) FindKeyIndex(key []byte) (int, bool) {
	low, high := 0, len(n.Keys)

	for low < high {
		mid := (low + high) / 2
		cmp := compareKeys(n.Keys[mid], key)
		if cmp < 0 {
			low = mid + 1
		} else if cmp > 0 {
			high = mid
		} else {
			return mid, true
		}
	}

	return low, false
}

// childIndex returns the index of the child whose subtree covers key: the
// number of separators <= key.
func (n *BPlusNode) childIndex(key []byte) int {
	low, high := 0, len(n.Keys)
	for low < high {
		mid := (low + high) / 2
		if compareKeys(n.Keys[mid], key) <= 0 {
			low = mid + 1
		} else {
			high = mid
		}
	}
	return low
}

// insertLeafAt inserts a key and value at index.
func (n *BPlusNode) insertLeafAt(index int, key, value []byte) {
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[index+1:], n.Keys[index:])
	n.Keys[index] = key

	n.Values = append(n.Values, nil)
	copy(n.Values[index+1:], n.Values[index:])
	n.Values[index] = value
}

// removeLeafAt removes the key and value at index.
func (n *BPlusNode) removeLeafAt(index int) {
	n.Keys = append(n.Keys[:index], n.Keys[index+1:]...)
	n.Values = append(n.Values[:index], n.Values[index+1:]...)
}

// insertChildAt inserts separator key at index with child to its right.
func (n *BPlusNode) insertChildAt(index int, key []byte, child BlockID) {
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[index+1:], n.Keys[index:])
	n.Keys[index] = key

	n.Children = append(n.Children, InvalidBlockID)
	copy(n.Children[index+2:], n.Children[index+1:])
	n.Children[index+1] = child
}

// removeChildAt removes separator key at index and the child to its right.
func (n *BPlusNode) removeChildAt(index int) {
	n.Keys = append(n.Keys[:index], n.Keys[index+1:]...)
	n.Children = append(n.Children[:index+1], n.Children[index+2:]...)
}

// compareKeys compares two byte slice keys lexicographically.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// CompareKeys is the exported version of compareKeys for external use.
func CompareKeys(a, b []byte) int {
	return compareKeys(a, b)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
