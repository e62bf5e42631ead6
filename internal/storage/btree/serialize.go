package btree

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Serialization constants.
const (
	// BPlusNodeHeaderSize is the size of the node header in bytes.
	// Layout:
	//   - Byte 0:    IsLeaf (uint8, 0 or 1)
	//   - Bytes 1-2: KeyCount (uint16)
	//   - Bytes 3-6: Block id (uint32)
	BPlusNodeHeaderSize = 7

	// KeyLengthSize is the size of the key length prefix.
	KeyLengthSize = 2

	// ValueLengthSize is the size of the value length prefix.
	ValueLengthSize = 4

	// BlockIDSize is the size of a child pointer.
	BlockIDSize = 4

	// stateSize is the size of the encoded component state.
	stateSize = 8
)

// Serialization errors.
var (
	ErrKeyTooLarge        = errors.New("key exceeds maximum size")
	ErrValueTooLarge      = errors.New("value exceeds maximum size")
	ErrInvalidNodeData    = errors.New("invalid node data")
	ErrInvalidChildCount  = errors.New("invalid child count for internal node")
	ErrMismatchedKeyValue = errors.New("mismatched key and value count in leaf node")
	ErrInvalidState       = errors.New("invalid tree state")
)

// SerializedSize returns the encoded size of the node.
func (n *BPlusNode) SerializedSize() int {
	size := BPlusNodeHeaderSize
	for _, key := range n.Keys {
		size += KeyLengthSize + len(key)
	}
	if n.IsLeaf {
		for _, v := range n.Values {
			size += ValueLengthSize + len(v)
		}
	} else {
		size += len(n.Children) * BlockIDSize
	}
	return size
}

// Serialize encodes the node into a new byte slice.
func (n *BPlusNode) Serialize() ([]byte, error) {
	if len(n.Keys) > 0xFFFF {
		return nil, ErrInvalidNodeData
	}
	if n.IsLeaf && len(n.Values) != len(n.Keys) {
		return nil, ErrMismatchedKeyValue
	}
	if !n.IsLeaf && len(n.Children) != len(n.Keys)+1 {
		return nil, ErrInvalidChildCount
	}

	buf := make([]byte, n.SerializedSize())
	if n.IsLeaf {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(n.Keys)))
	binary.LittleEndian.PutUint32(buf[3:7], uint32(n.ID))

	offset := BPlusNodeHeaderSize
	for _, key := range n.Keys {
		if len(key) > MaxKeySize {
			return nil, ErrKeyTooLarge
		}
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(key)))
		offset += KeyLengthSize
		offset += copy(buf[offset:], key)
	}

	if n.IsLeaf {
		for _, v := range n.Values {
			binary.LittleEndian.PutUint32(buf[offset:], uint32(len(v)))
			offset += ValueLengthSize
			offset += copy(buf[offset:], v)
		}
	} else {
		for _, child := range n.Children {
			binary.LittleEndian.PutUint32(buf[offset:], uint32(child))
			offset += BlockIDSize
		}
	}

	return buf, nil
}

// DeserializeNode decodes a node produced by Serialize.
func DeserializeNode(buf []byte) (*BPlusNode, error) {
	if len(buf) < BPlusNodeHeaderSize {
		return nil, ErrInvalidNodeData
	}

	n := &BPlusNode{
		IsLeaf: buf[0] == 1,
		ID:     BlockID(binary.LittleEndian.Uint32(buf[3:7])),
	}
	count := int(binary.LittleEndian.Uint16(buf[1:3]))

	offset := BPlusNodeHeaderSize
	n.Keys = make([][]byte, count)
	for i := 0; i < count; i++ {
		if offset+KeyLengthSize > len(buf) {
			return nil, ErrInvalidNodeData
		}
		l := int(binary.LittleEndian.Uint16(buf[offset:]))
		offset += KeyLengthSize
		if offset+l > len(buf) {
			return nil, ErrInvalidNodeData
		}
		n.Keys[i] = cloneBytes(buf[offset : offset+l])
		offset += l
	}

	if n.IsLeaf {
		n.Values = make([][]byte, count)
		for i := 0; i < count; i++ {
			if offset+ValueLengthSize > len(buf) {
				return nil, ErrInvalidNodeData
			}
			l := int(binary.LittleEndian.Uint32(buf[offset:]))
			offset += ValueLengthSize
			if offset+l > len(buf) {
				return nil, ErrInvalidNodeData
			}
			n.Values[i] = cloneBytes(buf[offset : offset+l])
			offset += l
		}
	} else {
		if offset+(count+1)*BlockIDSize > len(buf) {
			return nil, ErrInvalidChildCount
		}
		n.Children = make([]BlockID, count+1)
		for i := range n.Children {
			n.Children[i] = BlockID(binary.LittleEndian.Uint32(buf[offset:]))
			offset += BlockIDSize
		}
	}

	return n, nil
}

// treeState is the durable state of a tree: its root and the block
// allocation watermark. It is what the tree records in the journal.
type treeState struct {
	root      BlockID
	nextBlock BlockID
}

func (s treeState) encode() []byte {
	buf := make([]byte, stateSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(s.root))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(s.nextBlock))
	return buf
}

func decodeTreeState(buf []byte) (treeState, error) {
	if len(buf) != stateSize {
		return treeState{}, errors.Wrapf(ErrInvalidState, "length %d", len(buf))
	}
	return treeState{
		root:      BlockID(binary.LittleEndian.Uint32(buf[0:4])),
		nextBlock: BlockID(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}
