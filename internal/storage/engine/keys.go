package engine

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxGraphNameSize is the maximum length of a graph name in bytes.
const MaxGraphNameSize = 255

// Data tree key layout:
//   - Bytes 0-1: graph name length (uint16, big endian)
//   - Bytes 2-:  graph name, then the entry key
//
// Big endian keeps keys of one graph contiguous and graphs ordered by
// name length, then name.

func checkGraph(graph string) error {
	if graph == "" {
		return errors.Wrap(ErrInvalidGraph, "empty name")
	}
	if len(graph) > MaxGraphNameSize {
		return errors.Wrapf(ErrInvalidGraph, "name of %d bytes", len(graph))
	}
	return nil
}

// graphPrefix returns the data key prefix of graph.
func graphPrefix(graph string) []byte {
	p := make([]byte, 2+len(graph))
	binary.BigEndian.PutUint16(p[0:2], uint16(len(graph)))
	copy(p[2:], graph)
	return p
}

// dataKey returns the data tree key of key in graph.
func dataKey(graph string, key []byte) []byte {
	p := graphPrefix(graph)
	out := make([]byte, len(p)+len(key))
	copy(out, p)
	copy(out[len(p):], key)
	return out
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func encodeCount(n uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return buf
}

func decodeCount(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, errors.Wrapf(ErrCorruptCounter, "length %d", len(buf))
	}
	return binary.LittleEndian.Uint64(buf), nil
}
