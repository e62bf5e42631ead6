package storage

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// Journal record constants.
const (
	// JournalRecordHeaderSize is the fixed size of the journal record header.
	// Layout:
	//   - Byte 0:      Type (uint8)
	//   - Byte 1:      Codec (uint8)
	//   - Bytes 2-9:   TxnID (uint64)
	//   - Bytes 10-17: Version (uint64)
	//   - Bytes 18-21: PayloadLen (uint32)
	//   - Bytes 22-25: Checksum (uint32)
	JournalRecordHeaderSize = 26

	// MaxComponentIDLen is the maximum length of a component id in a record.
	MaxComponentIDLen = 65535

	// MaxJournalRecordSize bounds a single serialized record.
	MaxJournalRecordSize = 64 * 1024 * 1024
)

// RecordType represents the type of a journal record.
type RecordType uint8

const (
	// RecordCommit carries the prepared state of every component touched by
	// a committed write transaction.
	RecordCommit RecordType = iota + 1
)

// String returns the string representation of a RecordType.
func (t RecordType) String() string {
	switch t {
	case RecordCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// Errors for journal record operations.
var (
	ErrRecordTooSmall    = errors.New("journal record buffer too small")
	ErrRecordChecksum    = errors.New("journal record checksum mismatch")
	ErrRecordTooLarge    = errors.New("journal record exceeds maximum size")
	ErrInvalidRecordType = errors.New("invalid journal record type")
	ErrRecordPayload     = errors.New("malformed journal record payload")
)

// JournalEntry is the candidate state of one component inside a commit record.
type JournalEntry struct {
	Component string
	State     []byte
}

// JournalRecord is one durable unit of the journal. A commit record is the
// point at which a write transaction becomes durable.
type JournalRecord struct {
	Type    RecordType
	TxnID   uint64
	Version uint64 // data version produced by the commit
	Entries []JournalEntry
}

// NewCommitRecord creates a commit record for the given transaction.
func NewCommitRecord(txnID, version uint64, entries []JournalEntry) *JournalRecord {
	return &JournalRecord{
		Type:    RecordCommit,
		TxnID:   txnID,
		Version: version,
		Entries: entries,
	}
}

// Entry returns the state recorded for a component and whether it is present.
func (r *JournalRecord) Entry(component string) ([]byte, bool) {
	for _, e := range r.Entries {
		if e.Component == component {
			return e.State, true
		}
	}
	return nil, false
}

func (r *JournalRecord) payloadSize() int {
	size := 2
	for _, e := range r.Entries {
		size += 2 + len(e.Component) + 4 + len(e.State)
	}
	return size
}

// encodePayload writes the entry list:
// count(u16) then per entry idLen(u16) id stateLen(u32) state.
func (r *JournalRecord) encodePayload() ([]byte, error) {
	if len(r.Entries) > 0xFFFF {
		return nil, ErrRecordTooLarge
	}

	buf := make([]byte, r.payloadSize())
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(r.Entries)))
	off := 2
	for _, e := range r.Entries {
		if len(e.Component) > MaxComponentIDLen {
			return nil, ErrRecordTooLarge
		}
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(e.Component)))
		off += 2
		off += copy(buf[off:], e.Component)
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.State)))
		off += 4
		off += copy(buf[off:], e.State)
	}
	return buf, nil
}

func decodePayload(buf []byte) ([]JournalEntry, error) {
	if len(buf) < 2 {
		return nil, ErrRecordPayload
	}
	count := int(binary.LittleEndian.Uint16(buf[0:2]))
	off := 2

	entries := make([]JournalEntry, 0, count)
	for i := 0; i < count; i++ {
		if off+2 > len(buf) {
			return nil, ErrRecordPayload
		}
		idLen := int(binary.LittleEndian.Uint16(buf[off:]))
		off += 2
		if off+idLen+4 > len(buf) {
			return nil, ErrRecordPayload
		}
		id := string(buf[off : off+idLen])
		off += idLen
		stateLen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+stateLen > len(buf) {
			return nil, ErrRecordPayload
		}
		state := make([]byte, stateLen)
		copy(state, buf[off:off+stateLen])
		off += stateLen

		entries = append(entries, JournalEntry{Component: id, State: state})
	}
	return entries, nil
}

// Serialize encodes the record, compressing the payload with codec.
// The checksum covers the header (with the checksum field zeroed) and the
// payload as stored.
func (r *JournalRecord) Serialize(codec Codec) ([]byte, error) {
	if r.Type != RecordCommit {
		return nil, ErrInvalidRecordType
	}

	payload, err := r.encodePayload()
	if err != nil {
		return nil, err
	}
	payload, err = codec.Compress(payload)
	if err != nil {
		return nil, errors.Wrap(err, "compress journal payload")
	}

	size := JournalRecordHeaderSize + len(payload)
	if size > MaxJournalRecordSize {
		return nil, ErrRecordTooLarge
	}

	buf := make([]byte, size)
	buf[0] = byte(r.Type)
	buf[1] = byte(codec)
	binary.LittleEndian.PutUint64(buf[2:10], r.TxnID)
	binary.LittleEndian.PutUint64(buf[10:18], r.Version)
	binary.LittleEndian.PutUint32(buf[18:22], uint32(len(payload)))
	copy(buf[JournalRecordHeaderSize:], payload)

	binary.LittleEndian.PutUint32(buf[22:26], recordChecksum(buf))
	return buf, nil
}

// DeserializeRecord decodes and validates a record produced by Serialize.
func DeserializeRecord(buf []byte) (*JournalRecord, error) {
	if len(buf) < JournalRecordHeaderSize {
		return nil, ErrRecordTooSmall
	}

	payloadLen := int(binary.LittleEndian.Uint32(buf[18:22]))
	if len(buf) < JournalRecordHeaderSize+payloadLen {
		return nil, ErrRecordTooSmall
	}
	buf = buf[:JournalRecordHeaderSize+payloadLen]

	if binary.LittleEndian.Uint32(buf[22:26]) != recordChecksum(buf) {
		return nil, ErrRecordChecksum
	}

	r := &JournalRecord{
		Type:    RecordType(buf[0]),
		TxnID:   binary.LittleEndian.Uint64(buf[2:10]),
		Version: binary.LittleEndian.Uint64(buf[10:18]),
	}
	if r.Type != RecordCommit {
		return nil, ErrInvalidRecordType
	}

	payload, err := Codec(buf[1]).Decompress(buf[JournalRecordHeaderSize:])
	if err != nil {
		return nil, errors.Wrap(err, "decompress journal payload")
	}
	if r.Entries, err = decodePayload(payload); err != nil {
		return nil, err
	}
	return r, nil
}

// recordChecksum computes CRC32 over buf with the checksum field zeroed.
func recordChecksum(buf []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(buf[:22])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[26:])
	return h.Sum32()
}
