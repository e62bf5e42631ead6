package storage

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Journal constants.
const (
	// JournalBufferSize is the default size of the journal write buffer.
	JournalBufferSize = 64 * 1024 // 64KB

	// JournalLengthSize is the size of the length prefix for each record.
	JournalLengthSize = 4
)

// Journal errors.
var (
	ErrJournalClosed = errors.New("journal is closed")
)

// Journal is the append-only durable log the coordinator writes commit
// records to. A record is durable once Sync returns.
type Journal interface {
	// Write appends a record and returns its position in the journal.
	Write(r *JournalRecord) (int64, error)
	// Sync makes every written record durable.
	Sync() error
	// Replay calls fn for every durable record in write order.
	Replay(fn func(*JournalRecord) error) error
	// Close releases the journal.
	Close() error
}

// FileJournal is a Journal backed by a single file. Records are length
// prefixed; a torn or corrupted tail found on open is truncated away.
type FileJournal struct {
	file      *os.File
	path      string
	codec     Codec
	buffer    []byte
	bufferPos int
	size      int64 // bytes on disk, excluding the buffer
	records   int
	mu        sync.Mutex
	closed    bool
}

// OpenFileJournal opens or creates a journal file at the given path.
func OpenFileJournal(path string, codec Codec) (*FileJournal, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}

	j := &FileJournal{
		file:   file,
		path:   path,
		codec:  codec,
		buffer: make([]byte, JournalBufferSize),
	}

	if err := j.recover(); err != nil {
		file.Close()
		return nil, err
	}

	return j, nil
}

// recover scans the file, counts valid records and truncates the first
// invalid or incomplete one and everything after it.
func (j *FileJournal) recover() error {
	var offset int64
	err := j.scan(func(_ *JournalRecord, next int64) error {
		offset = next
		j.records++
		return nil
	})
	if err != nil {
		return err
	}

	if err := j.file.Truncate(offset); err != nil {
		return errors.Wrap(err, "truncate journal tail")
	}
	if _, err := j.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	j.size = offset
	return nil
}

// scan walks valid records from the start of the file. fn receives each
// record and the offset just past it. Scanning stops silently at the first
// incomplete or invalid record.
func (j *FileJournal) scan(fn func(r *JournalRecord, next int64) error) error {
	info, err := j.file.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()

	var offset int64
	lengthBuf := make([]byte, JournalLengthSize)
	for offset < fileSize {
		n, err := j.file.ReadAt(lengthBuf, offset)
		if n < JournalLengthSize {
			if err != nil && err != io.EOF {
				return err
			}
			break
		}

		recordLen := binary.LittleEndian.Uint32(lengthBuf)
		if recordLen < JournalRecordHeaderSize || recordLen > MaxJournalRecordSize {
			break
		}

		recordBuf := make([]byte, recordLen)
		n, err = j.file.ReadAt(recordBuf, offset+JournalLengthSize)
		if n < int(recordLen) {
			if err != nil && err != io.EOF {
				return err
			}
			break
		}

		record, err := DeserializeRecord(recordBuf)
		if err != nil {
			break
		}

		offset += JournalLengthSize + int64(recordLen)
		if err := fn(record, offset); err != nil {
			return err
		}
	}
	return nil
}

// Write appends a record to the buffer. It is not durable until Sync.
func (j *FileJournal) Write(r *JournalRecord) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	recordBuf, err := r.Serialize(j.codec)
	if err != nil {
		return 0, err
	}

	total := JournalLengthSize + len(recordBuf)
	if j.bufferPos+total > len(j.buffer) {
		if err := j.flushBuffer(); err != nil {
			return 0, err
		}
	}

	pos := j.size + int64(j.bufferPos)
	if total > len(j.buffer) {
		// Oversized records bypass the buffer.
		out := make([]byte, total)
		binary.LittleEndian.PutUint32(out, uint32(len(recordBuf)))
		copy(out[JournalLengthSize:], recordBuf)
		if _, err := j.file.Write(out); err != nil {
			return 0, err
		}
		j.size += int64(total)
	} else {
		binary.LittleEndian.PutUint32(j.buffer[j.bufferPos:], uint32(len(recordBuf)))
		j.bufferPos += JournalLengthSize
		j.bufferPos += copy(j.buffer[j.bufferPos:], recordBuf)
	}

	j.records++
	return pos, nil
}

// flushBuffer writes the buffer contents to the file.
func (j *FileJournal) flushBuffer() error {
	if j.bufferPos == 0 {
		return nil
	}

	if _, err := j.file.Write(j.buffer[:j.bufferPos]); err != nil {
		return err
	}

	j.size += int64(j.bufferPos)
	j.bufferPos = 0
	return nil
}

// Sync flushes the buffer and fsyncs the file.
func (j *FileJournal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	if err := j.flushBuffer(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Replay calls fn for every record in the file, in order. Buffered records
// are flushed first.
func (j *FileJournal) Replay(fn func(*JournalRecord) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}
	if err := j.flushBuffer(); err != nil {
		return err
	}

	return j.scan(func(r *JournalRecord, _ int64) error {
		return fn(r)
	})
}

// Len returns the number of records in the journal.
func (j *FileJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records
}

// Path returns the journal file path.
func (j *FileJournal) Path() string {
	return j.path
}

// Close flushes, syncs and closes the journal file.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if err := j.flushBuffer(); err != nil {
		return err
	}
	if err := j.file.Sync(); err != nil {
		return err
	}

	j.closed = true
	return j.file.Close()
}

// MemJournal is an in-memory Journal used by memory-backed stores.
// Records are serialized on Write so that Replay sees the same bytes a
// file journal would.
type MemJournal struct {
	mu      sync.Mutex
	records [][]byte
	closed  bool
}

// NewMemJournal creates an empty in-memory journal.
func NewMemJournal() *MemJournal {
	return &MemJournal{}
}

// Write appends a record.
func (j *MemJournal) Write(r *JournalRecord) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	buf, err := r.Serialize(CodecNone)
	if err != nil {
		return 0, err
	}
	j.records = append(j.records, buf)
	return int64(len(j.records) - 1), nil
}

// Sync is a no-op.
func (j *MemJournal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return nil
}

// Replay calls fn for every record in order.
func (j *MemJournal) Replay(fn func(*JournalRecord) error) error {
	j.mu.Lock()
	records := j.records
	j.mu.Unlock()

	for _, buf := range records {
		r, err := DeserializeRecord(buf)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records.
func (j *MemJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Close marks the journal closed.
func (j *MemJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}
