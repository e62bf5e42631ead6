package storage

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Block store constants.
const (
	// BlockHeaderSize is the size of the per-block header in a block file.
	// Layout:
	//   - Bytes 0-3:  Block id (uint32)
	//   - Bytes 4-7:  Data length (uint32)
	//   - Bytes 8-11: CRC32 of the data (uint32)
	BlockHeaderSize = 12

	// MaxBlockSize bounds the size of a single block.
	MaxBlockSize = 16 * 1024 * 1024
)

// Block store errors.
var (
	ErrBlockNotFound    = errors.New("block not found")
	ErrBlockStoreClosed = errors.New("block store is closed")
	ErrBlockTooLarge    = errors.New("block exceeds maximum size")
)

// BlockStore holds immutable blocks addressed by id. A block, once written
// and synced, is never modified in place; an id is only reused after it
// has been released.
type BlockStore interface {
	Read(id uint32) ([]byte, error)
	Write(id uint32, data []byte) error
	Sync() error
	// Release frees a block that no transaction can reach any more.
	Release(id uint32) error
	Close() error
}

// BlockStats describes block store usage.
type BlockStats struct {
	Blocks   int
	Bytes    int64
	Released int
}

// MemBlockStore is a BlockStore held entirely in memory.
type MemBlockStore struct {
	mu       sync.RWMutex
	blocks   map[uint32][]byte
	released int
	closed   bool
}

// NewMemBlockStore creates an empty in-memory block store.
func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{blocks: make(map[uint32][]byte)}
}

// Read returns a copy of the block.
func (s *MemBlockStore) Read(id uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrBlockStoreClosed
	}
	data, ok := s.blocks[id]
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotFound, "block %d", id)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores a copy of data under id.
func (s *MemBlockStore) Write(id uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrBlockStoreClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blocks[id] = buf
	return nil
}

// Sync is a no-op.
func (s *MemBlockStore) Sync() error {
	return nil
}

// Release drops the block.
func (s *MemBlockStore) Release(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; ok {
		delete(s.blocks, id)
		s.released++
	}
	return nil
}

// Stats returns usage statistics.
func (s *MemBlockStore) Stats() BlockStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := BlockStats{Blocks: len(s.blocks), Released: s.released}
	for _, b := range s.blocks {
		st.Bytes += int64(len(b))
	}
	return st
}

// Close marks the store closed.
func (s *MemBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// blockLoc is the position of a block's data in a block file.
type blockLoc struct {
	offset int64
	length uint32
}

// FileBlockStore is an append-only BlockStore backed by a single file.
// Rewriting an id appends a new copy; the index keeps the latest. Released
// blocks stay on disk until the store is compacted into a new file.
type FileBlockStore struct {
	mu       sync.RWMutex
	file     *os.File
	path     string
	index    map[uint32]blockLoc
	size     int64
	released int
	closed   bool
}

// OpenFileBlockStore opens or creates a block file, rebuilding its index.
func OpenFileBlockStore(path string) (*FileBlockStore, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open block file %s", path)
	}

	s := &FileBlockStore{
		file:  file,
		path:  path,
		index: make(map[uint32]blockLoc),
	}
	if err := s.recover(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// recover rebuilds the index and truncates an incomplete trailing block.
func (s *FileBlockStore) recover() error {
	info, err := s.file.Stat()
	if err != nil {
		return err
	}
	fileSize := info.Size()

	var offset int64
	header := make([]byte, BlockHeaderSize)
	for offset+BlockHeaderSize <= fileSize {
		if _, err := s.file.ReadAt(header, offset); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}

		id := binary.LittleEndian.Uint32(header[0:4])
		length := binary.LittleEndian.Uint32(header[4:8])
		sum := binary.LittleEndian.Uint32(header[8:12])
		if length > MaxBlockSize || offset+BlockHeaderSize+int64(length) > fileSize {
			break
		}

		data := make([]byte, length)
		if _, err := s.file.ReadAt(data, offset+BlockHeaderSize); err != nil && err != io.EOF {
			return err
		}
		if crc32.ChecksumIEEE(data) != sum {
			break
		}

		s.index[id] = blockLoc{offset: offset + BlockHeaderSize, length: length}
		offset += BlockHeaderSize + int64(length)
	}

	if err := s.file.Truncate(offset); err != nil {
		return errors.Wrap(err, "truncate block file tail")
	}
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	s.size = offset
	return nil
}

// Read returns the latest copy of the block.
func (s *FileBlockStore) Read(id uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrBlockStoreClosed
	}
	loc, ok := s.index[id]
	if !ok {
		return nil, errors.Wrapf(ErrBlockNotFound, "block %d", id)
	}

	data := make([]byte, loc.length)
	if _, err := s.file.ReadAt(data, loc.offset); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read block %d", id)
	}
	return data, nil
}

// Write appends the block to the file.
func (s *FileBlockStore) Write(id uint32, data []byte) error {
	if len(data) > MaxBlockSize {
		return ErrBlockTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrBlockStoreClosed
	}

	buf := make([]byte, BlockHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[8:12], crc32.ChecksumIEEE(data))
	copy(buf[BlockHeaderSize:], data)

	if _, err := s.file.WriteAt(buf, s.size); err != nil {
		return errors.Wrapf(err, "write block %d", id)
	}

	s.index[id] = blockLoc{offset: s.size + BlockHeaderSize, length: uint32(len(data))}
	s.size += int64(len(buf))
	return nil
}

// Sync fsyncs the block file.
func (s *FileBlockStore) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrBlockStoreClosed
	}
	return s.file.Sync()
}

// Release removes the block from the index. Its bytes stay in the file.
func (s *FileBlockStore) Release(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		delete(s.index, id)
		s.released++
	}
	return nil
}

// Stats returns usage statistics. Bytes is the file size, including
// released blocks.
func (s *FileBlockStore) Stats() BlockStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BlockStats{Blocks: len(s.index), Bytes: s.size, Released: s.released}
}

// Path returns the block file path.
func (s *FileBlockStore) Path() string {
	return s.path
}

// Close syncs and closes the block file.
func (s *FileBlockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
