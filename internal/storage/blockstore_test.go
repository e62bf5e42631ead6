package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseBlockStore(t *testing.T, s BlockStore) {
	t.Helper()

	require.NoError(t, s.Write(1, []byte("one")))
	require.NoError(t, s.Write(2, []byte("two")))
	require.NoError(t, s.Sync())

	data, err := s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	// Returned slices are copies.
	data[0] = 'X'
	data, err = s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)

	_, err = s.Read(99)
	assert.True(t, errors.Is(err, ErrBlockNotFound))

	require.NoError(t, s.Release(2))
	_, err = s.Read(2)
	assert.True(t, errors.Is(err, ErrBlockNotFound))

	// Releasing twice is harmless.
	require.NoError(t, s.Release(2))
}

// TestMemBlockStore tests the in-memory block store.
func TestMemBlockStore(t *testing.T) {
	s := NewMemBlockStore()
	exerciseBlockStore(t, s)

	st := s.Stats()
	assert.Equal(t, 1, st.Blocks)
	assert.Equal(t, 1, st.Released)
	assert.Equal(t, int64(3), st.Bytes)

	require.NoError(t, s.Close())
	_, err := s.Read(1)
	assert.Equal(t, ErrBlockStoreClosed, err)
}

// TestFileBlockStore tests the append-only block file.
func TestFileBlockStore(t *testing.T) {
	s, err := OpenFileBlockStore(filepath.Join(t.TempDir(), "data.blk"))
	require.NoError(t, err)
	defer s.Close()

	exerciseBlockStore(t, s)
	assert.Equal(t, 1, s.Stats().Blocks)
}

// TestFileBlockStoreReopen tests that the index is rebuilt on open and the
// latest copy of a rewritten id wins.
func TestFileBlockStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.blk")

	s, err := OpenFileBlockStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(1, []byte("first")))
	require.NoError(t, s.Write(2, []byte("second")))
	require.NoError(t, s.Write(1, []byte("first-v2")))
	require.NoError(t, s.Close())

	s, err = OpenFileBlockStore(path)
	require.NoError(t, err)
	defer s.Close()

	data, err := s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("first-v2"), data)

	data, err = s.Read(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

// TestFileBlockStoreTornTail tests that a partially written block is
// discarded on open.
func TestFileBlockStoreTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.blk")

	s, err := OpenFileBlockStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Write(1, []byte("kept")))
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	// Header for block 2 claiming 50 bytes, followed by only 3.
	_, err = f.Write([]byte{2, 0, 0, 0, 50, 0, 0, 0, 0, 0, 0, 0, 'a', 'b', 'c'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = OpenFileBlockStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Read(2)
	assert.True(t, errors.Is(err, ErrBlockNotFound))

	data, err := s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(BlockHeaderSize+4), info.Size())
}

// TestEngineOptionsValidate tests defaulting and validation.
func TestEngineOptionsValidate(t *testing.T) {
	var opts EngineOptions
	require.NoError(t, opts.Validate())
	assert.Equal(t, DefaultMaxKeys, opts.MaxKeys)
	assert.Equal(t, DefaultNodeCacheSize, opts.NodeCacheSize)
	assert.Equal(t, DefaultCompactWorkers, opts.CompactWorkers)
	assert.Equal(t, CodecNone, opts.Codec())

	opts = DefaultEngineOptions().WithMaxKeys(2)
	assert.Error(t, opts.Validate())

	opts = DefaultEngineOptions().WithJournalCompression("snappy")
	assert.True(t, errors.Is(opts.Validate(), ErrUnknownCodec))

	opts = DefaultEngineOptions().WithJournalCompression("gzip").WithMaxKeys(4)
	require.NoError(t, opts.Validate())
	assert.Equal(t, CodecGzip, opts.Codec())
	assert.Equal(t, 4, opts.MaxKeys)
}
