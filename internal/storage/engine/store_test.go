package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadb/internal/storage"
	"github.com/KilimcininKorOglu/obadb/internal/storage/tx"
)

func testOptions() storage.EngineOptions {
	return storage.DefaultEngineOptions().WithMaxKeys(4).WithNodeCacheSize(32)
}

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func put(t *testing.T, s *Store, graph string, kv ...string) {
	t.Helper()
	require.NoError(t, s.Write(func(x *Tx) error {
		for i := 0; i+1 < len(kv); i += 2 {
			if err := x.Put(graph, []byte(kv[i]), []byte(kv[i+1])); err != nil {
				return err
			}
		}
		return nil
	}))
}

func get(t *testing.T, s *Store, graph, key string) (string, bool) {
	t.Helper()
	var (
		v     []byte
		found bool
	)
	require.NoError(t, s.Read(func(x *Tx) error {
		var err error
		v, found, err = x.Get(graph, []byte(key))
		return err
	}))
	return string(v), found
}

// TestOpenCloseMemory tests the in-memory store lifecycle.
func TestOpenCloseMemory(t *testing.T) {
	s, err := Open("", testOptions())
	require.NoError(t, err)

	assert.True(t, s.IsMemory())
	assert.True(t, strings.HasPrefix(s.Location(), "mem:"))
	assert.Equal(t, uint64(0), s.DataVersion())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, s.IsClosed())

	_, err = s.Begin(tx.ModeRead)
	assert.ErrorIs(t, err, ErrStoreClosed)
}

// TestOpenInvalidOptions tests that bad options are rejected.
func TestOpenInvalidOptions(t *testing.T) {
	_, err := Open("", storage.DefaultEngineOptions().WithMaxKeys(2))
	assert.Error(t, err)

	_, err = Open("", storage.DefaultEngineOptions().WithJournalCompression("lz77"))
	assert.ErrorIs(t, err, storage.ErrUnknownCodec)
}

// TestOpenMissingDirectory tests opening without auto-creation.
func TestOpenMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := Open(dir, testOptions().WithCreateIfNotExists(false))
	assert.ErrorIs(t, err, ErrNotExist)
}

// TestTxPutGetDelete tests entry operations and graph bookkeeping.
func TestTxPutGetDelete(t *testing.T) {
	s := openMem(t)
	put(t, s, "people", "alice", "1", "bob", "2")
	put(t, s, "places", "paris", "fr")

	v, found := get(t, s, "people", "alice")
	assert.True(t, found)
	assert.Equal(t, "1", v)

	_, found = get(t, s, "places", "alice")
	assert.False(t, found)

	require.NoError(t, s.Read(func(x *Tx) error {
		graphs, err := x.Graphs()
		require.NoError(t, err)
		assert.Equal(t, []string{"people", "places"}, graphs)

		n, err := x.Count("people")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		ok, err := x.Contains("people", []byte("bob"))
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	// Overwriting keeps the count.
	put(t, s, "people", "alice", "one")
	require.NoError(t, s.Write(func(x *Tx) error {
		n, err := x.Count("people")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		removed, err := x.Delete("places", []byte("paris"))
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = x.Delete("places", []byte("paris"))
		require.NoError(t, err)
		assert.False(t, removed)
		return nil
	}))

	require.NoError(t, s.Read(func(x *Tx) error {
		graphs, err := x.Graphs()
		require.NoError(t, err)
		assert.Equal(t, []string{"people"}, graphs)
		return nil
	}))
}

// TestTxInvalidGraph tests graph name validation.
func TestTxInvalidGraph(t *testing.T) {
	s := openMem(t)
	x, err := s.Begin(tx.ModeWrite)
	require.NoError(t, err)
	defer x.End()

	assert.ErrorIs(t, x.Put("", []byte("k"), []byte("v")), ErrInvalidGraph)
	assert.ErrorIs(t, x.Put(strings.Repeat("g", MaxGraphNameSize+1), []byte("k"), nil), ErrInvalidGraph)
}

// TestTxRangeIsolatesGraphs tests that ranges stay inside one graph.
func TestTxRangeIsolatesGraphs(t *testing.T) {
	s := openMem(t)
	put(t, s, "a", "1", "x", "2", "x", "3", "x")
	put(t, s, "ab", "1", "y")
	put(t, s, "b", "0", "z")

	require.NoError(t, s.Read(func(x *Tx) error {
		var keys []string
		err := x.Range("a", nil, nil, func(k, _ []byte) bool {
			keys = append(keys, string(k))
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3"}, keys)

		keys = nil
		err = x.Range("a", []byte("2"), []byte("3"), func(k, _ []byte) bool {
			keys = append(keys, string(k))
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, keys)
		return nil
	}))
}

// TestTxAbortDiscards tests that aborted writes are invisible.
func TestTxAbortDiscards(t *testing.T) {
	s := openMem(t)
	put(t, s, "g", "kept", "1")

	x, err := s.Begin(tx.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, x.Put("g", []byte("dropped"), []byte("2")))
	require.NoError(t, x.Abort())

	_, found := get(t, s, "g", "dropped")
	assert.False(t, found)
	_, found = get(t, s, "g", "kept")
	assert.True(t, found)
}

// TestStoreWriteErrorAborts tests that a failing Write function discards
// its changes and releases write admission.
func TestStoreWriteErrorAborts(t *testing.T) {
	s := openMem(t)
	boom := errors.New("boom")

	err := s.Write(func(x *Tx) error {
		if err := x.Put("g", []byte("dropped"), []byte("1")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, found := get(t, s, "g", "dropped")
	assert.False(t, found)

	put(t, s, "g", "kept", "2")
	v, found := get(t, s, "g", "kept")
	assert.True(t, found)
	assert.Equal(t, "2", v)
}

// TestTxFinished tests that a committed Tx refuses further work.
func TestTxFinished(t *testing.T) {
	s := openMem(t)
	x, err := s.Begin(tx.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, x.Put("g", []byte("k"), []byte("v")))
	require.NoError(t, x.Commit())

	err = x.Put("g", []byte("k2"), []byte("v"))
	assert.ErrorIs(t, err, tx.ErrNotInTransaction)
	assert.True(t, tx.IsTransactionError(err))
	assert.Equal(t, uint64(0), x.ID())
	require.NoError(t, x.End())
}

// TestTxReadOnly tests that a read transaction cannot write.
func TestTxReadOnly(t *testing.T) {
	s := openMem(t)
	x, err := s.Begin(tx.ModeRead)
	require.NoError(t, err)
	defer x.End()

	mode, err := x.Mode()
	require.NoError(t, err)
	assert.Equal(t, tx.ModeRead, mode)
	assert.ErrorIs(t, x.Put("g", []byte("k"), []byte("v")), tx.ErrReadOnly)
}

// TestTxPromote tests promotion and its failure after a concurrent commit.
func TestTxPromote(t *testing.T) {
	s := openMem(t)

	x, err := s.Begin(tx.ModeRead)
	require.NoError(t, err)
	ok, err := x.Promote()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, x.Put("g", []byte("k"), []byte("v")))
	require.NoError(t, x.Commit())

	stale, err := s.Begin(tx.ModeRead)
	require.NoError(t, err)
	defer stale.End()
	put(t, s, "g", "other", "v")

	ok, err = stale.Promote()
	require.NoError(t, err)
	assert.False(t, ok)
	mode, err := stale.Mode()
	require.NoError(t, err)
	assert.Equal(t, tx.ModeRead, mode)
}

// TestTxDetachAttach tests resuming a transaction on another goroutine.
func TestTxDetachAttach(t *testing.T) {
	s := openMem(t)

	x, err := s.Begin(tx.ModeWrite)
	require.NoError(t, err)
	id := x.ID()
	require.NoError(t, x.Put("g", []byte("k"), []byte("v")))
	cont, err := x.Detach()
	require.NoError(t, err)
	assert.Nil(t, x.Transaction())

	done := make(chan error)
	go func() {
		y, err := s.Attach(cont)
		if err != nil {
			done <- err
			return
		}
		if y.ID() != id {
			done <- assert.AnError
			return
		}
		done <- y.Commit()
	}()
	require.NoError(t, <-done)

	_, err = s.Attach(cont)
	assert.ErrorIs(t, err, tx.ErrAlreadyAttached)

	v, found := get(t, s, "g", "k")
	assert.True(t, found)
	assert.Equal(t, "v", v)
}

// TestStoreReopen tests that committed data survives reopening and that
// uncommitted data and a torn journal tail do not.
func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions().WithJournalCompression("gzip")

	s, err := Open(dir, opts)
	require.NoError(t, err)
	for _, name := range []string{JournalFileName, GraphsFileName, DataFileName} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
	}

	for i := 0; i < 20; i++ {
		put(t, s, "g", string(rune('a'+i)), "v")
	}
	put(t, s, "h", "only", "1")

	pending, err := s.Begin(tx.ModeWrite)
	require.NoError(t, err)
	require.NoError(t, pending.Put("g", []byte("uncommitted"), []byte("v")))
	version := s.DataVersion()
	require.NoError(t, s.Close())

	f, err := os.OpenFile(filepath.Join(dir, JournalFileName), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x40, 0x00, 0x00, 0x00, 0x01, 0x02})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s, err = Open(dir, opts)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, version, s.DataVersion())
	require.NoError(t, s.Read(func(x *Tx) error {
		n, err := x.Count("g")
		require.NoError(t, err)
		assert.Equal(t, 20, n)

		found, err := x.Contains("g", []byte("uncommitted"))
		require.NoError(t, err)
		assert.False(t, found)

		graphs, err := x.Graphs()
		require.NoError(t, err)
		assert.Equal(t, []string{"g", "h"}, graphs)
		return nil
	}))

	// The reopened store accepts new commits.
	put(t, s, "g", "after", "v")
	assert.Equal(t, version+1, s.DataVersion())
}

// TestStoreStats tests store statistics.
func TestStoreStats(t *testing.T) {
	s := openMem(t)
	put(t, s, "a", "1", "x", "2", "x")
	put(t, s, "b", "1", "x")

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.Graphs)
	assert.Equal(t, 3, st.Entries)
	assert.Equal(t, uint64(2), st.DataVersion)
	assert.Greater(t, st.DataBlocks.Blocks, 0)
}
