package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(txnID, version uint64) *JournalRecord {
	return NewCommitRecord(txnID, version, []JournalEntry{
		{Component: "graphs", State: []byte{1, 2, 3}},
		{Component: "data", State: bytes.Repeat([]byte("state"), 40)},
	})
}

func replayAll(t *testing.T, j Journal) []*JournalRecord {
	t.Helper()
	var out []*JournalRecord
	require.NoError(t, j.Replay(func(r *JournalRecord) error {
		out = append(out, r)
		return nil
	}))
	return out
}

// TestRecordTypeString tests RecordType string representation.
func TestRecordTypeString(t *testing.T) {
	assert.Equal(t, "Commit", RecordCommit.String())
	assert.Equal(t, "Unknown", RecordType(0).String())
}

// TestJournalRecordCodecs tests that each payload codec decodes back to the
// original entries.
func TestJournalRecordCodecs(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecFlate, CodecGzip, CodecZlib} {
		t.Run(codec.String(), func(t *testing.T) {
			rec := sampleRecord(7, 3)
			buf, err := rec.Serialize(codec)
			require.NoError(t, err)

			got, err := DeserializeRecord(buf)
			require.NoError(t, err)
			assert.Equal(t, rec.TxnID, got.TxnID)
			assert.Equal(t, rec.Version, got.Version)
			assert.Equal(t, rec.Entries, got.Entries)
		})
	}
}

// TestDecompressLimit tests that oversized decompressed payloads are
// rejected.
func TestDecompressLimit(t *testing.T) {
	payload := bytes.Repeat([]byte{0}, 4096)
	for _, codec := range []Codec{CodecFlate, CodecGzip, CodecZlib} {
		t.Run(codec.String(), func(t *testing.T) {
			buf, err := codec.Compress(payload)
			require.NoError(t, err)

			out, err := codec.decompress(buf, int64(len(payload)))
			require.NoError(t, err)
			assert.Equal(t, payload, out)

			_, err = codec.decompress(buf, int64(len(payload))-1)
			assert.True(t, errors.Is(err, ErrRecordTooLarge))
		})
	}
}

// TestJournalRecordChecksum tests that a flipped byte is detected.
func TestJournalRecordChecksum(t *testing.T) {
	buf, err := sampleRecord(1, 1).Serialize(CodecNone)
	require.NoError(t, err)

	buf[len(buf)-1] ^= 0xFF
	_, err = DeserializeRecord(buf)
	assert.True(t, errors.Is(err, ErrRecordChecksum))

	_, err = DeserializeRecord(buf[:10])
	assert.True(t, errors.Is(err, ErrRecordTooSmall))
}

// TestJournalRecordEntry tests looking up a component's state.
func TestJournalRecordEntry(t *testing.T) {
	rec := sampleRecord(1, 1)

	state, ok := rec.Entry("graphs")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, state)

	_, ok = rec.Entry("missing")
	assert.False(t, ok)
}

// TestParseCodec tests codec name parsing.
func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, c)

	c, err = ParseCodec("zlib")
	require.NoError(t, err)
	assert.Equal(t, CodecZlib, c)

	_, err = ParseCodec("lz4")
	assert.True(t, errors.Is(err, ErrUnknownCodec))
}

// TestFileJournalReopen tests that synced records survive a reopen.
func TestFileJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jrnl")

	j, err := OpenFileJournal(path, CodecFlate)
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		_, err := j.Write(sampleRecord(i, i))
		require.NoError(t, err)
	}
	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())

	j, err = OpenFileJournal(path, CodecFlate)
	require.NoError(t, err)
	defer j.Close()

	assert.Equal(t, 3, j.Len())
	records := replayAll(t, j)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, uint64(i+1), r.TxnID)
	}
}

// TestFileJournalTornTail tests that an incomplete trailing record is
// dropped on open and later writes follow the last good record.
func TestFileJournalTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jrnl")

	j, err := OpenFileJournal(path, CodecNone)
	require.NoError(t, err)
	_, err = j.Write(sampleRecord(1, 1))
	require.NoError(t, err)
	_, err = j.Write(sampleRecord(2, 2))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	goodSize := info.Size()

	// Half a record: a length prefix promising more bytes than follow.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{200, 0, 0, 0, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j, err = OpenFileJournal(path, CodecNone)
	require.NoError(t, err)
	assert.Equal(t, 2, j.Len())

	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, goodSize, info.Size())

	_, err = j.Write(sampleRecord(3, 3))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = OpenFileJournal(path, CodecNone)
	require.NoError(t, err)
	defer j.Close()
	records := replayAll(t, j)
	require.Len(t, records, 3)
	assert.Equal(t, uint64(3), records[2].TxnID)
}

// TestFileJournalCorruptRecord tests that a corrupted record and everything
// after it is discarded.
func TestFileJournalCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jrnl")

	j, err := OpenFileJournal(path, CodecNone)
	require.NoError(t, err)
	_, err = j.Write(sampleRecord(1, 1))
	require.NoError(t, err)
	pos, err := j.Write(sampleRecord(2, 2))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[pos+JournalLengthSize+JournalRecordHeaderSize+1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0644))

	j, err = OpenFileJournal(path, CodecNone)
	require.NoError(t, err)
	defer j.Close()
	records := replayAll(t, j)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].TxnID)
}

// TestFileJournalClosed tests operations on a closed journal.
func TestFileJournalClosed(t *testing.T) {
	j, err := OpenFileJournal(filepath.Join(t.TempDir(), "j"), CodecNone)
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	_, err = j.Write(sampleRecord(1, 1))
	assert.Equal(t, ErrJournalClosed, err)
	assert.Equal(t, ErrJournalClosed, j.Sync())
}

// TestMemJournal tests the in-memory journal.
func TestMemJournal(t *testing.T) {
	j := NewMemJournal()
	_, err := j.Write(sampleRecord(1, 1))
	require.NoError(t, err)
	_, err = j.Write(sampleRecord(2, 2))
	require.NoError(t, err)
	require.NoError(t, j.Sync())

	assert.Equal(t, 2, j.Len())
	records := replayAll(t, j)
	require.Len(t, records, 2)
	assert.Equal(t, uint64(2), records[1].Version)

	require.NoError(t, j.Close())
	_, err = j.Write(sampleRecord(3, 3))
	assert.Equal(t, ErrJournalClosed, err)
}

// TestJournalReplayStopsOnError tests that a callback error ends replay.
func TestJournalReplayStopsOnError(t *testing.T) {
	j := NewMemJournal()
	for i := uint64(1); i <= 3; i++ {
		_, err := j.Write(sampleRecord(i, i))
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	seen := 0
	err := j.Replay(func(*JournalRecord) error {
		seen++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, seen)
}
