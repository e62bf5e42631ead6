package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/obadb/internal/config"
)

// TestConnectConfig tests connecting to the container a parsed
// configuration names and reopening it.
func TestConnectConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	cfg, err := config.ParseConfig([]byte(fmt.Sprintf(`
[storage]
container = %q
max-keys = 8
journal-compression = "zlib"

[log]
level = "error"
output = "stderr"
`, dir)))
	require.NoError(t, err)

	sw, err := ConnectConfig(cfg)
	require.NoError(t, err)
	s := sw.Get()
	assert.Equal(t, 8, s.Options().MaxKeys)
	assert.Equal(t, "zlib", s.Options().JournalCompression)

	fill(t, sw.Graph("people"), 20)
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	sw, err = ConnectConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { sw.Get().Close() })

	v, found, err := sw.Graph("people").Get([]byte("k013"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("13"), v)
}

// TestConnectConfigInvalid tests that an invalid configuration is rejected
// before anything is created.
func TestConnectConfigInvalid(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	cfg := config.DefaultConfig()
	cfg.Storage.Container = dir
	cfg.Storage.JournalCompression = "snappy"

	_, err := ConnectConfig(cfg)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	assert.Contains(t, err.Error(), "storage.journal-compression")

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
