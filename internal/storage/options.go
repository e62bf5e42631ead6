package storage

import (
	"github.com/pkg/errors"
)

// Engine option defaults.
const (
	DefaultMaxKeys        = 64
	DefaultNodeCacheSize  = 1024
	DefaultCompactWorkers = 2
	MinMaxKeys            = 3
)

// EngineOptions configures a storage instance.
type EngineOptions struct {
	// MaxKeys is the B+Tree fan-out: the maximum number of keys per node.
	// Default: 64. Minimum: 3.
	MaxKeys int

	// NodeCacheSize is the number of decoded nodes each tree keeps cached.
	// Default: 1024.
	NodeCacheSize int

	// JournalCompression is the codec for journal record payloads:
	// "none", "flate", "gzip" or "zlib".
	// Default: "none".
	JournalCompression string

	// CreateIfNotExists creates the storage directory if it doesn't exist.
	// Default: true.
	CreateIfNotExists bool

	// CompactWorkers bounds the number of trees copied concurrently during
	// compaction.
	// Default: 2.
	CompactWorkers int
}

// DefaultEngineOptions returns the default engine options.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		MaxKeys:            DefaultMaxKeys,
		NodeCacheSize:      DefaultNodeCacheSize,
		JournalCompression: CodecNone.String(),
		CreateIfNotExists:  true,
		CompactWorkers:     DefaultCompactWorkers,
	}
}

// Validate applies defaults to unset fields and rejects invalid values.
func (o *EngineOptions) Validate() error {
	if o.MaxKeys == 0 {
		o.MaxKeys = DefaultMaxKeys
	}
	if o.MaxKeys < MinMaxKeys {
		return errors.Errorf("max keys must be at least %d, got %d", MinMaxKeys, o.MaxKeys)
	}

	if o.NodeCacheSize <= 0 {
		o.NodeCacheSize = DefaultNodeCacheSize
	}

	if o.CompactWorkers <= 0 {
		o.CompactWorkers = DefaultCompactWorkers
	}

	if _, err := ParseCodec(o.JournalCompression); err != nil {
		return err
	}

	return nil
}

// Codec returns the parsed journal compression codec.
func (o EngineOptions) Codec() Codec {
	c, _ := ParseCodec(o.JournalCompression)
	return c
}

// WithMaxKeys sets the B+Tree fan-out.
func (o EngineOptions) WithMaxKeys(n int) EngineOptions {
	o.MaxKeys = n
	return o
}

// WithNodeCacheSize sets the per-tree node cache size.
func (o EngineOptions) WithNodeCacheSize(n int) EngineOptions {
	o.NodeCacheSize = n
	return o
}

// WithJournalCompression sets the journal payload codec name.
func (o EngineOptions) WithJournalCompression(codec string) EngineOptions {
	o.JournalCompression = codec
	return o
}

// WithCreateIfNotExists enables or disables auto-creation.
func (o EngineOptions) WithCreateIfNotExists(create bool) EngineOptions {
	o.CreateIfNotExists = create
	return o
}

// WithCompactWorkers sets the compaction copy concurrency.
func (o EngineOptions) WithCompactWorkers(n int) EngineOptions {
	o.CompactWorkers = n
	return o
}
