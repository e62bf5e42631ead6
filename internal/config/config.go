// Package config provides configuration loading and validation for ObaDB.
package config

import (
	"github.com/KilimcininKorOglu/obadb/internal/logging"
	"github.com/KilimcininKorOglu/obadb/internal/storage"
)

// Config holds the complete configuration.
type Config struct {
	Storage StorageConfig  `toml:"storage"`
	Log     logging.Config `toml:"log"`
}

// StorageConfig holds storage engine configuration.
type StorageConfig struct {
	// Container is the directory holding store generations. Empty means an
	// in-memory store.
	Container          string `toml:"container"`
	MaxKeys            int    `toml:"max-keys"`
	NodeCacheSize      int    `toml:"node-cache-size"`
	JournalCompression string `toml:"journal-compression"`
	CreateIfNotExists  bool   `toml:"create-if-not-exists"`
	CompactWorkers     int    `toml:"compact-workers"`
}

// EngineOptions maps the storage configuration to engine options.
func (c StorageConfig) EngineOptions() storage.EngineOptions {
	return storage.EngineOptions{
		MaxKeys:            c.MaxKeys,
		NodeCacheSize:      c.NodeCacheSize,
		JournalCompression: c.JournalCompression,
		CreateIfNotExists:  c.CreateIfNotExists,
		CompactWorkers:     c.CompactWorkers,
	}
}

// Logger builds the logger described by the log configuration.
func (c *Config) Logger() logging.Logger {
	return logging.New(c.Log)
}
