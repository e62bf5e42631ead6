package config

import (
	"github.com/KilimcininKorOglu/obadb/internal/logging"
	"github.com/KilimcininKorOglu/obadb/internal/storage"
)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	opts := storage.DefaultEngineOptions()
	return &Config{
		Storage: StorageConfig{
			Container:          "",
			MaxKeys:            opts.MaxKeys,
			NodeCacheSize:      opts.NodeCacheSize,
			JournalCompression: opts.JournalCompression,
			CreateIfNotExists:  opts.CreateIfNotExists,
			CompactWorkers:     opts.CompactWorkers,
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
