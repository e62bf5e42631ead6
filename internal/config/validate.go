package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/KilimcininKorOglu/obadb/internal/logging"
	"github.com/KilimcininKorOglu/obadb/internal/storage"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of
// validation errors. An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error
	errs = append(errs, validateStorageConfig(&config.Storage)...)
	errs = append(errs, validateLogConfig(&config.Log)...)
	return errs
}

func validateStorageConfig(config *StorageConfig) []error {
	var errs []error

	if config.MaxKeys != 0 && config.MaxKeys < storage.MinMaxKeys {
		errs = append(errs, ValidationError{
			Field:   "storage.max-keys",
			Message: fmt.Sprintf("must be at least %d", storage.MinMaxKeys),
		})
	}

	if config.NodeCacheSize < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.node-cache-size",
			Message: "must not be negative",
		})
	}

	if config.CompactWorkers < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.compact-workers",
			Message: "must not be negative",
		})
	}

	if _, err := storage.ParseCodec(config.JournalCompression); err != nil {
		errs = append(errs, ValidationError{
			Field:   "storage.journal-compression",
			Message: "must be one of none, flate, gzip, zlib",
		})
	}

	if config.Container != "" {
		info, err := os.Stat(config.Container)
		switch {
		case err == nil && !info.IsDir():
			errs = append(errs, ValidationError{
				Field:   "storage.container",
				Message: "is not a directory",
			})
		case os.IsNotExist(err) && !config.CreateIfNotExists:
			errs = append(errs, ValidationError{
				Field:   "storage.container",
				Message: "does not exist and create-if-not-exists is false",
			})
		}
	}

	return errs
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
)

func validateLogConfig(config *logging.Config) []error {
	var errs []error

	if config.Level != "" && !contains(validLogLevels, strings.ToLower(config.Level)) {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: "must be one of " + strings.Join(validLogLevels, ", "),
		})
	}

	if config.Format != "" && !contains(validLogFormats, strings.ToLower(config.Format)) {
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Message: "must be one of " + strings.Join(validLogFormats, ", "),
		})
	}

	if config.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "log.max-size-mb",
			Message: "must not be negative",
		})
	}

	if config.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "log.max-backups",
			Message: "must not be negative",
		})
	}

	return errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
