package config

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Parser errors.
var (
	ErrFileNotFound   = errors.New("configuration file not found")
	ErrInvalidTOML    = errors.New("invalid TOML format")
	ErrUnknownSetting = errors.New("unknown configuration setting")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses TOML,
// and keeps defaults for missing values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrFileNotFound, path)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig parses configuration from TOML data.
// Settings the data does not name keep their default values; settings the
// Config does not know are an error.
func ParseConfig(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	config := DefaultConfig()
	md, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidTOML, err.Error())
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, errors.Wrap(ErrUnknownSetting, strings.Join(keys, ", "))
	}

	return config, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])

		if idx := strings.Index(content, ":-"); idx != -1 {
			if val := os.Getenv(content[:idx]); val != "" {
				return []byte(val)
			}
			return []byte(content[idx+2:])
		}

		return []byte(os.Getenv(content))
	})
}
