// Package config loads persistent defaults from a TOML file so common
// flags don't have to be repeated on every invocation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config mirrors the command-line surface. Pointer fields distinguish
// "unset" from a deliberate zero.
type Config struct {
	URL            *string `toml:"url"`
	Username       *string `toml:"username"`
	Workers        *int    `toml:"workers"`
	LargeThreshold *int64  `toml:"large_threshold"`
	ChunkSize      *int64  `toml:"chunk_size"`
	Retries        *int    `toml:"retries"`
	BackoffMillis  *int64  `toml:"backoff_millis"`
	Validate       *bool   `toml:"validate"`
	BandwidthLimit *int64  `toml:"bwlimit"`
	Compress       *bool   `toml:"compress"`
	Verbose        *bool   `toml:"verbose"`
	LogFile        *string `toml:"log_file"`
}

// Path returns the config file location under the user config dir.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "convoy", "config.toml"), nil
}

// Load reads the config file. A missing file is not an error; an empty
// Config is returned so callers always apply defaults the same way.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return &Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads a specific config file.
func LoadFile(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}
