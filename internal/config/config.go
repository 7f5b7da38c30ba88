// Package config loads efstool configuration.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --config flag, or
//   - the EFS_CONFIG environment variable.
//
// When neither is set the defaults are used. Command-line flags override
// values from the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/meigma/efs"
	"github.com/meigma/efs/cache"
)

// EnvVar names the environment variable holding the config path.
const EnvVar = "EFS_CONFIG"

// Config is the efstool configuration.
type Config struct {
	// Image is the default image or device path.
	Image string `yaml:"image"`

	// Search scans the device for the archive instead of expecting it at offset 0.
	Search bool `yaml:"search"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// MaxOpenFiles is the file handle table capacity.
	MaxOpenFiles int `yaml:"max_open_files"`

	// MaxOpenDirs is the directory cursor table capacity.
	MaxOpenDirs int `yaml:"max_open_dirs"`

	// WriteBufferSize is the per-handle write buffer size. Zero writes through.
	WriteBufferSize int `yaml:"write_buffer_size"`

	// Pack configures image creation.
	Pack PackConfig `yaml:"pack"`

	// Cache configures the block cache placed in front of remote images.
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig configures the block cache.
type CacheConfig struct {
	// BlockSize is the cached block size in bytes.
	BlockSize int64 `yaml:"block_size"`

	// MaxBlocks is the number of blocks kept in memory.
	MaxBlocks int `yaml:"max_blocks"`
}

// PackConfig configures image creation.
type PackConfig struct {
	// Concurrency is the number of files copied in parallel.
	Concurrency int `yaml:"concurrency"`

	// Alignment is the alignment of file content in the data region.
	Alignment int `yaml:"alignment"`

	// MaxFiles limits the number of files. Negative means no limit.
	MaxFiles int `yaml:"max_files"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LogLevel:        "warn",
		MaxOpenFiles:    efs.DefaultMaxOpenFiles,
		MaxOpenDirs:     efs.DefaultMaxOpenDirs,
		WriteBufferSize: efs.DefaultWriteBufferSize,
		Pack: PackConfig{
			Concurrency: efs.DefaultPackConcurrency,
			Alignment:   efs.DefaultAlignment,
			MaxFiles:    efs.DefaultMaxFiles,
		},
		Cache: CacheConfig{
			BlockSize: cache.DefaultBlockSize,
			MaxBlocks: cache.DefaultMaxBlocks,
		},
	}
}

// Load returns the configuration from path, or from EFS_CONFIG when path
// is empty. With neither set, Load returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path on top of the
// defaults. Unknown keys are rejected.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	switch {
	case c.MaxOpenFiles < 1:
		return fmt.Errorf("max_open_files must be positive, got %d", c.MaxOpenFiles)
	case c.MaxOpenDirs < 1:
		return fmt.Errorf("max_open_dirs must be positive, got %d", c.MaxOpenDirs)
	case c.WriteBufferSize < 0:
		return fmt.Errorf("write_buffer_size must not be negative, got %d", c.WriteBufferSize)
	case c.Pack.Concurrency < 1:
		return fmt.Errorf("pack.concurrency must be positive, got %d", c.Pack.Concurrency)
	case c.Pack.Alignment < 1:
		return fmt.Errorf("pack.alignment must be positive, got %d", c.Pack.Alignment)
	case c.Cache.BlockSize < 1:
		return fmt.Errorf("cache.block_size must be positive, got %d", c.Cache.BlockSize)
	case c.Cache.MaxBlocks < 1:
		return fmt.Errorf("cache.max_blocks must be positive, got %d", c.Cache.MaxBlocks)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// MountOptions converts the configuration to Mount options.
func (c *Config) MountOptions(logger *slog.Logger) []efs.Option {
	return []efs.Option{
		efs.WithLogger(logger),
		efs.WithSearch(c.Search),
		efs.WithMaxOpenFiles(c.MaxOpenFiles),
		efs.WithMaxOpenDirs(c.MaxOpenDirs),
		efs.WithWriteBufferSize(c.WriteBufferSize),
	}
}

// PackOptions converts the configuration to Pack options.
func (c *Config) PackOptions(logger *slog.Logger) []efs.PackOption {
	return []efs.PackOption{
		efs.PackWithLogger(logger),
		efs.PackWithConcurrency(c.Pack.Concurrency),
		efs.PackWithAlignment(c.Pack.Alignment),
		efs.PackWithMaxFiles(c.Pack.MaxFiles),
	}
}

// CacheOptions converts the configuration to block cache options.
func (c *Config) CacheOptions(logger *slog.Logger) []cache.Option {
	return []cache.Option{
		cache.WithLogger(logger),
		cache.WithBlockSize(c.Cache.BlockSize),
		cache.WithMaxBlocks(c.Cache.MaxBlocks),
	}
}
