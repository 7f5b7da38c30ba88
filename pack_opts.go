package efs

import "log/slog"

// Packer defaults.
const (
	// DefaultMaxFiles is the default limit used when no PackWithMaxFiles option is set.
	DefaultMaxFiles = 65535

	// DefaultPackConcurrency is the number of files copied in parallel.
	DefaultPackConcurrency = 4

	// DefaultAlignment is the alignment of file content within the data region.
	DefaultAlignment = 4
)

// packConfig holds configuration for image packing.
type packConfig struct {
	logger      *slog.Logger
	maxFiles    int
	concurrency int
	alignment   uint64
}

// PackOption configures image packing.
type PackOption func(*packConfig)

func newPackConfig(opts []PackOption) packConfig {
	cfg := packConfig{
		maxFiles:    DefaultMaxFiles,
		concurrency: DefaultPackConcurrency,
		alignment:   DefaultAlignment,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// log returns the logger, falling back to a discard logger if nil.
func (c *packConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// PackWithLogger sets a logger for packing.
// If nil, a discard logger is used (default behavior).
func PackWithLogger(logger *slog.Logger) PackOption {
	return func(cfg *packConfig) {
		cfg.logger = logger
	}
}

// PackWithMaxFiles limits the number of files included in the image.
// Zero uses DefaultMaxFiles. Negative means no limit.
func PackWithMaxFiles(n int) PackOption {
	return func(cfg *packConfig) {
		if n == 0 {
			n = DefaultMaxFiles
		}
		cfg.maxFiles = n
	}
}

// PackWithConcurrency sets how many file contents are copied in parallel.
// Values below 1 copy serially.
func PackWithConcurrency(n int) PackOption {
	return func(cfg *packConfig) {
		cfg.concurrency = max(n, 1)
	}
}

// PackWithAlignment aligns each file's content offset to a multiple of n
// bytes. Values below 1 disable alignment.
func PackWithAlignment(n int) PackOption {
	return func(cfg *packConfig) {
		cfg.alignment = uint64(max(n, 1)) //nolint:gosec // clamped positive
	}
}
