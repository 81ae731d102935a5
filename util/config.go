package util

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a chunkfs mount. Zero values are replaced
// by DefaultConfig values when loaded from a file.
type Config struct {
	Codec         string        `yaml:"codec"`
	IdleThreshold time.Duration `yaml:"idle_threshold"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	QueueMode     string        `yaml:"queue_mode"`
	RetryFailed   bool          `yaml:"retry_failed"`
	MaxAttempts   int           `yaml:"max_attempts"`
	CacheChunks   int           `yaml:"cache_chunks"`
	LogLevel      string        `yaml:"log_level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Codec:         "zstd",
		IdleThreshold: 10 * time.Second,
		PollInterval:  time.Second,
		QueueMode:     "fifo",
		RetryFailed:   false,
		MaxAttempts:   3,
		CacheChunks:   16,
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig. An empty
// path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseCodec(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.IdleThreshold < 0 {
		errs = append(errs, fmt.Errorf("%w: idle_threshold must not be negative", ErrInvalidConfig))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll_interval must be positive", ErrInvalidConfig))
	}
	switch c.QueueMode {
	case "fifo", "deadline":
	default:
		errs = append(errs, fmt.Errorf("%w: queue_mode %q (want fifo or deadline)", ErrInvalidConfig, c.QueueMode))
	}
	if c.RetryFailed && c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%w: max_attempts must be at least 1 when retry_failed is set", ErrInvalidConfig))
	}
	if c.CacheChunks < 0 {
		errs = append(errs, fmt.Errorf("%w: cache_chunks must not be negative", ErrInvalidConfig))
	}
	return errors.Join(errs...)
}
