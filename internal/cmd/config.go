package cmd

import (
	"fmt"
	"time"

	"github.com/dendrascience/chunkfs/util"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// configFlags are the flags shared by commands that run a compactor.
// Flags given on the command line override the config file.
type configFlags struct {
	path      string
	codec     string
	queueMode string
	idle      time.Duration
	logLevel  string
}

func (c *configFlags) register(flags *pflag.FlagSet) {
	defaults := util.DefaultConfig()
	flags.StringVar(&c.path, "config", "", "Path to a YAML config file")
	flags.StringVar(&c.codec, "codec", defaults.Codec, "Compression codec for idle chunks (zstd or lz4)")
	flags.StringVar(&c.queueMode, "queue-mode", defaults.QueueMode, "Compaction queue order (fifo or deadline)")
	flags.DurationVar(&c.idle, "idle", defaults.IdleThreshold, "How long a chunk must be unwritten before it is compressed")
	flags.StringVar(&c.logLevel, "log-level", defaults.LogLevel, "Log level (trace, debug, info, warn, error)")
}

// load reads the config file and applies any flags that were set.
func (c *configFlags) load(flags *pflag.FlagSet) (util.Config, *logrus.Logger, error) {
	cfg, err := util.LoadConfig(c.path)
	if err != nil {
		return cfg, nil, err
	}
	if flags.Changed("codec") {
		cfg.Codec = c.codec
	}
	if flags.Changed("queue-mode") {
		cfg.QueueMode = c.queueMode
	}
	if flags.Changed("idle") {
		cfg.IdleThreshold = c.idle
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := util.NewLogger(cfg.LogLevel)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}
