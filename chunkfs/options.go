package chunkfs

import (
	"fmt"

	"github.com/dendrascience/chunkfs/util"
	"github.com/sirupsen/logrus"
)

// OptionsFromConfig translates a validated util.Config into compressor
// options.
func OptionsFromConfig(cfg util.Config, logger logrus.FieldLogger) (CompressorOptions, error) {
	if err := cfg.Validate(); err != nil {
		return CompressorOptions{}, err
	}
	codec, err := util.ParseCodec(cfg.Codec)
	if err != nil {
		return CompressorOptions{}, err
	}
	mode, err := ParseQueueMode(cfg.QueueMode)
	if err != nil {
		return CompressorOptions{}, err
	}
	opts := CompressorOptions{
		Codec:         codec,
		IdleThreshold: cfg.IdleThreshold,
		PollInterval:  cfg.PollInterval,
		Mode:          mode,
		Retry:         RetryDrop,
		MaxAttempts:   cfg.MaxAttempts,
		CacheSize:     cfg.CacheChunks,
		Logger:        logger,
	}
	if cfg.RetryFailed {
		opts.Retry = RetryRequeue
	}
	return opts, nil
}

// ParseQueueMode maps "fifo" and "deadline" to their QueueMode. The empty
// string is fifo.
func ParseQueueMode(s string) (QueueMode, error) {
	switch s {
	case "", "fifo":
		return QueueFIFO, nil
	case "deadline":
		return QueueDeadline, nil
	default:
		return QueueFIFO, fmt.Errorf("%w: unknown queue mode %q", util.ErrInvalidConfig, s)
	}
}
