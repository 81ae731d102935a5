package util

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the logger shared by the mount and the compactor.
func NewLogger(level string) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfig, level)
	}
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger, nil
}
