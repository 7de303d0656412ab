package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from LOG_FORMAT (json or text) and
// LOG_LEVEL.
func NewLogger(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown LOG_FORMAT %q", cfg.LogFormat)
	}

	level := logrus.InfoLevel
	if raw := strings.TrimSpace(cfg.LogLevel); raw != "" {
		parsed, err := logrus.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)
	return logger, nil
}
