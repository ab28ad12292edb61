// Package logging builds the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

const (
	redacted      = "[REDACTED]"
	maxFieldChars = 1000
)

// sensitiveKeys are substrings of field names whose values never reach the log.
var sensitiveKeys = []string{
	"password", "token", "secret", "api_key", "authorization",
	"answer_text", "medications", "conditions", "snapshot",
}

// NewLogger creates a logger from configuration. Output defaults to stderr so
// the MCP stdio transport keeps stdout to itself.
func NewLogger(cfg domain.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "", "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(f)
		closer = f
	}

	logger.AddHook(PrivacyHook{})
	return logger, closer, nil
}

// PrivacyHook redacts sensitive fields and truncates oversized values.
type PrivacyHook struct{}

// Levels implements logrus.Hook.
func (PrivacyHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (PrivacyHook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		entry.Data[k] = sanitizeField(k, v)
	}
	return nil
}

func sanitizeField(key string, value interface{}) interface{} {
	lowerKey := strings.ToLower(key)
	for _, pattern := range sensitiveKeys {
		if strings.Contains(lowerKey, pattern) {
			return redacted
		}
	}
	if str, ok := value.(string); ok && len(str) > maxFieldChars {
		return str[:maxFieldChars] + "... [TRUNCATED]"
	}
	return value
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
