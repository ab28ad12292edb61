package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	logger, closer, err := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)
}

func TestNewLogger_InvalidLevelFallsBack(t *testing.T) {
	logger, closer, err := NewLogger(domain.LoggingConfig{Level: "chatty"})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "advisor.log")
	logger, closer, err := NewLogger(domain.LoggingConfig{Level: "info", Output: path})
	require.NoError(t, err)

	logger.WithField("session_id", "s1").Info("Session created")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "Session created", entry["message"])
	assert.Equal(t, "s1", entry["session_id"])
}

func TestNewLogger_BadFile(t *testing.T) {
	_, _, err := NewLogger(domain.LoggingConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func TestPrivacyHook(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.AddHook(PrivacyHook{})

	logger.WithFields(logrus.Fields{
		"session_id":     "s1",
		"answer_text":    "I take warfarin",
		"oracle_api_key": "sk-123",
		"note":           strings.Repeat("x", 1500),
	}).Info("Answer processed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "s1", entry["session_id"])
	assert.Equal(t, redacted, entry["answer_text"])
	assert.Equal(t, redacted, entry["oracle_api_key"])
	assert.True(t, strings.HasSuffix(entry["note"].(string), "[TRUNCATED]"))
	assert.Len(t, entry["note"].(string), maxFieldChars+len("... [TRUNCATED]"))
}
