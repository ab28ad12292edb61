package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatModel)
	assert.Empty(t, cfg.SeedFile)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, "stdio", cfg.Transport)
	assert.Empty(t, cfg.OpenAIAPIKey)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("ADVISOR_DATA_DIR", "/tmp/test-advisor")
	t.Setenv("ADVISOR_CACHE_MAX_ITEMS", "500")
	t.Setenv("ADVISOR_CACHE_TTL", "12h")
	t.Setenv("ADVISOR_TRANSPORT", "http")
	t.Setenv("ADVISOR_HTTP_PORT", "9090")
	t.Setenv("ADVISOR_LOG_LEVEL", "debug")
	t.Setenv("ADVISOR_SEED_FILE", "/tmp/seed.json")
	t.Setenv("ADVISOR_CHAT_MODEL", "llama3")
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-advisor", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/seed.json", cfg.SeedFile)
	assert.Equal(t, "llama3", cfg.ChatModel)
	assert.Equal(t, "test-key", cfg.OpenAIAPIKey)
	assert.Equal(t, "http://localhost:11434/v1", cfg.OpenAIBaseURL)
}

func TestLoadLiteConfig_IgnoresInvalidNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("ADVISOR_CACHE_MAX_ITEMS", "-4")
	t.Setenv("ADVISOR_HTTP_PORT", "port")
	t.Setenv("ADVISOR_CACHE_TTL", "soon")

	cfg := LoadLiteConfig()

	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.supplement-advisor"}

	assert.Equal(t, "/home/user/.supplement-advisor/patterns.db", cfg.PatternDBPath())
	assert.Equal(t, "/home/user/.supplement-advisor/sessions.db", cfg.SessionDBPath())
	assert.Equal(t, "/home/user/.supplement-advisor/evidence", cfg.VectorDBPath())
}

func TestLiteConfig_ToConfig(t *testing.T) {
	cfg := &LiteConfig{
		DataDir:        "/data",
		CacheMaxItems:  200,
		CacheTTL:       time.Minute,
		OpenAIAPIKey:   "sk-lite",
		ChatModel:      "llama3",
		EmbeddingModel: "nomic-embed-text",
		HTTPPort:       9000,
		LogLevel:       "warn",
		LogFormat:      "text",
	}

	full := cfg.ToConfig()
	assert.Equal(t, "sqlite", full.Session.Repository)
	assert.Equal(t, "/data/sessions.db", full.Session.SQLitePath)
	assert.Equal(t, "sqlite", full.Patterns.Backend)
	assert.Equal(t, "/data/patterns.db", full.Patterns.SQLitePath)
	assert.Equal(t, "/data/evidence", full.EvidenceStore.PersistPath)
	assert.Equal(t, "sk-lite", full.Oracle.APIKey)
	assert.Equal(t, "llama3", full.Oracle.ChatModel)
	assert.Equal(t, 200, full.Cache.MemoryEntries)
	assert.Empty(t, full.Cache.RedisURL)
	assert.Equal(t, "stderr", full.Logging.Output)
	assert.Equal(t, 9000, full.Server.Port)
	assert.NoError(t, full.Analysis.Thresholds.Validate())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "advisor")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.VectorDBPath())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"ADVISOR_DATA_DIR",
		"ADVISOR_CACHE_MAX_ITEMS",
		"ADVISOR_CACHE_TTL",
		"ADVISOR_TRANSPORT",
		"ADVISOR_HTTP_PORT",
		"ADVISOR_LOG_LEVEL",
		"ADVISOR_LOG_FORMAT",
		"ADVISOR_SEED_FILE",
		"ADVISOR_CHAT_MODEL",
		"ADVISOR_EMBEDDING_MODEL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
	}
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
