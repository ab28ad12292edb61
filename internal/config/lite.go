package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/supplement-advisor-server/internal/domain"
)

// LiteConfig configures the standalone MCP binary from the environment alone.
// Sessions and patterns live in SQLite files and evidence in a persistent
// chromem database under DataDir.
type LiteConfig struct {
	DataDir string

	CacheMaxItems int
	CacheTTL      time.Duration

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	ChatModel      string
	EmbeddingModel string

	// SeedFile is an optional JSON file of documents loaded into the evidence
	// store at startup.
	SeedFile string

	Transport string // stdio or http
	HTTPPort  int

	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()

	return &LiteConfig{
		DataDir:        filepath.Join(homeDir, ".supplement-advisor"),
		CacheMaxItems:  1000,
		CacheTTL:       time.Hour,
		OpenAIBaseURL:  "https://api.openai.com/v1",
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Transport:      "stdio",
		HTTPPort:       8080,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// LoadLiteConfig loads configuration from environment variables, falling back
// to defaults.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("ADVISOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("ADVISOR_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("ADVISOR_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.OpenAIBaseURL = v
	}
	if v := os.Getenv("ADVISOR_CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("ADVISOR_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	cfg.SeedFile = os.Getenv("ADVISOR_SEED_FILE")

	if v := os.Getenv("ADVISOR_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("ADVISOR_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	if v := os.Getenv("ADVISOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ADVISOR_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// PatternDBPath returns the path to the learned pattern SQLite database.
func (c *LiteConfig) PatternDBPath() string {
	return filepath.Join(c.DataDir, "patterns.db")
}

// SessionDBPath returns the path to the session SQLite database.
func (c *LiteConfig) SessionDBPath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// VectorDBPath returns the directory of the persistent evidence store.
func (c *LiteConfig) VectorDBPath() string {
	return filepath.Join(c.DataDir, "evidence")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.VectorDBPath(), 0755)
}

// ToConfig expands the lite settings into a full configuration: SQLite for
// sessions and patterns, a persistent chromem store and an in-memory search
// cache without Redis.
func (c *LiteConfig) ToConfig() *domain.Config {
	breaker := domain.CircuitBreakerConfig{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}

	return &domain.Config{
		Environment: "development",
		Server:      domain.ServerConfig{Host: "127.0.0.1", Port: c.HTTPPort},
		Cache: domain.CacheConfig{
			Enabled:       true,
			DefaultTTL:    c.CacheTTL,
			MemoryEntries: c.CacheMaxItems,
			MemoryTTL:     c.CacheTTL,
		},
		Logging: domain.LoggingConfig{Level: c.LogLevel, Format: c.LogFormat, Output: "stderr"},
		Oracle: domain.OracleConfig{
			Provider:       "openai",
			BaseURL:        c.OpenAIBaseURL,
			APIKey:         c.OpenAIAPIKey,
			ChatModel:      c.ChatModel,
			EmbeddingModel: c.EmbeddingModel,
			Temperature:    0.2,
			Timeout:        time.Minute,
			RateLimit:      5,
			CircuitBreaker: breaker,
		},
		EvidenceStore: domain.EvidenceStoreConfig{
			Backend:        "chromem",
			PersistPath:    c.VectorDBPath(),
			RateLimit:      20,
			CircuitBreaker: breaker,
		},
		Analysis: domain.DefaultAnalysisConfig(),
		Session: domain.SessionConfig{
			TotalExpectedSteps: domain.DefaultTotalExpectedSteps,
			Repository:         "sqlite",
			SQLitePath:         c.SessionDBPath(),
		},
		Patterns: domain.PatternsConfig{
			Backend:    "sqlite",
			SQLitePath: c.PatternDBPath(),
		},
	}
}
