// Package config loads server configuration with Viper (file, environment and
// defaults) and the env-only configuration of the standalone MCP binary.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"github.com/supplement-advisor-server/internal/domain"
)

// Valid backend names.
var (
	sessionBackends  = map[string]bool{"memory": true, "redis": true, "postgres": true, "sqlite": true}
	patternBackends  = map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	evidenceBackends = map[string]bool{"chromem": true, "memory": true}
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true}
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v          *viper.Viper
	configFile string
	config     *domain.Config
}

var _ domain.ConfigManager = (*Manager)(nil)

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit file. An empty path
// searches the default locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/supplement-advisor/")
	}

	v.SetEnvPrefix("SUPPLEMENT_ADVISOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is fine; defaults and environment still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(config.Analysis.Thresholds.Rules) == 0 {
		config.Analysis.Thresholds = domain.DefaultThresholdTable()
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "supplement_advisor")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "./migrations")

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.memory_entries", 1000)
	v.SetDefault("cache.memory_ttl", "1h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Oracle defaults
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.base_url", "https://api.openai.com/v1")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.chat_model", "gpt-4o-mini")
	v.SetDefault("oracle.embedding_model", "text-embedding-3-small")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.timeout", "60s")
	v.SetDefault("oracle.rate_limit", 5)
	setBreakerDefaults(v, "oracle.circuit_breaker")

	// Evidence store defaults
	v.SetDefault("evidence_store.backend", "chromem")
	v.SetDefault("evidence_store.persist_path", "./data/evidence")
	v.SetDefault("evidence_store.compress", false)
	v.SetDefault("evidence_store.rate_limit", 20)
	setBreakerDefaults(v, "evidence_store.circuit_breaker")

	// Analysis defaults
	a := domain.DefaultAnalysisConfig()
	v.SetDefault("analysis.collections.supplements", a.Collections.Supplements)
	v.SetDefault("analysis.collections.health_data", a.Collections.HealthData)
	v.SetDefault("analysis.collections.interactions", a.Collections.Interactions)
	v.SetDefault("analysis.confidence_floor", a.ConfidenceFloor)
	v.SetDefault("analysis.low_relevance_floor", a.LowRelevanceFloor)
	v.SetDefault("analysis.high_severity_cutoff", a.HighSeverityCutoff)
	v.SetDefault("analysis.reuse_threshold", a.ReuseThreshold)
	v.SetDefault("analysis.similarity_weights.entities", a.SimilarityWeights.Entities)
	v.SetDefault("analysis.similarity_weights.effect", a.SimilarityWeights.Effect)
	v.SetDefault("analysis.similarity_weights.context", a.SimilarityWeights.Context)
	v.SetDefault("analysis.supplement_top_k", a.SupplementTopK)
	v.SetDefault("analysis.lifestyle_top_k", a.LifestyleTopK)
	v.SetDefault("analysis.interaction_top_k", a.InteractionTopK)
	v.SetDefault("analysis.max_concurrency", a.MaxConcurrency)
	v.SetDefault("analysis.rate_limit", a.RateLimit)
	v.SetDefault("analysis.pair_timeout", a.PairTimeout.String())
	v.SetDefault("analysis.max_evidence_per_factor", a.MaxEvidencePerFactor)

	// Session defaults
	v.SetDefault("session.total_expected_steps", domain.DefaultTotalExpectedSteps)
	v.SetDefault("session.repository", "memory")
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.sqlite_path", "./data/sessions.db")

	// Pattern defaults
	v.SetDefault("patterns.backend", "memory")
	v.SetDefault("patterns.sqlite_path", "./data/patterns.db")
	v.SetDefault("patterns.database_url", "")
}

func setBreakerDefaults(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".max_requests", 3)
	v.SetDefault(prefix+".interval", "60s")
	v.SetDefault(prefix+".timeout", "30s")
	v.SetDefault(prefix+".min_requests", 5)
	v.SetDefault(prefix+".failure_ratio", 0.6)
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetAnalysisConfig returns the analysis settings injected into the core.
func (m *Manager) GetAnalysisConfig() *domain.AnalysisConfig {
	return &m.config.Analysis
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	if !sessionBackends[config.Session.Repository] {
		return fmt.Errorf("invalid session repository: %q", config.Session.Repository)
	}
	if config.Session.TotalExpectedSteps <= 0 {
		return fmt.Errorf("session total_expected_steps must be positive: %d", config.Session.TotalExpectedSteps)
	}
	if !patternBackends[config.Patterns.Backend] {
		return fmt.Errorf("invalid patterns backend: %q", config.Patterns.Backend)
	}
	if !evidenceBackends[config.EvidenceStore.Backend] {
		return fmt.Errorf("invalid evidence store backend: %q", config.EvidenceStore.Backend)
	}

	if m.usesPostgres() {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}
	if (config.Cache.Enabled || config.Session.Repository == "redis") && config.Cache.RedisURL == "" {
		return fmt.Errorf("Redis URL is required")
	}

	if config.Oracle.ChatModel == "" {
		return fmt.Errorf("oracle chat model is required")
	}

	return validateAnalysis(config.Analysis)
}

func validateAnalysis(a domain.AnalysisConfig) error {
	if err := a.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid analysis thresholds: %w", err)
	}
	for name, v := range map[string]float64{
		"confidence_floor":     a.ConfidenceFloor,
		"low_relevance_floor":  a.LowRelevanceFloor,
		"high_severity_cutoff": a.HighSeverityCutoff,
		"reuse_threshold":      a.ReuseThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("analysis %s must be within [0,1]: %v", name, v)
		}
	}
	w := a.SimilarityWeights
	if w.Entities < 0 || w.Effect < 0 || w.Context < 0 || w.Entities+w.Effect+w.Context == 0 {
		return fmt.Errorf("analysis similarity weights must be non-negative and not all zero")
	}
	if a.SupplementTopK <= 0 || a.LifestyleTopK <= 0 || a.InteractionTopK <= 0 {
		return fmt.Errorf("analysis top-k values must be positive")
	}
	if a.MaxConcurrency <= 0 {
		return fmt.Errorf("analysis max_concurrency must be positive: %d", a.MaxConcurrency)
	}
	if a.Collections.Supplements == "" || a.Collections.HealthData == "" || a.Collections.Interactions == "" {
		return fmt.Errorf("analysis collection names are required")
	}
	return nil
}

func (m *Manager) usesPostgres() bool {
	return m.config.Session.Repository == "postgres" ||
		(m.config.Patterns.Backend == "postgres" && m.config.Patterns.DatabaseURL == "")
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database connection URL used by migrations and
// database/sql drivers.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(db.Username, db.Password),
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     "/" + db.Database,
		RawQuery: "sslmode=" + url.QueryEscape(db.SSLMode),
	}
	return u.String()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
