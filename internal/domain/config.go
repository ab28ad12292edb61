package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Oracle        OracleConfig        `mapstructure:"oracle"`
	EvidenceStore EvidenceStoreConfig `mapstructure:"evidence_store"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	Session       SessionConfig       `mapstructure:"session"`
	Patterns      PatternsConfig      `mapstructure:"patterns"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents Redis cache configuration
type CacheConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisURL      string        `mapstructure:"redis_url"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl"`
	MaxRetries    int           `mapstructure:"max_retries"`
	PoolSize      int           `mapstructure:"pool_size"`
	PoolTimeout   time.Duration `mapstructure:"pool_timeout"`
	MemoryEntries int           `mapstructure:"memory_entries"`
	MemoryTTL     time.Duration `mapstructure:"memory_ttl"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// OracleConfig configures the LLM provider behind the TextOracle.
type OracleConfig struct {
	Provider       string               `mapstructure:"provider"`
	BaseURL        string               `mapstructure:"base_url"`
	APIKey         string               `mapstructure:"api_key"`
	ChatModel      string               `mapstructure:"chat_model"`
	EmbeddingModel string               `mapstructure:"embedding_model"`
	Temperature    float64              `mapstructure:"temperature"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	RateLimit      float64              `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// EvidenceStoreConfig configures the vector store behind the EvidenceStore.
type EvidenceStoreConfig struct {
	Backend        string               `mapstructure:"backend"`
	PersistPath    string               `mapstructure:"persist_path"`
	Compress       bool                 `mapstructure:"compress"`
	RateLimit      float64              `mapstructure:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// CircuitBreakerConfig represents gobreaker settings for an external dependency.
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// CollectionNames names the evidence store collections the core queries.
type CollectionNames struct {
	Supplements  string `mapstructure:"supplements"`
	HealthData   string `mapstructure:"health_data"`
	Interactions string `mapstructure:"interactions"`
}

// SimilarityWeights weights the three terms of pattern similarity.
type SimilarityWeights struct {
	Entities float64 `mapstructure:"entities"`
	Effect   float64 `mapstructure:"effect"`
	Context  float64 `mapstructure:"context"`
}

// AnalysisConfig is injected into every core component at construction.
type AnalysisConfig struct {
	Collections          CollectionNames   `mapstructure:"collections"`
	Thresholds           ThresholdTable    `mapstructure:"thresholds"`
	ConfidenceFloor      float64           `mapstructure:"confidence_floor"`
	LowRelevanceFloor    float64           `mapstructure:"low_relevance_floor"`
	HighSeverityCutoff   float64           `mapstructure:"high_severity_cutoff"`
	ReuseThreshold       float64           `mapstructure:"reuse_threshold"`
	SimilarityWeights    SimilarityWeights `mapstructure:"similarity_weights"`
	SupplementTopK       int               `mapstructure:"supplement_top_k"`
	LifestyleTopK        int               `mapstructure:"lifestyle_top_k"`
	InteractionTopK      int               `mapstructure:"interaction_top_k"`
	MaxConcurrency       int               `mapstructure:"max_concurrency"`
	RateLimit            float64           `mapstructure:"rate_limit"`
	PairTimeout          time.Duration     `mapstructure:"pair_timeout"`
	MaxEvidencePerFactor int               `mapstructure:"max_evidence_per_factor"`
}

// SessionConfig configures the session manager and its repository.
type SessionConfig struct {
	TotalExpectedSteps int           `mapstructure:"total_expected_steps"`
	Repository         string        `mapstructure:"repository"`
	TTL                time.Duration `mapstructure:"ttl"`
	SQLitePath         string        `mapstructure:"sqlite_path"`
}

// PatternsConfig configures pattern persistence.
type PatternsConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	DatabaseURL string `mapstructure:"database_url"`
}

// DefaultAnalysisConfig returns the analysis settings used when nothing is configured.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Collections: CollectionNames{
			Supplements:  "supplements",
			HealthData:   "health_data",
			Interactions: "interactions",
		},
		Thresholds:           DefaultThresholdTable(),
		ConfidenceFloor:      0.1,
		LowRelevanceFloor:    0.2,
		HighSeverityCutoff:   0.8,
		ReuseThreshold:       0.7,
		SimilarityWeights:    SimilarityWeights{Entities: 0.4, Effect: 0.4, Context: 0.2},
		SupplementTopK:       5,
		LifestyleTopK:        3,
		InteractionTopK:      2,
		MaxConcurrency:       4,
		RateLimit:            10,
		PairTimeout:          20 * time.Second,
		MaxEvidencePerFactor: 2,
	}
}
