package domain

import (
	"context"
)

// TextOracle is the completion and embedding provider. Quota and rate-limit
// failures must wrap ErrQuotaExhausted.
type TextOracle interface {
	Complete(ctx context.Context, prompt, system string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EvidenceStore is the nearest-neighbor text search provider.
type EvidenceStore interface {
	Search(ctx context.Context, query, collection string, k int) (*SearchHits, error)
	Add(ctx context.Context, collection, document string, metadata map[string]string, id string) error
}

// SessionRepository persists sessions. Get returns an error wrapping ErrNotFound
// for unknown ids.
type SessionRepository interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
}

// SessionAPI is the surface exposed to the HTTP and MCP layers.
type SessionAPI interface {
	CreateSession(ctx context.Context, snapshot HealthSnapshot) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionStatus(ctx context.Context, id string) (SessionStatusReport, error)
	SubmitAnswer(ctx context.Context, id string, answer Answer) (*AnalysisResult, error)
	DeleteSession(ctx context.Context, id string) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetAnalysisConfig() *AnalysisConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
