package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestManager_Defaults(t *testing.T) {
	m, err := NewManagerFromFile(writeConfig(t, "environment: development\n"))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Session.Repository)
	assert.Equal(t, domain.DefaultTotalExpectedSteps, cfg.Session.TotalExpectedSteps)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 4*time.Second, cfg.Cache.PoolTimeout)
	assert.Equal(t, time.Hour, cfg.Cache.MemoryTTL)
	assert.Equal(t, 2, cfg.Analysis.MaxEvidencePerFactor)
	assert.Equal(t, "chromem", cfg.EvidenceStore.Backend)
	assert.Equal(t, uint32(3), cfg.Oracle.CircuitBreaker.MaxRequests)
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())

	analysis := m.GetAnalysisConfig()
	defaults := domain.DefaultAnalysisConfig()
	assert.Equal(t, defaults.Collections, analysis.Collections)
	assert.Equal(t, defaults.ReuseThreshold, analysis.ReuseThreshold)
	assert.Equal(t, defaults.SimilarityWeights, analysis.SimilarityWeights)
	assert.Equal(t, defaults.PairTimeout, analysis.PairTimeout)
	assert.Len(t, analysis.Thresholds.Rules, len(domain.DefaultThresholdTable().Rules))
}

func TestManager_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
environment: production
server:
  port: 9000
session:
  repository: postgres
  total_expected_steps: 3
database:
  host: db
  database: advisor
  username: advisor
  password: "s3cret"
analysis:
  confidence_floor: 0.3
  collections:
    supplements: supp_v2
  thresholds:
    rules:
      - family: bmi
        risk_type: obesity
        expressions:
          bmi: ">=32"
        margin: 4
        margin_mode: add
`)
	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.True(t, m.IsProduction())
	assert.Equal(t, 9000, m.GetServerConfig().Port)
	assert.Equal(t, 3, cfg.Session.TotalExpectedSteps)
	assert.Equal(t, 0.3, cfg.Analysis.ConfidenceFloor)
	assert.Equal(t, "supp_v2", cfg.Analysis.Collections.Supplements)
	assert.Equal(t, "health_data", cfg.Analysis.Collections.HealthData)

	require.Len(t, cfg.Analysis.Thresholds.Rules, 1)
	rule := cfg.Analysis.Thresholds.Rules[0]
	assert.Equal(t, "obesity", rule.RiskType)
	assert.Equal(t, ">=32", rule.Expressions["bmi"])
	assert.Equal(t, domain.MarginAdd, rule.MarginMode)

	assert.Equal(t, "host=db port=5432 user=advisor password=s3cret dbname=advisor sslmode=disable", m.GetDatabaseConnectionString())
	assert.Equal(t, "postgres://advisor:s3cret@db:5432/advisor?sslmode=disable", m.GetDatabaseURL())
	assert.Equal(t, "redis://localhost:6379", m.GetRedisConnectionString())
}

func TestManager_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SUPPLEMENT_ADVISOR_SERVER_PORT", "7070")
	t.Setenv("SUPPLEMENT_ADVISOR_ORACLE_API_KEY", "sk-test")
	t.Setenv("SUPPLEMENT_ADVISOR_SESSION_REPOSITORY", "sqlite")

	m, err := NewManagerFromFile(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	cfg := m.GetConfig()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.Oracle.APIKey)
	assert.Equal(t, "sqlite", cfg.Session.Repository)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"bad port", "server:\n  port: 70000\n", "invalid server port"},
		{"bad log level", "logging:\n  level: loud\n", "invalid log level"},
		{"bad session repository", "session:\n  repository: mongo\n", "invalid session repository"},
		{"bad pattern backend", "patterns:\n  backend: etcd\n", "invalid patterns backend"},
		{"bad floor", "analysis:\n  confidence_floor: 1.5\n", "confidence_floor"},
		{"zero weights", "analysis:\n  similarity_weights:\n    entities: 0\n    effect: 0\n    context: 0\n", "similarity weights"},
		{"postgres needs host", "session:\n  repository: postgres\ndatabase:\n  host: \"\"\n", "database host is required"},
		{"bad threshold", "analysis:\n  thresholds:\n    rules:\n      - family: bmi\n        risk_type: obesity\n        expressions:\n          bmi: \"about 30\"\n", "invalid analysis thresholds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerFromFile(writeConfig(t, tt.body))
			require.NoError(t, err)

			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestManager_Reload(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")
	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8081, m.GetServerConfig().Port)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8082\n"), 0o600))
	require.NoError(t, m.Reload())
	assert.Equal(t, 8082, m.GetServerConfig().Port)
}

func TestManager_MissingExplicitFile(t *testing.T) {
	_, err := NewManagerFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
