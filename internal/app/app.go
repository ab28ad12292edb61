// Package app assembles the advisor from configuration: the oracle, the evidence
// store, the search cache, and the session and pattern backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/caching"
	"github.com/supplement-advisor-server/internal/database"
	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/evidence"
	"github.com/supplement-advisor-server/internal/health"
	"github.com/supplement-advisor-server/internal/pattern"
	"github.com/supplement-advisor-server/internal/repository"
	"github.com/supplement-advisor-server/internal/service"
	"github.com/supplement-advisor-server/pkg/external"
)

// Stack is a fully wired advisor plus the resources it owns.
type Stack struct {
	Service *service.AdvisorService
	Cache   *caching.TieredSearchCache
	Health  *health.Checker

	logger  *logrus.Logger
	closers []func() error
}

// Dependencies lets callers inject the external providers. Nil fields are
// built from configuration.
type Dependencies struct {
	Oracle domain.TextOracle
	Store  domain.EvidenceStore
}

// Build wires every component selected by cfg.
func Build(ctx context.Context, cfg *domain.Config, deps Dependencies, logger *logrus.Logger) (*Stack, error) {
	s := &Stack{logger: logger, Health: health.NewChecker(5*time.Second, 10*time.Second, logger)}

	oracle := deps.Oracle
	if oracle == nil {
		openai, err := external.NewOpenAIOracle(cfg.Oracle, logger)
		if err != nil {
			return nil, err
		}
		oracle = external.NewResilientOracle(openai, cfg.Oracle, logger)
	}
	s.watchBreaker("oracle", oracle)

	store := deps.Store
	if store == nil {
		var err error
		store, err = buildEvidenceStore(cfg.EvidenceStore, oracle, logger)
		if err != nil {
			return nil, err
		}
	}
	s.watchBreaker("evidence_store", store)

	var searchCache evidence.SearchCache
	if cfg.Cache.Enabled {
		c, err := s.buildSearchCache(ctx, cfg.Cache)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Cache = c
		searchCache = c
		if cfg.Cache.RedisURL != "" {
			s.Health.Register(health.PingCheck("search_cache", func(ctx context.Context) error {
				if !c.IsHealthy(ctx) {
					return errors.New("redis tier unreachable")
				}
				return nil
			}))
		}
	}

	sessions, err := s.buildSessionRepository(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	if p, ok := sessions.(pinger); ok {
		s.Health.Register(health.PingCheck("sessions", p.Ping))
	}

	patterns, err := s.buildPatternRepository(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Service = service.NewAdvisorService(service.Options{
		Analysis:    cfg.Analysis,
		Session:     cfg.Session,
		Store:       store,
		Oracle:      oracle,
		Sessions:    sessions,
		Patterns:    patterns,
		SearchCache: searchCache,
	}, logger)

	if err := s.Service.LoadPatterns(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("loading patterns: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"sessions":       cfg.Session.Repository,
		"patterns":       cfg.Patterns.Backend,
		"evidence_store": cfg.EvidenceStore.Backend,
		"search_cache":   cfg.Cache.Enabled,
	}).Info("Advisor assembled")
	return s, nil
}

// Close releases every owned resource.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Stack) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Stack) watchBreaker(name string, component interface{}) {
	if b, ok := component.(health.BreakerState); ok {
		s.Health.Register(health.BreakerCheck(name, b))
	}
}

func buildEvidenceStore(cfg domain.EvidenceStoreConfig, oracle domain.TextOracle, logger *logrus.Logger) (domain.EvidenceStore, error) {
	path := cfg.PersistPath
	switch cfg.Backend {
	case "memory":
		path = ""
	case "chromem", "":
	default:
		return nil, fmt.Errorf("unknown evidence store backend %q", cfg.Backend)
	}

	db, err := external.OpenChromemDB(path, cfg.Compress)
	if err != nil {
		return nil, err
	}
	chromemStore := external.NewChromemEvidenceStore(db, external.OracleEmbeddingFunc(oracle), logger)
	return external.NewResilientEvidenceStore(chromemStore, cfg, logger), nil
}

func (s *Stack) buildSearchCache(ctx context.Context, cfg domain.CacheConfig) (*caching.TieredSearchCache, error) {
	cacheCfg := caching.Config{
		DefaultTTL:    cfg.DefaultTTL,
		MemoryTTL:     cfg.MemoryTTL,
		MemoryEntries: cfg.MemoryEntries,
		Enabled:       true,
	}
	if cfg.RedisURL != "" {
		client, err := caching.NewRedisClient(ctx, cfg.RedisURL, cfg.PoolSize, cfg.MaxRetries, cfg.PoolTimeout)
		if err != nil {
			return nil, err
		}
		s.onClose(client.Close)
		cacheCfg.RedisClient = client
	}
	return caching.NewTieredSearchCache(cacheCfg, s.logger)
}

func (s *Stack) buildSessionRepository(ctx context.Context, cfg *domain.Config) (domain.SessionRepository, error) {
	switch cfg.Session.Repository {
	case "memory", "":
		return repository.NewMemorySessionRepository(), nil

	case "sqlite":
		repo, err := repository.NewSQLiteSessionRepository(cfg.Session.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.onClose(repo.Close)
		return repo, nil

	case "redis":
		client, err := repository.NewRedisClient(ctx, cfg.Cache.RedisURL, cfg.Cache.PoolSize, cfg.Cache.PoolTimeout)
		if err != nil {
			return nil, err
		}
		s.onClose(client.Close)
		return repository.NewRedisSessionRepository(client, cfg.Session.TTL, s.logger), nil

	case "postgres":
		dbCfg := database.ConfigFromDomain(cfg.Database)
		if cfg.Database.MigrationsPath != "" {
			if err := migrate(ctx, dbCfg.URL(), cfg.Database.MigrationsPath, s.logger); err != nil {
				return nil, err
			}
		}
		db, err := database.NewConnection(ctx, dbCfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.onClose(func() error { db.Close(); return nil })
		s.Health.Register(health.PingCheck("sessions", db.Health))
		return repository.NewPostgresSessionRepository(db.Pool, s.logger), nil
	}
	return nil, fmt.Errorf("unknown session repository %q", cfg.Session.Repository)
}

func (s *Stack) buildPatternRepository(cfg *domain.Config) (pattern.Repository, error) {
	var (
		repo pattern.Repository
		err  error
	)
	switch cfg.Patterns.Backend {
	case "memory", "":
		return nil, nil
	case "sqlite":
		repo, err = pattern.NewSQLiteRepository(cfg.Patterns.SQLitePath)
	case "postgres":
		url := cfg.Patterns.DatabaseURL
		if url == "" {
			url = database.ConfigFromDomain(cfg.Database).URL()
		}
		repo, err = pattern.NewPostgresRepositoryFromURL(url)
	default:
		return nil, fmt.Errorf("unknown patterns backend %q", cfg.Patterns.Backend)
	}
	if err != nil {
		return nil, err
	}
	s.onClose(repo.Close)
	return repo, nil
}

func migrate(ctx context.Context, databaseURL, path string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, path, logger)
	if err != nil {
		return err
	}
	defer runner.Close()
	return runner.Up(ctx)
}
