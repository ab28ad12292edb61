// Package caching provides the shared evidence search cache: a bounded
// in-memory LRU in front of an optional Redis tier.
package caching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

const redisKeyPrefix = "advisor:cache:search:"

// Config defines configuration for search result caching
type Config struct {
	// Redis client for distributed caching; nil keeps the cache in memory only
	RedisClient *redis.Client
	// TTL of Redis entries
	DefaultTTL time.Duration
	// TTL of in-memory entries, capped by DefaultTTL
	MemoryTTL time.Duration
	// Maximum number of entries held in memory
	MemoryEntries int
	Enabled       bool
}

// CachedSearch is the stored form of a search result.
type CachedSearch struct {
	Result    domain.SearchResult `json:"result"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// Stats tracks cache performance
type Stats struct {
	MemoryHits  int64 `json:"memory_hits"`
	RedisHits   int64 `json:"redis_hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	RedisErrors int64 `json:"redis_errors"`
}

// TieredSearchCache caches evidence search results in memory and in Redis.
type TieredSearchCache struct {
	config Config
	memory *lru.Cache
	logger *logrus.Logger

	statsMu sync.Mutex
	stats   Stats
}

// NewTieredSearchCache creates a cache instance
func NewTieredSearchCache(config Config, logger *logrus.Logger) (*TieredSearchCache, error) {
	if config.DefaultTTL == 0 {
		config.DefaultTTL = 30 * time.Minute
	}
	if config.MemoryTTL <= 0 || config.MemoryTTL > config.DefaultTTL {
		config.MemoryTTL = config.DefaultTTL
	}
	if config.MemoryEntries == 0 {
		config.MemoryEntries = 1000
	}

	memory, err := lru.New(config.MemoryEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &TieredSearchCache{
		config: config,
		memory: memory,
		logger: logger,
	}, nil
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string, poolSize, maxRetries int, poolTimeout time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	if maxRetries > 0 {
		opts.MaxRetries = maxRetries
	}
	if poolTimeout > 0 {
		opts.PoolTimeout = poolTimeout
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// HashKey turns an aggregator key into a fixed-length cache key.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Get returns a cached search result.
func (c *TieredSearchCache) Get(ctx context.Context, key string) (*domain.SearchResult, bool) {
	if !c.config.Enabled {
		return nil, false
	}
	hashed := HashKey(key)

	if v, ok := c.memory.Get(hashed); ok {
		entry := v.(*CachedSearch)
		if time.Now().Before(entry.ExpiresAt) {
			c.record(func(s *Stats) { s.MemoryHits++ })
			res := entry.Result
			return &res, true
		}
		c.memory.Remove(hashed)
	}

	if c.config.RedisClient != nil {
		data, err := c.config.RedisClient.Get(ctx, redisKeyPrefix+hashed).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			c.record(func(s *Stats) { s.RedisErrors++ })
			c.logger.WithError(err).Debug("Redis search cache read failed")
		default:
			var entry CachedSearch
			if err := json.Unmarshal(data, &entry); err != nil {
				// Corrupted entry
				c.config.RedisClient.Del(ctx, redisKeyPrefix+hashed)
				break
			}
			if now := time.Now(); now.Before(entry.ExpiresAt) {
				c.memory.Add(hashed, c.memoryEntry(entry, now))
				c.record(func(s *Stats) { s.RedisHits++ })
				res := entry.Result
				return &res, true
			}
		}
	}

	c.record(func(s *Stats) { s.Misses++ })
	return nil, false
}

// Set stores a search result in both tiers.
func (c *TieredSearchCache) Set(ctx context.Context, key string, result domain.SearchResult) {
	if !c.config.Enabled {
		return
	}
	hashed := HashKey(key)
	now := time.Now()
	entry := CachedSearch{
		Result:    result,
		CachedAt:  now,
		ExpiresAt: now.Add(c.config.DefaultTTL),
	}
	c.memory.Add(hashed, c.memoryEntry(entry, now))
	c.record(func(s *Stats) { s.Sets++ })

	if c.config.RedisClient == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode search cache entry")
		return
	}
	if err := c.config.RedisClient.Set(ctx, redisKeyPrefix+hashed, data, c.config.DefaultTTL).Err(); err != nil {
		c.record(func(s *Stats) { s.RedisErrors++ })
		c.logger.WithError(err).Debug("Redis search cache write failed")
	}
}

// memoryEntry copies entry with its expiry capped at the memory TTL.
func (c *TieredSearchCache) memoryEntry(entry CachedSearch, now time.Time) *CachedSearch {
	if limit := now.Add(c.config.MemoryTTL); limit.Before(entry.ExpiresAt) {
		entry.ExpiresAt = limit
	}
	return &entry
}

// Clear drops every cached entry.
func (c *TieredSearchCache) Clear(ctx context.Context) error {
	c.memory.Purge()
	if c.config.RedisClient == nil {
		return nil
	}

	iter := c.config.RedisClient.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.config.RedisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cache key: %w", err)
		}
	}
	return iter.Err()
}

// GetStats returns a snapshot of the cache statistics.
func (c *TieredSearchCache) GetStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// HitRatio returns hits / lookups.
func (c *TieredSearchCache) HitRatio() float64 {
	s := c.GetStats()
	total := s.MemoryHits + s.RedisHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.RedisHits) / float64(total)
}

// IsHealthy reports whether the Redis tier responds.
func (c *TieredSearchCache) IsHealthy(ctx context.Context) bool {
	if c.config.RedisClient == nil {
		return true
	}
	return c.config.RedisClient.Ping(ctx).Err() == nil
}

func (c *TieredSearchCache) record(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}
