package caching

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func sampleResult() domain.SearchResult {
	return domain.SearchResult{
		Query:      "magnesium sleep",
		Collection: "health_data",
		Status:     domain.ResultOK,
		Evidence: []domain.Evidence{{
			SourceID:       "doc-1",
			Summary:        "Magnesium improves sleep onset",
			RelevanceScore: 0.87,
			Collection:     "health_data",
		}},
	}
}

func TestNewTieredSearchCache_Defaults(t *testing.T) {
	cache, err := NewTieredSearchCache(Config{Enabled: true}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cache.config.DefaultTTL)
	assert.Equal(t, 30*time.Minute, cache.config.MemoryTTL)
	assert.Equal(t, 1000, cache.config.MemoryEntries)
	assert.True(t, cache.IsHealthy(context.Background()))
}

func TestHashKey(t *testing.T) {
	assert.Equal(t, HashKey("a"), HashKey("a"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
	assert.Len(t, HashKey("a"), 64)
}

func TestTieredSearchCache_MemoryTier(t *testing.T) {
	ctx := context.Background()
	cache, err := NewTieredSearchCache(Config{Enabled: true, DefaultTTL: time.Minute}, quietLogger())
	require.NoError(t, err)

	_, found := cache.Get(ctx, "health_data:3:magnesium sleep")
	assert.False(t, found)

	cache.Set(ctx, "health_data:3:magnesium sleep", sampleResult())

	got, found := cache.Get(ctx, "health_data:3:magnesium sleep")
	require.True(t, found)
	assert.Equal(t, sampleResult(), *got)

	stats := cache.GetStats()
	assert.Equal(t, int64(1), stats.MemoryHits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.InDelta(t, 0.5, cache.HitRatio(), 1e-9)

	require.NoError(t, cache.Clear(ctx))
	_, found = cache.Get(ctx, "health_data:3:magnesium sleep")
	assert.False(t, found)
}

func TestTieredSearchCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache, err := NewTieredSearchCache(Config{Enabled: true, DefaultTTL: 10 * time.Millisecond}, quietLogger())
	require.NoError(t, err)

	cache.Set(ctx, "k", sampleResult())
	time.Sleep(20 * time.Millisecond)

	_, found := cache.Get(ctx, "k")
	assert.False(t, found)
}

func TestTieredSearchCache_MemoryTTL(t *testing.T) {
	ctx := context.Background()
	cache, err := NewTieredSearchCache(Config{Enabled: true, DefaultTTL: time.Hour, MemoryTTL: 10 * time.Millisecond}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, cache.config.MemoryTTL)

	cache.Set(ctx, "k", sampleResult())
	_, found := cache.Get(ctx, "k")
	require.True(t, found)

	time.Sleep(20 * time.Millisecond)
	_, found = cache.Get(ctx, "k")
	assert.False(t, found)

	capped, err := NewTieredSearchCache(Config{Enabled: true, DefaultTTL: time.Minute, MemoryTTL: time.Hour}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, capped.config.MemoryTTL)
}

func TestTieredSearchCache_Disabled(t *testing.T) {
	ctx := context.Background()
	cache, err := NewTieredSearchCache(Config{Enabled: false}, quietLogger())
	require.NoError(t, err)

	cache.Set(ctx, "k", sampleResult())
	_, found := cache.Get(ctx, "k")
	assert.False(t, found)
	assert.Equal(t, Stats{}, cache.GetStats())
}

func TestTieredSearchCache_RedisTier(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis tests")
	}
	ctx := context.Background()

	client, err := NewRedisClient(ctx, redisURL, 5, 1, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	writer, err := NewTieredSearchCache(Config{Enabled: true, RedisClient: client, DefaultTTL: time.Minute}, quietLogger())
	require.NoError(t, err)
	require.NoError(t, writer.Clear(ctx))
	writer.Set(ctx, "shared-key", sampleResult())

	// A second instance with a cold memory tier reads through Redis.
	reader, err := NewTieredSearchCache(Config{Enabled: true, RedisClient: client, DefaultTTL: time.Minute}, quietLogger())
	require.NoError(t, err)
	got, found := reader.Get(ctx, "shared-key")
	require.True(t, found)
	assert.Equal(t, "doc-1", got.Evidence[0].SourceID)
	assert.Equal(t, int64(1), reader.GetStats().RedisHits)

	// Corrupted entries are removed.
	require.NoError(t, client.Set(ctx, redisKeyPrefix+HashKey("bad"), "not json", time.Minute).Err())
	_, found = reader.Get(ctx, "bad")
	assert.False(t, found)
	_, err = client.Get(ctx, redisKeyPrefix+HashKey("bad")).Result()
	assert.Equal(t, redis.Nil, err)
}
