package evidence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/testutil"
)

func newTestAggregator(store domain.EvidenceStore, shared SearchCache) *Aggregator {
	cfg := ConfigFromAnalysis(domain.DefaultAnalysisConfig())
	cfg.RateLimit = 0
	return NewAggregator(store, cfg, shared, testutil.QuietLogger())
}

// memoryCache is an in-memory SearchCache used to observe the shared tier.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]domain.SearchResult
}

func (c *memoryCache) Get(_ context.Context, key string) (*domain.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return &r, true
}

func (c *memoryCache) Set(_ context.Context, key string, result domain.SearchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = result
}

func (c *memoryCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]domain.SearchResult{}
	return nil
}

func TestAggregator_SearchStatuses(t *testing.T) {
	ctx := context.Background()

	t.Run("OK", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		store.On("Search", mock.Anything, "vitamin d deficiency", "supplements", 5).Return(testutil.Hits(
			testutil.Hit{Document: "Vitamin D3 supports bone health", Relevance: 0.91, Metadata: map[string]string{"name": "Vitamin D3", "type": "supplement", "id": "doc-1"}},
			testutil.Hit{Document: "Calcium with D", Relevance: 0.6, Metadata: map[string]string{"name": "Calcium"}},
		), nil)

		agg := newTestAggregator(store, nil)
		res, err := agg.Search(ctx, "vitamin d deficiency", "supplements", 5)
		require.NoError(t, err)
		assert.Equal(t, domain.ResultOK, res.Status)
		require.Len(t, res.Evidence, 2)
		assert.Equal(t, "doc-1", res.Evidence[0].SourceID)
		assert.Equal(t, "supplement", res.Evidence[0].Type)
		assert.Equal(t, 0.91, res.Evidence[0].RelevanceScore)
		assert.Equal(t, "supplements", res.Evidence[0].Collection)
		assert.Equal(t, "supplements_1", res.Evidence[1].SourceID)
	})

	t.Run("Insufficient_Evidence", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		store.On("Search", mock.Anything, "rare thing", "supplements", 5).Return(testutil.Hits(), nil)

		res, err := newTestAggregator(store, nil).Search(ctx, "rare thing", "supplements", 5)
		require.NoError(t, err)
		assert.Equal(t, domain.ResultInsufficientEvidence, res.Status)
		assert.Empty(t, res.Evidence)
	})

	t.Run("Low_Relevance", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		store.On("Search", mock.Anything, "vague", "health_data", 3).Return(testutil.Hits(
			testutil.Hit{Document: "weak match", Relevance: 0.05},
		), nil)

		res, err := newTestAggregator(store, nil).Search(ctx, "vague", "health_data", 3)
		require.NoError(t, err)
		assert.Equal(t, domain.ResultLowRelevance, res.Status)
		assert.Len(t, res.Evidence, 1)
	})

	t.Run("Quota_Exhausted", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		store.On("Search", mock.Anything, "q", "supplements", 5).
			Return(nil, fmt.Errorf("embedding: %w", domain.ErrQuotaExhausted))

		res, err := newTestAggregator(store, nil).Search(ctx, "q", "supplements", 5)
		assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
		assert.Equal(t, domain.ResultQuotaExhausted, res.Status)
	})

	t.Run("Store_Error", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		store.On("Search", mock.Anything, "q", "supplements", 5).Return(nil, errors.New("connection refused"))

		res, err := newTestAggregator(store, nil).Search(ctx, "q", "supplements", 5)
		require.Error(t, err)
		assert.Equal(t, domain.ResultError, res.Status)
	})

	t.Run("Misaligned_Hits", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		store.On("Search", mock.Anything, "q", "supplements", 5).Return(&domain.SearchHits{
			Documents: []string{"a", "b"},
			Metadatas: []map[string]string{{}},
			Distances: []float64{0.9, 0.8},
		}, nil)

		res, err := newTestAggregator(store, nil).Search(ctx, "q", "supplements", 5)
		require.Error(t, err)
		assert.Equal(t, domain.ResultError, res.Status)
	})

	t.Run("Invalid_K", func(t *testing.T) {
		store := new(testutil.MockEvidenceStore)
		_, err := newTestAggregator(store, nil).Search(ctx, "q", "supplements", 0)
		var vErr *domain.ValidationError
		assert.ErrorAs(t, err, &vErr)
		store.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAggregator_Caching(t *testing.T) {
	ctx := context.Background()
	store := new(testutil.MockEvidenceStore)
	store.On("Search", mock.Anything, "omega-3", "supplements", 5).Return(testutil.Hits(
		testutil.Hit{Document: "Omega-3 lowers triglycerides", Relevance: 0.8},
	), nil)

	shared := &memoryCache{entries: map[string]domain.SearchResult{}}
	agg := newTestAggregator(store, shared)

	first, err := agg.Search(ctx, "omega-3", "supplements", 5)
	require.NoError(t, err)
	first.Evidence[0].Summary = "mutated by caller"

	second, err := agg.Search(ctx, "omega-3", "supplements", 5)
	require.NoError(t, err)
	assert.Equal(t, "Omega-3 lowers triglycerides", second.Evidence[0].Summary)
	store.AssertNumberOfCalls(t, "Search", 1)
	assert.Len(t, shared.entries, 1)

	// A second aggregator sharing the tier never reaches the store.
	other := newTestAggregator(store, shared)
	third, err := other.Search(ctx, "omega-3", "supplements", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultOK, third.Status)
	store.AssertNumberOfCalls(t, "Search", 1)
}

func TestAggregator_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	store := new(testutil.MockEvidenceStore)
	store.On("Search", mock.Anything, "q", "supplements", 5).Return(nil, errors.New("timeout")).Once()
	store.On("Search", mock.Anything, "q", "supplements", 5).Return(testutil.Hits(testutil.Hit{Document: "ok", Relevance: 0.5}), nil).Once()

	agg := newTestAggregator(store, nil)
	_, err := agg.Search(ctx, "q", "supplements", 5)
	require.Error(t, err)

	res, err := agg.Search(ctx, "q", "supplements", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultOK, res.Status)
}

func TestAggregator_AddPurgesCache(t *testing.T) {
	ctx := context.Background()
	store := new(testutil.MockEvidenceStore)
	store.On("Search", mock.Anything, "zinc", "supplements", 2).Return(testutil.Hits(), nil)
	store.On("Add", mock.Anything, "supplements", "Zinc supports immunity", map[string]string{"name": "Zinc"}, "zinc-1").Return(nil)

	agg := newTestAggregator(store, nil)
	_, err := agg.Search(ctx, "zinc", "supplements", 2)
	require.NoError(t, err)
	require.NoError(t, agg.Add(ctx, "supplements", "Zinc supports immunity", map[string]string{"name": "Zinc"}, "zinc-1"))
	_, err = agg.Search(ctx, "zinc", "supplements", 2)
	require.NoError(t, err)

	store.AssertNumberOfCalls(t, "Search", 2)
}

func TestAggregator_AddInvalidatesSharedTier(t *testing.T) {
	ctx := context.Background()
	store := new(testutil.MockEvidenceStore)
	store.On("Search", mock.Anything, "zinc", "supplements", 2).Return(testutil.Hits(), nil)
	store.On("Add", mock.Anything, "supplements", "Zinc supports immunity", map[string]string(nil), "").Return(nil)

	shared := &memoryCache{entries: map[string]domain.SearchResult{}}
	writer := newTestAggregator(store, shared)
	_, err := writer.Search(ctx, "zinc", "supplements", 2)
	require.NoError(t, err)
	require.Len(t, shared.entries, 1)

	require.NoError(t, writer.Add(ctx, "supplements", "Zinc supports immunity", nil, ""))
	assert.Empty(t, shared.entries)

	// A second process sharing the tier searches the store again.
	reader := newTestAggregator(store, shared)
	_, err = reader.Search(ctx, "zinc", "supplements", 2)
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "Search", 2)
}

func TestAggregator_SearchManyKeepsOrder(t *testing.T) {
	store := testutil.NewMemoryEvidenceStore()
	for i := 0; i < 10; i++ {
		store.On("health_data", fmt.Sprintf("risk %d", i), testutil.Hits(
			testutil.Hit{Document: fmt.Sprintf("doc %d", i), Relevance: 0.9},
		))
	}

	cfg := ConfigFromAnalysis(domain.DefaultAnalysisConfig())
	cfg.MaxConcurrency = 3
	cfg.RateLimit = 1000
	agg := NewAggregator(store, cfg, nil, testutil.QuietLogger())

	queries := make([]Query, 10)
	for i := range queries {
		queries[i] = Query{Text: fmt.Sprintf("risk %d", i), Collection: "health_data", K: 3}
	}

	outcomes := agg.SearchMany(context.Background(), queries)
	require.Len(t, outcomes, 10)
	for i, o := range outcomes {
		require.NoError(t, o.Err)
		require.Len(t, o.Result.Evidence, 1)
		assert.Equal(t, fmt.Sprintf("doc %d", i), o.Result.Evidence[0].Summary)
	}
}

func TestAggregator_SearchManyCancelled(t *testing.T) {
	store := testutil.NewMemoryEvidenceStore()
	agg := newTestAggregator(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := agg.SearchMany(ctx, []Query{{Text: "a", Collection: "c", K: 1}, {Text: "b", Collection: "c", K: 1}})
	for _, o := range outcomes {
		if o.Err != nil {
			assert.ErrorIs(t, o.Err, context.Canceled)
		}
	}
}

func TestIterator(t *testing.T) {
	ctx := context.Background()
	var entries []testutil.Hit
	for i := 0; i < 7; i++ {
		entries = append(entries, testutil.Hit{Document: fmt.Sprintf("paper %d", i), Relevance: 0.9 - float64(i)*0.01})
	}
	store := testutil.NewMemoryEvidenceStore()
	store.On("health_data", "magnesium sleep", testutil.Hits(entries...))

	t.Run("Bounded_By_Limit", func(t *testing.T) {
		it := newTestAggregator(store, nil).Iterate("magnesium sleep", "health_data", 2, 5)
		var got []string
		for it.Next(ctx) {
			got = append(got, it.Evidence().Summary)
		}
		require.NoError(t, it.Err())
		assert.Equal(t, []string{"paper 0", "paper 1", "paper 2", "paper 3", "paper 4"}, got)
	})

	t.Run("Stops_When_Store_Exhausted", func(t *testing.T) {
		it := newTestAggregator(store, nil).Iterate("magnesium sleep", "health_data", 3, 100)
		count := 0
		for it.Next(ctx) {
			count++
		}
		require.NoError(t, it.Err())
		assert.Equal(t, 7, count)
	})

	t.Run("Empty", func(t *testing.T) {
		it := newTestAggregator(store, nil).Iterate("nothing", "health_data", 3, 10)
		assert.False(t, it.Next(ctx))
		assert.NoError(t, it.Err())
	})

	t.Run("Error", func(t *testing.T) {
		failing := new(testutil.MockEvidenceStore)
		failing.On("Search", mock.Anything, "q", "c", 2).Return(nil, errors.New("boom"))
		it := newTestAggregator(failing, nil).Iterate("q", "c", 2, 4)
		assert.False(t, it.Next(ctx))
		assert.Error(t, it.Err())
	})
}

func TestConfigFromAnalysis(t *testing.T) {
	cfg := ConfigFromAnalysis(domain.DefaultAnalysisConfig())
	assert.Equal(t, 0.2, cfg.LowRelevanceFloor)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
}
