// Package evidence turns raw evidence store hits into scored evidence bundles
// with an explicit outcome status.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/supplement-advisor-server/internal/domain"
)

// SearchCache is an optional shared cache tier consulted after the in-process LRU.
type SearchCache interface {
	Get(ctx context.Context, key string) (*domain.SearchResult, bool)
	Set(ctx context.Context, key string, result domain.SearchResult)
	Clear(ctx context.Context) error
}

// Config holds aggregator settings
type Config struct {
	LowRelevanceFloor float64
	MaxConcurrency    int
	RateLimit         float64
	CacheEntries      int
	CacheTTL          time.Duration
}

// ConfigFromAnalysis derives the aggregator settings from the analysis config.
func ConfigFromAnalysis(a domain.AnalysisConfig) Config {
	return Config{
		LowRelevanceFloor: a.LowRelevanceFloor,
		MaxConcurrency:    a.MaxConcurrency,
		RateLimit:         a.RateLimit,
		CacheEntries:      512,
		CacheTTL:          10 * time.Minute,
	}
}

// Query is one search in a SearchMany batch.
type Query struct {
	Text       string
	Collection string
	K          int
}

// Outcome is the result of one query in a SearchMany batch.
type Outcome struct {
	Result domain.SearchResult
	Err    error
}

// Aggregator wraps an EvidenceStore with normalization, status tagging and caching.
type Aggregator struct {
	store   domain.EvidenceStore
	config  Config
	cache   *expirable.LRU[string, domain.SearchResult]
	shared  SearchCache
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewAggregator creates an aggregator. shared may be nil.
func NewAggregator(store domain.EvidenceStore, config Config, shared SearchCache, logger *logrus.Logger) *Aggregator {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	if config.CacheEntries <= 0 {
		config.CacheEntries = 512
	}

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	return &Aggregator{
		store:   store,
		config:  config,
		cache:   expirable.NewLRU[string, domain.SearchResult](config.CacheEntries, nil, config.CacheTTL),
		shared:  shared,
		limiter: rate.NewLimiter(limit, config.MaxConcurrency),
		logger:  logger,
	}
}

// Search queries a collection for the top k documents.
//
// An empty hit list yields insufficient_evidence and a top relevance below the
// configured floor yields low_relevance; neither is an error. Quota failures
// return status quota_exhausted together with an error wrapping
// domain.ErrQuotaExhausted.
func (a *Aggregator) Search(ctx context.Context, query, collection string, k int) (domain.SearchResult, error) {
	if k <= 0 {
		return domain.SearchResult{Query: query, Collection: collection, Status: domain.ResultError},
			domain.NewValidationError("k", "must be positive", k)
	}

	key := cacheKey(query, collection, k)
	if res, ok := a.cache.Get(key); ok {
		return detach(res), nil
	}
	if a.shared != nil {
		if res, ok := a.shared.Get(ctx, key); ok {
			a.cache.Add(key, *res)
			return detach(*res), nil
		}
	}

	res, err := a.fetch(ctx, query, collection, k)
	if err != nil {
		return res, err
	}

	a.cache.Add(key, res)
	if a.shared != nil {
		a.shared.Set(ctx, key, res)
	}
	return detach(res), nil
}

// detach copies the evidence slice so callers cannot modify cached entries.
func detach(res domain.SearchResult) domain.SearchResult {
	res.Evidence = append([]domain.Evidence(nil), res.Evidence...)
	return res
}

func (a *Aggregator) fetch(ctx context.Context, query, collection string, k int) (domain.SearchResult, error) {
	res := domain.SearchResult{Query: query, Collection: collection}

	hits, err := a.store.Search(ctx, query, collection, k)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExhausted) {
			res.Status = domain.ResultQuotaExhausted
		} else {
			res.Status = domain.ResultError
		}
		a.logger.WithError(err).WithFields(logrus.Fields{
			"collection": collection,
			"k":          k,
		}).Warn("Evidence search failed")
		return res, fmt.Errorf("evidence search in %s: %w", collection, err)
	}

	if hits == nil {
		hits = &domain.SearchHits{}
	}
	if !hits.Aligned() {
		res.Status = domain.ResultError
		return res, fmt.Errorf("evidence search in %s: store returned %d documents, %d metadatas, %d distances",
			collection, len(hits.Documents), len(hits.Metadatas), len(hits.Distances))
	}

	res.Evidence = toEvidence(hits, collection)
	switch {
	case len(res.Evidence) == 0:
		res.Status = domain.ResultInsufficientEvidence
	case res.TopRelevance() < a.config.LowRelevanceFloor:
		res.Status = domain.ResultLowRelevance
	default:
		res.Status = domain.ResultOK
	}

	a.logger.WithFields(logrus.Fields{
		"collection": collection,
		"k":          k,
		"hits":       len(res.Evidence),
		"status":     res.Status,
	}).Debug("Evidence search completed")
	return res, nil
}

// SearchMany runs the queries concurrently, bounded by MaxConcurrency and the
// rate limiter. Outcomes are returned in query order.
func (a *Aggregator) SearchMany(ctx context.Context, queries []Query) []Outcome {
	out := make([]Outcome, len(queries))
	sem := make(chan struct{}, a.config.MaxConcurrency)
	var wg sync.WaitGroup

	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out[i] = Outcome{Result: domain.SearchResult{Query: q.Text, Collection: q.Collection, Status: domain.ResultError}, Err: ctx.Err()}
				return
			}

			if err := a.limiter.Wait(ctx); err != nil {
				out[i] = Outcome{Result: domain.SearchResult{Query: q.Text, Collection: q.Collection, Status: domain.ResultError}, Err: err}
				return
			}

			res, err := a.Search(ctx, q.Text, q.Collection, q.K)
			out[i] = Outcome{Result: res, Err: err}
		}(i, q)
	}

	wg.Wait()
	return out
}

// Add stores a document in a collection and drops cached results.
func (a *Aggregator) Add(ctx context.Context, collection, document string, metadata map[string]string, id string) error {
	if err := a.store.Add(ctx, collection, document, metadata, id); err != nil {
		return fmt.Errorf("failed to add document to %s: %w", collection, err)
	}
	a.cache.Purge()
	if a.shared != nil {
		if err := a.shared.Clear(ctx); err != nil {
			a.logger.WithError(err).WithField("collection", collection).Warn("Failed to invalidate shared search cache")
		}
	}
	return nil
}

// Iterate returns a bounded lazy sequence over the results of query.
func (a *Aggregator) Iterate(query, collection string, pageSize, limit int) *Iterator {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &Iterator{agg: a, query: query, collection: collection, pageSize: pageSize, limit: limit}
}

func toEvidence(hits *domain.SearchHits, collection string) []domain.Evidence {
	out := make([]domain.Evidence, 0, hits.Len())
	for i, doc := range hits.Documents {
		md := hits.Metadatas[i]
		sourceID := md["id"]
		if len(hits.IDs) > 0 {
			sourceID = hits.IDs[i]
		}
		if sourceID == "" {
			sourceID = collection + "_" + strconv.Itoa(i)
		}

		var meta map[string]string
		if len(md) > 0 {
			meta = make(map[string]string, len(md))
			for k, v := range md {
				meta[k] = v
			}
		}

		out = append(out, domain.Evidence{
			SourceID:       sourceID,
			Summary:        doc,
			RelevanceScore: hits.Distances[i],
			Collection:     collection,
			Type:           md["type"],
			Metadata:       meta,
		})
	}
	return out
}

func cacheKey(query, collection string, k int) string {
	return collection + ":" + strconv.Itoa(k) + ":" + query
}
