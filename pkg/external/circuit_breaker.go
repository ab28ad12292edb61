package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/supplement-advisor-server/internal/domain"
)

// newBreaker builds a gobreaker from configuration. Quota errors are passed
// through without counting against the breaker since retrying cannot help.
func newBreaker(name string, cfg domain.CircuitBreakerConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 5
	}
	ratio := cfg.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrQuotaExhausted) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})
}

// newLimiter returns nil for a non-positive rate, meaning unlimited.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// ResilientOracle guards a TextOracle with a rate limiter and circuit breaker.
type ResilientOracle struct {
	inner   domain.TextOracle
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

var _ domain.TextOracle = (*ResilientOracle)(nil)

// NewResilientOracle wraps inner using the oracle's breaker and rate settings.
func NewResilientOracle(inner domain.TextOracle, config domain.OracleConfig, logger *logrus.Logger) *ResilientOracle {
	return &ResilientOracle{
		inner:   inner,
		breaker: newBreaker("text-oracle", config.CircuitBreaker, logger),
		limiter: newLimiter(config.RateLimit),
	}
}

// Complete forwards to the wrapped oracle.
func (r *ResilientOracle) Complete(ctx context.Context, prompt, system string) (string, error) {
	if err := wait(ctx, r.limiter); err != nil {
		return "", fmt.Errorf("oracle rate limiter: %w", err)
	}
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Complete(ctx, prompt, system)
	})
	if err != nil {
		return "", breakerError("oracle", err)
	}
	return out.(string), nil
}

// Embed forwards to the wrapped oracle.
func (r *ResilientOracle) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := wait(ctx, r.limiter); err != nil {
		return nil, fmt.Errorf("oracle rate limiter: %w", err)
	}
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, breakerError("oracle", err)
	}
	return out.([]float32), nil
}

// State reports the breaker state.
func (r *ResilientOracle) State() gobreaker.State {
	return r.breaker.State()
}

// ResilientEvidenceStore guards an EvidenceStore. An open breaker surfaces as
// domain.ErrEvidenceUnavailable.
type ResilientEvidenceStore struct {
	inner   domain.EvidenceStore
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

var _ domain.EvidenceStore = (*ResilientEvidenceStore)(nil)

// NewResilientEvidenceStore wraps inner using the evidence store settings.
func NewResilientEvidenceStore(inner domain.EvidenceStore, config domain.EvidenceStoreConfig, logger *logrus.Logger) *ResilientEvidenceStore {
	return &ResilientEvidenceStore{
		inner:   inner,
		breaker: newBreaker("evidence-store", config.CircuitBreaker, logger),
		limiter: newLimiter(config.RateLimit),
	}
}

// Search forwards to the wrapped store.
func (r *ResilientEvidenceStore) Search(ctx context.Context, query, collection string, k int) (*domain.SearchHits, error) {
	if err := wait(ctx, r.limiter); err != nil {
		return nil, fmt.Errorf("evidence rate limiter: %w", err)
	}
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Search(ctx, query, collection, k)
	})
	if err != nil {
		return nil, breakerError("evidence store", err)
	}
	return out.(*domain.SearchHits), nil
}

// Add forwards to the wrapped store.
func (r *ResilientEvidenceStore) Add(ctx context.Context, collection, document string, metadata map[string]string, id string) error {
	if err := wait(ctx, r.limiter); err != nil {
		return fmt.Errorf("evidence rate limiter: %w", err)
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.inner.Add(ctx, collection, document, metadata, id)
	})
	if err != nil {
		return breakerError("evidence store", err)
	}
	return nil
}

// State reports the breaker state.
func (r *ResilientEvidenceStore) State() gobreaker.State {
	return r.breaker.State()
}

func breakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s circuit open: %v: %w", name, err, domain.ErrEvidenceUnavailable)
	}
	return err
}
