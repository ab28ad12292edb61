// Package interaction detects potential interactions between recommendations,
// the user's medications and the user's conditions.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

const (
	effectInteraction = "potential_interaction"

	medicationSourcePrefix = "medication_"
	conditionSourcePrefix  = "condition_"
)

// Searcher is the evidence lookup used for pairs no pattern covers.
type Searcher interface {
	Search(ctx context.Context, query, collection string, k int) (domain.SearchResult, error)
}

// PatternStore is the learned interaction memory.
type PatternStore interface {
	FindSimilar(obs domain.Observation) []domain.Pattern
	Learn(ctx context.Context, obs domain.Observation) (*domain.Pattern, error)
	Threshold() float64
}

// Analyzer evaluates interaction pairs concurrently.
type Analyzer struct {
	searcher Searcher
	patterns PatternStore
	config   domain.AnalysisConfig
	logger   *logrus.Logger
}

// NewAnalyzer creates an interaction analyzer.
func NewAnalyzer(searcher Searcher, patterns PatternStore, config domain.AnalysisConfig, logger *logrus.Logger) *Analyzer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.InteractionTopK <= 0 {
		config.InteractionTopK = 2
	}
	return &Analyzer{searcher: searcher, patterns: patterns, config: config, logger: logger}
}

// pair is one (source, target) combination to evaluate.
type pair struct {
	patternType domain.PatternType
	source      string // as reported on the warning
	entity      string // raw name used for queries and patterns
	target      string
	collection  string
}

func (p pair) key() string {
	return p.source + "|" + p.target
}

func (p pair) observation(severity domain.Severity, description string, confidence float64) domain.Observation {
	return domain.Observation{
		Type:        p.patternType,
		Entities:    []string{p.entity, p.target},
		Effect:      effectInteraction,
		Severity:    severity,
		Description: description,
		Confidence:  domain.Clamp01(confidence),
		Context: map[string]any{
			"pair":       p.key(),
			"collection": p.collection,
		},
	}
}

// Analyze returns the warnings for every pair, in pair order. Pairs without
// evidence produce no warning. Quota exhaustion aborts the whole batch.
func (a *Analyzer) Analyze(ctx context.Context, recs []domain.Recommendation, medications, conditions []string) ([]domain.InteractionWarning, error) {
	pairs := a.buildPairs(recs, medications, conditions)
	if len(pairs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*domain.InteractionWarning, len(pairs))
	semaphore := make(chan struct{}, a.config.MaxConcurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for i, p := range pairs {
		wg.Add(1)
		go func(i int, p pair) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				return
			}

			w, err := a.evaluate(ctx, p)
			if err != nil {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				mu.Unlock()
				cancel()
				return
			}
			results[i] = w
		}(i, p)
	}
	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("interaction analysis cancelled: %w", err)
	}

	var warnings []domain.InteractionWarning
	for _, w := range results {
		if w != nil {
			warnings = append(warnings, *w)
		}
	}

	a.logger.WithFields(logrus.Fields{
		"pairs":    len(pairs),
		"warnings": len(warnings),
	}).Info("Interaction analysis completed")
	return warnings, nil
}

// evaluate checks one pair. The returned error is non-nil only for failures
// that must abort the batch.
func (a *Analyzer) evaluate(ctx context.Context, p pair) (*domain.InteractionWarning, error) {
	if ctx.Err() != nil {
		return nil, nil
	}
	query := p.observation("", "", 0)
	if matches := a.patterns.FindSimilar(query); len(matches) > 0 && matches[0].Confidence >= a.patterns.Threshold() {
		best := matches[0]
		a.logger.WithFields(logrus.Fields{
			"pair":       p.key(),
			"pattern_id": best.ID,
		}).Debug("Reusing learned interaction pattern")
		return &domain.InteractionWarning{
			Source:      p.source,
			Target:      p.target,
			Severity:    best.Severity,
			Description: best.Description,
			FromPattern: true,
		}, nil
	}

	pairCtx := ctx
	if a.config.PairTimeout > 0 {
		var cancel context.CancelFunc
		pairCtx, cancel = context.WithTimeout(ctx, a.config.PairTimeout)
		defer cancel()
	}

	res, err := a.searcher.Search(pairCtx, pairQuery(p), p.collection, a.config.InteractionTopK)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExhausted) {
			return nil, fmt.Errorf("interaction %s: %w", p.key(), err)
		}
		if ctx.Err() != nil {
			// The batch itself was cancelled; the caller reports it.
			return nil, nil
		}
		a.logger.WithError(err).WithField("pair", p.key()).Warn("Interaction pair analysis failed")
		return &domain.InteractionWarning{
			Source:      p.source,
			Target:      p.target,
			Severity:    domain.SeverityUnknown,
			Description: "analysis failed: " + err.Error(),
		}, nil
	}
	if len(res.Evidence) == 0 {
		return nil, nil
	}

	top := res.TopRelevance()
	severity := domain.SeverityMedium
	if top > a.config.HighSeverityCutoff {
		severity = domain.SeverityHigh
	}
	description := res.Evidence[0].Summary

	if _, err := a.patterns.Learn(ctx, p.observation(severity, description, top)); err != nil {
		a.logger.WithError(err).WithField("pair", p.key()).Warn("Failed to learn interaction pattern")
	}

	return &domain.InteractionWarning{
		Source:      p.source,
		Target:      p.target,
		Severity:    severity,
		Description: description,
		Evidence:    res.Evidence,
	}, nil
}

func (a *Analyzer) buildPairs(recs []domain.Recommendation, medications, conditions []string) []pair {
	var pairs []pair
	// Supplement interactions are symmetric; each unordered pair is checked once,
	// sourced from the higher-ranked recommendation.
	for i, first := range recs {
		for _, second := range recs[i+1:] {
			if strings.EqualFold(first.Name, second.Name) {
				continue
			}
			pairs = append(pairs, pair{
				patternType: domain.PatternSupplementInteractions,
				source:      first.Name,
				entity:      first.Name,
				target:      second.Name,
				collection:  a.config.Collections.Interactions,
			})
		}
	}
	for _, rec := range recs {
		for _, med := range medications {
			pairs = append(pairs, pair{
				patternType: domain.PatternMedicationInteractions,
				source:      medicationSourcePrefix + med,
				entity:      med,
				target:      rec.Name,
				collection:  a.config.Collections.Interactions,
			})
		}
		for _, cond := range conditions {
			pairs = append(pairs, pair{
				patternType: domain.PatternHealthConditions,
				source:      conditionSourcePrefix + cond,
				entity:      cond,
				target:      rec.Name,
				collection:  a.config.Collections.HealthData,
			})
		}
	}
	return pairs
}

func pairQuery(p pair) string {
	switch p.patternType {
	case domain.PatternHealthConditions:
		return fmt.Sprintf("%s with %s condition effects", p.target, p.entity)
	default:
		return fmt.Sprintf("%s and %s interaction", p.entity, p.target)
	}
}

// RequiredChecks returns exactly one professional consultation check per high
// severity warning, naming its source and target verbatim.
func RequiredChecks(warnings []domain.InteractionWarning) []string {
	var checks []string
	for _, w := range warnings {
		if w.Severity == domain.SeverityHigh {
			checks = append(checks, fmt.Sprintf("consult a professional before taking %s (interaction with %s)", w.Target, w.Source))
		}
	}
	return checks
}
