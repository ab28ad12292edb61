package pattern

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

// feedbackStep is the confidence nudge applied per feedback entry.
const feedbackStep = 0.05

// shard holds the patterns of one type. Learn operations on a type are
// serialized by mu; readers share it.
type shard struct {
	mu       sync.RWMutex
	patterns []*domain.Pattern
	byID     map[string]*domain.Pattern
}

// Store is the shared, in-memory pattern population with optional write-through
// persistence.
type Store struct {
	weights   domain.SimilarityWeights
	threshold float64
	repo      Repository
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() string

	shards map[domain.PatternType]*shard
}

// NewStore creates a pattern store. repo may be nil for a memory-only store.
func NewStore(cfg domain.AnalysisConfig, repo Repository, logger *logrus.Logger) *Store {
	s := &Store{
		weights:   cfg.SimilarityWeights,
		threshold: cfg.ReuseThreshold,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
		shards:    make(map[domain.PatternType]*shard, len(domain.AllPatternTypes)),
	}
	for _, t := range domain.AllPatternTypes {
		s.shards[t] = &shard{byID: make(map[string]*domain.Pattern)}
	}
	return s
}

// Threshold returns the similarity score at which a pattern is reused.
func (s *Store) Threshold() float64 {
	return s.threshold
}

// Load warms the in-memory population from the repository.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	patterns, err := s.repo.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	loaded := 0
	for _, p := range patterns {
		sh, ok := s.shards[p.Type]
		if !ok {
			s.logger.WithField("pattern_id", p.ID).Warn("Skipping stored pattern with unknown type")
			continue
		}
		sh.mu.Lock()
		if _, exists := sh.byID[p.ID]; !exists {
			sh.patterns = append(sh.patterns, p)
			sh.byID[p.ID] = p
			loaded++
		}
		sh.mu.Unlock()
	}

	s.logger.WithField("patterns", loaded).Info("Pattern store loaded")
	return nil
}

// Learn strengthens the most similar pattern of the observation's type, or
// creates a new one when none reaches the reuse threshold. The returned pattern
// is a copy.
func (s *Store) Learn(ctx context.Context, obs domain.Observation) (*domain.Pattern, error) {
	sh, ok := s.shards[obs.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPatternType, obs.Type)
	}
	candidate := obs.AsPattern()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	var best *domain.Pattern
	bestScore := -1.0
	for _, p := range sh.patterns {
		score := Similarity(*p, candidate, s.weights)
		if score >= s.threshold && score > bestScore {
			best, bestScore = p, score
		}
	}

	now := s.now()
	created := best == nil
	if created {
		p := candidate.Clone()
		p.ID = s.nextID(sh, obs.Type)
		p.Confidence = domain.MustConfidence(domain.Clamp01(obs.Confidence))
		p.Frequency = 1
		p.LastUpdated = now
		sh.patterns = append(sh.patterns, &p)
		sh.byID[p.ID] = &p
		best = &p
	} else {
		strengthen(best, obs, now)
	}

	out := best.Clone()
	s.logger.WithFields(logrus.Fields{
		"pattern_id": out.ID,
		"type":       out.Type,
		"created":    created,
		"frequency":  out.Frequency,
		"confidence": out.Confidence,
	}).Debug("Pattern learned")

	s.persist(ctx, &out)
	return &out, nil
}

// FindSimilar returns copies of the patterns of the observation's type whose
// similarity reaches the threshold, sorted by confidence descending.
func (s *Store) FindSimilar(obs domain.Observation) []domain.Pattern {
	sh, ok := s.shards[obs.Type]
	if !ok {
		return nil
	}
	candidate := obs.AsPattern()

	sh.mu.RLock()
	var out []domain.Pattern
	for _, p := range sh.patterns {
		if Similarity(*p, candidate, s.weights) >= s.threshold {
			out = append(out, p.Clone())
		}
	}
	sh.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// Get returns a copy of the pattern with the given id.
func (s *Store) Get(id string) (*domain.Pattern, bool) {
	for _, t := range domain.AllPatternTypes {
		sh := s.shards[t]
		sh.mu.RLock()
		p, ok := sh.byID[id]
		var out domain.Pattern
		if ok {
			out = p.Clone()
		}
		sh.mu.RUnlock()
		if ok {
			return &out, true
		}
	}
	return nil, false
}

// List returns copies of the patterns of one type in learn order.
func (s *Store) List(t domain.PatternType) []domain.Pattern {
	sh, ok := s.shards[t]
	if !ok {
		return nil
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	out := make([]domain.Pattern, 0, len(sh.patterns))
	for _, p := range sh.patterns {
		out = append(out, p.Clone())
	}
	return out
}

// RecordFeedback appends a feedback entry and nudges confidence up when the
// pattern was helpful and down otherwise.
func (s *Store) RecordFeedback(ctx context.Context, id string, fb domain.PatternFeedback) (*domain.Pattern, error) {
	for _, t := range domain.AllPatternTypes {
		sh := s.shards[t]
		sh.mu.Lock()
		p, ok := sh.byID[id]
		if !ok {
			sh.mu.Unlock()
			continue
		}

		if fb.RecordedAt.IsZero() {
			fb.RecordedAt = s.now()
		}
		p.FeedbackHistory = append(p.FeedbackHistory, fb)
		delta := -feedbackStep
		if fb.Helpful {
			delta = feedbackStep
		}
		p.Confidence = domain.MustConfidence(domain.Clamp01(p.Confidence + delta))
		p.LastUpdated = fb.RecordedAt

		out := p.Clone()
		s.persist(ctx, &out)
		sh.mu.Unlock()
		return &out, nil
	}
	return nil, fmt.Errorf("pattern %s: %w", id, domain.ErrNotFound)
}

// Export writes the pattern population as an Export document. With a
// repository the persisted patterns are exported, otherwise the in-memory ones.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	if s.repo != nil {
		return s.repo.ExportJSON(ctx, w)
	}

	export := Export{Version: exportVersion, ExportedAt: s.now()}
	for _, t := range domain.AllPatternTypes {
		for _, p := range s.List(t) {
			cp := p
			export.Patterns = append(export.Patterns, &cp)
		}
	}
	export.Count = len(export.Patterns)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}

// Import adds the patterns of an Export document whose ids are unknown and
// reports how many were imported and skipped.
func (s *Store) Import(ctx context.Context, r io.Reader) (int, int, error) {
	if s.repo != nil {
		imported, skipped, err := s.repo.ImportJSON(ctx, r)
		if err != nil {
			return imported, skipped, err
		}
		return imported, skipped, s.Load(ctx)
	}

	var export Export
	if err := json.NewDecoder(r).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}
	imported, skipped := 0, 0
	for _, p := range export.Patterns {
		sh, ok := s.shards[typeOf(p)]
		if !ok || p.ID == "" {
			skipped++
			continue
		}
		sh.mu.Lock()
		if _, exists := sh.byID[p.ID]; exists {
			skipped++
		} else {
			cp := p.Clone()
			cp.Confidence = domain.Clamp01(cp.Confidence)
			sh.patterns = append(sh.patterns, &cp)
			sh.byID[cp.ID] = &cp
			imported++
		}
		sh.mu.Unlock()
	}

	s.logger.WithFields(logrus.Fields{
		"imported": imported,
		"skipped":  skipped,
	}).Info("Patterns imported")
	return imported, skipped, nil
}

func typeOf(p *domain.Pattern) domain.PatternType {
	if p == nil {
		return ""
	}
	return p.Type
}

// Stats reports the pattern population per type.
func (s *Store) Stats() Stats {
	st := Stats{ByType: make(map[domain.PatternType]int, len(s.shards))}
	var confSum float64
	for _, t := range domain.AllPatternTypes {
		sh := s.shards[t]
		sh.mu.RLock()
		st.ByType[t] = len(sh.patterns)
		st.Total += len(sh.patterns)
		for _, p := range sh.patterns {
			confSum += p.Confidence
			st.FeedbackEntries += len(p.FeedbackHistory)
		}
		sh.mu.RUnlock()
	}
	if st.Total > 0 {
		st.AverageConfidence = domain.RoundConfidence(confSum / float64(st.Total))
	}
	return st
}

// nextID returns "<type>_<uuid>". Ids stay unique across stores that share a
// repository. The caller holds sh.mu.
func (s *Store) nextID(sh *shard, t domain.PatternType) string {
	for {
		id := fmt.Sprintf("%s_%s", t, s.newID())
		if _, taken := sh.byID[id]; !taken {
			return id
		}
	}
}

// persist writes through to the repository. Failures never undo the memory update.
func (s *Store) persist(ctx context.Context, p *domain.Pattern) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, p); err != nil {
		s.logger.WithError(err).WithField("pattern_id", p.ID).Warn("Pattern write-through failed")
	}
}
