// Package recommend ranks supplement and lifestyle recommendations for a set of
// risk factors using evidence store hits and oracle-written reasons.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

// Searcher is the evidence lookup the engine depends on.
type Searcher interface {
	Search(ctx context.Context, query, collection string, k int) (domain.SearchResult, error)
}

const systemPrompt = "You are a careful nutrition and supplement assistant. " +
	"For each candidate, answer with exactly one line in the form '<name>: <reason>'. " +
	"Base every reason on the evidence provided and the user's risk factors."

// lifestyleNameRunes bounds names derived from lifestyle documents.
const lifestyleNameRunes = 60

// Engine produces ranked recommendations.
type Engine struct {
	searcher Searcher
	oracle   domain.TextOracle
	config   domain.AnalysisConfig
	logger   *logrus.Logger
}

// NewEngine creates a recommendation engine.
func NewEngine(searcher Searcher, oracle domain.TextOracle, config domain.AnalysisConfig, logger *logrus.Logger) *Engine {
	return &Engine{searcher: searcher, oracle: oracle, config: config, logger: logger}
}

type candidate struct {
	rec domain.Recommendation
	hit domain.Evidence
}

// Recommend searches for supplement (and, when lifestyle factors are present,
// lifestyle) candidates, asks the oracle for reasons and scores each candidate.
func (e *Engine) Recommend(ctx context.Context, risks []domain.RiskFactor, snapshot domain.HealthSnapshot) (domain.RecommendationSet, error) {
	set := domain.RecommendationSet{ConfidenceLevels: map[string]float64{}}

	supp, err := e.searcher.Search(ctx, HealthQuery(risks, snapshot), e.config.Collections.Supplements, e.config.SupplementTopK)
	if err != nil {
		set.Status = statusForError(err)
		return set, fmt.Errorf("supplement search failed: %w", err)
	}

	var candidates []candidate
	bundle := append([]domain.Evidence(nil), supp.Evidence...)
	for _, ev := range supp.Evidence {
		name := strings.TrimSpace(ev.Metadata["name"])
		candidates = append(candidates, newCandidate(domain.RecommendationSupplement, name, ev))
	}

	if hasLifestyleFactors(risks, snapshot) {
		life, err := e.searcher.Search(ctx, LifestyleQuery(risks, snapshot), e.config.Collections.HealthData, e.config.LifestyleTopK)
		if err != nil {
			set.Status = statusForError(err)
			return set, fmt.Errorf("lifestyle search failed: %w", err)
		}
		bundle = append(bundle, life.Evidence...)
		for _, ev := range life.Evidence {
			name := strings.TrimSpace(ev.Metadata["name"])
			if name == "" {
				name = truncateRunes(strings.TrimSpace(ev.Summary), lifestyleNameRunes)
			}
			candidates = append(candidates, newCandidate(domain.RecommendationLifestyle, name, ev))
		}
	}

	candidates = dedupe(candidates)
	if len(candidates) > 0 {
		reasons, err := e.reasons(ctx, risks, candidates)
		if err != nil {
			set.Status = domain.ResultQuotaExhausted
			return set, err
		}
		for i := range candidates {
			if r, ok := reasons[strings.ToLower(candidates[i].rec.Name)]; ok {
				candidates[i].rec.Reason = r
			}
		}
	}

	for _, c := range candidates {
		rec := c.rec
		boost := domain.EvidenceBoost(rec.Type, bundle)
		rec.Confidence = domain.ComputeConfidence(rec.BaseConfidence, boost)
		if rec.Confidence < e.config.ConfidenceFloor {
			continue
		}
		set.Recommendations = append(set.Recommendations, rec)
	}

	sort.SliceStable(set.Recommendations, func(i, j int) bool {
		return set.Recommendations[i].Confidence > set.Recommendations[j].Confidence
	})
	for _, rec := range set.Recommendations {
		set.ConfidenceLevels[rec.LevelKey()] = domain.RoundConfidence(rec.Confidence)
	}

	set.Status = supp.Status
	if set.Status == domain.ResultOK && len(set.Recommendations) == 0 {
		set.Status = domain.ResultInsufficientEvidence
	}

	e.logger.WithFields(logrus.Fields{
		"risk_factors":    len(risks),
		"candidates":      len(candidates),
		"recommendations": len(set.Recommendations),
		"status":          set.Status,
	}).Info("Recommendations computed")
	return set, nil
}

// reasons asks the oracle for one reason per candidate. Quota exhaustion is
// returned; any other failure leaves the evidence summaries in place.
func (e *Engine) reasons(ctx context.Context, risks []domain.RiskFactor, candidates []candidate) (map[string]string, error) {
	out, err := e.oracle.Complete(ctx, buildPrompt(risks, candidates), systemPrompt)
	if err != nil {
		if errors.Is(err, domain.ErrQuotaExhausted) {
			return nil, fmt.Errorf("recommendation reasons: %w", err)
		}
		e.logger.WithError(err).Warn("Oracle unavailable, using evidence summaries as reasons")
		return nil, nil
	}
	return ParseReasons(out), nil
}

// HealthQuery builds the supplement search query for a set of risk factors.
func HealthQuery(risks []domain.RiskFactor, snapshot domain.HealthSnapshot) string {
	types := make([]string, 0, len(risks))
	for _, r := range risks {
		types = append(types, r.Type)
	}
	conditions := strings.Join(types, ", ")
	if conditions == "" {
		conditions = "general wellness"
	}

	age := "unknown"
	if snapshot.Age != nil {
		age = strconv.Itoa(*snapshot.Age)
	}
	gender := snapshot.Gender
	if gender == "" {
		gender = "unknown"
	}
	return fmt.Sprintf("health conditions: %s AND age: %s, gender: %s", conditions, age, gender)
}

// LifestyleQuery builds the lifestyle search query.
func LifestyleQuery(risks []domain.RiskFactor, snapshot domain.HealthSnapshot) string {
	var parts []string
	l := snapshot.Lifestyle
	if l.Smoking {
		parts = append(parts, "smoking")
	}
	if l.Alcohol {
		parts = append(parts, "alcohol consumption")
	}
	if l.ExerciseFrequency != nil {
		parts = append(parts, fmt.Sprintf("exercise frequency: %d times per week", *l.ExerciseFrequency))
	}
	if len(parts) == 0 {
		seen := map[string]bool{}
		for _, r := range risks {
			for _, f := range r.LifestyleFactors {
				if !seen[f] {
					seen[f] = true
					parts = append(parts, f)
				}
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "healthy lifestyle")
	}
	return strings.Join(parts, " AND ")
}

// ParseReasons reads "<name>: <reason>" lines, keyed by lower-cased name.
// Lines that do not follow the format are ignored.
func ParseReasons(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*• ")
		if i := strings.Index(line, ". "); i > 0 && i <= 3 {
			if _, err := strconv.Atoi(line[:i]); err == nil {
				line = line[i+2:]
			}
		}
		name, reason, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.Trim(strings.TrimSpace(name), "*")
		reason = strings.TrimSpace(reason)
		if name == "" || reason == "" {
			continue
		}
		out[strings.ToLower(name)] = reason
	}
	return out
}

func buildPrompt(risks []domain.RiskFactor, candidates []candidate) string {
	var b strings.Builder
	b.WriteString("Risk factors:\n")
	if len(risks) == 0 {
		b.WriteString("- none reported\n")
	}
	for _, r := range risks {
		fmt.Fprintf(&b, "- %s (%s, value %s, threshold %s)\n", r.Type, r.Severity, r.Value, r.Threshold)
	}
	b.WriteString("\nCandidates and evidence:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s [%s]: %s\n", c.rec.Name, c.rec.Type, c.hit.Summary)
	}
	b.WriteString("\nWrite one line per candidate: <name>: <reason>")
	return b.String()
}

func newCandidate(recType, name string, ev domain.Evidence) candidate {
	return candidate{
		rec: domain.Recommendation{
			Type:           recType,
			Name:           name,
			Target:         name,
			BaseConfidence: domain.Clamp01(ev.RelevanceScore),
			Reason:         ev.Summary,
			Evidence:       []domain.Evidence{ev},
		},
		hit: ev,
	}
}

// dedupe drops unnamed candidates and keeps the first of each (type, name).
func dedupe(in []candidate) []candidate {
	seen := map[string]bool{}
	out := in[:0]
	for _, c := range in {
		if c.rec.Name == "" {
			continue
		}
		key := c.rec.Type + "|" + strings.ToLower(c.rec.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

func hasLifestyleFactors(risks []domain.RiskFactor, snapshot domain.HealthSnapshot) bool {
	for _, r := range risks {
		if len(r.LifestyleFactors) > 0 {
			return true
		}
	}
	return snapshot.HasLifestyleFactors()
}

func statusForError(err error) domain.ResultStatus {
	if errors.Is(err, domain.ErrQuotaExhausted) {
		return domain.ResultQuotaExhausted
	}
	return domain.ResultError
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
