// Package answer folds a user's answer into the session's analysis result.
package answer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

const (
	answerTopK            = 2
	defaultFactorEvidence = 2
	lifestyleChangeRec    = "lifestyle_change"
)

// Searcher is the evidence lookup used by the per-type analyzers.
type Searcher interface {
	Search(ctx context.Context, query, collection string, k int) (domain.SearchResult, error)
}

// Processor applies answers to analysis results.
type Processor struct {
	searcher Searcher
	config   domain.AnalysisConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewProcessor creates an answer processor.
func NewProcessor(searcher Searcher, config domain.AnalysisConfig, logger *logrus.Logger) *Processor {
	return &Processor{searcher: searcher, config: config, logger: logger, now: time.Now}
}

// finding is what a type-specific analyzer learned from one answer.
type finding struct {
	factors         []domain.RiskFactor
	recommendations []domain.Recommendation
}

// Process classifies the answer, runs the matching analyzer and merges its
// findings into a copy of the session's analysis result. The session's own
// result is never modified. A session without a result yields a nil result.
func (p *Processor) Process(ctx context.Context, session domain.Session, answer domain.Answer) (*domain.AnalysisResult, domain.AnswerType, error) {
	var qctx domain.QuestionContext
	if q, ok := session.FindQuestion(answer.QuestionID); ok {
		qctx = domain.ParseQuestionContext(q.Context)
	} else {
		qctx = domain.ParseQuestionContext("")
	}
	answerType := qctx.AnswerType()

	logger := p.logger.WithFields(logrus.Fields{
		"session_id":  session.ID,
		"question_id": answer.QuestionID,
		"answer_type": answerType,
	})

	if session.AnalysisResult == nil {
		logger.Debug("Session has no analysis result to update")
		return nil, answerType, nil
	}

	var (
		f   finding
		err error
	)
	switch answerType {
	case domain.AnswerHealthRisk:
		f, err = p.healthRisk(ctx, qctx.Subject, answer.AnswerText)
	case domain.AnswerLifestyle:
		f, err = p.lifestyle(ctx, qctx.Subject, answer.AnswerText)
	case domain.AnswerMedication:
		f, err = p.medication(ctx, qctx.Subject)
	}
	if err != nil {
		return nil, answerType, fmt.Errorf("failed to analyze %s answer: %w", answerType, err)
	}

	result := session.AnalysisResult.Clone()
	for _, rf := range f.factors {
		mergeFactor(result, rf)
	}
	for _, rec := range f.recommendations {
		mergeRecommendation(result, rec)
	}

	limit := p.factorEvidenceLimit()
	for _, rf := range f.factors {
		res, err := p.searcher.Search(ctx, rf.Type+" evidence research papers", p.config.Collections.HealthData, limit)
		if err != nil {
			return nil, answerType, fmt.Errorf("failed to fetch evidence for %s: %w", rf.Type, err)
		}
		ev := res.Evidence
		if len(ev) > limit {
			ev = ev[:limit]
		}
		result.Evidence = append(result.Evidence, ev...)
	}
	result.UpdatedAt = p.now()

	logger.WithFields(logrus.Fields{
		"factors":         len(f.factors),
		"recommendations": len(f.recommendations),
	}).Info("Answer processed")
	return result, answerType, nil
}

func (p *Processor) factorEvidenceLimit() int {
	if p.config.MaxEvidencePerFactor > 0 {
		return p.config.MaxEvidencePerFactor
	}
	return defaultFactorEvidence
}

func (p *Processor) healthRisk(ctx context.Context, risk, text string) (finding, error) {
	res, err := p.searcher.Search(ctx, risk+" "+text, p.config.Collections.HealthData, answerTopK)
	if err != nil {
		return finding{}, err
	}
	if len(res.Evidence) == 0 {
		return finding{}, nil
	}
	return finding{factors: []domain.RiskFactor{p.factor(risk, text, res)}}, nil
}

func (p *Processor) lifestyle(ctx context.Context, kind, text string) (finding, error) {
	res, err := p.searcher.Search(ctx, kind+" lifestyle "+text, p.config.Collections.HealthData, answerTopK)
	if err != nil {
		return finding{}, err
	}
	if len(res.Evidence) == 0 {
		return finding{}, nil
	}

	top := domain.Clamp01(res.TopRelevance())
	rec := domain.Recommendation{
		Type:           lifestyleChangeRec,
		Name:           kind,
		Target:         kind,
		BaseConfidence: top,
		Confidence:     domain.ComputeConfidence(top, 0),
		Reason:         res.Evidence[0].Summary,
		Suggestion:     Suggest(kind, text),
		Evidence:       res.Evidence,
	}
	return finding{
		factors:         []domain.RiskFactor{p.factor(kind+"_lifestyle", text, res)},
		recommendations: []domain.Recommendation{rec},
	}, nil
}

func (p *Processor) medication(ctx context.Context, name string) (finding, error) {
	res, err := p.searcher.Search(ctx, name+" interaction effects", p.config.Collections.Interactions, answerTopK)
	if err != nil {
		return finding{}, err
	}
	if len(res.Evidence) == 0 {
		return finding{}, nil
	}
	return finding{factors: []domain.RiskFactor{p.factor("medication_interaction", name, res)}}, nil
}

func (p *Processor) factor(riskType, value string, res domain.SearchResult) domain.RiskFactor {
	confidence := domain.Clamp01(res.TopRelevance())
	severity := domain.SeverityMedium
	if confidence > p.config.HighSeverityCutoff {
		severity = domain.SeverityHigh
	}
	return domain.RiskFactor{
		Type:       riskType,
		Severity:   severity,
		Value:      value,
		Confidence: confidence,
	}
}

// mergeFactor updates the concern of the same type in place, or appends it.
func mergeFactor(result *domain.AnalysisResult, rf domain.RiskFactor) {
	for i := range result.PrimaryConcerns {
		if result.PrimaryConcerns[i].Type == rf.Type {
			existing := &result.PrimaryConcerns[i]
			existing.Severity = rf.Severity
			existing.Value = rf.Value
			existing.Confidence = rf.Confidence
			if rf.Threshold != "" {
				existing.Threshold = rf.Threshold
			}
			return
		}
	}
	result.PrimaryConcerns = append(result.PrimaryConcerns, rf)
}

// mergeRecommendation updates the recommendation with the same (type, target)
// in place, or appends it.
func mergeRecommendation(result *domain.AnalysisResult, rec domain.Recommendation) {
	if result.ConfidenceLevels == nil {
		result.ConfidenceLevels = map[string]float64{}
	}
	result.ConfidenceLevels[rec.LevelKey()] = domain.RoundConfidence(rec.Confidence)

	for i := range result.Recommendations {
		existing := result.Recommendations[i]
		if existing.Type == rec.Type && existing.MatchTarget() == rec.MatchTarget() {
			result.Recommendations[i] = rec
			return
		}
	}
	result.Recommendations = append(result.Recommendations, rec)
}
