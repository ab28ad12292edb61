// Package service composes the analysis components into the session API used by
// the HTTP and MCP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/answer"
	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/evidence"
	"github.com/supplement-advisor-server/internal/interaction"
	"github.com/supplement-advisor-server/internal/pattern"
	"github.com/supplement-advisor-server/internal/question"
	"github.com/supplement-advisor-server/internal/recommend"
	"github.com/supplement-advisor-server/internal/risk"
	"github.com/supplement-advisor-server/internal/session"
)

const (
	riskEvidenceTopK = 3

	chronicConditionCheck = "chronic condition management status check required"
	fastingGlucoseCheck   = "additional fasting glucose testing recommended"
	fastingGlucoseLimit   = 100.0
)

// Options holds everything needed to assemble an AdvisorService.
type Options struct {
	Analysis domain.AnalysisConfig
	Session  domain.SessionConfig

	Store    domain.EvidenceStore
	Oracle   domain.TextOracle
	Sessions domain.SessionRepository

	// Patterns persists learned patterns. Nil keeps them in memory only.
	Patterns pattern.Repository
	// SearchCache is an optional shared tier behind the aggregator's LRU.
	SearchCache evidence.SearchCache
}

// AdvisorService implements domain.SessionAPI.
type AdvisorService struct {
	logger      *logrus.Logger
	now         func() time.Time
	collections domain.CollectionNames

	sessions     *session.Manager
	risks        *risk.Analyzer
	evidence     *evidence.Aggregator
	recommender  *recommend.Engine
	interactions *interaction.Analyzer
	questions    *question.Generator
	answers      *answer.Processor
	patterns     *pattern.Store
}

var _ domain.SessionAPI = (*AdvisorService)(nil)

// NewAdvisorService wires the analysis components around a shared evidence
// aggregator and pattern store.
func NewAdvisorService(opts Options, logger *logrus.Logger) *AdvisorService {
	agg := evidence.NewAggregator(opts.Store, evidence.ConfigFromAnalysis(opts.Analysis), opts.SearchCache, logger)
	patterns := pattern.NewStore(opts.Analysis, opts.Patterns, logger)

	return &AdvisorService{
		logger:       logger,
		now:          time.Now,
		collections:  opts.Analysis.Collections,
		sessions:     session.NewManager(opts.Sessions, opts.Session, logger),
		risks:        risk.NewAnalyzer(opts.Analysis.Thresholds),
		evidence:     agg,
		recommender:  recommend.NewEngine(agg, opts.Oracle, opts.Analysis, logger),
		interactions: interaction.NewAnalyzer(agg, patterns, opts.Analysis, logger),
		questions:    question.NewGenerator(logger),
		answers:      answer.NewProcessor(agg, opts.Analysis, logger),
		patterns:     patterns,
	}
}

// LoadPatterns warms the pattern store from its repository.
func (s *AdvisorService) LoadPatterns(ctx context.Context) error {
	return s.patterns.Load(ctx)
}

// PatternStats reports the learned pattern population.
func (s *AdvisorService) PatternStats() pattern.Stats {
	return s.patterns.Stats()
}

// RecordPatternFeedback stores a helpful/unhelpful verdict on a learned
// pattern and returns the updated pattern.
func (s *AdvisorService) RecordPatternFeedback(ctx context.Context, id string, fb domain.PatternFeedback) (*domain.Pattern, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.NewValidationError("pattern_id", "must not be empty", id)
	}
	p, err := s.patterns.RecordFeedback(ctx, id, fb)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"pattern_id": p.ID,
		"helpful":    fb.Helpful,
		"confidence": p.Confidence,
	}).Info("Pattern feedback recorded")
	return p, nil
}

// ExportPatterns writes the learned patterns as JSON.
func (s *AdvisorService) ExportPatterns(ctx context.Context, w io.Writer) error {
	return s.patterns.Export(ctx, w)
}

// ImportPatterns loads patterns from a JSON export, skipping known ids.
func (s *AdvisorService) ImportPatterns(ctx context.Context, r io.Reader) (int, int, error) {
	imported, skipped, err := s.patterns.Import(ctx, r)
	if err != nil {
		return imported, skipped, domain.NewValidationError("patterns", err.Error(), nil)
	}
	return imported, skipped, nil
}

// Evidence exposes the evidence aggregator, used for seeding collections.
func (s *AdvisorService) Evidence() *evidence.Aggregator {
	return s.evidence
}

// CreateSession starts a session and runs the initial analysis. When the
// analysis fails the failed session is returned together with the error.
func (s *AdvisorService) CreateSession(ctx context.Context, snapshot domain.HealthSnapshot) (*domain.Session, error) {
	startTime := s.now()

	sess, err := s.sessions.Create(ctx, snapshot)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithField("session_id", sess.ID)

	sess, err = s.sessions.BeginAnalysis(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.analyze(ctx, sess.HealthSnapshot)
	if err != nil {
		return s.fail(ctx, sess.ID, err)
	}

	analyzed, err := s.sessions.UpdateAnalysis(ctx, sess.ID, result)
	if err != nil {
		return s.fail(ctx, sess.ID, err)
	}

	questions := s.questions.Generate(*analyzed)
	if sess, err = s.sessions.AddQuestions(ctx, sess.ID, questions); err != nil {
		return s.fail(ctx, analyzed.ID, err)
	}

	logger.WithFields(logrus.Fields{
		"risk_factors":    len(result.PrimaryConcerns),
		"recommendations": len(result.Recommendations),
		"warnings":        len(result.InteractionWarnings),
		"questions":       len(questions),
		"status":          result.Status,
		"processing_time": s.now().Sub(startTime),
	}).Info("Session analysis completed")
	return sess, nil
}

// analyze runs the initial analysis pipeline over a snapshot.
func (s *AdvisorService) analyze(ctx context.Context, snapshot domain.HealthSnapshot) (*domain.AnalysisResult, error) {
	// Step 1: Threshold-based risk factors
	risks := s.risks.Analyze(snapshot)

	// Step 2: Evidence for each risk factor
	riskEvidence, err := s.riskEvidence(ctx, risks)
	if err != nil {
		return nil, err
	}

	// Step 3: Ranked supplement and lifestyle recommendations
	set, err := s.recommender.Recommend(ctx, risks, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to compute recommendations: %w", err)
	}

	// Step 4: Interactions against other recommendations, medications and conditions
	warnings, err := s.interactions.Analyze(ctx, set.Recommendations, snapshot.Medications, snapshot.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze interactions: %w", err)
	}

	return &domain.AnalysisResult{
		PrimaryConcerns:      nonNilRisks(risks),
		Recommendations:      nonNilRecommendations(set.Recommendations),
		InteractionWarnings:  nonNilWarnings(warnings),
		RequiredChecks:       RequiredChecks(snapshot, warnings),
		ConfidenceLevels:     set.ConfidenceLevels,
		LifestyleSuggestions: LifestyleSuggestions(snapshot.Lifestyle),
		Evidence:             riskEvidence,
		Status:               set.Status,
		UpdatedAt:            s.now(),
	}, nil
}

// riskEvidence looks up supporting evidence for every risk factor. Quota
// exhaustion aborts; other failures only drop that factor's evidence.
func (s *AdvisorService) riskEvidence(ctx context.Context, risks []domain.RiskFactor) ([]domain.Evidence, error) {
	if len(risks) == 0 {
		return nil, nil
	}

	queries := make([]evidence.Query, len(risks))
	for i, rf := range risks {
		queries[i] = evidence.Query{
			Text:       rf.Type + " health risk",
			Collection: s.collections.HealthData,
			K:          riskEvidenceTopK,
		}
	}

	var out []domain.Evidence
	for i, outcome := range s.evidence.SearchMany(ctx, queries) {
		if outcome.Err != nil {
			if errors.Is(outcome.Err, domain.ErrQuotaExhausted) {
				return nil, fmt.Errorf("risk evidence search failed: %w", outcome.Err)
			}
			s.logger.WithError(outcome.Err).WithField("risk_type", risks[i].Type).Warn("Risk evidence unavailable")
			continue
		}
		for _, ev := range outcome.Result.Evidence {
			md := make(map[string]string, len(ev.Metadata)+1)
			for k, v := range ev.Metadata {
				md[k] = v
			}
			md["risk_type"] = risks[i].Type
			ev.Metadata = md
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetSession returns a copy of the session.
func (s *AdvisorService) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.Get(ctx, id)
}

// GetSessionStatus returns the session's status and progress.
func (s *AdvisorService) GetSessionStatus(ctx context.Context, id string) (domain.SessionStatusReport, error) {
	return s.sessions.Status(ctx, id)
}

// DeleteSession removes the session.
func (s *AdvisorService) DeleteSession(ctx context.Context, id string) error {
	return s.sessions.Delete(ctx, id)
}

// SubmitAnswer records an answer, folds it into the analysis and decides
// whether the session continues. When processing fails the session is failed
// and its last analysis result is returned with the error.
func (s *AdvisorService) SubmitAnswer(ctx context.Context, id string, ans domain.Answer) (*domain.AnalysisResult, error) {
	if strings.TrimSpace(ans.AnswerText) == "" {
		return nil, domain.NewValidationError("answer_text", "must not be empty", ans.AnswerText)
	}

	current, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsTerminal() {
		return current.AnalysisResult, fmt.Errorf("session %s is %s: %w", id, current.Status, domain.ErrSessionTerminal)
	}
	if current.AnalysisResult == nil {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNoAnalysisResult)
	}

	before, err := s.sessions.BeginAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if ans.Timestamp.IsZero() {
		ans.Timestamp = s.now()
	}

	// The question is looked up on the pre-answer state; recording the answer
	// dequeues it.
	sess, err := s.sessions.AddAnswer(ctx, id, ans)
	if err != nil {
		return s.abort(ctx, id, before.AnalysisResult, err)
	}

	result, answerType, err := s.answers.Process(ctx, *before, ans)
	if err != nil {
		return s.abort(ctx, id, before.AnalysisResult, err)
	}

	if result != nil {
		if sess, err = s.sessions.UpdateAnalysis(ctx, id, result); err != nil {
			return s.abort(ctx, id, before.AnalysisResult, err)
		}
	} else {
		result = sess.AnalysisResult
	}

	next := question.Merge(sess.CurrentQuestions, s.questions.Generate(*sess))
	if len(next) == 0 || sess.CurrentStep >= sess.TotalExpectedSteps {
		sess, err = s.sessions.Complete(ctx, id)
	} else {
		sess, err = s.sessions.AddQuestions(ctx, id, next)
	}
	if err != nil {
		return s.abort(ctx, id, result, err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":  id,
		"answer_type": answerType,
		"step":        sess.CurrentStep,
		"status":      sess.Status,
		"questions":   len(sess.CurrentQuestions),
	}).Info("Answer submitted")
	return result.Clone(), nil
}

// fail marks the session failed and returns it with the causing error.
// abort fails the session after an error mid-turn and returns its last
// analysis result with the cause.
func (s *AdvisorService) abort(ctx context.Context, id string, last *domain.AnalysisResult, cause error) (*domain.AnalysisResult, error) {
	if failed, _ := s.fail(ctx, id, cause); failed != nil && failed.AnalysisResult != nil {
		return failed.AnalysisResult, cause
	}
	return last, cause
}

func (s *AdvisorService) fail(ctx context.Context, id string, cause error) (*domain.Session, error) {
	failed, err := s.sessions.Fail(ctx, id, cause.Error())
	if err != nil {
		s.logger.WithError(err).WithField("session_id", id).Error("Failed to mark session failed")
		return nil, cause
	}
	return failed, cause
}

// RequiredChecks lists the follow-ups the user must complete: one per high
// severity interaction, plus condition and glucose checks from the snapshot.
func RequiredChecks(snapshot domain.HealthSnapshot, warnings []domain.InteractionWarning) []string {
	checks := interaction.RequiredChecks(warnings)
	if len(snapshot.Conditions) > 0 {
		checks = append(checks, chronicConditionCheck)
	}
	if g := snapshot.Labs.FastingGlucose; g != nil && *g > fastingGlucoseLimit {
		checks = append(checks, fastingGlucoseCheck)
	}
	if checks == nil {
		checks = []string{}
	}
	return checks
}

// LifestyleSuggestions derives habit changes from the reported lifestyle.
// Habits that were not reported produce no suggestion.
func LifestyleSuggestions(l domain.Lifestyle) []domain.LifestyleSuggestion {
	var out []domain.LifestyleSuggestion
	if l.ExerciseFrequency != nil && *l.ExerciseFrequency < 3 {
		out = append(out, domain.LifestyleSuggestion{
			Type:       "exercise",
			Suggestion: "Aim for moderate-intensity exercise at least three times a week.",
			Priority:   domain.SeverityHigh,
			Reason:     "Physical inactivity raises overall health risk.",
		})
	}
	if l.SleepHours != nil && *l.SleepHours < 7 {
		out = append(out, domain.LifestyleSuggestion{
			Type:       "sleep",
			Suggestion: "Try to sleep seven to eight hours a night.",
			Priority:   domain.SeverityMedium,
			Reason:     "Sufficient sleep is essential for staying healthy.",
		})
	}
	if l.StressLevel != nil && *l.StressLevel > 3 {
		out = append(out, domain.LifestyleSuggestion{
			Type:       "stress",
			Suggestion: "Consider meditation or light exercise to manage stress.",
			Priority:   domain.SeverityMedium,
			Reason:     "Persistent stress can harm your health.",
		})
	}
	return out
}

func nonNilRisks(in []domain.RiskFactor) []domain.RiskFactor {
	if in == nil {
		return []domain.RiskFactor{}
	}
	return in
}

func nonNilRecommendations(in []domain.Recommendation) []domain.Recommendation {
	if in == nil {
		return []domain.Recommendation{}
	}
	return in
}

func nonNilWarnings(in []domain.InteractionWarning) []domain.InteractionWarning {
	if in == nil {
		return []domain.InteractionWarning{}
	}
	return in
}
