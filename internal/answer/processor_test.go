package answer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
	"github.com/supplement-advisor-server/internal/testutil"
)

// MockSearcher is a mock implementation of Searcher
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, query, collection string, k int) (domain.SearchResult, error) {
	args := m.Called(ctx, query, collection, k)
	return args.Get(0).(domain.SearchResult), args.Error(1)
}

func result(relevance float64, summaries ...string) domain.SearchResult {
	res := domain.SearchResult{Status: domain.ResultOK}
	for i, s := range summaries {
		res.Evidence = append(res.Evidence, domain.Evidence{SourceID: s, Summary: s, RelevanceScore: relevance - float64(i)*0.1})
	}
	return res
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestProcessor(searcher Searcher) *Processor {
	p := NewProcessor(searcher, domain.DefaultAnalysisConfig(), testutil.QuietLogger())
	p.now = func() time.Time { return fixedNow }
	return p
}

func baseSession() domain.Session {
	return domain.Session{
		ID:     "s-1",
		Status: domain.SessionAnalyzing,
		CurrentQuestions: []domain.Question{
			{ID: "q-risk", Context: "health_risk_obesity"},
			{ID: "q-life", Context: "lifestyle_exercise_barrier"},
			{ID: "q-med", Context: "medication_interaction_warfarin"},
			{ID: "q-cond", Context: "condition_history_diabetes"},
		},
		AnalysisResult: &domain.AnalysisResult{
			PrimaryConcerns: []domain.RiskFactor{
				{Type: "obesity", Severity: domain.SeverityMedium, Value: "32", Threshold: "30"},
			},
			Recommendations: []domain.Recommendation{
				{Type: domain.RecommendationSupplement, Name: "Green Tea Extract", Target: "Green Tea Extract", Confidence: 0.7},
			},
			ConfidenceLevels: map[string]float64{"supplement:Green Tea Extract": 0.7},
			Evidence:         []domain.Evidence{{SourceID: "initial"}},
			Status:           domain.ResultOK,
		},
	}
}

func TestProcessor_UnknownQuestionFallsBackToGeneral(t *testing.T) {
	searcher := new(MockSearcher)
	session := baseSession()

	got, answerType, err := newTestProcessor(searcher).Process(context.Background(), session,
		domain.Answer{QuestionID: "does-not-exist", AnswerText: "hello"})
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerGeneral, answerType)
	require.NotNil(t, got)
	assert.NotSame(t, session.AnalysisResult, got)
	assert.Equal(t, session.AnalysisResult.PrimaryConcerns, got.PrimaryConcerns)
	assert.Equal(t, session.AnalysisResult.Recommendations, got.Recommendations)
	assert.Equal(t, fixedNow, got.UpdatedAt)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_NoAnalysisResult(t *testing.T) {
	session := baseSession()
	session.AnalysisResult = nil

	got, answerType, err := newTestProcessor(new(MockSearcher)).Process(context.Background(), session,
		domain.Answer{QuestionID: "q-risk", AnswerText: "I eat a lot"})
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, domain.AnswerHealthRisk, answerType)
}

func TestProcessor_HealthRiskUpdatesConcernInPlace(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "obesity I snack late at night", "health_data", 2).
		Return(result(0.9, "Late eating linked to weight gain"), nil)
	searcher.On("Search", mock.Anything, "obesity evidence research papers", "health_data", 2).
		Return(result(0.8, "paper A", "paper B", "paper C"), nil)

	session := baseSession()
	got, answerType, err := newTestProcessor(searcher).Process(context.Background(), session,
		domain.Answer{QuestionID: "q-risk", AnswerText: "I snack late at night"})
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerHealthRisk, answerType)

	require.Len(t, got.PrimaryConcerns, 1)
	assert.Equal(t, "obesity", got.PrimaryConcerns[0].Type)
	assert.Equal(t, domain.SeverityHigh, got.PrimaryConcerns[0].Severity)
	assert.Equal(t, "30", got.PrimaryConcerns[0].Threshold)

	require.Len(t, got.Evidence, 3)
	assert.Equal(t, "initial", got.Evidence[0].SourceID)
	assert.Equal(t, "paper A", got.Evidence[1].SourceID)
	assert.Equal(t, "paper B", got.Evidence[2].SourceID)

	// The session's result is untouched.
	assert.Equal(t, domain.SeverityMedium, session.AnalysisResult.PrimaryConcerns[0].Severity)
	assert.Len(t, session.AnalysisResult.Evidence, 1)
}

func TestProcessor_EvidencePerFactorFollowsConfig(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "obesity I snack late at night", "health_data", 2).
		Return(result(0.9, "Late eating linked to weight gain"), nil)
	searcher.On("Search", mock.Anything, "obesity evidence research papers", "health_data", 3).
		Return(result(0.8, "paper A", "paper B", "paper C", "paper D"), nil)

	cfg := domain.DefaultAnalysisConfig()
	cfg.MaxEvidencePerFactor = 3
	p := NewProcessor(searcher, cfg, testutil.QuietLogger())

	got, _, err := p.Process(context.Background(), baseSession(),
		domain.Answer{QuestionID: "q-risk", AnswerText: "I snack late at night"})
	require.NoError(t, err)
	require.Len(t, got.Evidence, 4)
	assert.Equal(t, "paper C", got.Evidence[3].SourceID)
	searcher.AssertExpectations(t)
}

func TestProcessor_LifestyleAddsRecommendation(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "exercise_barrier lifestyle I never have time", "health_data", 2).
		Return(result(0.6, "Short walks improve fitness"), nil)
	searcher.On("Search", mock.Anything, "exercise_barrier_lifestyle evidence research papers", "health_data", 2).
		Return(result(0.5), nil)

	got, answerType, err := newTestProcessor(searcher).Process(context.Background(), baseSession(),
		domain.Answer{QuestionID: "q-life", AnswerText: "I never have time"})
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerLifestyle, answerType)

	require.Len(t, got.PrimaryConcerns, 2)
	assert.Equal(t, "exercise_barrier_lifestyle", got.PrimaryConcerns[1].Type)
	assert.Equal(t, domain.SeverityMedium, got.PrimaryConcerns[1].Severity)

	require.Len(t, got.Recommendations, 2)
	rec := got.Recommendations[1]
	assert.Equal(t, "lifestyle_change", rec.Type)
	assert.Equal(t, "exercise_barrier", rec.Target)
	assert.Equal(t, SuggestExerciseLow, rec.Suggestion)
	assert.InDelta(t, 0.6, rec.Confidence, 1e-9)
	assert.Equal(t, 0.6, got.ConfidenceLevels["lifestyle_change:exercise_barrier"])
}

func TestProcessor_LifestyleRecommendationUpdatesInPlace(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "exercise_barrier lifestyle I run daily", "health_data", 2).
		Return(result(0.7, "Regular running"), nil)
	searcher.On("Search", mock.Anything, mock.Anything, "health_data", 2).Return(result(0.5), nil)

	session := baseSession()
	session.AnalysisResult.Recommendations = append(session.AnalysisResult.Recommendations, domain.Recommendation{
		Type: "lifestyle_change", Name: "exercise_barrier", Target: "exercise_barrier", Suggestion: SuggestExerciseLow,
	})

	got, _, err := newTestProcessor(searcher).Process(context.Background(), session,
		domain.Answer{QuestionID: "q-life", AnswerText: "I run daily"})
	require.NoError(t, err)
	require.Len(t, got.Recommendations, 2)
	assert.Equal(t, SuggestExerciseHigh, got.Recommendations[1].Suggestion)
}

func TestProcessor_Medication(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, "warfarin interaction effects", "interactions", 2).
		Return(result(0.85, "Warfarin interacts with vitamin K"), nil)
	searcher.On("Search", mock.Anything, "medication_interaction evidence research papers", "health_data", 2).
		Return(result(0.7, "paper"), nil)

	got, answerType, err := newTestProcessor(searcher).Process(context.Background(), baseSession(),
		domain.Answer{QuestionID: "q-med", AnswerText: "two years, 5mg"})
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerMedication, answerType)
	require.Len(t, got.PrimaryConcerns, 2)
	assert.Equal(t, "medication_interaction", got.PrimaryConcerns[1].Type)
	assert.Equal(t, domain.SeverityHigh, got.PrimaryConcerns[1].Severity)
	assert.Len(t, got.Evidence, 2)
}

func TestProcessor_ConditionHistoryIsGeneral(t *testing.T) {
	searcher := new(MockSearcher)
	got, answerType, err := newTestProcessor(searcher).Process(context.Background(), baseSession(),
		domain.Answer{QuestionID: "q-cond", AnswerText: "five years"})
	require.NoError(t, err)
	assert.Equal(t, domain.AnswerGeneral, answerType)
	assert.NotNil(t, got)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_NoEvidenceAddsNothing(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(domain.SearchResult{Status: domain.ResultInsufficientEvidence}, nil)

	session := baseSession()
	got, _, err := newTestProcessor(searcher).Process(context.Background(), session,
		domain.Answer{QuestionID: "q-risk", AnswerText: "nothing special"})
	require.NoError(t, err)
	assert.Equal(t, session.AnalysisResult.PrimaryConcerns, got.PrimaryConcerns)
	searcher.AssertNumberOfCalls(t, "Search", 1)
}

func TestProcessor_ErrorsAreSurfaced(t *testing.T) {
	t.Run("Dispatch", func(t *testing.T) {
		searcher := new(MockSearcher)
		searcher.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(domain.SearchResult{Status: domain.ResultError}, errors.New("store down"))

		got, _, err := newTestProcessor(searcher).Process(context.Background(), baseSession(),
			domain.Answer{QuestionID: "q-risk", AnswerText: "x"})
		require.Error(t, err)
		assert.Nil(t, got)
	})

	t.Run("Evidence", func(t *testing.T) {
		searcher := new(MockSearcher)
		searcher.On("Search", mock.Anything, "warfarin interaction effects", "interactions", 2).
			Return(result(0.5, "doc"), nil)
		searcher.On("Search", mock.Anything, "medication_interaction evidence research papers", "health_data", 2).
			Return(domain.SearchResult{Status: domain.ResultQuotaExhausted}, domain.ErrQuotaExhausted)

		_, _, err := newTestProcessor(searcher).Process(context.Background(), baseSession(),
			domain.Answer{QuestionID: "q-med", AnswerText: "x"})
		assert.ErrorIs(t, err, domain.ErrQuotaExhausted)
	})
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		kind, answer, want string
	}{
		{"exercise_barrier", "I don't exercise at all", SuggestExerciseLow},
		{"exercise_barrier", "Sometimes on weekends", SuggestExerciseMedium},
		{"exercise_barrier", "Three runs a week", SuggestExerciseHigh},
		{"smoking", "I smoke a pack a day", SuggestSmokingActive},
		{"smoking", "I'm trying to quit smoking", SuggestSmokingTrying},
		{"alcohol", "I drink daily", SuggestAlcoholFrequent},
		{"alcohol", "A glass at dinner on Fridays", SuggestAlcoholModerate},
		{"sleep_quality", "I wake up a lot", SuggestLifestyleDefault},
	}
	for _, tt := range tests {
		t.Run(tt.kind+"/"+tt.answer, func(t *testing.T) {
			assert.Equal(t, tt.want, Suggest(tt.kind, tt.answer))
		})
	}
}
