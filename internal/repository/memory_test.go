package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplement-advisor-server/internal/domain"
)

func sampleSession(id string) *domain.Session {
	now := time.Date(2025, 5, 4, 12, 0, 0, 0, time.UTC)
	return &domain.Session{
		ID:                 id,
		Status:             domain.SessionWaitingAnswer,
		CurrentStep:        1,
		TotalExpectedSteps: 5,
		HealthSnapshot: domain.HealthSnapshot{
			Age:         domain.Int(52),
			BMI:         domain.Float(29.5),
			Medications: []string{"metformin"},
			CapturedAt:  now,
		},
		CurrentQuestions: []domain.Question{
			{ID: "q1", Text: "How often do you exercise?", Context: "lifestyle_exercise", Priority: 1},
		},
		AnsweredContexts: []string{"health_risk_obesity"},
		Answers:          []domain.Answer{{QuestionID: "q0", AnswerText: "yes", Timestamp: now}},
		AnalysisResult: &domain.AnalysisResult{
			Recommendations: []domain.Recommendation{
				{Type: domain.RecommendationSupplement, Name: "Fiber", Confidence: 0.8, BaseConfidence: 0.8},
			},
			RequiredChecks:   []string{},
			ConfidenceLevels: map[string]float64{"Fiber": 0.8},
			Status:           domain.ResultOK,
			UpdatedAt:        now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// exerciseRepository runs the contract every SessionRepository must satisfy.
func exerciseRepository(t *testing.T, repo domain.SessionRepository) {
	t.Helper()
	ctx := context.Background()

	_, err := repo.Get(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	s := sampleSession("sess-1")
	require.NoError(t, repo.Put(ctx, s))

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, s.Status, got.Status)
	assert.Equal(t, s.CurrentStep, got.CurrentStep)
	assert.Equal(t, []string{"metformin"}, got.HealthSnapshot.Medications)
	assert.Equal(t, 29.5, *got.HealthSnapshot.BMI)
	require.Len(t, got.CurrentQuestions, 1)
	assert.Equal(t, "lifestyle_exercise", got.CurrentQuestions[0].Context)
	require.NotNil(t, got.AnalysisResult)
	assert.Equal(t, "Fiber", got.AnalysisResult.Recommendations[0].Name)
	assert.True(t, got.CreatedAt.Equal(s.CreatedAt))

	s.Status = domain.SessionCompleted
	s.CurrentStep = 2
	s.UpdatedAt = s.UpdatedAt.Add(time.Minute)
	require.NoError(t, repo.Put(ctx, s))

	got, err = repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, got.Status)
	assert.Equal(t, 2, got.CurrentStep)

	require.NoError(t, repo.Delete(ctx, "sess-1"))
	_, err = repo.Get(ctx, "sess-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, repo.Delete(ctx, "sess-1"), "deleting twice is not an error")
}

func TestMemorySessionRepository(t *testing.T) {
	exerciseRepository(t, NewMemorySessionRepository())
}

func TestMemorySessionRepository_StoresCopies(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	s := sampleSession("sess-2")
	require.NoError(t, repo.Put(ctx, s))

	s.HealthSnapshot.Medications[0] = "changed"
	got, err := repo.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, "metformin", got.HealthSnapshot.Medications[0])

	got.AnalysisResult.ConfidenceLevels["Fiber"] = 0
	again, err := repo.Get(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, 0.8, again.AnalysisResult.ConfidenceLevels["Fiber"])
	assert.Equal(t, 1, repo.Len())
}
