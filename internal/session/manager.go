// Package session owns the session lifecycle: creation, state transitions,
// question and answer bookkeeping and persistence through a SessionRepository.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/supplement-advisor-server/internal/domain"
)

// Manager drives the session state machine. Mutations on one session are
// serialized; different sessions proceed in parallel.
type Manager struct {
	repo       domain.SessionRepository
	totalSteps int
	logger     *logrus.Logger
	now        func() time.Time
	newID      func() string

	locks *lockTable
}

// NewManager creates a session manager.
func NewManager(repo domain.SessionRepository, config domain.SessionConfig, logger *logrus.Logger) *Manager {
	total := config.TotalExpectedSteps
	if total <= 0 {
		total = domain.DefaultTotalExpectedSteps
	}
	return &Manager{
		repo:       repo,
		totalSteps: total,
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
		locks:      newLockTable(),
	}
}

// Create validates the snapshot and stores a new session holding a copy of it.
func (m *Manager) Create(ctx context.Context, snapshot domain.HealthSnapshot) (*domain.Session, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	snap := snapshot.Clone()
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = now
	}
	s := &domain.Session{
		ID:                 m.newID(),
		Status:             domain.SessionCreated,
		TotalExpectedSteps: m.totalSteps,
		HealthSnapshot:     snap,
		CurrentQuestions:   []domain.Question{},
		Answers:            []domain.Answer{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := m.repo.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.logger.WithField("session_id", s.ID).Info("Session created")
	return s.Clone(), nil
}

// Get returns a copy of the session.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// Status reports the session's status and progress.
func (m *Manager) Status(ctx context.Context, id string) (domain.SessionStatusReport, error) {
	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return domain.SessionStatusReport{}, err
	}
	return s.Report(), nil
}

// BeginAnalysis moves a created or waiting session into analyzing.
func (m *Manager) BeginAnalysis(ctx context.Context, id string) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) error {
		return transition(s, domain.SessionAnalyzing)
	})
}

// UpdateAnalysis replaces the session's analysis result.
func (m *Manager) UpdateAnalysis(ctx context.Context, id string, result *domain.AnalysisResult) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) error {
		s.AnalysisResult = result.Clone()
		return nil
	})
}

// AddQuestions replaces the queued questions. A non-empty queue waits for an
// answer; an empty one completes the session.
func (m *Manager) AddQuestions(ctx context.Context, id string, questions []domain.Question) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) error {
		next := domain.SessionWaitingAnswer
		if len(questions) == 0 {
			next = domain.SessionCompleted
		}
		if err := transition(s, next); err != nil {
			return err
		}
		s.CurrentQuestions = append([]domain.Question{}, questions...)
		return nil
	})
}

// AddAnswer records the answer, marks its question's context answered, dequeues
// the question and advances the step counter by one, never past the budget.
func (m *Manager) AddAnswer(ctx context.Context, id string, answer domain.Answer) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) error {
		if answer.Timestamp.IsZero() {
			answer.Timestamp = m.now()
		}
		s.Answers = append(s.Answers, answer)

		remaining := []domain.Question{}
		for _, q := range s.CurrentQuestions {
			if q.ID == answer.QuestionID {
				if !s.HasAnswered(q.Context) {
					s.AnsweredContexts = append(s.AnsweredContexts, q.Context)
				}
				continue
			}
			remaining = append(remaining, q)
		}
		s.CurrentQuestions = remaining

		if s.CurrentStep < s.TotalExpectedSteps {
			s.CurrentStep++
		}
		return nil
	})
}

// Complete finishes the session.
func (m *Manager) Complete(ctx context.Context, id string) (*domain.Session, error) {
	return m.mutate(ctx, id, func(s *domain.Session) error {
		if err := transition(s, domain.SessionCompleted); err != nil {
			return err
		}
		s.CurrentQuestions = []domain.Question{}
		return nil
	})
}

// Fail marks the session failed, keeping its last analysis result.
func (m *Manager) Fail(ctx context.Context, id string, reason string) (*domain.Session, error) {
	s, err := m.mutate(ctx, id, func(s *domain.Session) error {
		if err := transition(s, domain.SessionFailed); err != nil {
			return err
		}
		s.FailureReason = reason
		return nil
	})
	if err == nil {
		m.logger.WithFields(logrus.Fields{
			"session_id": id,
			"reason":     reason,
		}).Warn("Session failed")
	}
	return s, err
}

// Delete removes the session.
func (m *Manager) Delete(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()

	if _, err := m.repo.Get(ctx, id); err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	m.logger.WithField("session_id", id).Info("Session deleted")
	return nil
}

// mutate loads the session under its lock, applies fn and stores the result.
// Terminal sessions reject every mutation.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*domain.Session) error) (*domain.Session, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	s, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status.IsTerminal() {
		return nil, fmt.Errorf("session %s is %s: %w", id, s.Status, domain.ErrSessionTerminal)
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = m.now()

	if err := m.repo.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	return s.Clone(), nil
}

func transition(s *domain.Session, next domain.SessionStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return &domain.TransitionError{SessionID: s.ID, From: s.Status, To: next}
	}
	s.Status = next
	return nil
}
