package domain

import (
	"time"
)

// DefaultTotalExpectedSteps is the answer budget of a session when none is configured.
const DefaultTotalExpectedSteps = 5

// Session tracks one user's multi-turn recommendation dialogue.
type Session struct {
	ID                 string          `json:"id"`
	Status             SessionStatus   `json:"status"`
	CurrentStep        int             `json:"current_step"`
	TotalExpectedSteps int             `json:"total_expected_steps"`
	HealthSnapshot     HealthSnapshot  `json:"health_snapshot"`
	CurrentQuestions   []Question      `json:"current_questions"`
	AnsweredContexts   []string        `json:"answered_contexts,omitempty"`
	Answers            []Answer        `json:"answers"`
	AnalysisResult     *AnalysisResult `json:"analysis_result,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SessionStatusReport is the summary returned by status queries.
type SessionStatusReport struct {
	SessionID     string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	CurrentStep   int           `json:"current_step"`
	TotalSteps    int           `json:"total_expected_steps"`
	Progress      float64       `json:"progress"`
	FailureReason string        `json:"failure_reason,omitempty"`
}

// Progress returns current_step / total_expected_steps, or 0 when the budget is 0.
func (s *Session) Progress() float64 {
	if s.TotalExpectedSteps == 0 {
		return 0
	}
	return float64(s.CurrentStep) / float64(s.TotalExpectedSteps)
}

// Report builds the status summary of the session.
func (s *Session) Report() SessionStatusReport {
	return SessionStatusReport{
		SessionID:     s.ID,
		Status:        s.Status,
		CurrentStep:   s.CurrentStep,
		TotalSteps:    s.TotalExpectedSteps,
		Progress:      s.Progress(),
		FailureReason: s.FailureReason,
	}
}

// FindQuestion returns the queued question with the given id.
func (s *Session) FindQuestion(id string) (Question, bool) {
	for _, q := range s.CurrentQuestions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// HasAnswered reports whether a question with the given context was already answered.
func (s *Session) HasAnswered(context string) bool {
	for _, c := range s.AnsweredContexts {
		if c == context {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.HealthSnapshot = s.HealthSnapshot.Clone()
	out.CurrentQuestions = make([]Question, len(s.CurrentQuestions))
	for i, q := range s.CurrentQuestions {
		q.Evidence = cloneEvidence(q.Evidence)
		out.CurrentQuestions[i] = q
	}
	out.AnsweredContexts = cloneStrings(s.AnsweredContexts)
	out.Answers = append([]Answer(nil), s.Answers...)
	out.AnalysisResult = s.AnalysisResult.Clone()
	return &out
}
