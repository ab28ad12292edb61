// Package domain contains the core entities of the supplement advisor: health snapshots,
// risk factors, evidence, recommendations, interaction warnings, questions, answers,
// sessions and learned interaction patterns.
package domain

import (
	"errors"
	"fmt"
)

// Severity grades a risk factor or an interaction warning.
type Severity string

const (
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityUnknown Severity = "unknown"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionCreated       SessionStatus = "created"
	SessionAnalyzing     SessionStatus = "analyzing"
	SessionWaitingAnswer SessionStatus = "waiting_answer"
	SessionCompleted     SessionStatus = "completed"
	SessionFailed        SessionStatus = "failed"
)

// IsValid reports whether s is a known session status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionCreated, SessionAnalyzing, SessionWaitingAnswer, SessionCompleted, SessionFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are accepted from s.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// String returns the string representation of the status.
func (s SessionStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SessionFailed {
		return true
	}
	switch s {
	case SessionCreated:
		return next == SessionAnalyzing
	case SessionAnalyzing:
		return next == SessionWaitingAnswer || next == SessionCompleted
	case SessionWaitingAnswer:
		return next == SessionAnalyzing
	default:
		return false
	}
}

// ResultStatus tags the outcome of an evidence or analysis step.
type ResultStatus string

const (
	ResultOK                   ResultStatus = "ok"
	ResultInsufficientEvidence ResultStatus = "insufficient_evidence"
	ResultLowRelevance         ResultStatus = "low_relevance"
	ResultQuotaExhausted       ResultStatus = "quota_exhausted"
	ResultError                ResultStatus = "error"
)

// IsValid reports whether s is a known result status.
func (s ResultStatus) IsValid() bool {
	switch s {
	case ResultOK, ResultInsufficientEvidence, ResultLowRelevance, ResultQuotaExhausted, ResultError:
		return true
	default:
		return false
	}
}

// String returns the string representation of the result status.
func (s ResultStatus) String() string {
	return string(s)
}

// PatternType partitions learned patterns. Similarity is only defined within a type.
type PatternType string

const (
	PatternSupplementInteractions PatternType = "supplement_interactions"
	PatternMedicationInteractions PatternType = "medication_interactions"
	PatternHealthConditions       PatternType = "health_conditions"
	PatternTemporal               PatternType = "temporal_patterns"
)

// AllPatternTypes lists the pattern types in a stable order.
var AllPatternTypes = []PatternType{
	PatternSupplementInteractions,
	PatternMedicationInteractions,
	PatternHealthConditions,
	PatternTemporal,
}

// IsValid reports whether t is a known pattern type.
func (t PatternType) IsValid() bool {
	switch t {
	case PatternSupplementInteractions, PatternMedicationInteractions, PatternHealthConditions, PatternTemporal:
		return true
	default:
		return false
	}
}

// String returns the string representation of the pattern type.
func (t PatternType) String() string {
	return string(t)
}

// AnswerType is the classification the answer processor assigns to an answer.
type AnswerType string

const (
	AnswerHealthRisk AnswerType = "health_risk"
	AnswerLifestyle  AnswerType = "lifestyle"
	AnswerMedication AnswerType = "medication"
	AnswerGeneral    AnswerType = "general"
)

// String returns the string representation of the answer type.
func (t AnswerType) String() string {
	return string(t)
}

// Recommendation types produced by the engine and the answer processor.
const (
	RecommendationSupplement      = "supplement"
	RecommendationLifestyle       = "lifestyle"
	RecommendationLifestyleChange = "lifestyle_change"
)

// Validation errors for enumerations
var (
	ErrInvalidSeverity    = errors.New("invalid severity")
	ErrInvalidStatus      = errors.New("invalid session status")
	ErrInvalidPatternType = errors.New("invalid pattern type")
)

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// ParsePatternType converts a string into a PatternType.
func ParsePatternType(s string) (PatternType, error) {
	t := PatternType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPatternType, s)
	}
	return t, nil
}
