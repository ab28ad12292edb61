package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors shared across components
var (
	ErrNotFound            = errors.New("not found")
	ErrSessionTerminal     = errors.New("session is in a terminal state")
	ErrQuotaExhausted      = errors.New("provider quota exhausted")
	ErrNoAnalysisResult    = errors.New("session has no analysis result")
	ErrEvidenceUnavailable = errors.New("evidence store unavailable")
)

// ServiceError represents a standardized error response
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeSessionTerminal     = "SESSION_TERMINAL"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeNoAnalysisResult    = "NO_ANALYSIS_RESULT"
	ErrCodeQuotaExhausted      = "QUOTA_EXHAUSTED"
	ErrCodeEvidenceUnavailable = "EVIDENCE_UNAVAILABLE"
	ErrCodeDatabase            = "DATABASE_ERROR"
	ErrCodeInternalServer      = "INTERNAL_SERVER_ERROR"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// TransitionError is returned when the session state machine rejects a change.
type TransitionError struct {
	SessionID string
	From      SessionStatus
	To        SessionStatus
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.SessionID, e.From, e.To)
}

// Is lets errors.Is match ErrSessionTerminal when the source state is terminal.
func (e *TransitionError) Is(target error) bool {
	return target == ErrSessionTerminal && e.From.IsTerminal()
}

// NewServiceError creates a new ServiceError with timestamp
func NewServiceError(code, message, details, requestID string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ErrorCodeFor maps an error to its API error code and HTTP status.
func ErrorCodeFor(err error) (string, int) {
	var validationErr *ValidationError
	var transitionErr *TransitionError

	switch {
	case err == nil:
		return "", http.StatusOK
	case errors.As(err, &validationErr):
		return ErrCodeInvalidInput, http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrSessionTerminal):
		return ErrCodeSessionTerminal, http.StatusConflict
	case errors.As(err, &transitionErr):
		return ErrCodeInvalidTransition, http.StatusConflict
	case errors.Is(err, ErrNoAnalysisResult):
		return ErrCodeNoAnalysisResult, http.StatusConflict
	case errors.Is(err, ErrQuotaExhausted):
		return ErrCodeQuotaExhausted, http.StatusTooManyRequests
	case errors.Is(err, ErrEvidenceUnavailable):
		return ErrCodeEvidenceUnavailable, http.StatusServiceUnavailable
	default:
		return ErrCodeInternalServer, http.StatusInternalServerError
	}
}
