package domain

import "strings"

// ContextKind discriminates question contexts.
type ContextKind string

const (
	ContextHealthRisk            ContextKind = "health_risk"
	ContextLifestyle             ContextKind = "lifestyle"
	ContextMedicationInteraction ContextKind = "medication_interaction"
	ContextMedication            ContextKind = "medication"
	ContextConditionInteraction  ContextKind = "condition_interaction"
	ContextConditionHistory      ContextKind = "condition_history"
	ContextGeneral               ContextKind = "general"
)

// contextPrefixes is checked in order; longer prefixes sharing a stem come first.
var contextPrefixes = []ContextKind{
	ContextHealthRisk,
	ContextLifestyle,
	ContextMedicationInteraction,
	ContextMedication,
	ContextConditionInteraction,
	ContextConditionHistory,
}

// QuestionContext is the structured form of a question's context tag.
type QuestionContext struct {
	Kind    ContextKind `json:"kind"`
	Subject string      `json:"subject"`
}

// NewQuestionContext builds a context of the given kind about subject.
func NewQuestionContext(kind ContextKind, subject string) QuestionContext {
	return QuestionContext{Kind: kind, Subject: subject}
}

// ParseQuestionContext converts a tag such as "health_risk_obesity" into its union form.
// Unknown or empty tags parse as general.
func ParseQuestionContext(tag string) QuestionContext {
	for _, kind := range contextPrefixes {
		prefix := string(kind) + "_"
		if strings.HasPrefix(tag, prefix) {
			return QuestionContext{Kind: kind, Subject: strings.TrimPrefix(tag, prefix)}
		}
	}
	return QuestionContext{Kind: ContextGeneral, Subject: tag}
}

// Tag renders the context as its string tag.
func (c QuestionContext) Tag() string {
	if c.Kind == ContextGeneral {
		return c.Subject
	}
	return string(c.Kind) + "_" + c.Subject
}

// AnswerType classifies an answer to a question with this context.
func (c QuestionContext) AnswerType() AnswerType {
	switch c.Kind {
	case ContextHealthRisk:
		return AnswerHealthRisk
	case ContextLifestyle:
		return AnswerLifestyle
	case ContextMedicationInteraction, ContextMedication:
		return AnswerMedication
	default:
		return AnswerGeneral
	}
}
