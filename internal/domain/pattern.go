package domain

import (
	"time"
)

// Pattern is a reinforced record of a previously observed interaction or effect.
// Patterns are never deleted; they are strengthened by similar observations.
type Pattern struct {
	ID              string            `json:"id"`
	Type            PatternType       `json:"type"`
	Entities        []string          `json:"entities"`
	Effect          string            `json:"effect"`
	Severity        Severity          `json:"severity"`
	Description     string            `json:"description,omitempty"`
	Confidence      float64           `json:"confidence"`
	Frequency       int               `json:"frequency"`
	Context         map[string]any    `json:"context,omitempty"`
	FeedbackHistory []PatternFeedback `json:"feedback_history,omitempty"`
	LastUpdated     time.Time         `json:"last_updated"`
}

// PatternFeedback is a user or operator judgement on a pattern.
type PatternFeedback struct {
	Helpful    bool      `json:"helpful"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Observation is a single discovery fed into the pattern store.
type Observation struct {
	Type        PatternType    `json:"type"`
	Entities    []string       `json:"entities"`
	Effect      string         `json:"effect"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description,omitempty"`
	Confidence  float64        `json:"confidence"`
	Context     map[string]any `json:"context,omitempty"`
}

// AsPattern returns the observation viewed as an unsaved pattern.
func (o Observation) AsPattern() Pattern {
	return Pattern{
		Type:        o.Type,
		Entities:    o.Entities,
		Effect:      o.Effect,
		Severity:    o.Severity,
		Description: o.Description,
		Confidence:  o.Confidence,
		Context:     o.Context,
	}
}

// Clone returns a deep copy of the pattern. Context lists are copied one level deep.
func (p Pattern) Clone() Pattern {
	out := p
	out.Entities = cloneStrings(p.Entities)
	if p.Context != nil {
		out.Context = make(map[string]any, len(p.Context))
		for k, v := range p.Context {
			if list, ok := v.([]any); ok {
				v = append([]any(nil), list...)
			}
			out.Context[k] = v
		}
	}
	out.FeedbackHistory = append([]PatternFeedback(nil), p.FeedbackHistory...)
	return out
}
