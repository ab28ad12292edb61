package domain

import (
	"time"
)

// RiskFactor is a metric that crossed a configured threshold.
type RiskFactor struct {
	Type             string   `json:"type"`
	Severity         Severity `json:"severity"`
	Value            string   `json:"value"`
	Threshold        string   `json:"threshold"`
	LifestyleFactors []string `json:"lifestyle_factors,omitempty"`
	Confidence       float64  `json:"confidence,omitempty"`
}

// Evidence is a scored excerpt retrieved from the evidence store.
type Evidence struct {
	SourceID       string            `json:"source_id"`
	Summary        string            `json:"summary"`
	RelevanceScore float64           `json:"relevance_score"`
	Collection     string            `json:"collection"`
	Type           string            `json:"type,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Recommendation is a proposed supplement or lifestyle change.
// Its identity is (Type, Name); Target defaults to Name.
type Recommendation struct {
	Type           string     `json:"type"`
	Name           string     `json:"name"`
	Target         string     `json:"target,omitempty"`
	Confidence     float64    `json:"confidence"`
	BaseConfidence float64    `json:"base_confidence"`
	Reason         string     `json:"reason"`
	Suggestion     string     `json:"suggestion,omitempty"`
	Evidence       []Evidence `json:"evidence,omitempty"`
}

// LevelKey is the recommendation's key in AnalysisResult.ConfidenceLevels:
// "<type>:<name>", so equal names of different types stay apart.
func (r Recommendation) LevelKey() string {
	return r.Type + ":" + r.Name
}

// MatchTarget returns the key used to merge recommendations from answers.
func (r Recommendation) MatchTarget() string {
	if r.Target != "" {
		return r.Target
	}
	return r.Name
}

// InteractionWarning flags a possible interaction between a recommendation and
// another recommendation, a medication or a condition.
type InteractionWarning struct {
	Source      string     `json:"source"`
	Target      string     `json:"target"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Evidence    []Evidence `json:"evidence,omitempty"`
	FromPattern bool       `json:"from_pattern,omitempty"`
}

// LifestyleSuggestion is a habit change derived from the snapshot.
type LifestyleSuggestion struct {
	Type       string   `json:"type"`
	Suggestion string   `json:"suggestion"`
	Priority   Severity `json:"priority"`
	Reason     string   `json:"reason"`
}

// Question is a follow-up the session asks the user. Issued questions are never edited.
type Question struct {
	ID               string     `json:"id"`
	Text             string     `json:"text"`
	Context          string     `json:"context"`
	Priority         int        `json:"priority"`
	InteractionCheck bool       `json:"interaction_check"`
	Evidence         []Evidence `json:"evidence,omitempty"`
}

// Answer is the user's reply to a question.
type Answer struct {
	QuestionID string    `json:"question_id"`
	AnswerText string    `json:"answer_text"`
	Timestamp  time.Time `json:"timestamp"`
}

// AnalysisResult is the aggregate of everything the session currently believes.
type AnalysisResult struct {
	PrimaryConcerns      []RiskFactor          `json:"primary_concerns"`
	Recommendations      []Recommendation      `json:"recommendations"`
	InteractionWarnings  []InteractionWarning  `json:"interaction_warnings"`
	RequiredChecks       []string              `json:"required_checks"`
	ConfidenceLevels     map[string]float64    `json:"confidence_levels"`
	LifestyleSuggestions []LifestyleSuggestion `json:"lifestyle_suggestions,omitempty"`
	Evidence             []Evidence            `json:"evidence,omitempty"`
	Status               ResultStatus          `json:"status"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// Clone returns a deep copy of the result.
func (a *AnalysisResult) Clone() *AnalysisResult {
	if a == nil {
		return nil
	}
	out := *a
	out.PrimaryConcerns = make([]RiskFactor, len(a.PrimaryConcerns))
	for i, rf := range a.PrimaryConcerns {
		rf.LifestyleFactors = cloneStrings(rf.LifestyleFactors)
		out.PrimaryConcerns[i] = rf
	}
	out.Recommendations = make([]Recommendation, len(a.Recommendations))
	for i, r := range a.Recommendations {
		r.Evidence = cloneEvidence(r.Evidence)
		out.Recommendations[i] = r
	}
	out.InteractionWarnings = make([]InteractionWarning, len(a.InteractionWarnings))
	for i, w := range a.InteractionWarnings {
		w.Evidence = cloneEvidence(w.Evidence)
		out.InteractionWarnings[i] = w
	}
	out.RequiredChecks = cloneStrings(a.RequiredChecks)
	out.ConfidenceLevels = make(map[string]float64, len(a.ConfidenceLevels))
	for k, v := range a.ConfidenceLevels {
		out.ConfidenceLevels[k] = v
	}
	out.LifestyleSuggestions = append([]LifestyleSuggestion(nil), a.LifestyleSuggestions...)
	out.Evidence = cloneEvidence(a.Evidence)
	return &out
}

// RecommendationSet is the engine's output together with its evidence status.
type RecommendationSet struct {
	Recommendations  []Recommendation   `json:"recommendations"`
	ConfidenceLevels map[string]float64 `json:"confidence_levels"`
	Status           ResultStatus       `json:"status"`
}

// SearchHits is the raw, index-aligned result of an evidence store search.
type SearchHits struct {
	IDs       []string            `json:"ids,omitempty"`
	Documents []string            `json:"documents"`
	Metadatas []map[string]string `json:"metadatas"`
	Distances []float64           `json:"distances"`
}

// Len returns the number of hits.
func (h *SearchHits) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Documents)
}

// Aligned reports whether documents, metadatas and distances have equal length.
func (h *SearchHits) Aligned() bool {
	if h == nil {
		return true
	}
	n := len(h.Documents)
	if len(h.Metadatas) != n || len(h.Distances) != n {
		return false
	}
	return len(h.IDs) == 0 || len(h.IDs) == n
}

// SearchResult is normalized evidence with an explicit outcome status.
type SearchResult struct {
	Query      string       `json:"query"`
	Collection string       `json:"collection"`
	Evidence   []Evidence   `json:"evidence"`
	Status     ResultStatus `json:"status"`
}

// TopRelevance returns the relevance of the first hit, or 0.
func (r SearchResult) TopRelevance() float64 {
	if len(r.Evidence) == 0 {
		return 0
	}
	return r.Evidence[0].RelevanceScore
}

func cloneEvidence(in []Evidence) []Evidence {
	if in == nil {
		return nil
	}
	out := make([]Evidence, len(in))
	for i, e := range in {
		if e.Metadata != nil {
			md := make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				md[k] = v
			}
			e.Metadata = md
		}
		out[i] = e
	}
	return out
}
