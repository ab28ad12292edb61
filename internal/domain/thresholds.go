package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Comparator is the operator of a threshold expression.
type Comparator string

const (
	CompGreater      Comparator = ">"
	CompGreaterEqual Comparator = ">="
	CompLess         Comparator = "<"
	CompLessEqual    Comparator = "<="
)

// MarginMode controls how a family's escalation margin is applied to its bound.
type MarginMode string

const (
	MarginAdd      MarginMode = "add"
	MarginMultiply MarginMode = "multiply"
	MarginNone     MarginMode = "none"
)

// Metric families understood by the risk analyzer.
const (
	FamilyBMI            = "bmi"
	FamilyUnderweight    = "underweight"
	FamilyBloodPressure  = "blood_pressure"
	FamilyCholesterol    = "cholesterol"
	FamilyLiverEnzymes   = "liver_enzymes"
	FamilyFastingGlucose = "fasting_glucose"
	FamilyExercise       = "exercise"
)

var ErrInvalidThreshold = errors.New("invalid threshold expression")

// Threshold is a parsed comparator plus numeric bound such as ">30".
type Threshold struct {
	Comparator Comparator `json:"comparator"`
	Bound      float64    `json:"bound"`
}

// ParseThreshold parses an expression like ">30", ">= 140" or "<18.5".
func ParseThreshold(expr string) (Threshold, error) {
	s := strings.TrimSpace(expr)
	for _, c := range []Comparator{CompGreaterEqual, CompLessEqual, CompGreater, CompLess} {
		if strings.HasPrefix(s, string(c)) {
			bound, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(s, string(c))), 64)
			if err != nil {
				return Threshold{}, fmt.Errorf("%w %q: %v", ErrInvalidThreshold, expr, err)
			}
			return Threshold{Comparator: c, Bound: bound}, nil
		}
	}
	return Threshold{}, fmt.Errorf("%w %q: missing comparator", ErrInvalidThreshold, expr)
}

// Matches reports whether v satisfies the threshold.
func (t Threshold) Matches(v float64) bool {
	switch t.Comparator {
	case CompGreater:
		return v > t.Bound
	case CompGreaterEqual:
		return v >= t.Bound
	case CompLess:
		return v < t.Bound
	case CompLessEqual:
		return v <= t.Bound
	default:
		return false
	}
}

// String renders the expression.
func (t Threshold) String() string {
	return string(t.Comparator) + strconv.FormatFloat(t.Bound, 'f', -1, 64)
}

// MetricRule configures one metric family. Expressions are keyed by metric name
// within the family (e.g. "systolic", "diastolic").
type MetricRule struct {
	Family           string            `mapstructure:"family" json:"family"`
	RiskType         string            `mapstructure:"risk_type" json:"risk_type"`
	Expressions      map[string]string `mapstructure:"expressions" json:"expressions"`
	Margin           float64           `mapstructure:"margin" json:"margin"`
	MarginMode       MarginMode        `mapstructure:"margin_mode" json:"margin_mode"`
	LifestyleFactors []string          `mapstructure:"lifestyle_factors" json:"lifestyle_factors"`
}

// Threshold returns the parsed expression for a metric of this rule.
func (r MetricRule) Threshold(metric string) (Threshold, bool) {
	expr, ok := r.Expressions[metric]
	if !ok || strings.TrimSpace(expr) == "" {
		return Threshold{}, false
	}
	t, err := ParseThreshold(expr)
	if err != nil {
		return Threshold{}, false
	}
	return t, true
}

// Escalated reports whether v passes the threshold by the family margin.
func (r MetricRule) Escalated(t Threshold, v float64) bool {
	switch r.MarginMode {
	case MarginAdd:
		if t.Comparator == CompGreaterEqual {
			return v >= t.Bound+r.Margin
		}
		return v > t.Bound+r.Margin
	case MarginMultiply:
		return v > t.Bound*r.Margin
	default:
		return false
	}
}

// ThresholdTable is the ordered list of metric rules. Order is output order.
type ThresholdTable struct {
	Rules []MetricRule `mapstructure:"rules" json:"rules"`
}

// Rule returns the configured rule for a family.
func (t ThresholdTable) Rule(family string) (MetricRule, bool) {
	for _, r := range t.Rules {
		if r.Family == family {
			return r, true
		}
	}
	return MetricRule{}, false
}

// Validate checks every expression and margin mode.
func (t ThresholdTable) Validate() error {
	for _, r := range t.Rules {
		if r.Family == "" || r.RiskType == "" {
			return NewValidationError("analysis.thresholds", "family and risk_type are required", r)
		}
		switch r.MarginMode {
		case MarginAdd, MarginMultiply, MarginNone, "":
		default:
			return NewValidationError("analysis.thresholds."+r.Family+".margin_mode", "must be add, multiply or none", r.MarginMode)
		}
		for metric, expr := range r.Expressions {
			if _, err := ParseThreshold(expr); err != nil {
				return fmt.Errorf("rule %s metric %s: %w", r.Family, metric, err)
			}
		}
	}
	return nil
}

// DefaultThresholdTable mirrors the stock clinical cut-offs. The margins are
// configurable constants, not validated clinical policy.
func DefaultThresholdTable() ThresholdTable {
	return ThresholdTable{Rules: []MetricRule{
		{
			Family:           FamilyBMI,
			RiskType:         "obesity",
			Expressions:      map[string]string{"bmi": ">=30"},
			Margin:           5,
			MarginMode:       MarginAdd,
			LifestyleFactors: []string{"diet", "exercise"},
		},
		{
			Family:           FamilyUnderweight,
			RiskType:         "underweight",
			Expressions:      map[string]string{"bmi": "<18.5"},
			MarginMode:       MarginNone,
			LifestyleFactors: []string{"diet"},
		},
		{
			Family:           FamilyBloodPressure,
			RiskType:         "hypertension",
			Expressions:      map[string]string{"systolic": ">=140", "diastolic": ">=90"},
			Margin:           20,
			MarginMode:       MarginAdd,
			LifestyleFactors: []string{"sodium_intake", "exercise", "alcohol"},
		},
		{
			Family:           FamilyCholesterol,
			RiskType:         "high_cholesterol",
			Expressions:      map[string]string{"total": ">240"},
			Margin:           60,
			MarginMode:       MarginAdd,
			LifestyleFactors: []string{"diet", "exercise"},
		},
		{
			Family:           FamilyLiverEnzymes,
			RiskType:         "liver_function_abnormal",
			Expressions:      map[string]string{"ast": ">40", "alt": ">40"},
			Margin:           2,
			MarginMode:       MarginMultiply,
			LifestyleFactors: []string{"alcohol"},
		},
		{
			Family:           FamilyFastingGlucose,
			RiskType:         "impaired_fasting_glucose",
			Expressions:      map[string]string{"glucose": ">100"},
			Margin:           26,
			MarginMode:       MarginAdd,
			LifestyleFactors: []string{"diet", "exercise"},
		},
		{
			Family:           FamilyExercise,
			RiskType:         "sedentary_lifestyle",
			Expressions:      map[string]string{"exercise_frequency": "<3"},
			MarginMode:       MarginNone,
			LifestyleFactors: []string{"exercise"},
		},
	}}
}
