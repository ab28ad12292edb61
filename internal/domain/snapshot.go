package domain

import (
	"strings"
	"time"
)

// Vitals holds blood pressure and heart rate readings.
type Vitals struct {
	SystolicBP  *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP *float64 `json:"diastolic_bp,omitempty"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
}

// Labs holds blood test results.
type Labs struct {
	FastingGlucose   *float64 `json:"fasting_glucose,omitempty"`
	TotalCholesterol *float64 `json:"total_cholesterol,omitempty"`
	HDLCholesterol   *float64 `json:"hdl_cholesterol,omitempty"`
	LDLCholesterol   *float64 `json:"ldl_cholesterol,omitempty"`
	Triglycerides    *float64 `json:"triglycerides,omitempty"`
	AST              *float64 `json:"ast,omitempty"`
	ALT              *float64 `json:"alt,omitempty"`
}

// Lifestyle holds self-reported habits.
type Lifestyle struct {
	Smoking           bool     `json:"smoking"`
	Alcohol           bool     `json:"alcohol"`
	ExerciseFrequency *int     `json:"exercise_frequency,omitempty"` // sessions per week
	SleepHours        *float64 `json:"sleep_hours,omitempty"`
	StressLevel       *int     `json:"stress_level,omitempty"` // 1-5
}

// HealthSnapshot is a point-in-time record of a user's health metrics.
// Nil metrics mean the value was not supplied; they are never treated as risks.
type HealthSnapshot struct {
	ID          string    `json:"id,omitempty"`
	Age         *int      `json:"age,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	HeightCM    *float64  `json:"height_cm,omitempty"`
	WeightKG    *float64  `json:"weight_kg,omitempty"`
	BMI         *float64  `json:"bmi,omitempty"`
	Vitals      Vitals    `json:"vitals"`
	Labs        Labs      `json:"labs"`
	Lifestyle   Lifestyle `json:"lifestyle"`
	Medications []string  `json:"medications,omitempty"`
	Supplements []string  `json:"supplements,omitempty"`
	Conditions  []string  `json:"conditions,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// EffectiveBMI returns the reported BMI, or derives it from height and weight.
func (h HealthSnapshot) EffectiveBMI() *float64 {
	if h.BMI != nil {
		return h.BMI
	}
	if h.HeightCM == nil || h.WeightKG == nil || *h.HeightCM <= 0 {
		return nil
	}
	m := *h.HeightCM / 100
	return Float(*h.WeightKG / (m * m))
}

// HasLifestyleFactors reports whether any lifestyle habit was supplied.
func (h HealthSnapshot) HasLifestyleFactors() bool {
	l := h.Lifestyle
	return l.Smoking || l.Alcohol || l.ExerciseFrequency != nil || l.SleepHours != nil || l.StressLevel != nil
}

// Clone returns a deep copy so the stored snapshot cannot be mutated through aliases.
func (h HealthSnapshot) Clone() HealthSnapshot {
	out := h
	out.Age = cloneInt(h.Age)
	out.HeightCM = cloneFloat(h.HeightCM)
	out.WeightKG = cloneFloat(h.WeightKG)
	out.BMI = cloneFloat(h.BMI)
	out.Vitals = Vitals{
		SystolicBP:  cloneFloat(h.Vitals.SystolicBP),
		DiastolicBP: cloneFloat(h.Vitals.DiastolicBP),
		HeartRate:   cloneFloat(h.Vitals.HeartRate),
	}
	out.Labs = Labs{
		FastingGlucose:   cloneFloat(h.Labs.FastingGlucose),
		TotalCholesterol: cloneFloat(h.Labs.TotalCholesterol),
		HDLCholesterol:   cloneFloat(h.Labs.HDLCholesterol),
		LDLCholesterol:   cloneFloat(h.Labs.LDLCholesterol),
		Triglycerides:    cloneFloat(h.Labs.Triglycerides),
		AST:              cloneFloat(h.Labs.AST),
		ALT:              cloneFloat(h.Labs.ALT),
	}
	out.Lifestyle.ExerciseFrequency = cloneInt(h.Lifestyle.ExerciseFrequency)
	out.Lifestyle.SleepHours = cloneFloat(h.Lifestyle.SleepHours)
	out.Lifestyle.StressLevel = cloneInt(h.Lifestyle.StressLevel)
	out.Medications = cloneStrings(h.Medications)
	out.Supplements = cloneStrings(h.Supplements)
	out.Conditions = cloneStrings(h.Conditions)
	return out
}

// Validate rejects snapshots that cannot be analyzed.
func (h HealthSnapshot) Validate() error {
	if h.Age != nil && (*h.Age < 0 || *h.Age > 150) {
		return NewValidationError("age", "must be between 0 and 150", *h.Age)
	}

	metrics := []struct {
		field string
		value *float64
	}{
		{"height_cm", h.HeightCM},
		{"weight_kg", h.WeightKG},
		{"bmi", h.BMI},
		{"vitals.systolic_bp", h.Vitals.SystolicBP},
		{"vitals.diastolic_bp", h.Vitals.DiastolicBP},
		{"vitals.heart_rate", h.Vitals.HeartRate},
		{"labs.fasting_glucose", h.Labs.FastingGlucose},
		{"labs.total_cholesterol", h.Labs.TotalCholesterol},
		{"labs.hdl_cholesterol", h.Labs.HDLCholesterol},
		{"labs.ldl_cholesterol", h.Labs.LDLCholesterol},
		{"labs.triglycerides", h.Labs.Triglycerides},
		{"labs.ast", h.Labs.AST},
		{"labs.alt", h.Labs.ALT},
		{"lifestyle.sleep_hours", h.Lifestyle.SleepHours},
	}
	for _, m := range metrics {
		if m.value != nil && *m.value < 0 {
			return NewValidationError(m.field, "must not be negative", *m.value)
		}
	}

	if f := h.Lifestyle.ExerciseFrequency; f != nil && *f < 0 {
		return NewValidationError("lifestyle.exercise_frequency", "must not be negative", *f)
	}
	if s := h.Lifestyle.StressLevel; s != nil && (*s < 1 || *s > 5) {
		return NewValidationError("lifestyle.stress_level", "must be between 1 and 5", *s)
	}

	lists := map[string][]string{
		"medications": h.Medications,
		"supplements": h.Supplements,
		"conditions":  h.Conditions,
	}
	for field, values := range lists {
		for _, v := range values {
			if strings.TrimSpace(v) == "" {
				return NewValidationError(field, "entries must not be empty", v)
			}
		}
	}
	return nil
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Float(*v)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	return Int(*v)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
