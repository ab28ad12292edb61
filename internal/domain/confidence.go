package domain

import (
	"fmt"
	"math"
)

const (
	// MaxConfidence caps every computed recommendation confidence.
	MaxConfidence = 0.95
	// EvidenceBoostWeight scales the mean matching-evidence relevance.
	EvidenceBoostWeight = 0.2
)

// ComputeConfidence returns min(0.95, base + boost*0.2). Inputs outside [0,1] are
// programming errors and panic via MustConfidence.
func ComputeConfidence(base, evidenceBoost float64) float64 {
	c := math.Min(MaxConfidence, base+evidenceBoost*EvidenceBoostWeight)
	return MustConfidence(c)
}

// MustConfidence panics when c is not a valid confidence.
func MustConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 || c > 1 {
		panic(fmt.Sprintf("confidence %v outside [0,1]", c))
	}
	return c
}

// Clamp01 bounds a raw score coming from an external store into [0,1].
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// RoundConfidence rounds to two decimals for reporting.
func RoundConfidence(c float64) float64 {
	return math.Round(c*100) / 100
}

// EvidenceBoost is the mean relevance of evidence whose Type matches recType.
func EvidenceBoost(recType string, evidence []Evidence) float64 {
	var sum float64
	var n int
	for _, e := range evidence {
		if e.Type == recType {
			sum += Clamp01(e.RelevanceScore)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
