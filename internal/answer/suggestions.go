package answer

import (
	"strings"
)

// Lifestyle suggestion templates.
const (
	SuggestExerciseLow      = "Start with light activity such as walking or taking the stairs in your daily routine."
	SuggestExerciseMedium   = "Try to gradually increase how much you exercise each week."
	SuggestExerciseHigh     = "Keep up your current exercise habits."
	SuggestSmokingActive    = "Consider a smoking cessation program or professional support to help you quit."
	SuggestSmokingTrying    = "Trying to quit is a great step; pairing it with stress management helps."
	SuggestAlcoholFrequent  = "Try to limit drinking to no more than twice a week."
	SuggestAlcoholModerate  = "Keep your current intake and drink more water before and after alcohol."
	SuggestLifestyleDefault = "Consider talking to a professional about improving this habit."
)

// Suggest picks a suggestion template for a lifestyle kind based on the answer.
func Suggest(kind, answer string) string {
	a := strings.ToLower(answer)
	switch {
	case strings.Contains(kind, "exercise"):
		switch {
		case containsAny(a, "never", "none", "no time", "don't", "do not", "not at all"):
			return SuggestExerciseLow
		case containsAny(a, "sometimes", "occasionally", "once", "1-2", "rarely"):
			return SuggestExerciseMedium
		default:
			return SuggestExerciseHigh
		}
	case strings.Contains(kind, "smoking"):
		if !containsAny(a, "quit", "trying", "stopped", "cutting") && containsAny(a, "smoke", "smoking", "cigarette", "pack") {
			return SuggestSmokingActive
		}
		return SuggestSmokingTrying
	case strings.Contains(kind, "alcohol"):
		if containsAny(a, "daily", "every day", "often", "frequently") {
			return SuggestAlcoholFrequent
		}
		return SuggestAlcoholModerate
	default:
		return SuggestLifestyleDefault
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
