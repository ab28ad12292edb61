package pattern

import (
	"fmt"
	"strings"

	"github.com/supplement-advisor-server/internal/domain"
)

// Similarity scores two patterns of the same type:
//
//	w.Entities*jaccard(entities) + w.Effect*(effect equal) + w.Context*context_overlap
//
// Comparing patterns of different types is a programming error and panics.
func Similarity(a, b domain.Pattern, w domain.SimilarityWeights) float64 {
	if a.Type != b.Type {
		panic(fmt.Sprintf("pattern similarity across types: %s vs %s", a.Type, b.Type))
	}

	var effect float64
	if normalize(a.Effect) == normalize(b.Effect) {
		effect = 1
	}

	return w.Entities*jaccard(a.Entities, b.Entities) +
		w.Effect*effect +
		w.Context*contextOverlap(a.Context, b.Context)
}

func jaccard(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, e := range a {
		set[normalize(e)] = true
	}
	union := len(set)
	var inter int
	seen := make(map[string]bool, len(b))
	for _, e := range b {
		n := normalize(e)
		if seen[n] {
			continue
		}
		seen[n] = true
		if set[n] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// contextOverlap is |keys in both with equal values| / |union of keys|.
func contextOverlap(a, b map[string]any) float64 {
	union := len(a)
	var matching int
	for k, bv := range b {
		av, ok := a[k]
		if !ok {
			union++
			continue
		}
		if valuesEqual(av, bv) {
			matching++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(matching) / float64(union)
}

// valuesEqual compares context values by their printed form so that values
// reloaded from JSON (float64) still match freshly observed ints.
func valuesEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
