package pattern

import (
	"time"

	"github.com/supplement-advisor-server/internal/domain"
)

// strengthen folds obs into p: frequency-weighted confidence average,
// frequency increment and context merge.
func strengthen(p *domain.Pattern, obs domain.Observation, now time.Time) {
	incoming := domain.Clamp01(obs.Confidence)
	prior := p.Confidence

	p.Confidence = domain.MustConfidence(
		(prior*float64(p.Frequency) + incoming) / float64(p.Frequency+1),
	)
	p.Frequency++
	p.Context = mergeContext(p.Context, obs.Context)

	// A more confident observation supersedes the recorded outcome.
	if incoming > prior && obs.Severity != "" {
		p.Severity = obs.Severity
		if obs.Description != "" {
			p.Description = obs.Description
		}
	}
	p.LastUpdated = now
}

// mergeContext adds new keys, turns conflicting scalars into a list of every
// observed value and unions lists.
func mergeContext(existing, incoming map[string]any) map[string]any {
	if existing == nil && len(incoming) == 0 {
		return nil
	}
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}

	for k, nv := range incoming {
		ev, ok := out[k]
		if !ok {
			out[k] = nv
			continue
		}
		eList, eIsList := asList(ev)
		nList, nIsList := asList(nv)
		switch {
		case eIsList || nIsList:
			out[k] = union(eList, nList)
		case !valuesEqual(ev, nv):
			out[k] = []any{ev, nv}
		}
	}
	return out
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	default:
		return []any{v}, false
	}
}

func union(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, v := range append(append([]any(nil), a...), b...) {
		dup := false
		for _, seen := range out {
			if valuesEqual(seen, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
