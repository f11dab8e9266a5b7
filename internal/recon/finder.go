package recon

import (
	"math"
	"sort"
	"strings"

	"github.com/rodovia-recon/internal/geo"
)

// FindCandidates ranks the pool elements that plausibly correspond to
// the need. The pool is pre-filtered by the caller to the need's lot,
// highway and element type with active=true; elements that disagree on
// any of those are dropped again here so a filtering bug upstream can
// never leak a guardrail into a sign match.
//
// With a GPS fix on the need, candidates are the pool elements within
// radiusMeters great-circle distance. Without one, the finder falls
// back to km proximity and leaves DistanceMeters nil so the decision
// stage can tell the two apart.
//
// The result is sorted ascending by distance (nil distances last),
// ties broken by descending attribute score. Never fails; an empty or
// malformed pool yields an empty result.
func FindCandidates(need Need, pool []InventoryElement, radiusMeters float64) []MatchCandidate {
	if radiusMeters <= 0 {
		radiusMeters = DefaultThresholds().RadiusMeters
	}
	kmWindow := DefaultThresholds().KmFallbackWindow

	candidates := make([]MatchCandidate, 0, len(pool))
	for _, el := range pool {
		if el.LotID != need.LotID || el.HighwayID != need.HighwayID ||
			el.ElementType != need.ElementType || !el.Active {
			continue
		}

		if need.Coordinate != nil && el.Coordinate != nil {
			d := geo.Distance(*need.Coordinate, *el.Coordinate)
			if d > radiusMeters {
				continue
			}
			dist := d
			candidates = append(candidates, MatchCandidate{
				Element:        el,
				DistanceMeters: &dist,
				AttributeScore: attributeScore(need, el),
			})
			continue
		}

		// km fallback: 0.05 km is the 50 m equivalent along the route axis.
		if math.Abs(need.KmReference-el.KmReference) <= kmWindow {
			candidates = append(candidates, MatchCandidate{
				Element:        el,
				AttributeScore: attributeScore(need, el),
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := candidates[i].DistanceMeters, candidates[j].DistanceMeters
		switch {
		case di != nil && dj != nil && *di != *dj:
			return *di < *dj
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		return scoreOrZero(candidates[i].AttributeScore) > scoreOrZero(candidates[j].AttributeScore)
	})

	return candidates
}

// attributeScore is the fraction of descriptive fields defined on both
// sides that match exactly after normalization. Nil when nothing is
// comparable.
func attributeScore(need Need, el InventoryElement) *float64 {
	type pair struct{ a, b string }
	pairs := []pair{
		{need.Code, el.Code},
		{need.Subtype, el.Subtype},
		{need.Description, el.Description},
	}

	comparable := 0
	matched := 0
	for _, p := range pairs {
		a := normalizeAttribute(p.a)
		b := normalizeAttribute(p.b)
		if a == "" || b == "" {
			continue
		}
		comparable++
		if a == b {
			matched++
		}
	}

	if comparable == 0 {
		return nil
	}
	score := float64(matched) / float64(comparable)
	return &score
}

// normalizeAttribute folds case and whitespace so trivially different
// spellings of the same code still compare equal.
func normalizeAttribute(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func scoreOrZero(s *float64) float64 {
	if s == nil {
		return 0
	}
	return *s
}
