package physics

import (
	"cmp"
	"slices"
)

// Pickable is something a pick ray can be tested against.
type Pickable interface {
	// PickQuad is the world-space collision quad.
	PickQuad() Quad
	// Distance is the distance from the viewer as of the last rendered frame.
	Distance() float64
}

// Pick returns every candidate whose quad the ray hits, ordered by the candidates'
// last rendered Distance (nearest first), not by the ray parameter. Candidates whose
// Distance exceeds maxDistance are rejected before the intersection test;
// maxDistance <= 0 disables that check.
func Pick[T Pickable](ray Ray, candidates []T, maxDistance float64) []T {
	var hits []T
	for _, c := range candidates {
		if maxDistance > 0 && c.Distance() > maxDistance {
			continue
		}
		if _, _, ok := ray.IntersectQuad(c.PickQuad()); ok {
			hits = append(hits, c)
		}
	}
	slices.SortStableFunc(hits, func(a, b T) int {
		return cmp.Compare(a.Distance(), b.Distance())
	})
	return hits
}
