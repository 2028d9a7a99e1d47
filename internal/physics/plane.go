package physics

import "github.com/golang/geo/r3"

// degenerateNorm2 is the squared cross-product length under which three points are
// considered collinear.
const degenerateNorm2 = 1e-18

// Plane is the infinite plane through Point with the given Normal.
type Plane struct {
	Point  r3.Vector
	Normal r3.Vector
}

// PlaneFromPoints builds the plane through a, b and c with normal (b-a)x(c-a).
// ok is false when the points are collinear or coincident.
func PlaneFromPoints(a, b, c r3.Vector) (Plane, bool) {
	n := b.Sub(a).Cross(c.Sub(a))
	if n.Norm2() < degenerateNorm2 {
		return Plane{}, false
	}
	return Plane{Point: a, Normal: n.Normalize()}, true
}

// SignedDistance returns the distance from v to the plane, positive on the normal side.
func (p Plane) SignedDistance(v r3.Vector) float64 {
	n := p.Normal.Normalize()
	return v.Sub(p.Point).Dot(n)
}
