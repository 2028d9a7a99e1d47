package physics

import (
	"math"

	"github.com/golang/geo/r3"
)

// parallelEpsilon is the |cos| between ray direction and plane normal below which
// the ray is treated as parallel to the plane (no hit).
const parallelEpsilon = 1e-2

// Ray is a half-line starting at Origin and extending along Direction.
// Direction does not need to be unit length; t values are in multiples of it.
type Ray struct {
	Origin    r3.Vector
	Direction r3.Vector
}

// NewRay returns a ray with a normalized direction, so t is a distance in scene units.
func NewRay(origin, direction r3.Vector) Ray {
	return Ray{Origin: origin, Direction: direction.Normalize()}
}

// At returns Origin + t*Direction.
func (r Ray) At(t float64) r3.Vector {
	return r.Origin.Add(r.Direction.Mul(t))
}

// IntersectPlane returns the parametric t where the ray meets p.
// ok is false when the ray is (within parallelEpsilon) parallel to the plane, when
// the plane lies behind the origin, or when either vector is zero length.
func (r Ray) IntersectPlane(p Plane) (t float64, ok bool) {
	n := p.Normal.Normalize()
	d := r.Direction.Normalize()
	if n.Norm2() == 0 || d.Norm2() == 0 {
		return 0, false
	}
	if math.Abs(d.Dot(n)) < parallelEpsilon {
		return 0, false
	}
	t = p.Point.Sub(r.Origin).Dot(n) / r.Direction.Dot(n)
	if t < 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, false
	}
	return t, true
}

// IntersectQuad tests the ray against the quad q. On a hit it returns the ray
// parameter and the intersection point.
func (r Ray) IntersectQuad(q Quad) (t float64, hit r3.Vector, ok bool) {
	p, ok := q.Plane()
	if !ok {
		return 0, r3.Vector{}, false
	}
	t, ok = r.IntersectPlane(p)
	if !ok {
		return 0, r3.Vector{}, false
	}
	hit = r.At(t)
	if !q.Contains(hit, p.Normal) {
		return 0, r3.Vector{}, false
	}
	return t, hit, true
}
