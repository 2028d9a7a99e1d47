package physics

import "github.com/golang/geo/r3"

// Quad is four coplanar corners in winding order.
type Quad [4]r3.Vector

// Plane returns the plane spanned by three of the quad's corners. When the first
// three are collinear the opposite triangle is tried.
func (q Quad) Plane() (Plane, bool) {
	if p, ok := PlaneFromPoints(q[0], q[1], q[2]); ok {
		return p, true
	}
	return PlaneFromPoints(q[0], q[2], q[3])
}

// Center is the average of the four corners.
func (q Quad) Center() r3.Vector {
	return q[0].Add(q[1]).Add(q[2]).Add(q[3]).Mul(0.25)
}

// Translate returns the quad moved by d.
func (q Quad) Translate(d r3.Vector) Quad {
	for i := range q {
		q[i] = q[i].Add(d)
	}
	return q
}

// Contains reports whether pt, assumed to lie on the quad's plane, is inside the quad.
// The test runs in 2D after dropping the axis the normal is most aligned with, so the
// projection never collapses the quad to a line.
func (q Quad) Contains(pt, normal r3.Vector) bool {
	if normal.Norm2() == 0 {
		return false
	}
	drop := normal.LargestComponent()
	px, py := project2D(pt, drop)
	inside := false
	j := len(q) - 1
	for i := range q {
		xi, yi := project2D(q[i], drop)
		xj, yj := project2D(q[j], drop)
		if (yi > py) != (yj > py) {
			x := (xj-xi)*(py-yi)/(yj-yi) + xi
			if px < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func project2D(v r3.Vector, drop r3.Axis) (float64, float64) {
	switch drop {
	case r3.XAxis:
		return v.Y, v.Z
	case r3.YAxis:
		return v.X, v.Z
	default:
		return v.X, v.Y
	}
}
