// Package projector converts geographic positions into scene coordinates relative
// to the viewer. Scene axes are x = east, y = north, z = up; one scene unit is
// DistanceFactor meters.
package projector

import (
	"fmt"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// GeoPosition is a WGS84 position with altitude in meters.
type GeoPosition struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
	Alt float64 `json:"alt" yaml:"alt"`
}

func (g GeoPosition) point() orb.Point {
	return orb.Point{g.Lon, g.Lat}
}

// Projector holds the distance factor and legibility clamps. It is safe for
// concurrent use; setters may be called from any goroutine.
type Projector struct {
	mu             sync.RWMutex
	distanceFactor float64
	pullCloser     float64
	pushAway       float64
}

// New returns a projector with distance factor 1 and both clamps disabled.
func New() *Projector {
	return &Projector{distanceFactor: 1}
}

// SetDistanceFactor sets meters per scene unit. Non-positive values are rejected
// and the previous factor is kept.
func (p *Projector) SetDistanceFactor(f float64) error {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("projector: distance factor must be > 0, got %v", f)
	}
	p.mu.Lock()
	p.distanceFactor = f
	p.mu.Unlock()
	return nil
}

// DistanceFactor returns the current meters per scene unit.
func (p *Projector) DistanceFactor() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.distanceFactor
}

// SetPullCloserDistance sets the maximum planar radius in scene units. Values <= 0 disable it.
func (p *Projector) SetPullCloserDistance(d float64) {
	p.mu.Lock()
	p.pullCloser = d
	p.mu.Unlock()
}

// SetPushAwayDistance sets the minimum planar radius in scene units. Values <= 0 disable it.
func (p *Projector) SetPushAwayDistance(d float64) {
	p.mu.Lock()
	p.pushAway = d
	p.mu.Unlock()
}

// Offset returns the object's offset from the viewer in meters (east, north, up).
// East and north are great-circle distances along the viewer's parallel and meridian.
func Offset(viewer, obj GeoPosition) r3.Vector {
	east := geo.Distance(viewer.point(), orb.Point{obj.Lon, viewer.Lat})
	if obj.Lon < viewer.Lon {
		east = -east
	}
	north := geo.Distance(viewer.point(), orb.Point{viewer.Lon, obj.Lat})
	if obj.Lat < viewer.Lat {
		north = -north
	}
	return r3.Vector{X: east, Y: north, Z: obj.Alt - viewer.Alt}
}

// Distance returns the distance in meters between viewer and obj, altitude included.
func Distance(viewer, obj GeoPosition) float64 {
	return Offset(viewer, obj).Norm()
}

// Project returns the scene position of obj as seen from viewer: the metric offset
// divided by the distance factor, then clamped in the horizontal plane.
func (p *Projector) Project(viewer, obj GeoPosition) r3.Vector {
	p.mu.RLock()
	f, pull, push := p.distanceFactor, p.pullCloser, p.pushAway
	p.mu.RUnlock()
	return Clamp(Offset(viewer, obj).Mul(1/f), pull, push)
}

// Clamp keeps the horizontal (x, y) magnitude of v within [pushAway, pullCloser],
// preserving its direction. Disabled bounds (<= 0) and zero-length vectors pass
// through unchanged; z is never modified.
func Clamp(v r3.Vector, pullCloser, pushAway float64) r3.Vector {
	planar := math.Hypot(v.X, v.Y)
	if planar == 0 {
		return v
	}
	switch {
	case pullCloser > 0 && planar > pullCloser:
		return scalePlanar(v, pullCloser/planar)
	case pushAway > 0 && planar < pushAway:
		return scalePlanar(v, pushAway/planar)
	}
	return v
}

func scalePlanar(v r3.Vector, s float64) r3.Vector {
	return r3.Vector{X: v.X * s, Y: v.Y * s, Z: v.Z}
}
