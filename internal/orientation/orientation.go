// Package orientation turns device sensor readings into the view matrix of the AR
// camera. World axes are x = east, y = north, z = up. The camera looks along the
// device -z axis with device +y up, so camera and device coordinates coincide.
package orientation

import (
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
)

// Source provides the latest view orientation. Implementations are polled once per
// frame and must be safe for concurrent use.
type Source interface {
	ViewMatrix() mgl64.Mat4
}

// DefaultSmoothing is the low-pass factor applied to raw sensor samples.
const DefaultSmoothing = 0.2

// minFieldNorm rejects free fall and readings near the magnetic pole.
const minFieldNorm = 0.1

// RotationMatrix computes the rotation from device to world coordinates given the
// gravity and geomagnetic vectors, both in device coordinates. ok is false when the
// device is in free fall or the field is parallel to gravity.
func RotationMatrix(gravity, geomagnetic r3.Vector) (r mgl64.Mat3, ok bool) {
	if gravity.Norm() < minFieldNorm {
		return mgl64.Ident3(), false
	}
	h := geomagnetic.Cross(gravity)
	if h.Norm() < minFieldNorm {
		return mgl64.Ident3(), false
	}
	h = h.Normalize()
	a := gravity.Normalize()
	m := a.Cross(h)
	// rows are east, north, up
	return mgl64.Mat3{
		h.X, m.X, a.X,
		h.Y, m.Y, a.Y,
		h.Z, m.Z, a.Z,
	}, true
}

// ViewFromRotation returns the world-to-camera matrix for a device-to-world rotation.
func ViewFromRotation(r mgl64.Mat3) mgl64.Mat4 {
	return r.Transpose().Mat4()
}

// Forward is the camera viewing direction in world coordinates.
func Forward(view mgl64.Mat4) r3.Vector {
	row := view.Row(2)
	return r3.Vector{X: -row[0], Y: -row[1], Z: -row[2]}
}

// Up is the camera up direction in world coordinates.
func Up(view mgl64.Mat4) r3.Vector {
	row := view.Row(1)
	return r3.Vector{X: row[0], Y: row[1], Z: row[2]}
}

// Fusion combines accelerometer and magnetometer samples into an orientation.
type Fusion struct {
	mu        sync.Mutex
	smoothing float64
	gravity   r3.Vector
	field     r3.Vector
	hasG      bool
	hasM      bool
	view      mgl64.Mat4
}

// NewFusion returns a fusion whose samples are smoothed by factor (0 < factor <= 1,
// 1 disables smoothing). Out of range factors select DefaultSmoothing.
func NewFusion(factor float64) *Fusion {
	if !(factor > 0 && factor <= 1) {
		factor = DefaultSmoothing
	}
	return &Fusion{smoothing: factor, view: defaultView()}
}

// UpdateAccelerometer feeds one accelerometer sample in m/s².
func (f *Fusion) UpdateAccelerometer(x, y, z float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gravity = f.lowPass(f.gravity, r3.Vector{X: x, Y: y, Z: z}, f.hasG)
	f.hasG = true
	f.recomputeLocked()
}

// UpdateMagneticField feeds one magnetometer sample in µT.
func (f *Fusion) UpdateMagneticField(x, y, z float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.field = f.lowPass(f.field, r3.Vector{X: x, Y: y, Z: z}, f.hasM)
	f.hasM = true
	f.recomputeLocked()
}

func (f *Fusion) lowPass(prev, sample r3.Vector, primed bool) r3.Vector {
	if !primed {
		return sample
	}
	return prev.Add(sample.Sub(prev).Mul(f.smoothing))
}

func (f *Fusion) recomputeLocked() {
	if !f.hasG || !f.hasM {
		return
	}
	if r, ok := RotationMatrix(f.gravity, f.field); ok {
		f.view = ViewFromRotation(r)
	}
}

// ViewMatrix returns the last valid orientation; before any valid sample pair it
// looks north at the horizon.
func (f *Fusion) ViewMatrix() mgl64.Mat4 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

// YawPitch is a Source driven by a compass heading and an elevation angle, for
// desktops without sensors.
type YawPitch struct {
	mu    sync.Mutex
	yaw   float64 // degrees clockwise from north
	pitch float64 // degrees above the horizon
}

const maxPitch = 89

// Set replaces the heading and elevation. Pitch is clamped to ±89°.
func (s *YawPitch) Set(yaw, pitch float64) {
	s.mu.Lock()
	s.yaw, s.pitch = normalizeYaw(yaw), clampPitch(pitch)
	s.mu.Unlock()
}

// Rotate turns the view by the given deltas in degrees.
func (s *YawPitch) Rotate(dYaw, dPitch float64) {
	s.mu.Lock()
	s.yaw, s.pitch = normalizeYaw(s.yaw+dYaw), clampPitch(s.pitch+dPitch)
	s.mu.Unlock()
}

// Angles returns the heading and elevation in degrees.
func (s *YawPitch) Angles() (yaw, pitch float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yaw, s.pitch
}

func (s *YawPitch) ViewMatrix() mgl64.Mat4 {
	yaw, pitch := s.Angles()
	return lookFrom(yaw, pitch)
}

func lookFrom(yaw, pitch float64) mgl64.Mat4 {
	y, p := mgl64.DegToRad(yaw), mgl64.DegToRad(pitch)
	forward := mgl64.Vec3{math.Sin(y) * math.Cos(p), math.Cos(y) * math.Cos(p), math.Sin(p)}
	return mgl64.LookAtV(mgl64.Vec3{}, forward, mgl64.Vec3{0, 0, 1})
}

func defaultView() mgl64.Mat4 { return lookFrom(0, 0) }

func normalizeYaw(y float64) float64 {
	y = math.Mod(y, 360)
	if y < 0 {
		y += 360
	}
	return y
}

func clampPitch(p float64) float64 {
	return mgl64.Clamp(p, -maxPitch, maxPitch)
}
