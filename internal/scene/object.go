package scene

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"ar-engine/internal/observer"
	"ar-engine/internal/physics"
	"ar-engine/internal/projector"
)

// ObjectID identifies an object for the lifetime of the process.
type ObjectID uint64

var lastObjectID atomic.Uint64

// Texture is a backend texture handle. The zero value means no texture.
type Texture struct {
	ID     uint32
	Width  int
	Height int
}

// Valid reports whether t refers to an uploaded texture.
func (t Texture) Valid() bool { return t.ID != 0 }

// Aspect is width over height, 1 for an unknown size.
func (t Texture) Aspect() float64 {
	if t.Width <= 0 || t.Height <= 0 {
		return 1
	}
	return float64(t.Width) / float64(t.Height)
}

// Positionable objects live at a scene position.
type Positionable interface {
	Position() r3.Vector
	SetPosition(r3.Vector)
}

// Texturable objects show an image loaded from a URI.
type Texturable interface {
	ImageURI() string
	Texture() Texture
	SetTexture(Texture)
}

// Renderable lets backend or animation specific code hook into the per-frame
// draw decision of one object.
type Renderable interface {
	// ForceDraw draws the object even beyond the maximum render distance.
	ForceDraw() bool
	Rendered(o *Object)
	NotRendered(o *Object, distance float64)
}

// ObjectEvent is what an ObjectListener is told about.
type ObjectEvent int

const (
	EventDetached ObjectEvent = iota
	EventTextureChanged
)

// ObjectListener observes a single object.
type ObjectListener func(o *Object, ev ObjectEvent)

// DefaultObjectHeight is the quad height in scene units.
const DefaultObjectHeight = 1.0

// Object is a textured quad anchored either at a geographic position or at a raw
// scene position. All methods are safe for concurrent use.
type Object struct {
	id ObjectID

	mu          sync.Mutex
	geo         projector.GeoPosition
	hasGeo      bool
	position    r3.Vector
	angle       r3.Vector // degrees
	height      float64
	texture     Texture
	imageURI    string
	visible     bool
	distance    float64
	corners     [4]r3.Vector
	center      r3.Vector
	hasCorners  bool
	failures    int
	lastAttempt time.Time
	plugin      Renderable
	group       string
	world       *World

	listeners observer.Registry[ObjectListener]
}

var (
	_ Positionable     = (*Object)(nil)
	_ Texturable       = (*Object)(nil)
	_ physics.Pickable = (*Object)(nil)
)

// NewObject returns a visible object at a raw scene position.
func NewObject(position r3.Vector, imageURI string) *Object {
	return &Object{
		id:       ObjectID(lastObjectID.Add(1)),
		position: position,
		height:   DefaultObjectHeight,
		imageURI: imageURI,
		visible:  true,
	}
}

// NewGeoObject returns a visible object whose scene position is projected from pos
// every frame.
func NewGeoObject(pos projector.GeoPosition, imageURI string) *Object {
	o := NewObject(r3.Vector{}, imageURI)
	o.geo, o.hasGeo = pos, true
	return o
}

func (o *Object) ID() ObjectID { return o.id }

// Geo returns the geographic anchor, if the object has one.
func (o *Object) Geo() (projector.GeoPosition, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.geo, o.hasGeo
}

func (o *Object) SetGeo(pos projector.GeoPosition) {
	o.mu.Lock()
	o.geo, o.hasGeo = pos, true
	o.mu.Unlock()
}

func (o *Object) Position() r3.Vector {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.position
}

func (o *Object) SetPosition(p r3.Vector) {
	o.mu.Lock()
	o.position = p
	o.mu.Unlock()
}

// Angle is the rotation in degrees: X tilts the quad, Z turns it around the up axis.
func (o *Object) Angle() r3.Vector {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.angle
}

func (o *Object) SetAngle(a r3.Vector) {
	o.mu.Lock()
	o.angle = a
	o.mu.Unlock()
}

// FaceOrigin turns the quad around the up axis so its front faces the viewer at
// the scene origin.
func (o *Object) FaceOrigin() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.position.X == 0 && o.position.Y == 0 {
		return
	}
	o.angle.Z = mgl64.RadToDeg(math.Atan2(-o.position.X, o.position.Y))
}

func (o *Object) Height() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.height
}

// SetHeight sets the quad height in scene units. Non-positive values are ignored.
func (o *Object) SetHeight(h float64) {
	if h <= 0 || math.IsNaN(h) || math.IsInf(h, 0) {
		return
	}
	o.mu.Lock()
	o.height = h
	o.mu.Unlock()
}

// Quad returns the local quad vertices, centered on the origin in the x/z plane
// with the front facing -y. The width follows the texture aspect ratio.
func (o *Object) Quad() [4]r3.Vector {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.localQuadLocked()
}

func (o *Object) localQuadLocked() [4]r3.Vector {
	hh := o.height / 2
	hw := o.height * o.texture.Aspect() / 2
	return [4]r3.Vector{
		{X: -hw, Z: -hh},
		{X: hw, Z: -hh},
		{X: hw, Z: hh},
		{X: -hw, Z: hh},
	}
}

// WorldQuad returns the quad rotated by the object's angle and moved to its scene
// position.
func (o *Object) WorldQuad() [4]r3.Vector {
	o.mu.Lock()
	defer o.mu.Unlock()
	q := o.localQuadLocked()
	rot := mgl64.Rotate3DZ(mgl64.DegToRad(o.angle.Z)).Mul3(mgl64.Rotate3DX(mgl64.DegToRad(o.angle.X)))
	for i, v := range q {
		r := rot.Mul3x1(mgl64.Vec3{v.X, v.Y, v.Z})
		q[i] = r3.Vector{X: r[0], Y: r[1], Z: r[2]}.Add(o.position)
	}
	return q
}

// PickQuad implements physics.Pickable.
func (o *Object) PickQuad() physics.Quad { return physics.Quad(o.WorldQuad()) }

// Distance is the distance from the viewer in meters as of the last frame.
func (o *Object) Distance() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.distance
}

func (o *Object) SetDistance(d float64) {
	o.mu.Lock()
	o.distance = d
	o.mu.Unlock()
}

func (o *Object) ImageURI() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.imageURI
}

// SetImageURI points the object at a new image. The current texture is dropped and
// the retry bookkeeping starts over.
func (o *Object) SetImageURI(uri string) {
	o.mu.Lock()
	if uri == o.imageURI {
		o.mu.Unlock()
		return
	}
	o.imageURI = uri
	o.texture = Texture{}
	o.failures = 0
	o.lastAttempt = time.Time{}
	o.mu.Unlock()
	o.notify(EventTextureChanged)
}

func (o *Object) Texture() Texture {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.texture
}

// SetTexture attaches a texture; the quad width rescales to its aspect ratio.
func (o *Object) SetTexture(t Texture) {
	o.mu.Lock()
	if t == o.texture {
		o.mu.Unlock()
		return
	}
	o.texture = t
	if t.Valid() {
		o.failures = 0
	}
	o.mu.Unlock()
	o.notify(EventTextureChanged)
}

func (o *Object) Visible() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.visible
}

func (o *Object) SetVisible(v bool) {
	o.mu.Lock()
	o.visible = v
	o.mu.Unlock()
}

// ScreenCorners returns the last computed screen-space corners (x, y in pixels, z
// depth) and their center. ok is false until they have been computed.
func (o *Object) ScreenCorners() (corners [4]r3.Vector, center r3.Vector, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.corners, o.center, o.hasCorners
}

func (o *Object) SetScreenCorners(corners [4]r3.Vector) {
	o.mu.Lock()
	o.corners = corners
	o.center = physics.Quad(corners).Center()
	o.hasCorners = true
	o.mu.Unlock()
}

// ShouldRequestTexture reports whether a texture request is due at now. After n
// failures the next attempt waits base*(n+1) since the last one. maxRetries > 0
// gives up after that many failures.
func (o *Object) ShouldRequestTexture(now time.Time, base time.Duration, maxRetries int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.imageURI == "" || o.texture.Valid() {
		return false
	}
	if maxRetries > 0 && o.failures >= maxRetries {
		return false
	}
	if o.lastAttempt.IsZero() {
		return true
	}
	return now.Sub(o.lastAttempt) >= base*time.Duration(o.failures+1)
}

// MarkTextureRequested records a texture request at now.
func (o *Object) MarkTextureRequested(now time.Time) {
	o.mu.Lock()
	o.lastAttempt = now
	o.mu.Unlock()
}

// MarkTextureFailed records a failed texture load.
func (o *Object) MarkTextureFailed() {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

// Failures is the number of failed texture loads since the last success.
func (o *Object) Failures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

func (o *Object) Renderable() Renderable {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plugin
}

// SetRenderable attaches a draw plugin; nil detaches it.
func (o *Object) SetRenderable(r Renderable) {
	o.mu.Lock()
	o.plugin = r
	o.mu.Unlock()
}

// Group is the name of the group the object was added to, empty when detached.
func (o *Object) Group() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.group
}

// AddListener registers fn for events about this object.
func (o *Object) AddListener(fn ObjectListener) observer.ID {
	return o.listeners.Add(fn)
}

func (o *Object) RemoveListener(id observer.ID) {
	o.listeners.Remove(id)
}

func (o *Object) notify(ev ObjectEvent) {
	o.listeners.Each(func(fn ObjectListener) { fn(o, ev) })
}
