// Package renderer runs the per-frame state machine of the AR view: orientation,
// texture handoff from the image cache, projection of geo objects, draw decisions
// with retry backoff, and picking against what was drawn.
package renderer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"ar-engine/internal/imagecache"
	"ar-engine/internal/observer"
	"ar-engine/internal/orientation"
	"ar-engine/internal/physics"
	"ar-engine/internal/projector"
	"ar-engine/internal/scene"
)

const (
	DefaultFieldOfView         = 60.0 // degrees, vertical
	DefaultNear                = 0.01
	DefaultFar                 = 1000.0
	DefaultMaxDistanceToRender = 10_000.0 // meters
	DefaultTextureRetryBase    = time.Second
	fpsWindow                  = time.Second
)

// groupConsumerBase keeps group consumer ids apart from object ids.
const groupConsumerBase imagecache.ConsumerID = 1 << 62

// ErrClosed is returned by TakeSnapshot after Close.
var ErrClosed = errors.New("renderer: closed")

// Frame describes one finished frame to listeners.
type Frame struct {
	Number uint64
	// Rendered holds the objects drawn this frame, nearest first.
	Rendered []*scene.Object
	FPS      float64
	At       time.Time
}

// FrameListener is notified on the render goroutine after every frame.
type FrameListener func(f Frame)

// Options configures a Renderer. Zero values select the defaults.
type Options struct {
	Backend     Backend
	Orientation orientation.Source
	Projector   *projector.Projector
	FieldOfView float64
	Near, Far   float64
	Logger      *slog.Logger
	// Clock is used for retry backoff and the fps window; nil means time.Now.
	Clock func() time.Time
}

// Settings are the tunables of a Renderer.
type Settings struct {
	MaxDistanceToRender  float64
	ComputeScreenCorners bool
	TextureRetryBase     time.Duration
	// MaxTextureRetries stops requesting an image after that many failures; 0
	// retries forever.
	MaxTextureRetries int
	FieldOfView       float64
	DistanceFactor    float64
}

type retryState struct {
	failures    int
	lastAttempt time.Time
}

type snapshotRequest struct {
	reply chan snapshotResult
}

type snapshotResult struct {
	img *image.RGBA
	err error
}

// Renderer draws a scene.World through a Backend. DrawFrame must be called from a
// single goroutine; every other method is safe for concurrent use.
type Renderer struct {
	backend Backend
	orient  orientation.Source
	proj    *projector.Projector
	log     *slog.Logger
	now     func() time.Time

	mu          sync.Mutex
	world       *scene.World
	worldObsID  observer.ID
	maxDistance float64
	corners     bool
	retryBase   time.Duration
	maxRetries  int
	fov         float64
	near, far   float64
	// last frame
	view, projM mgl64.Mat4
	width       int
	height      int
	rendered    []*scene.Object
	frame       uint64
	fps         float64
	closed      bool

	// queued from other goroutines, drained at the start of every frame
	qmu       sync.Mutex
	releases  []released
	detached  []*scene.Object
	snapshots []snapshotRequest

	// render goroutine only
	textures   *textureSet
	cache      *imagecache.Cache
	releaseID  observer.ID
	consumers  map[imagecache.ConsumerID]*scene.Object
	groupIDs   map[*scene.Group]imagecache.ConsumerID
	groupsByID map[imagecache.ConsumerID]*scene.Group
	groupRetry map[*scene.Group]*retryState
	fpsFrames  int
	fpsStart   time.Time

	listeners observer.Registry[FrameListener]
}

type released struct {
	uri string
	img *image.RGBA
}

// New returns a renderer. Backend is required.
func New(opts Options) *Renderer {
	if opts.Backend == nil {
		panic("renderer: nil backend")
	}
	if opts.Orientation == nil {
		opts.Orientation = &orientation.YawPitch{}
	}
	if opts.Projector == nil {
		opts.Projector = projector.New()
	}
	if opts.FieldOfView <= 0 {
		opts.FieldOfView = DefaultFieldOfView
	}
	if opts.Near <= 0 {
		opts.Near = DefaultNear
	}
	if opts.Far <= opts.Near {
		opts.Far = DefaultFar
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Renderer{
		backend:     opts.Backend,
		orient:      opts.Orientation,
		proj:        opts.Projector,
		log:         opts.Logger,
		now:         opts.Clock,
		maxDistance: DefaultMaxDistanceToRender,
		retryBase:   DefaultTextureRetryBase,
		fov:         opts.FieldOfView,
		near:        opts.Near,
		far:         opts.Far,
		view:        mgl64.Ident4(),
		projM:       mgl64.Ident4(),
		textures:    newTextureSet(opts.Backend, opts.Logger),
		consumers:   make(map[imagecache.ConsumerID]*scene.Object),
		groupIDs:    make(map[*scene.Group]imagecache.ConsumerID),
		groupsByID:  make(map[imagecache.ConsumerID]*scene.Group),
		groupRetry:  make(map[*scene.Group]*retryState),
	}
}

// SetScene replaces the world being drawn. Nil stops drawing objects.
func (r *Renderer) SetScene(w *scene.World) {
	r.mu.Lock()
	old, oldID := r.world, r.worldObsID
	r.world = w
	if w != nil {
		r.worldObsID = w.AddObserver(scene.ObserverFuncs{OnObjectDetached: r.queueDetached})
	}
	r.mu.Unlock()
	if old != nil && old != w {
		old.RemoveObserver(oldID)
	}
}

func (r *Renderer) Scene() *scene.World {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world
}

// SetPullCloserDistance sets the scene distance objects farther than which are
// pulled in to it. 0 disables.
func (r *Renderer) SetPullCloserDistance(d float64) { r.proj.SetPullCloserDistance(d) }

// SetPushAwayDistance sets the scene distance objects nearer than which are pushed
// out to it. 0 disables.
func (r *Renderer) SetPushAwayDistance(d float64) { r.proj.SetPushAwayDistance(d) }

// SetDistanceFactor sets how many meters one scene unit represents. It must be
// positive and finite; otherwise the previous factor is kept.
func (r *Renderer) SetDistanceFactor(f float64) error { return r.proj.SetDistanceFactor(f) }

// SetMaxDistanceToRender sets the distance in meters beyond which objects are not
// drawn unless their plugin forces it. 0 or less draws everything.
func (r *Renderer) SetMaxDistanceToRender(m float64) {
	r.mu.Lock()
	r.maxDistance = m
	r.mu.Unlock()
}

// SetComputeScreenCorners enables computing the screen-space corners of every drawn
// object.
func (r *Renderer) SetComputeScreenCorners(on bool) {
	r.mu.Lock()
	r.corners = on
	r.mu.Unlock()
}

// SetMaxTextureRetries gives up on an image after n failed loads; 0 retries forever.
func (r *Renderer) SetMaxTextureRetries(n int) {
	r.mu.Lock()
	r.maxRetries = max(0, n)
	r.mu.Unlock()
}

// SetTextureRetryBase sets the backoff unit between texture requests.
func (r *Renderer) SetTextureRetryBase(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	r.retryBase = d
	r.mu.Unlock()
}

// SetFieldOfView sets the vertical field of view in degrees.
func (r *Renderer) SetFieldOfView(deg float64) error {
	if !(deg > 0 && deg < 180) {
		return fmt.Errorf("renderer: field of view %v out of range", deg)
	}
	r.mu.Lock()
	r.fov = deg
	r.mu.Unlock()
	return nil
}

func (r *Renderer) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Settings{
		MaxDistanceToRender:  r.maxDistance,
		ComputeScreenCorners: r.corners,
		TextureRetryBase:     r.retryBase,
		MaxTextureRetries:    r.maxRetries,
		FieldOfView:          r.fov,
		DistanceFactor:       r.proj.DistanceFactor(),
	}
}

// AddListener registers fn to be called after every frame.
func (r *Renderer) AddListener(fn FrameListener) observer.ID { return r.listeners.Add(fn) }

func (r *Renderer) RemoveListener(id observer.ID) { r.listeners.Remove(id) }

// FPS is the frame rate measured over the last full window of at least a second.
func (r *Renderer) FPS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fps
}

// Rendered returns the objects drawn in the last frame, nearest first.
func (r *Renderer) Rendered() []*scene.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rendered)
}

// Textures is the number of textures currently uploaded. Call it from the render
// goroutine.
func (r *Renderer) Textures() int { return r.textures.len() }

func (r *Renderer) queueDetached(o *scene.Object) {
	r.qmu.Lock()
	r.detached = append(r.detached, o)
	r.qmu.Unlock()
}

func (r *Renderer) queueRelease(uri string, img *image.RGBA) {
	r.qmu.Lock()
	r.releases = append(r.releases, released{uri: uri, img: img})
	r.qmu.Unlock()
}

type frameSettings struct {
	world       *scene.World
	maxDistance float64
	corners     bool
	retryBase   time.Duration
	maxRetries  int
	fov         float64
	near, far   float64
}

func (r *Renderer) settings() frameSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return frameSettings{
		world:       r.world,
		maxDistance: r.maxDistance,
		corners:     r.corners,
		retryBase:   r.retryBase,
		maxRetries:  r.maxRetries,
		fov:         r.fov,
		near:        r.near,
		far:         r.far,
	}
}

// DrawFrame renders one frame.
func (r *Renderer) DrawFrame() {
	now := r.now()
	s := r.settings()

	// orientation
	view := r.orient.ViewMatrix()
	w, h := r.backend.Viewport()
	aspect := 1.0
	if w > 0 && h > 0 {
		aspect = float64(w) / float64(h)
	}
	proj := mgl64.Perspective(mgl64.DegToRad(s.fov), aspect, s.near, s.far)

	// finished loads, as one batch
	var cache *imagecache.Cache
	if s.world != nil {
		cache = s.world.ImageCache()
	}
	r.bindCache(cache)
	r.applyQueued()
	if cache != nil {
		cache.Drain(r.applyNotification)
	}

	r.backend.BeginFrame(view, proj)
	var rendered []*scene.Object
	if s.world != nil {
		r.ensureGroupTextures(s, cache, now)
		rendered = r.drawObjects(s, cache, now, view, proj, w, h)
	}
	r.serveSnapshots()
	r.backend.EndFrame()

	if s.world != nil {
		s.world.Flush()
		r.applyQueued()
	}

	slices.SortStableFunc(rendered, func(a, b *scene.Object) int {
		return cmp.Compare(a.Distance(), b.Distance())
	})

	r.mu.Lock()
	r.view, r.projM, r.width, r.height = view, proj, w, h
	r.rendered = rendered
	r.frame++
	r.tickFPSLocked(now)
	f := Frame{Number: r.frame, Rendered: slices.Clone(rendered), FPS: r.fps, At: now}
	r.mu.Unlock()

	r.listeners.Each(func(fn FrameListener) { fn(f) })
}

func (r *Renderer) tickFPSLocked(now time.Time) {
	if r.fpsStart.IsZero() {
		r.fpsStart = now
		return
	}
	r.fpsFrames++
	if elapsed := now.Sub(r.fpsStart); elapsed >= fpsWindow {
		r.fps = float64(r.fpsFrames) / elapsed.Seconds()
		r.fpsFrames = 0
		r.fpsStart = now
	}
}

// bindCache follows the image cache attached to the current world.
func (r *Renderer) bindCache(c *imagecache.Cache) {
	if c == r.cache {
		return
	}
	if r.cache != nil {
		r.cache.RemoveReleaseHandler(r.releaseID)
		r.textures.releaseAll()
	}
	r.cache = c
	if c != nil {
		r.releaseID = c.OnRelease(r.queueRelease)
	}
}

func (r *Renderer) applyQueued() {
	r.qmu.Lock()
	rel, det := r.releases, r.detached
	r.releases, r.detached = nil, nil
	r.qmu.Unlock()

	for _, x := range rel {
		r.textures.release(x.uri, x.img)
	}
	for _, o := range det {
		delete(r.consumers, imagecache.ConsumerID(o.ID()))
		r.textures.forget(o)
	}
}

func (r *Renderer) applyNotification(n imagecache.Notification) {
	if g, ok := r.groupsByID[n.Consumer]; ok {
		st := r.groupRetryState(g)
		if n.Err != nil || n.Image == nil {
			st.failures++
			r.log.Debug("group_default_image_failed", "group", g.Name(), "uri", n.URI, "err", n.Err)
			return
		}
		if g.DefaultImage() != n.URI {
			return
		}
		if err := r.textures.attachGroup(g, n.URI, n.Image); err != nil {
			st.failures++
			r.log.Warn("texture_upload_failed", "uri", n.URI, "err", err)
			return
		}
		st.failures = 0
		return
	}
	o, ok := r.consumers[n.Consumer]
	if !ok || o.ImageURI() != n.URI {
		return
	}
	if n.Err != nil || n.Image == nil {
		o.MarkTextureFailed()
		r.log.Debug("object_image_failed", "object", o.ID(), "uri", n.URI, "err", n.Err, "failures", o.Failures())
		return
	}
	if err := r.textures.attachObject(o, n.URI, n.Image); err != nil {
		o.MarkTextureFailed()
		r.log.Warn("texture_upload_failed", "uri", n.URI, "err", err)
	}
}

func (r *Renderer) groupRetryState(g *scene.Group) *retryState {
	st, ok := r.groupRetry[g]
	if !ok {
		st = &retryState{}
		r.groupRetry[g] = st
	}
	return st
}

func (r *Renderer) groupConsumer(g *scene.Group) imagecache.ConsumerID {
	id, ok := r.groupIDs[g]
	if !ok {
		id = groupConsumerBase + imagecache.ConsumerID(len(r.groupIDs)+1)
		r.groupIDs[g] = id
		r.groupsByID[id] = g
	}
	return id
}

func (r *Renderer) ensureGroupTextures(s frameSettings, cache *imagecache.Cache, now time.Time) {
	if cache == nil {
		return
	}
	for _, g := range s.world.Groups() {
		uri := g.DefaultImage()
		if uri == "" || g.DefaultTexture().Valid() {
			continue
		}
		st := r.groupRetryState(g)
		if r.textures.shareGroup(g, uri) {
			st.failures = 0
			continue
		}
		if s.maxRetries > 0 && st.failures >= s.maxRetries {
			continue
		}
		if !st.lastAttempt.IsZero() && now.Sub(st.lastAttempt) < s.retryBase*time.Duration(st.failures+1) {
			continue
		}
		st.lastAttempt = now
		r.log.Debug("group_default_image_missing", "group", g.Name(), "uri", uri)
		if img, ok := cache.GetFor(uri, r.groupConsumer(g)); ok {
			if err := r.textures.attachGroup(g, uri, img); err != nil {
				st.failures++
				r.log.Warn("texture_upload_failed", "uri", uri, "err", err)
			}
		}
	}
}

func (r *Renderer) drawObjects(s frameSettings, cache *imagecache.Cache, now time.Time, view, proj mgl64.Mat4, w, h int) []*scene.Object {
	viewer, hasViewer := s.world.Viewer()
	factor := r.proj.DistanceFactor()
	var rendered []*scene.Object
	for _, o := range s.world.Collect() {
		if !o.Visible() {
			continue
		}
		var dist float64
		if pos, ok := o.Geo(); ok {
			if !hasViewer {
				continue
			}
			dist = projector.Distance(viewer, pos)
			o.SetPosition(r.proj.Project(viewer, pos))
			o.FaceOrigin()
		} else {
			dist = o.Position().Norm() * factor
		}
		if math.IsNaN(dist) || math.IsInf(dist, 0) {
			continue
		}
		o.SetDistance(dist)

		plugin := o.Renderable()
		inRange := s.maxDistance <= 0 || dist < s.maxDistance
		if !inRange && (plugin == nil || !plugin.ForceDraw()) {
			if plugin != nil {
				plugin.NotRendered(o, dist)
			}
			continue
		}

		// An image already uploaded for another object is shared, not fetched
		// again; the cache may no longer hold it.
		shared := !o.Texture().Valid() && r.textures.shareObject(o, o.ImageURI())
		if !shared && cache != nil && o.ShouldRequestTexture(now, s.retryBase, s.maxRetries) {
			o.MarkTextureRequested(now)
			id := imagecache.ConsumerID(o.ID())
			r.consumers[id] = o
			uri := o.ImageURI()
			if img, ok := cache.GetFor(uri, id); ok {
				if err := r.textures.attachObject(o, uri, img); err != nil {
					o.MarkTextureFailed()
					r.log.Warn("texture_upload_failed", "uri", uri, "err", err)
				}
			}
		}

		tex := o.Texture()
		if !tex.Valid() {
			if g, ok := s.world.Group(o.Group()); ok {
				tex = g.DefaultTexture()
			}
		}
		quad := o.WorldQuad()
		r.backend.DrawQuad(quad, tex)
		if s.corners && w > 0 && h > 0 {
			o.SetScreenCorners(screenCorners(quad, view, proj, w, h))
		}

		rendered = append(rendered, o)
		if plugin != nil {
			plugin.Rendered(o)
		}
	}
	return rendered
}

// screenCorners projects world-space corners into window pixels with y growing
// downwards; z is the depth in [0, 1].
func screenCorners(quad [4]r3.Vector, view, proj mgl64.Mat4, w, h int) [4]r3.Vector {
	var out [4]r3.Vector
	for i, v := range quad {
		p := mgl64.Project(mgl64.Vec3{v.X, v.Y, v.Z}, view, proj, 0, 0, w, h)
		out[i] = r3.Vector{X: p[0], Y: float64(h) - p[1], Z: p[2]}
	}
	return out
}

// Pick returns the objects drawn in the last frame under window pixel (x, y), y
// growing downwards, nearest first by their distance from the viewer.
func (r *Renderer) Pick(x, y float64) []*scene.Object {
	r.mu.Lock()
	view, proj, w, h := r.view, r.projM, r.width, r.height
	candidates := slices.Clone(r.rendered)
	r.mu.Unlock()

	ray, ok := pickRay(x, y, view, proj, w, h)
	if !ok {
		return nil
	}
	// Every candidate was drawn, including forced ones beyond the render distance.
	return physics.Pick(ray, candidates, 0)
}

func pickRay(x, y float64, view, proj mgl64.Mat4, w, h int) (physics.Ray, bool) {
	if w <= 0 || h <= 0 {
		return physics.Ray{}, false
	}
	win := mgl64.Vec3{x, float64(h) - y, 0}
	near, err := mgl64.UnProject(win, view, proj, 0, 0, w, h)
	if err != nil {
		return physics.Ray{}, false
	}
	win[2] = 1
	far, err := mgl64.UnProject(win, view, proj, 0, 0, w, h)
	if err != nil {
		return physics.Ray{}, false
	}
	origin := r3.Vector{X: near[0], Y: near[1], Z: near[2]}
	dir := r3.Vector{X: far[0] - near[0], Y: far[1] - near[1], Z: far[2] - near[2]}
	return physics.NewRay(origin, dir), true
}

// TakeSnapshot returns the framebuffer contents of the next frame. It blocks until
// that frame is drawn or ctx is done.
func (r *Renderer) TakeSnapshot(ctx context.Context) (*image.RGBA, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	req := snapshotRequest{reply: make(chan snapshotResult, 1)}
	r.qmu.Lock()
	r.snapshots = append(r.snapshots, req)
	r.qmu.Unlock()
	select {
	case res := <-req.reply:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Renderer) serveSnapshots() {
	r.qmu.Lock()
	reqs := r.snapshots
	r.snapshots = nil
	r.qmu.Unlock()
	if len(reqs) == 0 {
		return
	}
	img, err := r.backend.ReadPixels()
	for _, req := range reqs {
		res := snapshotResult{img: img, err: err}
		if err == nil && len(reqs) > 1 {
			res.img = &image.RGBA{Pix: slices.Clone(img.Pix), Stride: img.Stride, Rect: img.Rect}
		}
		req.reply <- res
	}
}

// Close releases every texture and detaches from the world and its cache. Pending
// snapshot requests fail with ErrClosed.
func (r *Renderer) Close() {
	r.SetScene(nil)
	r.bindCache(nil)
	r.textures.releaseAll()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.qmu.Lock()
	reqs := r.snapshots
	r.snapshots = nil
	r.qmu.Unlock()
	for _, req := range reqs {
		req.reply <- snapshotResult{err: ErrClosed}
	}
}
