// Package scene holds the objects of the AR view, grouped by name and drawn in
// group-then-insertion order.
//
// Additions, removals and flushes share one lock. The renderer walks the world
// without that lock: every structural change publishes a new immutable layout and
// bumps a version, and a walk that sees the version move restarts.
package scene

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"ar-engine/internal/imagecache"
	"ar-engine/internal/observer"
	"ar-engine/internal/projector"
)

// ErrConcurrentMutation aborts a walk that raced a structural change. Walk and
// Collect retry on it.
var ErrConcurrentMutation = errors.New("scene: concurrent mutation")

// ErrAttached is returned when adding an object that already belongs to another
// world or group.
var ErrAttached = errors.New("scene: object already attached")

const walkRetries = 3

// Observer is told about structural changes of a World.
type Observer interface {
	GroupCreated(g *Group)
	ObjectDetached(o *Object)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnGroupCreated   func(g *Group)
	OnObjectDetached func(o *Object)
}

func (f ObserverFuncs) GroupCreated(g *Group) {
	if f.OnGroupCreated != nil {
		f.OnGroupCreated(g)
	}
}

func (f ObserverFuncs) ObjectDetached(o *Object) {
	if f.OnObjectDetached != nil {
		f.OnObjectDetached(o)
	}
}

// Group is a named, ordered set of objects sharing a default image.
type Group struct {
	name string

	mu             sync.Mutex
	defaultImage   string
	defaultTexture Texture

	// guarded by World.mu
	objects []*Object
	pending []*Object
}

func (g *Group) Name() string { return g.name }

// DefaultImage is the URI drawn for objects whose own texture is not loaded yet.
func (g *Group) DefaultImage() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.defaultImage
}

func (g *Group) DefaultTexture() Texture {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.defaultTexture
}

func (g *Group) SetDefaultTexture(t Texture) {
	g.mu.Lock()
	g.defaultTexture = t
	g.mu.Unlock()
}

// layout is an immutable view of the world; a new one is published on every change.
type layout struct {
	groups  []*Group
	objects [][]*Object
}

// World is the scene container. The zero value is not usable; call NewWorld.
type World struct {
	mu     sync.Mutex
	groups []*Group
	byName map[string]*Group

	current atomic.Pointer[layout]
	version atomic.Uint64

	viewerMu  sync.RWMutex
	viewer    projector.GeoPosition
	hasViewer bool

	cache     *imagecache.Cache
	observers observer.Registry[Observer]
}

func NewWorld() *World {
	w := &World{byName: make(map[string]*Group)}
	w.current.Store(&layout{})
	return w
}

// AddObserver registers obs for group creation and detach events.
func (w *World) AddObserver(obs Observer) observer.ID {
	return w.observers.Add(obs)
}

func (w *World) RemoveObserver(id observer.ID) {
	w.observers.Remove(id)
}

// Add appends o to the named group, creating the group on first use. Adding an
// object twice to the same group is a no-op.
func (w *World) Add(o *Object, group string) error {
	w.mu.Lock()
	o.mu.Lock()
	if o.world != nil && (o.world != w || o.group != group) {
		o.mu.Unlock()
		w.mu.Unlock()
		return fmt.Errorf("%w: object %d in group %q", ErrAttached, o.id, o.group)
	}
	g, created := w.groupLocked(group)
	if o.world == w {
		o.mu.Unlock()
		w.mu.Unlock()
		return nil
	}
	o.world, o.group = w, group
	o.mu.Unlock()
	g.objects = append(slices.Clip(g.objects), o)
	w.publishLocked()
	w.mu.Unlock()

	if created {
		w.observers.Each(func(obs Observer) { obs.GroupCreated(g) })
	}
	return nil
}

// groupLocked returns the named group, creating it when missing.
func (w *World) groupLocked(name string) (*Group, bool) {
	if g, ok := w.byName[name]; ok {
		return g, false
	}
	g := &Group{name: name}
	w.byName[name] = g
	w.groups = append(slices.Clip(w.groups), g)
	w.publishLocked()
	return g, true
}

// Remove hides o at once and queues it for removal at the next Flush.
func (w *World) Remove(o *Object) {
	o.SetVisible(false)
	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.byName[o.Group()]
	if !ok || slices.Contains(g.pending, o) || !slices.Contains(g.objects, o) {
		return
	}
	g.pending = append(g.pending, o)
}

// Flush removes every queued object, detaches it and notifies object and world
// observers. It returns the number of objects removed.
func (w *World) Flush() int {
	w.mu.Lock()
	var detached []*Object
	for _, g := range w.groups {
		if len(g.pending) == 0 {
			continue
		}
		kept := make([]*Object, 0, len(g.objects))
		for _, o := range g.objects {
			if !slices.Contains(g.pending, o) {
				kept = append(kept, o)
			}
		}
		detached = append(detached, g.pending...)
		g.objects = kept
		g.pending = nil
	}
	if len(detached) > 0 {
		w.publishLocked()
	}
	w.mu.Unlock()

	for _, o := range detached {
		o.mu.Lock()
		o.world, o.group = nil, ""
		o.mu.Unlock()
		o.notify(EventDetached)
		w.observers.Each(func(obs Observer) { obs.ObjectDetached(o) })
	}
	return len(detached)
}

// Pending returns the number of objects waiting for Flush.
func (w *World) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, g := range w.groups {
		n += len(g.pending)
	}
	return n
}

func (w *World) publishLocked() {
	l := &layout{groups: slices.Clone(w.groups), objects: make([][]*Object, len(w.groups))}
	for i, g := range w.groups {
		l.objects[i] = g.objects
	}
	w.current.Store(l)
	w.version.Add(1)
}

// Version increases on every structural change.
func (w *World) Version() uint64 { return w.version.Load() }

func (w *World) walkOnce(visit func(g *Group, o *Object)) error {
	v := w.version.Load()
	l := w.current.Load()
	for i, g := range l.groups {
		for _, o := range l.objects[i] {
			visit(g, o)
			if w.version.Load() != v {
				return ErrConcurrentMutation
			}
		}
	}
	if w.version.Load() != v {
		return ErrConcurrentMutation
	}
	return nil
}

// Walk calls visit for every object in group-then-insertion order without holding
// the world lock. A structural change during the walk restarts it, so visit may see
// an object more than once; after a few restarts the walk runs over a copy taken
// under the lock.
func (w *World) Walk(visit func(g *Group, o *Object)) {
	for i := 0; i < walkRetries; i++ {
		if err := w.walkOnce(visit); err == nil {
			return
		}
	}
	w.mu.Lock()
	groups := slices.Clone(w.groups)
	objects := make([][]*Object, len(groups))
	for i, g := range groups {
		objects[i] = slices.Clone(g.objects)
	}
	w.mu.Unlock()
	for i, g := range groups {
		for _, o := range objects[i] {
			visit(g, o)
		}
	}
}

// Collect returns all objects in draw order.
func (w *World) Collect() []*Object {
	var out []*Object
	for i := 0; i < walkRetries; i++ {
		out = out[:0]
		err := w.walkOnce(func(_ *Group, o *Object) { out = append(out, o) })
		if err == nil {
			return out
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out = out[:0]
	for _, g := range w.groups {
		out = append(out, g.objects...)
	}
	return out
}

// Groups returns the groups in creation order.
func (w *World) Groups() []*Group {
	return slices.Clone(w.current.Load().groups)
}

// Group looks up a group by name.
func (w *World) Group(name string) (*Group, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	g, ok := w.byName[name]
	return g, ok
}

// Len is the number of live objects, including those pending removal.
func (w *World) Len() int {
	l := w.current.Load()
	n := 0
	for _, objs := range l.objects {
		n += len(objs)
	}
	return n
}

// SetGroupDefaultImage sets the fallback image of a group, creating the group when
// needed. Changing the URI drops the previous default texture.
func (w *World) SetGroupDefaultImage(group, uri string) {
	w.mu.Lock()
	g, created := w.groupLocked(group)
	w.mu.Unlock()

	g.mu.Lock()
	if g.defaultImage != uri {
		g.defaultImage = uri
		g.defaultTexture = Texture{}
	}
	g.mu.Unlock()
	if created {
		w.observers.Each(func(obs Observer) { obs.GroupCreated(g) })
	}
}

// SetViewer moves the viewer. Geo objects are projected relative to it.
func (w *World) SetViewer(pos projector.GeoPosition) {
	w.viewerMu.Lock()
	w.viewer, w.hasViewer = pos, true
	w.viewerMu.Unlock()
}

// Viewer returns the viewer position, ok is false until one was set.
func (w *World) Viewer() (pos projector.GeoPosition, ok bool) {
	w.viewerMu.RLock()
	defer w.viewerMu.RUnlock()
	return w.viewer, w.hasViewer
}

// SetImageCache attaches the cache whose images the world's objects show. The
// world owns it from now on and closes it in Close.
func (w *World) SetImageCache(c *imagecache.Cache) {
	w.mu.Lock()
	w.cache = c
	w.mu.Unlock()
}

func (w *World) ImageCache() *imagecache.Cache {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache
}

// Close stops the attached image cache.
func (w *World) Close() {
	if c := w.ImageCache(); c != nil {
		c.Close()
	}
}
