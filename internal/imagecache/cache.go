// Package imagecache is a URI-keyed, byte-budgeted LRU of decoded images with
// asynchronous single-flight loading.
//
// Get never blocks on I/O: a miss schedules at most one load per URI on a small
// worker pool, and every consumer waiting on that URI is told the outcome through
// a queue the owning goroutine drains with Drain, once per frame.
package imagecache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"ar-engine/internal/download"
	"ar-engine/internal/observer"
)

const (
	DefaultBudgetBytes         = 32 << 20
	DefaultWorkers             = 4
	DefaultMaxTextureDimension = 1024
)

// ReleaseFunc frees whatever external resources were derived from img (GPU
// textures). It runs on the goroutine that caused the release, never under the
// cache lock.
type ReleaseFunc func(uri string, img *image.RGBA)

// StatsObserver receives cache events as they happen, for metrics export.
type StatsObserver interface {
	CacheHit()
	CacheMiss()
	CacheEvicted(bytes int)
	LoadFailed(uri string, err error)
}

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	BudgetBytes int
	Workers     int
	// MaxTextureDimension downsizes decoded images whose longest side is larger.
	// Negative disables resizing.
	MaxTextureDimension int
	// AlwaysRelease makes Remove call the release handlers too, not only eviction
	// and Purge, for callers that may still hold references to the image.
	AlwaysRelease bool
	Sources       map[Scheme]Source
	Observer      StatsObserver
	Logger        *slog.Logger
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Bytes     int
	Budget    int
	Entries   int
	Loading   int
}

type entry struct {
	uri   string
	img   *image.RGBA
	size  int
	state State
	err   error
	// recycled entries were invalidated from outside; they read as misses and
	// are swept before a forced trim.
	recycled bool
	// oversized marks a lone entry larger than the whole budget; it is dropped
	// right after its first hit.
	oversized bool
	elem      *list.Element
}

type released struct {
	uri      string
	img      *image.RGBA
	size     int
	callback bool
	evicted  bool
}

// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	budget    int
	bytes     int
	entries   map[string]*entry
	lru       *list.List // *entry, front is most recently used
	hits      uint64
	misses    uint64
	evictions uint64

	pending *pendingSet
	out     handoff
	pool    *pool
	ctx     context.Context
	cancel  context.CancelFunc

	sources       map[Scheme]Source
	maxDim        int
	alwaysRelease bool
	releases      observer.Registry[ReleaseFunc]
	stats         StatsObserver
	log           *slog.Logger
}

// New starts a cache and its worker pool. Call Close to stop the workers.
func New(opts Options) *Cache {
	if opts.BudgetBytes <= 0 {
		opts.BudgetBytes = DefaultBudgetBytes
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	switch {
	case opts.MaxTextureDimension == 0:
		opts.MaxTextureDimension = DefaultMaxTextureDimension
	case opts.MaxTextureDimension < 0:
		opts.MaxTextureDimension = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		budget:        opts.BudgetBytes,
		entries:       make(map[string]*entry),
		lru:           list.New(),
		pending:       newPendingSet(),
		ctx:           ctx,
		cancel:        cancel,
		sources:       opts.Sources,
		maxDim:        opts.MaxTextureDimension,
		alwaysRelease: opts.AlwaysRelease,
		stats:         opts.Observer,
		log:           opts.Logger,
	}
	if c.sources == nil {
		c.sources = map[Scheme]Source{SchemeFile: NewFileSource()}
	}
	c.pool = newPool(opts.Workers, c.load)
	return c
}

// DefaultSources wires the four schemes: resources and assets from directories,
// local files from disk, remote images through client (and blobs when non-nil).
func DefaultSources(resourcesDir, assetsDir string, client *download.Client, blobs BlobStore) (map[Scheme]Source, error) {
	res, err := NewDirSource(resourcesDir, ".png", ".jpg", ".webp")
	if err != nil {
		return nil, err
	}
	assets, err := NewDirSource(assetsDir)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = download.NewClient(0)
	}
	remote := &RemoteSource{Client: client}
	if blobs != nil {
		remote.Blobs = blobs
	}
	return map[Scheme]Source{
		SchemeResource: res,
		SchemeAsset:    assets,
		SchemeFile:     NewFileSource(),
		SchemeRemote:   remote,
	}, nil
}

// OnRelease registers fn to be called whenever an image leaves the cache through
// eviction, Purge, or (with AlwaysRelease) Remove.
func (c *Cache) OnRelease(fn ReleaseFunc) observer.ID {
	return c.releases.Add(fn)
}

// RemoveReleaseHandler drops a handler registered with OnRelease.
func (c *Cache) RemoveReleaseHandler(id observer.ID) {
	c.releases.Remove(id)
}

// Get returns the image for uri when it is loaded. Otherwise it reports false and
// makes sure a load is in flight.
func (c *Cache) Get(uri string) (*image.RGBA, bool) {
	return c.GetFor(uri, NoConsumer)
}

// GetFor is Get that also registers consumer to be notified through Drain when the
// load it joins or starts completes. A consumer is notified once per load attempt
// however many times it asks during that attempt.
func (c *Cache) GetFor(uri string, consumer ConsumerID) (*image.RGBA, bool) {
	c.mu.Lock()
	if e, ok := c.entries[uri]; ok {
		if e.state == Loaded && !e.recycled {
			c.lru.MoveToFront(e.elem)
			c.hits++
			var rel []released
			if e.oversized {
				rel = append(rel, c.dropLocked(e, false))
			}
			c.mu.Unlock()
			c.release(rel)
			if c.stats != nil {
				c.stats.CacheHit()
			}
			return e.img, true
		}
		var se *SchemeError
		if e.state == Error && errors.As(e.err, &se) {
			c.misses++
			c.mu.Unlock()
			c.miss(uri, consumer, e.err)
			return nil, false
		}
	}
	c.misses++
	ref, err := ParseURI(uri)
	if err != nil {
		c.entries[uri] = &entry{uri: uri, state: Error, err: err}
		c.mu.Unlock()
		c.log.Debug("image_uri_rejected", "uri", uri, "err", err)
		c.miss(uri, consumer, err)
		return nil, false
	}
	start := c.pending.register(uri, consumer)
	c.mu.Unlock()
	c.miss(uri, NoConsumer, nil)
	if start && !c.pool.submit(ref) {
		// closed cache: nobody will complete this load
		c.pending.complete(uri)
	}
	return nil, false
}

// miss records a miss and, for immediate failures, notifies the consumer.
func (c *Cache) miss(uri string, consumer ConsumerID, err error) {
	if c.stats != nil {
		c.stats.CacheMiss()
	}
	if err != nil && consumer != NoConsumer {
		c.out.push(Notification{URI: uri, Consumer: consumer, Err: err})
	}
}

// load runs on a worker goroutine.
func (c *Cache) load(ref Ref) {
	var img *image.RGBA
	var err error
	if src := c.sources[ref.Scheme]; src == nil {
		err = fmt.Errorf("no source for scheme %s", ref.Scheme)
	} else {
		var data []byte
		data, err = src.Open(c.ctx, ref)
		if err == nil {
			img, err = Decode(data, c.maxDim)
		}
	}
	if err != nil {
		err = &LoadError{URI: ref.URI, Err: err}
	}
	c.complete(ref.URI, img, err)
}

func (c *Cache) complete(uri string, img *image.RGBA, err error) {
	var rel []released
	c.mu.Lock()
	if err != nil {
		e, ok := c.entries[uri]
		if !ok || e.state != Loaded || e.recycled {
			if ok && e.state == Loaded {
				rel = append(rel, c.dropLocked(e, false))
			}
			c.entries[uri] = &entry{uri: uri, state: Error, err: err}
		}
	} else {
		rel = c.insertLocked(uri, img)
	}
	waiters := c.pending.complete(uri)
	c.mu.Unlock()

	notes := make([]Notification, 0, len(waiters))
	for _, w := range waiters {
		notes = append(notes, Notification{URI: uri, Consumer: w, Image: img, Err: err})
	}
	c.out.push(notes...)
	c.release(rel)
	if err != nil {
		c.log.Debug("image_load_failed", "uri", uri, "err", err, "consumers", len(waiters))
		if c.stats != nil {
			c.stats.LoadFailed(uri, err)
		}
	}
}

// Store inserts img under uri as Loaded, replacing any previous image, and evicts
// as needed. The stored RGBA image is returned; an *image.RGBA is stored as is.
func (c *Cache) Store(uri string, img image.Image) *image.RGBA {
	rgba := fit(img, 0)
	c.mu.Lock()
	rel := c.insertLocked(uri, rgba)
	c.mu.Unlock()
	c.release(rel)
	return rgba
}

func (c *Cache) insertLocked(uri string, img *image.RGBA) []released {
	var rel []released
	if old, ok := c.entries[uri]; ok && old.state == Loaded {
		r := c.dropLocked(old, false)
		r.callback = old.img != img && !old.recycled
		rel = append(rel, r)
	}
	e := &entry{uri: uri, img: img, size: footprint(img), state: Loaded}
	e.elem = c.lru.PushFront(e)
	c.entries[uri] = e
	c.bytes += e.size
	return append(rel, c.evictLocked(c.budget, true)...)
}

// evictLocked drops least recently used entries until the total is within target.
// With keepNewest a lone entry larger than target survives, marked oversized.
func (c *Cache) evictLocked(target int, keepNewest bool) []released {
	var rel []released
	for c.bytes > target {
		back := c.lru.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		if keepNewest && c.lru.Len() == 1 {
			e.oversized = true
			break
		}
		rel = append(rel, c.dropLocked(e, true))
	}
	return rel
}

// dropLocked unlinks a loaded entry and deletes it from the map.
func (c *Cache) dropLocked(e *entry, evicted bool) released {
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
		c.bytes -= e.size
	}
	if c.entries[e.uri] == e {
		delete(c.entries, e.uri)
	}
	if evicted {
		c.evictions++
	}
	return released{uri: e.uri, img: e.img, size: e.size, callback: evicted && !e.recycled, evicted: evicted}
}

func (c *Cache) release(rel []released) {
	for _, r := range rel {
		if r.callback && r.img != nil {
			c.releases.Each(func(fn ReleaseFunc) { fn(r.uri, r.img) })
		}
		if r.evicted && c.stats != nil {
			c.stats.CacheEvicted(r.size)
		}
	}
}

// Remove drops uri from the cache. It reports whether an entry existed. Release
// handlers run only when the cache was built with AlwaysRelease.
func (c *Cache) Remove(uri string) bool {
	c.mu.Lock()
	e, ok := c.entries[uri]
	if !ok {
		c.mu.Unlock()
		return false
	}
	r := c.dropLocked(e, false)
	c.mu.Unlock()
	if c.alwaysRelease && e.state == Loaded && !e.recycled {
		r.callback = true
		c.release([]released{r})
	}
	return true
}

// Recycle marks the loaded image for uri as no longer valid. It reads as a miss
// from now on and is swept by the next Trim.
func (c *Cache) Recycle(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uri]; ok && e.state == Loaded {
		e.recycled = true
	}
}

// Trim sweeps recycled entries, then evicts least recently used entries until at
// most target bytes remain.
func (c *Cache) Trim(target int) {
	if target < 0 {
		target = 0
	}
	c.mu.Lock()
	for e := c.lru.Back(); e != nil; {
		prev := e.Prev()
		if ent := e.Value.(*entry); ent.recycled {
			c.dropLocked(ent, false)
		}
		e = prev
	}
	rel := c.evictLocked(target, false)
	c.mu.Unlock()
	c.release(rel)
}

// Purge drops every entry, every consumer registration and every undelivered
// notification. Loads already in flight still complete into the cache, but nobody
// is notified.
func (c *Cache) Purge() {
	c.mu.Lock()
	var rel []released
	for _, e := range c.entries {
		if e.state == Loaded && !e.recycled {
			rel = append(rel, released{uri: e.uri, img: e.img, callback: true})
		}
	}
	c.entries = make(map[string]*entry)
	c.lru.Init()
	c.bytes = 0
	c.pending.clearConsumers()
	c.out.take()
	c.mu.Unlock()
	c.release(rel)
}

// Drain hands every notification queued since the last call to fn, on the
// caller's goroutine, and returns how many there were.
func (c *Cache) Drain(fn func(Notification)) int {
	items := c.out.take()
	for _, n := range items {
		fn(n)
	}
	return len(items)
}

// State reports the load state of uri.
func (c *Cache) State(uri string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending.loading(uri) {
		return Loading
	}
	e, ok := c.entries[uri]
	if !ok || e.recycled {
		return NotLoaded
	}
	return e.state
}

// Err returns the error of the last failed load of uri, if it is in the Error state.
func (c *Cache) Err(uri string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[uri]; ok && e.state == Error {
		return e.err
	}
	return nil
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Bytes:     c.bytes,
		Budget:    c.budget,
		Entries:   c.lru.Len(),
		Loading:   c.pending.len(),
	}
}

// Close stops the workers. Loads still queued are abandoned.
func (c *Cache) Close() {
	c.cancel()
	c.pool.close()
}
