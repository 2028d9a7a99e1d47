package imagecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h, color.RGBA{R: 200, A: 255})))
	return buf.Bytes()
}

// gatedSource counts Open calls and blocks them until the gate is closed.
type gatedSource struct {
	calls atomic.Int32
	gate  chan struct{}
	data  []byte
	fail  func(call int32) error
}

func (s *gatedSource) Open(ctx context.Context, ref Ref) ([]byte, error) {
	n := s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail != nil {
		if err := s.fail(n); err != nil {
			return nil, err
		}
	}
	return s.data, nil
}

func newTestCache(t *testing.T, budget int, src Source, opts ...func(*Options)) *Cache {
	t.Helper()
	o := Options{
		BudgetBytes:         budget,
		Workers:             4,
		MaxTextureDimension: -1,
		Sources:             map[Scheme]Source{SchemeFile: src, SchemeRemote: src, SchemeAsset: src},
	}
	for _, fn := range opts {
		fn(&o)
	}
	c := New(o)
	t.Cleanup(c.Close)
	return c
}

// drainUntil collects notifications until at least n have arrived.
func drainUntil(t *testing.T, c *Cache, n int) []Notification {
	t.Helper()
	var got []Notification
	require.Eventually(t, func() bool {
		c.Drain(func(x Notification) { got = append(got, x) })
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestStoreThenGetRoundTrip(t *testing.T) {
	c := newTestCache(t, 1<<20, &gatedSource{})
	img := solid(3, 2, color.RGBA{G: 255, A: 255})
	want := append([]byte(nil), img.Pix...)

	c.Store("assets://poi.png", img)
	got, ok := c.Get("assets://poi.png")
	require.True(t, ok)
	assert.Equal(t, want, got.Pix)
	assert.Equal(t, Loaded, c.State("assets://poi.png"))
	assert.Equal(t, uint64(1), c.Stats().Hits)
}

func TestStoreConvertsToRGBA(t *testing.T) {
	c := newTestCache(t, 1<<20, &gatedSource{})
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	got := c.Store("a", gray)
	assert.Equal(t, 16, len(got.Pix))
	assert.Equal(t, 16, c.Stats().Bytes)
}

func TestLRUBoundEvictsLeastRecentlyTouched(t *testing.T) {
	// Each 4x4 RGBA image is 64 bytes; the budget fits three.
	const size = 64
	c := newTestCache(t, 3*size, &gatedSource{})
	var releasedURIs []string
	c.OnRelease(func(uri string, _ *image.RGBA) { releasedURIs = append(releasedURIs, uri) })

	for _, uri := range []string{"a", "b", "c"} {
		c.Store(uri, solid(4, 4, color.RGBA{A: 255}))
	}
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Store("d", solid(4, 4, color.RGBA{A: 255}))
	assert.LessOrEqual(t, c.Stats().Bytes, 3*size)
	assert.Equal(t, []string{"b"}, releasedURIs)
	assert.Equal(t, NotLoaded, c.State("b"))
	for _, uri := range []string{"a", "c", "d"} {
		assert.Equal(t, Loaded, c.State(uri), uri)
	}

	for i := 0; i < 20; i++ {
		c.Store(string(rune('e'+i)), solid(4, 4, color.RGBA{A: 255}))
		assert.LessOrEqual(t, c.Stats().Bytes, 3*size)
	}
	assert.Equal(t, uint64(21), c.Stats().Evictions)
}

func TestOversizedEntryIsDroppedAfterUse(t *testing.T) {
	c := newTestCache(t, 64, &gatedSource{})
	released := 0
	c.OnRelease(func(string, *image.RGBA) { released++ })

	c.Store("big", solid(8, 8, color.RGBA{A: 255})) // 256 bytes
	assert.Equal(t, Loaded, c.State("big"))

	img, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, NotLoaded, c.State("big"))
	assert.Equal(t, 0, c.Stats().Bytes)
	assert.Equal(t, 0, released, "the caller still owns the image it was just handed")
}

func TestSingleFlight(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{}), data: pngBytes(t, 2, 2)}
	c := newTestCache(t, 1<<20, src)

	const k = 16
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(id ConsumerID) {
			defer wg.Done()
			_, ok := c.GetFor("http://example.test/poi.png", id)
			assert.False(t, ok)
		}(ConsumerID(i + 1))
	}
	wg.Wait()
	assert.Equal(t, Loading, c.State("http://example.test/poi.png"))

	close(src.gate)
	got := drainUntil(t, c, k)

	assert.Equal(t, int32(1), src.calls.Load())
	require.Len(t, got, k)
	seen := make(map[ConsumerID]int)
	for _, n := range got {
		require.NoError(t, n.Err)
		require.NotNil(t, n.Image)
		seen[n.Consumer]++
	}
	for i := 1; i <= k; i++ {
		assert.Equal(t, 1, seen[ConsumerID(i)])
	}
	assert.Equal(t, Loaded, c.State("http://example.test/poi.png"))
}

func TestDuplicateConsumerNotifiedOnce(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{}), data: pngBytes(t, 1, 1)}
	c := newTestCache(t, 1<<20, src)

	c.GetFor("poi.png", 7)
	c.GetFor("poi.png", 7)
	close(src.gate)
	got := drainUntil(t, c, 1)
	time.Sleep(20 * time.Millisecond)
	c.Drain(func(n Notification) { got = append(got, n) })
	assert.Len(t, got, 1)
}

func TestFailedLoadIsRetriedOnNextGet(t *testing.T) {
	src := &gatedSource{
		data: pngBytes(t, 1, 1),
		fail: func(call int32) error {
			if call == 1 {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	c := newTestCache(t, 1<<20, src)

	_, ok := c.GetFor("https://example.test/a.png", 1)
	require.False(t, ok)
	got := drainUntil(t, c, 1)
	var le *LoadError
	require.ErrorAs(t, got[0].Err, &le)
	assert.Nil(t, got[0].Image)
	assert.Equal(t, Error, c.State("https://example.test/a.png"))
	assert.Error(t, c.Err("https://example.test/a.png"))

	_, ok = c.GetFor("https://example.test/a.png", 1)
	require.False(t, ok)
	got = drainUntil(t, c, 1)
	require.NoError(t, got[0].Err)
	assert.Equal(t, int32(2), src.calls.Load())

	_, ok = c.Get("https://example.test/a.png")
	assert.True(t, ok)
}

func TestUndecodableDataIsLoadError(t *testing.T) {
	c := newTestCache(t, 1<<20, &gatedSource{data: []byte("not an image")})
	c.GetFor("junk.png", 1)
	got := drainUntil(t, c, 1)
	var le *LoadError
	assert.ErrorAs(t, got[0].Err, &le)
}

func TestUnknownSchemeFailsImmediately(t *testing.T) {
	src := &gatedSource{}
	c := newTestCache(t, 1<<20, src)

	_, ok := c.GetFor("ftp://example.test/a.png", 3)
	require.False(t, ok)

	var got []Notification
	c.Drain(func(n Notification) { got = append(got, n) })
	require.Len(t, got, 1)
	var se *SchemeError
	require.ErrorAs(t, got[0].Err, &se)
	assert.Equal(t, Error, c.State("ftp://example.test/a.png"))

	c.GetFor("ftp://example.test/a.png", 3)
	assert.Equal(t, 1, c.Drain(func(Notification) {}))
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestPurgeClearsConsumers(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{}), data: pngBytes(t, 1, 1)}
	c := newTestCache(t, 1<<20, src)
	released := 0
	c.OnRelease(func(string, *image.RGBA) { released++ })

	c.Store("kept.png", solid(1, 1, color.RGBA{A: 255}))
	c.GetFor("slow.png", 1)
	c.Purge()
	assert.Equal(t, 1, released)
	assert.Equal(t, NotLoaded, c.State("kept.png"))

	close(src.gate)
	require.Eventually(t, func() bool { return c.State("slow.png") == Loaded }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, c.Drain(func(Notification) {}))
}

func TestRemoveReleasesOnlyWithAlwaysRelease(t *testing.T) {
	for _, always := range []bool{false, true} {
		c := newTestCache(t, 1<<20, &gatedSource{}, func(o *Options) { o.AlwaysRelease = always })
		released := 0
		c.OnRelease(func(string, *image.RGBA) { released++ })
		c.Store("a", solid(1, 1, color.RGBA{A: 255}))
		assert.True(t, c.Remove("a"))
		assert.False(t, c.Remove("a"))
		if always {
			assert.Equal(t, 1, released)
		} else {
			assert.Equal(t, 0, released)
		}
		assert.Equal(t, 0, c.Stats().Bytes)
	}
}

func TestTrimSweepsRecycledFirst(t *testing.T) {
	c := newTestCache(t, 1<<20, &gatedSource{})
	var releasedURIs []string
	c.OnRelease(func(uri string, _ *image.RGBA) { releasedURIs = append(releasedURIs, uri) })

	c.Store("a", solid(4, 4, color.RGBA{A: 255}))
	c.Store("b", solid(4, 4, color.RGBA{A: 255}))
	c.Recycle("a")
	assert.Equal(t, NotLoaded, c.State("a"))

	c.Trim(64)
	assert.Equal(t, 64, c.Stats().Bytes)
	assert.Empty(t, releasedURIs)
	assert.Equal(t, Loaded, c.State("b"))

	c.Trim(0)
	assert.Equal(t, []string{"b"}, releasedURIs)
	assert.Equal(t, 0, c.Stats().Entries)
}

type countingObserver struct {
	mu                           sync.Mutex
	hits, misses, evicted, fails int
}

func (o *countingObserver) CacheHit()                { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *countingObserver) CacheMiss()               { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *countingObserver) CacheEvicted(int)         { o.mu.Lock(); o.evicted++; o.mu.Unlock() }
func (o *countingObserver) LoadFailed(string, error) { o.mu.Lock(); o.fails++; o.mu.Unlock() }

func TestStatsObserver(t *testing.T) {
	obs := &countingObserver{}
	c := newTestCache(t, 64, &gatedSource{}, func(o *Options) { o.Observer = obs })
	c.Store("a", solid(4, 4, color.RGBA{A: 255}))
	c.Get("a")
	c.Store("b", solid(4, 4, color.RGBA{A: 255}))
	c.Get("zzz://bad")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.evicted)
}
