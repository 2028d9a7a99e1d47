package scene

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ar-engine/internal/physics"
)

func TestAddCreatesGroupOnce(t *testing.T) {
	w := NewWorld()
	var created []string
	w.AddObserver(ObserverFuncs{OnGroupCreated: func(g *Group) { created = append(created, g.Name()) }})

	require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))
	require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))
	require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "friends"))

	assert.Equal(t, []string{"poi", "friends"}, created)
	assert.Equal(t, 3, w.Len())
}

func TestAddAttachedObject(t *testing.T) {
	w := NewWorld()
	o := NewObject(r3.Vector{}, "")
	require.NoError(t, w.Add(o, "a"))
	require.NoError(t, w.Add(o, "a"))
	assert.Equal(t, 1, w.Len())

	assert.ErrorIs(t, w.Add(o, "b"), ErrAttached)
	assert.ErrorIs(t, NewWorld().Add(o, "a"), ErrAttached)
}

func TestCollectOrder(t *testing.T) {
	w := NewWorld()
	a1, b1, a2 := NewObject(r3.Vector{}, ""), NewObject(r3.Vector{}, ""), NewObject(r3.Vector{}, "")
	require.NoError(t, w.Add(a1, "a"))
	require.NoError(t, w.Add(b1, "b"))
	require.NoError(t, w.Add(a2, "a"))

	assert.Equal(t, []*Object{a1, a2, b1}, w.Collect())
}

func TestDeferredRemoval(t *testing.T) {
	w := NewWorld()
	o := NewObject(r3.Vector{}, "")
	other := NewObject(r3.Vector{}, "")
	require.NoError(t, w.Add(o, "poi"))
	require.NoError(t, w.Add(other, "poi"))

	var objectEvents []ObjectEvent
	o.AddListener(func(_ *Object, ev ObjectEvent) { objectEvents = append(objectEvents, ev) })
	var detached []*Object
	w.AddObserver(ObserverFuncs{OnObjectDetached: func(o *Object) { detached = append(detached, o) }})

	w.Remove(o)
	w.Remove(o)
	assert.False(t, o.Visible())
	assert.Contains(t, w.Collect(), o, "removal waits for the next flush")
	assert.Equal(t, 1, w.Pending())
	assert.Empty(t, detached)

	assert.Equal(t, 1, w.Flush())
	assert.Equal(t, []*Object{other}, w.Collect())
	assert.Equal(t, []*Object{o}, detached)
	assert.Equal(t, []ObjectEvent{EventDetached}, objectEvents)
	assert.Empty(t, o.Group())

	assert.Equal(t, 0, w.Flush())
	require.NoError(t, NewWorld().Add(o, "poi"), "a detached object can join another world")
}

func TestRemoveUnknownObject(t *testing.T) {
	w := NewWorld()
	w.Remove(NewObject(r3.Vector{}, ""))
	assert.Equal(t, 0, w.Flush())
}

func TestWalkRestartsOnConcurrentChange(t *testing.T) {
	w := NewWorld()
	first := NewObject(r3.Vector{}, "")
	require.NoError(t, w.Add(first, "poi"))

	added := false
	visits := 0
	w.Walk(func(_ *Group, o *Object) {
		visits++
		if !added {
			added = true
			require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))
		}
	})
	// first pass aborted after one visit, second pass sees both objects
	assert.Equal(t, 3, visits)
}

func TestWalkFallsBackAfterRetries(t *testing.T) {
	w := NewWorld()
	require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))

	visits := 0
	w.Walk(func(_ *Group, o *Object) {
		visits++
		if visits <= walkRetries {
			require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))
		}
	})
	assert.Equal(t, walkRetries+w.Len(), visits)
}

func TestWalkFallbackAllowsMutation(t *testing.T) {
	w := NewWorld()
	require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))

	visits := 0
	w.Walk(func(_ *Group, o *Object) {
		visits++
		require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))
	})
	// each aborted pass adds one; the last pass covers the objects present when it began
	fallback := 1 + walkRetries
	assert.Equal(t, walkRetries+fallback, visits)
	assert.Equal(t, 1+walkRetries+fallback, w.Len())
}

func TestCollectDuringChange(t *testing.T) {
	w := NewWorld()
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Add(NewObject(r3.Vector{}, ""), "poi"))
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = w.Add(NewObject(r3.Vector{}, ""), "poi")
		}
	}()
	for i := 0; i < 50; i++ {
		got := w.Collect()
		assert.GreaterOrEqual(t, len(got), 10)
	}
	<-done
	assert.Len(t, w.Collect(), 110)
}

func TestGroupDefaultImage(t *testing.T) {
	w := NewWorld()
	created := 0
	w.AddObserver(ObserverFuncs{OnGroupCreated: func(*Group) { created++ }})

	w.SetGroupDefaultImage("poi", "res://marker")
	g, ok := w.Group("poi")
	require.True(t, ok)
	assert.Equal(t, "res://marker", g.DefaultImage())
	g.SetDefaultTexture(Texture{ID: 3, Width: 1, Height: 1})

	w.SetGroupDefaultImage("poi", "res://marker")
	assert.True(t, g.DefaultTexture().Valid())
	w.SetGroupDefaultImage("poi", "res://other")
	assert.False(t, g.DefaultTexture().Valid())
	assert.Equal(t, 1, created)
}

func TestQuadFollowsTextureAspect(t *testing.T) {
	o := NewObject(r3.Vector{}, "a.png")
	q := o.Quad()
	assert.InDelta(t, 1.0, q[1].X-q[0].X, 1e-9)

	var events []ObjectEvent
	o.AddListener(func(_ *Object, ev ObjectEvent) { events = append(events, ev) })
	o.SetTexture(Texture{ID: 1, Width: 200, Height: 100})
	q = o.Quad()
	assert.InDelta(t, 2.0, q[1].X-q[0].X, 1e-9)
	assert.InDelta(t, 1.0, q[3].Z-q[0].Z, 1e-9)
	assert.Equal(t, []ObjectEvent{EventTextureChanged}, events)

	o.SetImageURI("b.png")
	assert.False(t, o.Texture().Valid())
}

func TestFaceOriginPickQuad(t *testing.T) {
	o := NewObject(r3.Vector{X: 10}, "")
	o.FaceOrigin()
	assert.InDelta(t, -90, o.Angle().Z, 1e-9)

	q := o.PickQuad()
	for _, v := range q {
		assert.InDelta(t, 10, v.X, 1e-9, "quad stands in the plane x = 10")
	}
	ray := physics.NewRay(r3.Vector{}, r3.Vector{X: 1})
	_, hit, ok := ray.IntersectQuad(q)
	require.True(t, ok)
	assert.InDelta(t, 10, hit.X, 1e-9)
}

func TestTextureRequestBackoff(t *testing.T) {
	o := NewObject(r3.Vector{}, "a.png")
	base := 100 * time.Millisecond
	now := time.Unix(1000, 0)

	require.True(t, o.ShouldRequestTexture(now, base, 0))
	o.MarkTextureRequested(now)
	o.MarkTextureFailed()
	assert.False(t, o.ShouldRequestTexture(now.Add(150*time.Millisecond), base, 0))
	assert.True(t, o.ShouldRequestTexture(now.Add(200*time.Millisecond), base, 0))

	assert.False(t, o.ShouldRequestTexture(now.Add(time.Hour), base, 1), "gives up after max retries")

	o.SetTexture(Texture{ID: 9, Width: 1, Height: 1})
	assert.Equal(t, 0, o.Failures())
	assert.False(t, o.ShouldRequestTexture(now.Add(time.Hour), base, 0))

	assert.False(t, NewObject(r3.Vector{}, "").ShouldRequestTexture(now, base, 0))
}

func TestSetHeightIgnoresInvalid(t *testing.T) {
	o := NewObject(r3.Vector{}, "")
	o.SetHeight(-1)
	o.SetHeight(math.NaN())
	assert.Equal(t, DefaultObjectHeight, o.Height())
	o.SetHeight(3)
	assert.Equal(t, 3.0, o.Height())
}

func TestScreenCornersCenter(t *testing.T) {
	o := NewObject(r3.Vector{}, "")
	_, _, ok := o.ScreenCorners()
	assert.False(t, ok)
	o.SetScreenCorners([4]r3.Vector{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 20}, {X: 0, Y: 20}})
	_, c, ok := o.ScreenCorners()
	require.True(t, ok)
	assert.Equal(t, r3.Vector{X: 5, Y: 10}, c)
}
