package graphics

import (
	"fmt"
	"runtime"

	rl "github.com/gen2brain/raylib-go/raylib"

	"ar-engine/internal/imagecache"
	"ar-engine/internal/scene"
)

const (
	hudFontSize   = 20
	hudPadding    = 12
	hudLineHeight = hudFontSize + 4
	// updateInterval: only refresh text every N frames to reduce allocations.
	updateInterval = 30
)

var cornerColor = rl.NewColor(255, 200, 0, 220)

// Stats is what the overlay reads each refresh.
type Stats struct {
	FPS      float64
	Rendered int
	Objects  int
	Cache    imagecache.Stats
}

// Overlay draws the HUD: fps, object counts, cache usage and memory at the top
// right, plus the screen corners of rendered objects when enabled.
type Overlay struct {
	ShowFPS     bool
	ShowStats   bool
	ShowCorners bool
	Font        rl.Font

	frameCount uint32
	lines      []string
	mem        runtime.MemStats
}

func NewOverlay() *Overlay {
	return &Overlay{}
}

// Draw renders the enabled parts. stats is only called when text is refreshed.
func (o *Overlay) Draw(stats func() Stats, rendered []*scene.Object) {
	if o.ShowCorners {
		for _, obj := range rendered {
			drawCorners(obj)
		}
	}
	if !o.ShowFPS && !o.ShowStats {
		return
	}
	o.frameCount++
	if o.frameCount%updateInterval == 0 || o.lines == nil {
		o.refresh(stats())
	}
	screenW := int32(rl.GetScreenWidth())
	y := int32(hudPadding)
	for _, text := range o.lines {
		w := measureText(o.Font, text, hudFontSize)
		drawText(o.Font, text, screenW-w-hudPadding, y, hudFontSize, rl.Green)
		y += hudLineHeight
	}
}

func (o *Overlay) refresh(s Stats) {
	o.lines = o.lines[:0]
	if o.ShowFPS {
		o.lines = append(o.lines, fmt.Sprintf("FPS: %.0f", s.FPS))
	}
	if o.ShowStats {
		runtime.ReadMemStats(&o.mem)
		o.lines = append(o.lines,
			fmt.Sprintf("Objects: %d/%d", s.Rendered, s.Objects),
			fmt.Sprintf("Cache: %.1f/%.1f MiB (%d)", mib(s.Cache.Bytes), mib(s.Cache.Budget), s.Cache.Entries),
			fmt.Sprintf("Hits: %d Misses: %d", s.Cache.Hits, s.Cache.Misses),
			fmt.Sprintf("Mem: %.2f MiB", mib(int(o.mem.Alloc))),
		)
	}
}

func mib(n int) float64 { return float64(n) / (1024 * 1024) }

func drawCorners(obj *scene.Object) {
	c, _, ok := obj.ScreenCorners()
	if !ok {
		return
	}
	for i := range c {
		j := (i + 1) % len(c)
		rl.DrawLineV(
			rl.NewVector2(float32(c[i].X), float32(c[i].Y)),
			rl.NewVector2(float32(c[j].X), float32(c[j].Y)),
			cornerColor)
	}
}
