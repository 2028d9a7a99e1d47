package commands

import (
	"errors"
	"flag"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ar-engine/internal/download"
	"ar-engine/internal/engineconfig"
	"ar-engine/internal/imagecache"
	"ar-engine/internal/renderer"
	"ar-engine/internal/scene"
)

type nullBackend struct{}

func (nullBackend) Viewport() (int, int)             { return 64, 48 }
func (nullBackend) BeginFrame(view, proj mgl64.Mat4) {}
func (nullBackend) DrawQuad([4]r3.Vector, scene.Texture) {}
func (nullBackend) ReadPixels() (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}
func (nullBackend) EndFrame() {}
func (nullBackend) UploadTexture(img *image.RGBA) (scene.Texture, error) {
	return scene.Texture{ID: 1, Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}, nil
}
func (nullBackend) ReleaseTexture(scene.Texture) {}

type lines struct {
	mu  sync.Mutex
	all []string
}

func (l *lines) log(s string) {
	l.mu.Lock()
	l.all = append(l.all, s)
	l.mu.Unlock()
}

func (l *lines) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.all {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func newViewer(t *testing.T) (*Registry, *Viewer, *lines) {
	t.Helper()
	cfg := engineconfig.Default()
	cache := imagecache.New(imagecache.Options{})
	world := scene.NewWorld()
	world.SetImageCache(cache)
	r := renderer.New(renderer.Options{Backend: nullBackend{}})
	r.SetScene(world)
	t.Cleanup(func() {
		r.Close()
		world.Close()
	})
	out := &lines{}
	v := &Viewer{
		Renderer:   r,
		World:      world,
		Cache:      cache,
		Client:     download.NewClient(time.Second),
		Config:     &cfg,
		ConfigPath: filepath.Join(t.TempDir(), "engine.yaml"),
		Log:        out.log,
	}
	reg := NewRegistry()
	RegisterViewerCommands(reg, v)
	return reg, v, out
}

func run(t *testing.T, reg *Registry, line string) error {
	t.Helper()
	args, ok := Parse(line)
	require.True(t, ok, line)
	return reg.Execute(args)
}

func TestParse(t *testing.T) {
	args, ok := Parse("cmd fov -deg 45")
	assert.True(t, ok)
	assert.Equal(t, []string{"fov", "-deg", "45"}, args)

	args, ok = Parse("cmd   ")
	assert.True(t, ok)
	assert.Nil(t, args)

	_, ok = Parse("hello")
	assert.False(t, ok)
}

func TestExecuteErrors(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", "echo", func(fs *flag.FlagSet) func() error {
		n := fs.Int("n", 1, "count")
		return func() error {
			if *n < 0 {
				return errors.New("negative")
			}
			return nil
		}
	})
	assert.ErrorContains(t, reg.Execute(nil), "missing subcommand")
	assert.ErrorContains(t, reg.Execute([]string{"nope"}), "unknown command")
	assert.Error(t, reg.Execute([]string{"echo", "-n", "x"}))
	assert.ErrorContains(t, reg.Execute([]string{"echo", "-n", "-1"}), "negative")

	err := reg.Execute([]string{"echo", "-h"})
	assert.ErrorIs(t, err, ErrHelp)
	assert.ErrorContains(t, err, "-n")
}

func TestFlagsDoNotLeakBetweenRuns(t *testing.T) {
	reg := NewRegistry()
	var seen []int
	reg.Register("n", "", func(fs *flag.FlagSet) func() error {
		n := fs.Int("v", 7, "")
		return func() error {
			seen = append(seen, *n)
			return nil
		}
	})
	require.NoError(t, reg.Execute([]string{"n", "-v", "3"}))
	require.NoError(t, reg.Execute([]string{"n"}))
	assert.Equal(t, []int{3, 7}, seen)
}

func TestDistanceCommand(t *testing.T) {
	reg, v, out := newViewer(t)
	require.NoError(t, run(t, reg, "cmd distance -factor 2 -max 500"))
	st := v.Renderer.Settings()
	assert.Equal(t, 2.0, st.DistanceFactor)
	assert.Equal(t, 500.0, st.MaxDistanceToRender)
	assert.Equal(t, 2.0, v.Config.DistanceFactor)
	assert.True(t, out.contains("factor=2"))

	assert.Error(t, run(t, reg, "cmd distance -factor 0"))
	assert.Equal(t, 2.0, v.Config.DistanceFactor)
}

func TestFOVAndRetries(t *testing.T) {
	reg, v, _ := newViewer(t)
	require.NoError(t, run(t, reg, "cmd fov -deg 45"))
	assert.Equal(t, 45.0, v.Renderer.Settings().FieldOfView)
	assert.Error(t, run(t, reg, "cmd fov -deg 200"))
	assert.Equal(t, 45.0, v.Config.FieldOfView)

	require.NoError(t, run(t, reg, "cmd retries -max 3 -base 250ms"))
	st := v.Renderer.Settings()
	assert.Equal(t, 3, st.MaxTextureRetries)
	assert.Equal(t, 250*time.Millisecond, st.TextureRetryBase)
	assert.Error(t, run(t, reg, "cmd retries -base 0s"))

	require.NoError(t, run(t, reg, "cmd corners"))
	assert.True(t, v.Renderer.Settings().ComputeScreenCorners)
	require.NoError(t, run(t, reg, "cmd corners -on=false"))
	assert.False(t, v.Config.ComputeScreenCorners)
}

func TestAddAndGroupImage(t *testing.T) {
	reg, v, _ := newViewer(t)
	require.NoError(t, run(t, reg, "cmd add -lat 1 -lon 2 -uri assets://a.png -group shops"))
	assert.Equal(t, 1, v.World.Len())
	g, ok := v.World.Group("shops")
	require.True(t, ok)

	require.NoError(t, run(t, reg, "cmd group-image -group shops -uri assets://shop.png"))
	assert.Equal(t, "assets://shop.png", g.DefaultImage())
	assert.Error(t, run(t, reg, "cmd group-image -uri x"))
}

func TestViewerCommand(t *testing.T) {
	reg, v, _ := newViewer(t)
	require.NoError(t, run(t, reg, "cmd viewer -lat 48.85 -lon 2.35"))
	pos, ok := v.World.Viewer()
	require.True(t, ok)
	assert.Equal(t, 48.85, pos.Lat)
	assert.Equal(t, 2.35, v.Config.Viewer.Lon)
}

func TestCacheCommands(t *testing.T) {
	reg, v, out := newViewer(t)
	v.Cache.Store("res://a", image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, run(t, reg, "cmd stats"))
	assert.True(t, out.contains("entries=1"))

	require.NoError(t, run(t, reg, "cmd trim -bytes 0"))
	assert.Equal(t, 0, v.Cache.Stats().Entries)

	v.Cache.Store("res://b", image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.NoError(t, run(t, reg, "cmd purge"))
	assert.Equal(t, 0, v.Cache.Stats().Entries)
	assert.True(t, out.contains("purged"))
}

func TestSaveWritesLiveSettings(t *testing.T) {
	reg, v, _ := newViewer(t)
	require.NoError(t, run(t, reg, "cmd fov -deg 50"))
	require.NoError(t, run(t, reg, "cmd save"))

	cfg, err := engineconfig.Load(v.ConfigPath, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 50.0, cfg.FieldOfView)
}

func TestSnapshotCommand(t *testing.T) {
	reg, v, out := newViewer(t)
	path := filepath.Join(t.TempDir(), "shots", "frame.png")
	require.NoError(t, run(t, reg, "cmd snapshot -out "+path))

	deadline := time.Now().Add(3 * time.Second)
	for !out.contains("snapshot saved") && time.Now().Before(deadline) {
		v.Renderer.DrawFrame()
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, out.contains("snapshot saved"))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestHelpListsCommands(t *testing.T) {
	reg, _, out := newViewer(t)
	require.NoError(t, run(t, reg, "cmd help"))
	for _, name := range []string{"distance", "fov", "prefetch", "save", "snapshot"} {
		assert.True(t, out.contains(name+":"), name)
	}
}
