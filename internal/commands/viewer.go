package commands

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"ar-engine/internal/download"
	"ar-engine/internal/engineconfig"
	"ar-engine/internal/imagecache"
	"ar-engine/internal/projector"
	"ar-engine/internal/renderer"
	"ar-engine/internal/scene"
)

// Viewer is what the viewer commands act on. Config mirrors every setting the
// commands change so "save" persists the live state.
type Viewer struct {
	Renderer   *renderer.Renderer
	World      *scene.World
	Cache      *imagecache.Cache
	Client     *download.Client
	Config     *engineconfig.Config
	ConfigPath string
	// Log receives command output.
	Log func(line string)
}

func (v *Viewer) logf(format string, args ...any) {
	if v.Log != nil {
		v.Log(fmt.Sprintf(format, args...))
	}
}

// RegisterViewerCommands adds the renderer, cache and scene commands to reg.
func RegisterViewerCommands(reg *Registry, v *Viewer) {
	reg.Register("help", "list commands", func(fs *flag.FlagSet) func() error {
		return func() error {
			for _, line := range reg.Help() {
				v.logf("%s", line)
			}
			return nil
		}
	})

	reg.Register("distance", "-factor meters per unit, -pull, -push, -max render distance", func(fs *flag.FlagSet) func() error {
		factor := fs.Float64("factor", v.Config.DistanceFactor, "meters per scene unit")
		pull := fs.Float64("pull", v.Config.PullCloserDistance, "pull objects farther than this closer (0 off)")
		push := fs.Float64("push", v.Config.PushAwayDistance, "push objects nearer than this away (0 off)")
		maxDist := fs.Float64("max", v.Config.MaxRenderDistance, "max render distance in meters (<=0 unlimited)")
		return func() error {
			if err := v.Renderer.SetDistanceFactor(*factor); err != nil {
				return err
			}
			v.Renderer.SetPullCloserDistance(*pull)
			v.Renderer.SetPushAwayDistance(*push)
			v.Renderer.SetMaxDistanceToRender(*maxDist)
			v.Config.DistanceFactor = *factor
			v.Config.PullCloserDistance = *pull
			v.Config.PushAwayDistance = *push
			v.Config.MaxRenderDistance = *maxDist
			v.logf("distance factor=%g pull=%g push=%g max=%g", *factor, *pull, *push, *maxDist)
			return nil
		}
	})

	reg.Register("fov", "-deg vertical field of view", func(fs *flag.FlagSet) func() error {
		deg := fs.Float64("deg", v.Config.FieldOfView, "degrees")
		return func() error {
			if err := v.Renderer.SetFieldOfView(*deg); err != nil {
				return err
			}
			v.Config.FieldOfView = *deg
			return nil
		}
	})

	reg.Register("corners", "-on compute screen corners of rendered objects", func(fs *flag.FlagSet) func() error {
		on := fs.Bool("on", true, "enable")
		return func() error {
			v.Renderer.SetComputeScreenCorners(*on)
			v.Config.ComputeScreenCorners = *on
			return nil
		}
	})

	reg.Register("retries", "-max failures before giving up (0 forever), -base backoff", func(fs *flag.FlagSet) func() error {
		maxRetries := fs.Int("max", v.Config.MaxTextureRetries, "max failures")
		base := fs.Duration("base", v.Config.TextureRetryBase, "backoff base")
		return func() error {
			if *base <= 0 {
				return fmt.Errorf("base must be positive")
			}
			v.Renderer.SetMaxTextureRetries(*maxRetries)
			v.Renderer.SetTextureRetryBase(*base)
			v.Config.MaxTextureRetries = *maxRetries
			v.Config.TextureRetryBase = *base
			return nil
		}
	})

	reg.Register("purge", "drop every cached image", func(fs *flag.FlagSet) func() error {
		return func() error {
			v.Cache.Purge()
			v.logf("image cache purged")
			return nil
		}
	})

	reg.Register("trim", "-bytes shrink the image cache to at most this size", func(fs *flag.FlagSet) func() error {
		n := fs.Int("bytes", 0, "target size")
		return func() error {
			v.Cache.Trim(*n)
			v.logf("image cache %d bytes", v.Cache.Stats().Bytes)
			return nil
		}
	})

	reg.Register("stats", "frame and cache counters", func(fs *flag.FlagSet) func() error {
		return func() error {
			st := v.Cache.Stats()
			v.logf("fps=%.1f rendered=%d objects=%d textures=%d", v.Renderer.FPS(), len(v.Renderer.Rendered()), v.World.Len(), v.Renderer.Textures())
			v.logf("cache hits=%d misses=%d evictions=%d bytes=%d/%d entries=%d loading=%d",
				st.Hits, st.Misses, st.Evictions, st.Bytes, st.Budget, st.Entries, st.Loading)
			return nil
		}
	})

	reg.Register("add", "-lat -lon [-alt] -uri [-group] place an image at a geo position", func(fs *flag.FlagSet) func() error {
		lat := fs.Float64("lat", 0, "latitude")
		lon := fs.Float64("lon", 0, "longitude")
		alt := fs.Float64("alt", 0, "altitude in meters")
		uri := fs.String("uri", "", "image uri")
		group := fs.String("group", "console", "group")
		return func() error {
			o := scene.NewGeoObject(projector.GeoPosition{Lat: *lat, Lon: *lon, Alt: *alt}, *uri)
			if err := v.World.Add(o, *group); err != nil {
				return err
			}
			v.logf("added object %d to %s", o.ID(), *group)
			return nil
		}
	})

	reg.Register("group-image", "-group -uri default image of a group", func(fs *flag.FlagSet) func() error {
		group := fs.String("group", "", "group")
		uri := fs.String("uri", "", "image uri")
		return func() error {
			if *group == "" {
				return fmt.Errorf("missing -group")
			}
			v.World.SetGroupDefaultImage(*group, *uri)
			return nil
		}
	})

	reg.Register("viewer", "-lat -lon [-alt] move the viewer", func(fs *flag.FlagSet) func() error {
		lat := fs.Float64("lat", v.Config.Viewer.Lat, "latitude")
		lon := fs.Float64("lon", v.Config.Viewer.Lon, "longitude")
		alt := fs.Float64("alt", v.Config.Viewer.Alt, "altitude")
		return func() error {
			pos := projector.GeoPosition{Lat: *lat, Lon: *lon, Alt: *alt}
			v.World.SetViewer(pos)
			v.Config.Viewer = pos
			return nil
		}
	})

	reg.Register("prefetch", "-url download an image into the assets dir", func(fs *flag.FlagSet) func() error {
		url := fs.String("url", "", "image url")
		return func() error {
			if *url == "" {
				return fmt.Errorf("missing -url")
			}
			dir := v.Config.AssetsDir
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				saved, err := v.Client.Download(ctx, *url, dir)
				if err != nil {
					v.logf("prefetch %s: %v", *url, err)
					return
				}
				rel, err := filepath.Rel(dir, saved)
				if err != nil {
					rel = saved
				}
				v.logf("saved assets://%s", filepath.ToSlash(rel))
			}()
			return nil
		}
	})

	reg.Register("snapshot", "-out file.png save the next frame", func(fs *flag.FlagSet) func() error {
		out := fs.String("out", "snapshot.png", "output file")
		return func() error {
			path := *out
			// Served by the render loop, so wait off the calling thread.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := writeSnapshot(ctx, v.Renderer, path); err != nil {
					v.logf("snapshot: %v", err)
					return
				}
				v.logf("snapshot saved to %s", path)
			}()
			return nil
		}
	})

	reg.Register("save", "write the current settings to the config file", func(fs *flag.FlagSet) func() error {
		return func() error {
			if err := engineconfig.Save(v.ConfigPath, *v.Config); err != nil {
				return err
			}
			v.logf("config saved")
			return nil
		}
	})
}

func writeSnapshot(ctx context.Context, r *renderer.Renderer, path string) error {
	img, err := r.TakeSnapshot(ctx)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
