package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"ar-engine/internal/commands"
	"ar-engine/internal/download"
	"ar-engine/internal/engineconfig"
	"ar-engine/internal/graphics"
	"ar-engine/internal/imagecache"
	"ar-engine/internal/location"
	"ar-engine/internal/logger"
	"ar-engine/internal/metrics"
	"ar-engine/internal/orientation"
	"ar-engine/internal/poi"
	"ar-engine/internal/projector"
	"ar-engine/internal/renderer"
	"ar-engine/internal/scene"
	"ar-engine/internal/terminal"
)

const (
	publicIPURL      = "https://api.ipify.org"
	locationInterval = time.Minute
	fontSize         = 20
)

func main() {
	cfgPath := flag.String("config", engineconfig.EngineConfigPath, "config file")
	envFile := flag.String("env", engineconfig.EnvFile, "env file")
	flag.Parse()

	cfg, cfgErr := engineconfig.Load(*cfgPath, *envFile)
	log := logger.New(cfg.LogFile, os.Stderr)
	defer log.Close()
	if cfgErr != nil {
		log.Warn("config_invalid", "path", *cfgPath, "err", cfgErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := download.NewClient(cfg.ConnectTimeout)

	var blobs imagecache.BlobStore
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Error("redis_ping_error", "err", err)
		} else {
			log.Info("redis_ping_ok")
			blobs = imagecache.NewRedisBlobStore(rc)
		}
	} else {
		log.Info("redis_disabled")
	}

	sources, err := imagecache.DefaultSources(cfg.ResourcesDir, cfg.AssetsDir, client, blobs)
	if err != nil {
		log.Error("image_sources_error", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		log.Error("metrics_register_error", "err", err)
	}

	cache := imagecache.New(imagecache.Options{
		BudgetBytes:         cfg.CacheBudgetBytes,
		Workers:             cfg.CacheWorkers,
		MaxTextureDimension: cfg.MaxTextureDimension,
		AlwaysRelease:       cfg.AlwaysRelease,
		Sources:             sources,
		Observer:            m,
		Logger:              log.Logger,
	})
	world := scene.NewWorld()
	world.SetImageCache(cache)
	defer world.Close()

	proj := projector.New()
	if err := proj.SetDistanceFactor(cfg.DistanceFactor); err != nil {
		log.Warn("distance_factor_invalid", "err", err)
	}
	view := &orientation.YawPitch{}
	backend := graphics.NewBackend(graphics.NewBackdrop(cfg.AssetsDir))
	r := renderer.New(renderer.Options{
		Backend:     backend,
		Orientation: view,
		Projector:   proj,
		FieldOfView: cfg.FieldOfView,
		Near:        cfg.Near,
		Far:         cfg.Far,
		Logger:      log.Logger,
	})
	r.SetPullCloserDistance(cfg.PullCloserDistance)
	r.SetPushAwayDistance(cfg.PushAwayDistance)
	r.SetMaxDistanceToRender(cfg.MaxRenderDistance)
	r.SetComputeScreenCorners(cfg.ComputeScreenCorners)
	r.SetTextureRetryBase(cfg.TextureRetryBase)
	r.SetMaxTextureRetries(cfg.MaxTextureRetries)
	r.SetScene(world)
	r.AddListener(m.ObserveFrame)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics_listen", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics_server_error", "err", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	startLocation(ctx, cfg, client, world, log)
	go loadPOIs(ctx, cfg, world, log)

	cmds := commands.NewRegistry()
	commands.RegisterViewerCommands(cmds, &commands.Viewer{
		Renderer:   r,
		World:      world,
		Cache:      cache,
		Client:     client,
		Config:     &cfg,
		ConfigPath: *cfgPath,
		Log:        log.Log,
	})
	term := terminal.New(log, cmds)
	term.Submit = func(line string) { log.Log("unknown input, try: cmd help") }
	stdin := readLines(os.Stdin)

	overlay := graphics.NewOverlay()
	overlay.ShowFPS = cfg.ShowFPS
	overlay.ShowStats = cfg.ShowStats
	overlay.ShowCorners = cfg.ComputeScreenCorners
	look := &graphics.Look{
		View: view,
		OnClick: func(x, y float64) {
			hits := r.Pick(x, y)
			if len(hits) == 0 {
				return
			}
			for _, o := range hits {
				log.Info("picked", "id", o.ID(), "group", o.Group(), "distance", o.Distance(), "uri", o.ImageURI())
			}
		},
	}
	stats := func() graphics.Stats {
		return graphics.Stats{
			FPS:      r.FPS(),
			Rendered: len(r.Rendered()),
			Objects:  world.Len(),
			Cache:    cache.Stats(),
		}
	}

	fontLoaded := false
	update := func() {
		if !fontLoaded {
			fontLoaded = true
			font := graphics.LoadFont(graphics.FindFont(cfg.AssetsDir), fontSize)
			term.SetFont(font)
			overlay.Font = font
		}
		for drained := false; !drained; {
			select {
			case line := <-stdin:
				term.Exec(line)
			default:
				drained = true
			}
		}
		term.Update()
		look.Update(term.IsOpen())
		overlay.ShowCorners = r.Settings().ComputeScreenCorners
	}
	draw := func() {
		r.DrawFrame()
		overlay.Draw(stats, r.Rendered())
		term.Draw()
	}
	shutdown := func() {
		r.Close()
		backend.Close()
	}

	log.Info("arview_start", "objects", world.Len(), "assets", cfg.AssetsDir)
	graphics.Run(ctx, graphics.Window{
		Title:      cfg.WindowTitle,
		Width:      cfg.Width,
		Height:     cfg.Height,
		Fullscreen: cfg.Fullscreen,
		TargetFPS:  cfg.TargetFPS,
	}, update, draw, shutdown)
	log.Info("arview_stop")
}

// startLocation keeps the viewer position current. A configured position wins over
// GeoIP.
func startLocation(ctx context.Context, cfg engineconfig.Config, client *download.Client, world *scene.World, log *logger.Logger) {
	var providers []location.Provider
	if cfg.Viewer != (projector.GeoPosition{}) {
		providers = append(providers, location.Static(cfg.Viewer))
	}
	if cfg.GeoIPDB != "" {
		g, err := location.OpenGeoIP(cfg.GeoIPDB, location.PublicIP(client, publicIPURL))
		if err != nil {
			log.Error("geoip_open_error", "path", cfg.GeoIPDB, "err", err)
		} else {
			providers = append(providers, g)
			go func() {
				<-ctx.Done()
				_ = g.Close()
			}()
		}
	}
	if len(providers) == 0 {
		log.Warn("location_disabled", "reason", "no viewer position or geoip database configured")
		return
	}
	go location.Watch(ctx, location.First(providers...), locationInterval, log.Logger, world.SetViewer)
}

// loadPOIs fills the world from PostgreSQL when a database is configured.
func loadPOIs(ctx context.Context, cfg engineconfig.Config, world *scene.World, log *logger.Logger) {
	if os.Getenv("DATABASE_URL") == "" && os.Getenv("PG_HOST") == "" {
		log.Info("poi_db_disabled")
		return
	}
	store, err := poi.Open(poi.BuildDSNFromEnv(), cfg.POITable)
	if err != nil {
		log.Error("poi_db_open_error", "err", err)
		return
	}
	defer store.Close()
	lctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	places, err := store.Load(lctx)
	if err != nil {
		log.Error("poi_load_error", "err", err)
		return
	}
	objs, err := poi.Populate(world, places)
	if err != nil {
		log.Error("poi_populate_error", "err", err)
	}
	log.Info("poi_load_ok", "places", len(places), "objects", len(objs))
}

// readLines forwards stdin lines so the render loop can run them as console input.
func readLines(f *os.File) <-chan string {
	ch := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
