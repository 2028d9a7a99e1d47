// Package engineconfig loads the AR viewer preferences: a YAML file, a .env file and
// ARVIEW_* environment overrides, in increasing priority.
package engineconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jinzhu/copier"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ar-engine/internal/projector"
)

// EngineConfigPath is the config file, relative to the process working directory.
const EngineConfigPath = "config/engine.yaml"

// EnvFile is loaded before overrides are read. It may be missing.
const EnvFile = ".env"

// Config holds engine preferences. Persisted across runs.
type Config struct {
	DistanceFactor       float64       `yaml:"distance_factor"`
	PullCloserDistance   float64       `yaml:"pull_closer_distance"`
	PushAwayDistance     float64       `yaml:"push_away_distance"`
	MaxRenderDistance    float64       `yaml:"max_render_distance"`
	FieldOfView          float64       `yaml:"field_of_view"`
	Near                 float64       `yaml:"near"`
	Far                  float64       `yaml:"far"`
	ComputeScreenCorners bool          `yaml:"compute_screen_corners"`
	TextureRetryBase     time.Duration `yaml:"texture_retry_base"`
	MaxTextureRetries    int           `yaml:"max_texture_retries"`
	OrientationSmoothing float64       `yaml:"orientation_smoothing"`

	CacheBudgetBytes    int           `yaml:"cache_budget_bytes"`
	CacheWorkers        int           `yaml:"cache_workers"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	AlwaysRelease       bool          `yaml:"always_release"`
	MaxTextureDimension int           `yaml:"max_texture_dimension"`
	AssetsDir           string        `yaml:"assets_dir"`
	ResourcesDir        string        `yaml:"resources_dir"`

	WindowTitle string `yaml:"window_title"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Fullscreen  bool   `yaml:"fullscreen"`
	TargetFPS   int    `yaml:"target_fps"`
	ShowFPS     bool   `yaml:"show_fps"`
	ShowStats   bool   `yaml:"show_stats"`

	MetricsAddr string                `yaml:"metrics_addr,omitempty"`
	RedisAddr   string                `yaml:"redis_addr,omitempty"`
	GeoIPDB     string                `yaml:"geoip_db,omitempty"`
	POITable    string                `yaml:"poi_table,omitempty"`
	Viewer      projector.GeoPosition `yaml:"viewer"`
	LogFile     string                `yaml:"log_file,omitempty"`
}

// Default returns the default preferences.
func Default() Config {
	return Config{
		DistanceFactor:       1,
		PullCloserDistance:   0,
		PushAwayDistance:     0,
		MaxRenderDistance:    10_000,
		FieldOfView:          60,
		Near:                 0.01,
		Far:                  1000,
		TextureRetryBase:     time.Second,
		OrientationSmoothing: 0.2,
		CacheBudgetBytes:     32 << 20,
		CacheWorkers:         4,
		ConnectTimeout:       20 * time.Second,
		MaxTextureDimension:  1024,
		AssetsDir:            "assets",
		ResourcesDir:         "assets/res",
		WindowTitle:          "arview",
		Width:                1280,
		Height:               720,
		TargetFPS:            60,
		ShowFPS:              true,
		POITable:             "poi",
	}
}

// Load reads path (EngineConfigPath when empty) over the defaults, loads envFile
// (skipped when empty or missing) and applies ARVIEW_* overrides. A missing config
// file is not an error. An invalid one yields the defaults and the parse error.
func Load(path, envFile string) (Config, error) {
	if path == "" {
		path = EngineConfigPath
	}
	if envFile != "" {
		_ = godotenv.Load(envFile)
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Default(), fmt.Errorf("engineconfig: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Default(), fmt.Errorf("engineconfig: %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg to path (EngineConfigPath when empty), creating the directory if
// needed.
func Save(path string, cfg Config) error {
	if path == "" {
		path = EngineConfigPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy of c.
func (c Config) Clone() Config {
	var out Config
	if err := copier.CopyWithOption(&out, &c, copier.Option{DeepCopy: true}); err != nil {
		return c
	}
	return out
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if !(c.DistanceFactor > 0) {
		errs = append(errs, fmt.Errorf("distance_factor must be positive, got %v", c.DistanceFactor))
	}
	if c.PullCloserDistance < 0 || c.PushAwayDistance < 0 {
		errs = append(errs, errors.New("pull_closer_distance and push_away_distance must not be negative"))
	}
	if c.PullCloserDistance > 0 && c.PushAwayDistance > c.PullCloserDistance {
		errs = append(errs, errors.New("push_away_distance exceeds pull_closer_distance"))
	}
	if !(c.FieldOfView > 0 && c.FieldOfView < 180) {
		errs = append(errs, fmt.Errorf("field_of_view must be in (0, 180), got %v", c.FieldOfView))
	}
	if !(c.Near > 0 && c.Far > c.Near) {
		errs = append(errs, fmt.Errorf("need 0 < near < far, got %v and %v", c.Near, c.Far))
	}
	if c.MaxTextureRetries < 0 {
		errs = append(errs, errors.New("max_texture_retries must not be negative"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("engineconfig: %w", errors.Join(errs...))
}

type override struct {
	key   string
	apply func(c *Config, v string) error
}

func floatVar(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func intVar(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func durationVar(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

var overrides = []override{
	{"ARVIEW_DISTANCE_FACTOR", floatVar(func(c *Config) *float64 { return &c.DistanceFactor })},
	{"ARVIEW_PULL_CLOSER_DISTANCE", floatVar(func(c *Config) *float64 { return &c.PullCloserDistance })},
	{"ARVIEW_PUSH_AWAY_DISTANCE", floatVar(func(c *Config) *float64 { return &c.PushAwayDistance })},
	{"ARVIEW_MAX_RENDER_DISTANCE", floatVar(func(c *Config) *float64 { return &c.MaxRenderDistance })},
	{"ARVIEW_FIELD_OF_VIEW", floatVar(func(c *Config) *float64 { return &c.FieldOfView })},
	{"ARVIEW_MAX_TEXTURE_RETRIES", intVar(func(c *Config) *int { return &c.MaxTextureRetries })},
	{"ARVIEW_TEXTURE_RETRY_BASE", durationVar(func(c *Config) *time.Duration { return &c.TextureRetryBase })},
	{"ARVIEW_CACHE_BUDGET_BYTES", intVar(func(c *Config) *int { return &c.CacheBudgetBytes })},
	{"ARVIEW_CACHE_WORKERS", intVar(func(c *Config) *int { return &c.CacheWorkers })},
	{"ARVIEW_CONNECT_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.ConnectTimeout })},
	{"ARVIEW_ALWAYS_RELEASE", boolVar(func(c *Config) *bool { return &c.AlwaysRelease })},
	{"ARVIEW_ASSETS_DIR", stringVar(func(c *Config) *string { return &c.AssetsDir })},
	{"ARVIEW_RESOURCES_DIR", stringVar(func(c *Config) *string { return &c.ResourcesDir })},
	{"ARVIEW_FULLSCREEN", boolVar(func(c *Config) *bool { return &c.Fullscreen })},
	{"ARVIEW_SHOW_FPS", boolVar(func(c *Config) *bool { return &c.ShowFPS })},
	{"ARVIEW_METRICS_ADDR", stringVar(func(c *Config) *string { return &c.MetricsAddr })},
	{"ARVIEW_REDIS_ADDR", stringVar(func(c *Config) *string { return &c.RedisAddr })},
	{"ARVIEW_GEOIP_DB", stringVar(func(c *Config) *string { return &c.GeoIPDB })},
	{"ARVIEW_POI_TABLE", stringVar(func(c *Config) *string { return &c.POITable })},
	{"ARVIEW_VIEWER_LAT", floatVar(func(c *Config) *float64 { return &c.Viewer.Lat })},
	{"ARVIEW_VIEWER_LON", floatVar(func(c *Config) *float64 { return &c.Viewer.Lon })},
	{"ARVIEW_LOG_FILE", stringVar(func(c *Config) *string { return &c.LogFile })},
}

func applyEnv(c *Config) error {
	var errs []error
	for _, o := range overrides {
		v, ok := os.LookupEnv(o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(c, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.key, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("engineconfig: %w", errors.Join(errs...))
}
