package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
distance_factor: 2.5
push_away_distance: 20
texture_retry_base: 250ms
show_fps: false
viewer:
  lat: 48.85
  lon: 2.35
`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.DistanceFactor)
	assert.Equal(t, 20.0, cfg.PushAwayDistance)
	assert.Equal(t, 250*time.Millisecond, cfg.TextureRetryBase)
	assert.False(t, cfg.ShowFPS)
	assert.Equal(t, 48.85, cfg.Viewer.Lat)
	assert.Equal(t, Default().CacheWorkers, cfg.CacheWorkers, "unset keys keep their defaults")
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("distance_factor: [oops"), 0o644))
	cfg, err := Load(path, "")
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ARVIEW_CACHE_WORKERS=8\n"), 0o644))
	t.Setenv("ARVIEW_CACHE_WORKERS", "")
	os.Unsetenv("ARVIEW_CACHE_WORKERS")
	t.Setenv("ARVIEW_DISTANCE_FACTOR", "3")
	t.Setenv("ARVIEW_CONNECT_TIMEOUT", "5s")
	t.Setenv("ARVIEW_FULLSCREEN", "true")

	cfg, err := Load(filepath.Join(dir, "none.yaml"), envFile)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.DistanceFactor)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.True(t, cfg.Fullscreen)
	assert.Equal(t, 8, cfg.CacheWorkers)
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("ARVIEW_DISTANCE_FACTOR", "far")
	_, err := Load(filepath.Join(t.TempDir(), "none.yaml"), "")
	assert.ErrorContains(t, err, "ARVIEW_DISTANCE_FACTOR")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DistanceFactor = 0
	cfg.PullCloserDistance = 5
	cfg.PushAwayDistance = 20
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "distance_factor")
	assert.ErrorContains(t, err, "push_away_distance exceeds pull_closer_distance")
	assert.NoError(t, Default().Validate())
}

func TestValidateClampRadii(t *testing.T) {
	tests := []struct {
		pull, push float64
		ok         bool
	}{
		{pull: 20, push: 5, ok: true},
		{pull: 20, push: 20, ok: true},
		{pull: 0, push: 20, ok: true},
		{pull: 20, push: 0, ok: true},
		{pull: 5, push: 20, ok: false},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.PullCloserDistance, cfg.PushAwayDistance = tt.pull, tt.push
		if tt.ok {
			assert.NoError(t, cfg.Validate(), "pull=%v push=%v", tt.pull, tt.push)
		} else {
			assert.Error(t, cfg.Validate(), "pull=%v push=%v", tt.pull, tt.push)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "engine.yaml")
	cfg := Default()
	cfg.MaxTextureRetries = 5
	cfg.Viewer.Lon = 13.4
	require.NoError(t, Save(path, cfg))

	got, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestClone(t *testing.T) {
	cfg := Default()
	cfg.Viewer.Lat = 1
	c := cfg.Clone()
	c.Viewer.Lat = 2
	assert.Equal(t, 1.0, cfg.Viewer.Lat)
	assert.Equal(t, cfg.WindowTitle, c.WindowTitle)
}
