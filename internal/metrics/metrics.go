package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ar-engine/internal/imagecache"
	"ar-engine/internal/renderer"
)

// Metrics implements imagecache.StatsObserver and renders frames into gauges.
type Metrics struct {
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEvictedBytes   prometheus.Counter
	LoadFailuresTotal   *prometheus.CounterVec
	FramesTotal         prometheus.Counter
	FPS                 prometheus.Gauge
	RenderedObjects     prometheus.Gauge
	FrameIntervalMs     prometheus.Histogram

	lastFrame time.Time
}

var _ imagecache.StatsObserver = (*Metrics)(nil)

func New() *Metrics {
	return &Metrics{
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arview_image_cache_hits_total",
			Help: "Total image cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arview_image_cache_misses_total",
			Help: "Total image cache misses",
		}),
		CacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arview_image_cache_evictions_total",
			Help: "Total images evicted to stay within the byte budget",
		}),
		CacheEvictedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arview_image_cache_evicted_bytes_total",
			Help: "Total decoded bytes evicted",
		}),
		LoadFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arview_image_load_failures_total",
			Help: "Total failed image loads by kind",
		}, []string{"kind"}),
		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arview_frames_total",
			Help: "Total frames drawn",
		}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arview_fps",
			Help: "Frames per second over the last full window",
		}),
		RenderedObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arview_rendered_objects",
			Help: "Objects drawn in the last frame",
		}),
		FrameIntervalMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "arview_frame_interval_ms",
			Help:    "Time between frames in milliseconds",
			Buckets: []float64{5, 10, 16, 20, 33, 50, 100, 200, 500},
		}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheEvictedBytes,
		m.LoadFailuresTotal,
		m.FramesTotal,
		m.FPS,
		m.RenderedObjects,
		m.FrameIntervalMs,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) CacheHit()  { m.CacheHitsTotal.Inc() }
func (m *Metrics) CacheMiss() { m.CacheMissesTotal.Inc() }

func (m *Metrics) CacheEvicted(bytes int) {
	m.CacheEvictionsTotal.Inc()
	m.CacheEvictedBytes.Add(float64(bytes))
}

func (m *Metrics) LoadFailed(_ string, err error) {
	m.LoadFailuresTotal.WithLabelValues(failureKind(err)).Inc()
}

func failureKind(err error) string {
	var se *imagecache.SchemeError
	var le *imagecache.LoadError
	switch {
	case errors.As(err, &se):
		return "scheme"
	case errors.As(err, &le):
		return "load"
	}
	return "other"
}

// ObserveFrame is a renderer.FrameListener. It runs on the render goroutine.
func (m *Metrics) ObserveFrame(f renderer.Frame) {
	m.FramesTotal.Inc()
	m.FPS.Set(f.FPS)
	m.RenderedObjects.Set(float64(len(f.Rendered)))
	if !m.lastFrame.IsZero() {
		m.FrameIntervalMs.Observe(float64(f.At.Sub(m.lastFrame).Milliseconds()))
	}
	m.lastFrame = f.At
}

// Handler serves the metrics gathered by g on /metrics.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
