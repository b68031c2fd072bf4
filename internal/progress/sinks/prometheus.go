package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/progressive-loader/internal/metrics"
	"github.com/JakeFAU/progressive-loader/internal/progress"
)

// PrometheusSink exports load progress metrics via Prometheus. It owns all
// collectors for loads started/completed/running and per-host byte counters.
type PrometheusSink struct {
	loadsStarted   prometheus.Counter
	loadsCompleted *prometheus.CounterVec
	loadsRunning   prometheus.Gauge
	loadDuration   *prometheus.HistogramVec
	loadBytes      *prometheus.CounterVec
	payloadSize    prometheus.Histogram

	tracker *loadTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		loadsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loader_loads_started_total",
			Help: "Total loads that have started.",
		}),
		loadsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loader_loads_completed_total",
			Help: "Total loads completed partitioned by result.",
		}, []string{"result"}),
		loadsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loader_loads_running",
			Help: "Current number of running loads.",
		}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loader_load_duration_seconds",
			Help:    "Wall time per completed load, hand-off delay included.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		loadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loader_bytes_total",
			Help: "Bytes downloaded per host.",
		}, []string{"host"}),
		payloadSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loader_payload_size_bytes",
			Help:    "Declared size of successfully delivered payloads.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
		}),
		tracker: newLoadTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.loadsStarted,
		s.loadsCompleted,
		s.loadsRunning,
		s.loadDuration,
		s.loadBytes,
		s.payloadSize,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageLoadStart:
		s.loadsStarted.Inc()
		if s.tracker.start(evt.LoadID, evt.URL) {
			s.loadsRunning.Inc()
		}
	case progress.StageLoadProgress:
		if evt.Bytes > 0 {
			s.loadBytes.WithLabelValues(s.tracker.host(evt.LoadID, evt.URL)).Add(float64(evt.Bytes))
		}
	case progress.StageLoadDone:
		s.finish(evt, "success")
		if evt.Total >= 0 {
			s.payloadSize.Observe(float64(evt.Total))
		}
	case progress.StageLoadError:
		s.finish(evt, "error")
	}
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.loadsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.loadDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.LoadID) {
		s.loadsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// loadTracker remembers running loads and their host label so chunk events
// need not repeat the URL.
type loadTracker struct {
	mu      sync.Mutex
	running map[[16]byte]string
}

func newLoadTracker() *loadTracker {
	return &loadTracker{running: make(map[[16]byte]string)}
}

func (t *loadTracker) start(id [16]byte, rawURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = metrics.SanitizeSite(rawURL)
	return true
}

func (t *loadTracker) host(id [16]byte, rawURL string) string {
	if rawURL != "" {
		return metrics.SanitizeSite(rawURL)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if host, ok := t.running[id]; ok {
		return host
	}
	return "unknown"
}

func (t *loadTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
