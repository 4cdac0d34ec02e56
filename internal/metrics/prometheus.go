// Package metrics exposes the Prometheus instruments of the broker.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Frame kinds recorded by FramesTotal.
const (
	FrameFull      = "full"
	FrameDelta     = "delta"
	FrameMalformed = "malformed"
	FrameIgnored   = "ignored"
)

// Registry holds all broker metrics.
type Registry struct {
	// Connection lifecycle
	ConnectionsActive prometheus.Gauge
	ConnectAttempts   *prometheus.CounterVec
	ConnectLatency    prometheus.Histogram
	Disconnects       *prometheus.CounterVec

	// Document synchronization
	FramesTotal *prometheus.CounterVec

	// Command routing
	CommandsTotal    *prometheus.CounterVec
	FallbackAttempts *prometheus.CounterVec
	FallbackCacheHit prometheus.Counter
}

// Get returns the global metrics registry, creating it if necessary.
// Instruments are registered with the default Prometheus registerer.
func Get() *Registry {
	once.Do(func() {
		registry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// NewRegistry creates instruments registered with reg. Tests pass a fresh
// prometheus.NewRegistry() so instances never collide.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.ConnectionsActive = f.NewGauge(prometheus.GaugeOpts{
		Name: "foldwatch_connections_active",
		Help: "Number of live daemon connections",
	})

	r.ConnectAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Name: "foldwatch_connect_attempts_total",
		Help: "Daemon connection attempts by result",
	}, []string{"result"})

	r.ConnectLatency = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "foldwatch_connect_duration_seconds",
		Help:    "Time to complete the daemon socket handshake",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	r.Disconnects = f.NewCounterVec(prometheus.CounterOpts{
		Name: "foldwatch_disconnects_total",
		Help: "Daemon connections torn down by reason",
	}, []string{"reason"})

	r.FramesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "foldwatch_frames_total",
		Help: "Inbound daemon frames by kind",
	}, []string{"kind"})

	r.CommandsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "foldwatch_commands_total",
		Help: "Routed operations by operation and result",
	}, []string{"op", "result"})

	r.FallbackAttempts = f.NewCounterVec(prometheus.CounterOpts{
		Name: "foldwatch_fallback_attempts_total",
		Help: "Request/response fallback attempts by candidate path and result",
	}, []string{"candidate", "result"})

	r.FallbackCacheHit = f.NewCounter(prometheus.CounterOpts{
		Name: "foldwatch_fallback_cache_hits_total",
		Help: "Read fallbacks answered from the response cache",
	})

	return r
}

// ObserveConnect records one connection attempt.
func (r *Registry) ObserveConnect(d time.Duration, err error) {
	if err != nil {
		r.ConnectAttempts.WithLabelValues("error").Inc()
		return
	}
	r.ConnectAttempts.WithLabelValues("ok").Inc()
	r.ConnectLatency.Observe(d.Seconds())
	r.ConnectionsActive.Inc()
}

// OrGlobal returns r, or the global registry when r is nil.
func OrGlobal(r *Registry) *Registry {
	if r != nil {
		return r
	}
	return Get()
}
