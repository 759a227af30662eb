// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "plugsync"

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	rescans         *prometheus.CounterVec
	rescanDuration  prometheus.Histogram
	saves           *prometheus.CounterVec
	autosorts       *prometheus.CounterVec
	autosortLatency prometheus.Histogram
	watchEvents     prometheus.Counter
	warnings        *prometheus.CounterVec
	plugins         *prometheus.GaugeVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rescans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescans_total",
			Help:      "Rescans by outcome.",
		}, []string{"game", "outcome"}),
		rescanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rescan_duration_seconds",
			Help:      "Duration of the rescan pipeline.",
			Buckets:   prometheus.DefBuckets,
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Backing file flushes by outcome.",
		}, []string{"game", "outcome"}),
		autosorts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autosort_total",
			Help:      "Oracle calls by outcome.",
		}, []string{"game", "outcome"}),
		autosortLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "autosort_duration_seconds",
			Help:      "Oracle call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		watchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_events_total",
			Help:      "Qualifying filesystem events.",
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Recovered errors by kind.",
		}, []string{"kind"}),
		plugins: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins",
			Help:      "Plugins in the load order.",
		}, []string{"game", "state"}),
	}
	m.registry.MustRegister(
		m.rescans, m.rescanDuration, m.saves, m.autosorts,
		m.autosortLatency, m.watchEvents, m.warnings, m.plugins,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Rescan records a finished rescan.
func (m *Metrics) Rescan(game, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rescans.WithLabelValues(game, outcome).Inc()
	m.rescanDuration.Observe(d.Seconds())
}

// Save records a flush.
func (m *Metrics) Save(game string, err error) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(game, outcome(err)).Inc()
}

// Autosort records an oracle call.
func (m *Metrics) Autosort(game, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.autosorts.WithLabelValues(game, outcome).Inc()
	m.autosortLatency.Observe(d.Seconds())
}

// WatchEvent counts a qualifying filesystem event.
func (m *Metrics) WatchEvent() {
	if m == nil {
		return
	}
	m.watchEvents.Inc()
}

// Warning counts a recovered error.
func (m *Metrics) Warning(kind string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(kind).Inc()
}

// Plugins sets the plugin gauges.
func (m *Metrics) Plugins(game string, total, enabled int) {
	if m == nil {
		return
	}
	m.plugins.WithLabelValues(game, "total").Set(float64(total))
	m.plugins.WithLabelValues(game, "enabled").Set(float64(enabled))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Route is an extra handler served next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Serve runs a metrics endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, routes ...Route) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
