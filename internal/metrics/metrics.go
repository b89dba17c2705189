// Package metrics exposes daemon counters in the Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Node results recorded by ObserveNode.
const (
	ResultWritten   = "written"
	ResultUnchanged = "unchanged"
	ResultSkipped   = "skipped"
	ResultFailed    = "failed"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	cycles        *prometheus.CounterVec
	nodes         *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	treeErrors    prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusgov",
			Name:      "events_total",
			Help:      "Window events received, by change and whether they triggered a walk.",
		}, []string{"change", "action"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusgov",
			Name:      "cycles_total",
			Help:      "Enforcement cycles, by result.",
		}, []string{"result"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "focusgov",
			Name:      "nodes_total",
			Help:      "Controllable nodes visited, by backend and result.",
		}, []string{"backend", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "focusgov",
			Name:      "cycle_duration_seconds",
			Help:      "Time from tree fetch to the end of the walk.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		treeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "focusgov",
			Name:      "tree_fetch_errors_total",
			Help:      "Failed window tree fetches.",
		}),
	}
	m.registry.MustRegister(m.events, m.cycles, m.nodes, m.cycleDuration, m.treeErrors)
	return m
}

// Registry returns the registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveEvent(change string, triggered bool) {
	action := "ignored"
	if triggered {
		action = "walk"
	}
	m.events.WithLabelValues(change, action).Inc()
}

func (m *Metrics) ObserveCycle(result string, d time.Duration) {
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveNode(backend, result string) {
	m.nodes.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) ObserveTreeError() {
	m.treeErrors.Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
