package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "swaprouter"

// Metrics holds the router's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	poolExclusions *prometheus.CounterVec
	breakerTrips   *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	quoteFanout    prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Cycles finished, by pair and final state.",
		}, []string{"pair", "state"}),
		poolExclusions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_exclusions_total",
			Help:      "Pools excluded from a cycle, by reason.",
		}, []string{"reason"}),
		breakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Circuit breaker trips, by breaker type.",
		}, []string{"type"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Execution outcomes, by status and channel.",
		}, []string{"status", "channel"}),
		quoteFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_fanout_seconds",
			Help:      "Wall time of one quote aggregation fan-out.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) CycleFinished(pair, state string) {
	m.cycles.WithLabelValues(pair, state).Inc()
}

func (m *Metrics) PoolExcluded(reason string) {
	m.poolExclusions.WithLabelValues(reason).Inc()
}

func (m *Metrics) FanoutDuration(d time.Duration) {
	m.quoteFanout.Observe(d.Seconds())
}

func (m *Metrics) BreakerTripped(kind string) {
	m.breakerTrips.WithLabelValues(kind).Inc()
}

func (m *Metrics) Outcome(status, channel string) {
	m.outcomes.WithLabelValues(status, channel).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
