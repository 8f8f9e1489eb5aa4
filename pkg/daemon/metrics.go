package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the optional instrumentation surface of §4.8 step 4 ("emit
// queue stats ... if enabled, to a metrics endpoint"), grounded on
// stoserver/metrics.go's own registry-plus-MustRegister construction.
// Naming these gauges is an implementation detail, not a contract other
// components depend on (an Open Question decision, see DESIGN.md).
type Metrics struct {
	registry *prometheus.Registry

	queueReady      prometheus.Gauge
	queueDeferred   prometheus.Gauge
	queueInProgress prometheus.Gauge
	tickDuration    prometheus.Histogram
}

// NewMetrics builds a fresh registry with every gauge/histogram
// registered, ready to be served or left unused if addr is empty.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		queueReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpenhorn_queue_ready_tasks",
			Help: "Tasks waiting in the ready lane.",
		}),
		queueDeferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpenhorn_queue_deferred_tasks",
			Help: "Tasks waiting in the deferred lane.",
		}),
		queueInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "alpenhorn_queue_in_progress_tasks",
			Help: "Tasks currently executing.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alpenhorn_tick_duration_seconds",
			Help:    "Wall time of one main update loop tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.queueReady, m.queueDeferred, m.queueInProgress, m.tickDuration)

	return m
}

// SetQueueDepth updates the three queue gauges; called once per tick from
// Daemon.emitQueueStats.
func (m *Metrics) SetQueueDepth(ready, deferred, inProgress int) {
	m.queueReady.Set(float64(ready))
	m.queueDeferred.Set(float64(deferred))
	m.queueInProgress.Set(float64(inProgress))
}

// ObserveTick records one tick's wall-clock duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// Serve runs a /metrics HTTP server on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
