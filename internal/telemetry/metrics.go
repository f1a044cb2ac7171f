package telemetry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"esminify/internal/logging"
)

const namespace = "esminify"

// Metrics for one plugin instance. Each instance registers on its own
// registry so several plugins (and tests) never collide.
type Metrics struct {
	Registry *prometheus.Registry

	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheStoreFailures prometheus.Counter
	Transforms         *prometheus.CounterVec
	TasksSkipped       prometheus.Counter
	TaskDuration       prometheus.Histogram
	Workers            prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Tasks answered from the cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Cache lookups that fell through to the engine.",
		}),
		CacheStoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_store_failures_total",
			Help: "Results that could not be written to the cache.",
		}),
		Transforms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transforms_total",
			Help: "Engine invocations by executor and outcome.",
		}, []string{"mode", "outcome"}),
		TasksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_skipped_total",
			Help: "Assets dropped because their task could not be built.",
		}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Time from task start to callback.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers",
			Help: "Live worker processes.",
		}),
	}
	m.Registry.MustRegister(
		m.CacheHits, m.CacheMisses, m.CacheStoreFailures,
		m.Transforms, m.TasksSkipped, m.TaskDuration, m.Workers,
	)
	return m
}

// Expose serves /metrics for g on port in the background. Port 0 is off.
func Expose(port int, g prometheus.Gatherer) *http.Server {
	if port <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Warn("metrics endpoint stopped", "port", port, "err", err)
		}
	}()
	return srv
}
