package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "jobs_created_total", Help: "Jobs created, by type"}, []string{"type"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs completed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Jobs that ended in failure"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_cancelled_total", Help: "Jobs cancelled by callers"})
	JobsInFlight     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Pipelines currently running"})
	JobsSwept        = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_swept_total", Help: "Expired job records removed by the sweeper"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Job-start requests rejected by the rate limiter"})

	ChunkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chunk_transform_seconds",
		Help:    "Duration of a single chunk transform",
		Buckets: prometheus.DefBuckets,
	}, []string{"pipeline"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			JobsInFlight,
			JobsSwept,
			RateLimitRejects,
			ChunkDuration,
		)
	})
	return promhttp.Handler()
}
