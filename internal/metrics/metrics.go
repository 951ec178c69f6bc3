// Package metrics exposes job lifecycle instrumentation. Collectors are
// created against an injected registerer at process start and passed down
// explicitly; nothing in the engine reaches for a global metrics singleton.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job holds the lifecycle collectors for queue-driven analysis jobs.
type Job struct {
	Received    *prometheus.CounterVec
	Completed   *prometheus.CounterVec
	Failed      *prometheus.CounterVec
	Retried     prometheus.Counter
	DeadLetters prometheus.Counter
	Running     prometheus.Gauge
	Duration    prometheus.Histogram
}

// NewJob registers the job collectors on reg and returns them.
func NewJob(reg prometheus.Registerer) *Job {
	factory := promauto.With(reg)
	return &Job{
		Received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivergrid_jobs_received_total",
			Help: "Analysis jobs pulled from the queue, by kind.",
		}, []string{"kind"}),
		Completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivergrid_jobs_completed_total",
			Help: "Analysis jobs completed successfully, by kind.",
		}, []string{"kind"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drivergrid_jobs_failed_total",
			Help: "Analysis jobs that failed terminally, by kind and class.",
		}, []string{"kind", "class"}),
		Retried: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivergrid_jobs_retried_total",
			Help: "Analysis job attempts re-queued after a transient failure.",
		}),
		DeadLetters: factory.NewCounter(prometheus.CounterOpts{
			Name: "drivergrid_jobs_dead_lettered_total",
			Help: "Analysis jobs moved to the dead-letter list.",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "drivergrid_jobs_running",
			Help: "Analysis jobs currently being processed.",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "drivergrid_job_duration_seconds",
			Help:    "Wall time spent processing one analysis job.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
