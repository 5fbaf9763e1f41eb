package daemon

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
)

var (
	queueDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "queue_duration_seconds",
		Help:      "Duration of time spent in the job queue before execution.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{})
	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "queue_length_count",
		Help:      "Count of jobs waiting in the queue to be run.",
	}, []string{})
	jobDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cascademetrics.LabelSuccess})
	settleDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "settle_duration_seconds",
		Help:      "Duration of waiting for an environment to settle after a change, in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{cascademetrics.LabelEnvironment})
	settleCount = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "settle_count",
		Help:      "Count of changes observed settling, by environment.",
	}, []string{cascademetrics.LabelEnvironment})
	cascadeCount = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "cascade_count",
		Help:      "Count of promotions cascaded into an environment.",
	}, []string{cascademetrics.LabelEnvironment})
	rollbackCount = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "daemon",
		Name:      "rollback_count",
		Help:      "Count of rollbacks performed, by environment.",
	}, []string{cascademetrics.LabelEnvironment})
)
