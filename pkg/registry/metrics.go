package registry

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
)

var (
	promoteDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "cascade",
		Subsystem: "registry",
		Name:      "promote_duration_seconds",
		Help:      "Duration of artifact promotions, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{cascademetrics.LabelSuccess})
)
