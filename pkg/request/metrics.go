package request

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	cascademetrics "github.com/weaveworks/cascade/pkg/metrics"
)

var (
	requestsCreated = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "request",
		Name:      "created_total",
		Help:      "Number of promotion requests created.",
	}, []string{cascademetrics.LabelEnvironment})
	requestsSuperseded = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "request",
		Name:      "superseded_total",
		Help:      "Number of promotion requests closed as superseded.",
	}, []string{cascademetrics.LabelEnvironment})
	requestsFailed = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "cascade",
		Subsystem: "request",
		Name:      "failed_total",
		Help:      "Number of promotion requests that reached the failed state.",
	}, []string{cascademetrics.LabelEnvironment})
)
