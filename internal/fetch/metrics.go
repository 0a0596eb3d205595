package fetch

import (
	"github.com/anonchat/edgeworker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var outcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Intercepted requests by strategy and outcome",
	},
	[]string{"strategy", "outcome"},
)

func recordOutcome(strategy, outcome string) {
	outcomes.WithLabelValues(strategy, outcome).Inc()
}
