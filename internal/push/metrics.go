package push

import (
	"github.com/anonchat/edgeworker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "push",
			Name:      "received_total",
			Help:      "Push events by payload kind (empty, custom, malformed)",
		},
		[]string{"payload"},
	)

	displayErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "push",
			Name:      "display_errors_total",
			Help:      "Notifications a displayer failed to show",
		},
	)

	interactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "push",
			Name:      "interactions_total",
			Help:      "Notification clicks and dismissals",
		},
		[]string{"kind", "action"},
	)
)
