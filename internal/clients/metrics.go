package clients

import (
	"github.com/anonchat/edgeworker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "clients",
			Name:      "connected",
			Help:      "Pages currently connected to the worker",
		},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "clients",
			Name:      "messages_sent_total",
			Help:      "Messages posted to pages by type",
		},
		[]string{"type"},
	)

	messagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "clients",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because a page's buffer was full",
		},
	)
)
