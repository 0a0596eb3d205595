package outbox

import (
	"time"

	"github.com/anonchat/edgeworker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outbox",
			Name:      "queue_size",
			Help:      "Messages waiting in the in-memory queue",
		},
	)

	messagesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outbox",
			Name:      "enqueued_total",
			Help:      "Messages queued because the upstream was unreachable",
		},
	)

	replayAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outbox",
			Name:      "replay_total",
			Help:      "Replay attempts by outcome (sent, retry, failed)",
		},
		[]string{"outcome"},
	)

	replayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outbox",
			Name:      "replay_duration_seconds",
			Help:      "Time to resend one queued message",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	drainsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "outbox",
			Name:      "drains_total",
			Help:      "Drain passes that found at least one message",
		},
	)
)

func recordQueueSize(n int) {
	queueSize.Set(float64(n))
}

func recordReplay(outcome string, d time.Duration) {
	replayAttempts.WithLabelValues(outcome).Inc()
	replayDuration.Observe(d.Seconds())
}
