package cache

import (
	"github.com/anonchat/edgeworker/internal/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "writes_total",
			Help:      "Cache writes by cache kind and result",
		},
		[]string{"kind", "result"},
	)

	evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "cache",
			Name:      "evicted_caches_total",
			Help:      "Stale caches deleted on activation",
		},
	)
)
