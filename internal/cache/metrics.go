package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HitsTotal counts cache hits by backend.
	HitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of result cache hits",
		},
		[]string{"backend"},
	)

	// MissesTotal counts cache misses by backend, including degraded reads.
	MissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of result cache misses",
		},
		[]string{"backend"},
	)

	// DegradedTotal counts backend failures swallowed by the cache.
	// Labels: backend, op (get, set, invalidate)
	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "cache",
			Name:      "degraded_operations_total",
			Help:      "Total number of cache operations dropped because the backend failed",
		},
		[]string{"backend", "op"},
	)

	// InvalidatedKeys counts keys removed by namespace invalidation.
	InvalidatedKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "cache",
			Name:      "invalidated_keys_total",
			Help:      "Total number of cache keys removed by namespace invalidation",
		},
		[]string{"backend"},
	)
)
