package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups tracks token lookups by the state observed.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcsp_cache_lookups_total",
			Help: "Total number of cache token lookups by observed state",
		},
		[]string{"state"}, // "absent", "pending", "blocked", "cached", "invalid", "locked"
	)

	// CacheWrites tracks state transitions written to the store.
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcsp_cache_writes_total",
			Help: "Total number of cache state writes by state",
		},
		[]string{"state"}, // "pending", "blocked", "cached"
	)

	// ClaimConflicts tracks pending claims lost to a concurrent request.
	ClaimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kcsp_cache_claim_conflicts_total",
			Help: "Total number of pending claims lost to a concurrent request for the same token",
		},
	)

	// CacheErrors tracks store failures seen by the manager.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcsp_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "claim", "fill", "block", "gate"
	)
)
