package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreErrors tracks failed store operations by backend and operation.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcsp_store_errors_total",
			Help: "Total number of failed store operations",
		},
		[]string{"backend", "operation"}, // "get", "put", "claim", "delete", "sweep"
	)

	// SweptEntries tracks expired entries removed by sweeps.
	SweptEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kcsp_store_swept_entries_total",
			Help: "Total number of expired entries removed by periodic sweeps",
		},
		[]string{"backend"},
	)
)
