package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the cache server.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_requests_total",
		Help: "Total inbound requests by outcome (hit, miss, passthrough, forbidden, unavailable, gone, internal)",
	}, []string{"outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kcsp_request_duration_seconds",
		Help:    "Inbound request handling duration by outcome",
		Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 30, 180},
	}, []string{"outcome"})

	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_upstream_requests_total",
		Help: "Total upstream calls by result (success, status, network, too_large)",
	}, []string{"result"})

	upstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kcsp_upstream_duration_seconds",
		Help:    "Upstream call duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 180},
	})

	renderEncodingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_render_encodings_total",
		Help: "Rendered responses by content encoding",
	}, []string{"encoding"})
)
