package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/breaker"
	"github.com/Sternrassler/kcsp-cache/pkg/metrics"
)

// NewAdminHandler returns the operator surface:
//
//	GET    /admin/lock   circuit breaker state
//	PUT    /admin/lock   engage the breaker
//	DELETE /admin/lock   release the breaker
//	GET    /health       liveness
//	GET    /metrics      Prometheus metrics
//
// It must only be served on a trusted listener.
func NewAdminHandler(tracker *breaker.Tracker, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/admin/lock", lockHandler(tracker, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func lockHandler(tracker *breaker.Tracker, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var err error
		switch r.Method {
		case http.MethodGet:
		case http.MethodPut, http.MethodPost:
			err = tracker.Engage(ctx)
		case http.MethodDelete:
			err = tracker.Release(ctx)
		default:
			w.Header().Set("Allow", "GET, PUT, POST, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("method", r.Method).Msg("Circuit breaker update failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		state, err := tracker.GetState(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Circuit breaker read failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state); err != nil {
			logger.Debug().Err(err).Msg("Failed to write lock state")
		}
	}
}
