// Package cache implements the cache state machine that sits in front of the
// game API.
//
// Every cache token maps to one of four states in the backing store:
//
//   - Absent: no entry, or the entry expired
//   - Pending: an upstream call for the token is in flight
//   - Blocked: the last upstream call for the token failed terminally
//   - Cached: a serialized upstream response
//
// Pending and Blocked are stored as the marker strings "__REQUEST__" and
// "__BLOCK__"; cached responses are stored as JSON with the body base64
// encoded, so binary payloads survive the round trip. The encoding lives
// only at the store edge (Decode, State.Encode); callers work with State.
//
// # Resolving a token
//
//	resp, err := manager.Resolve(ctx, token)
//	switch {
//	case errors.Is(err, cache.ErrUnavailable):
//		// circuit breaker engaged, or another request is fetching the token
//	case errors.Is(err, cache.ErrGone):
//		// the token is blocked until its entry expires
//	case err != nil:
//		// unclassified
//	case resp != nil:
//		// cache hit
//	default:
//		// miss: the token is now Pending and the caller must fetch it,
//		// then call Fill or Block
//	}
//
// # Duplicate fetches
//
// When the store implements store.Claimer the Pending marker is written with
// put-if-absent, so exactly one caller proceeds per token. Otherwise the
// marker is written with a plain put and two simultaneous first requests may
// both proceed; the later Fill wins.
//
// # Metrics
//
//   - kcsp_cache_lookups_total{state} - lookups by observed state
//   - kcsp_cache_writes_total{state} - state transitions written to the store
//   - kcsp_cache_claim_conflicts_total - claims lost to a concurrent request
//   - kcsp_cache_errors_total{operation} - store failures seen by the manager
package cache
