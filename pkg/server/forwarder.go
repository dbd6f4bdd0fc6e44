package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/cache"
	"github.com/Sternrassler/kcsp-cache/pkg/headers"
)

// errUpstreamStatus marks an upstream response with status >= 400.
var errUpstreamStatus = errors.New("upstream error status")

// Forwarder performs upstream calls and records their outcome in the cache.
type Forwarder struct {
	client  *http.Client
	manager *cache.Manager
	maxBody int64
	logger  zerolog.Logger
}

// NewForwarder creates a forwarder. Redirects are returned to the caller
// rather than followed.
func NewForwarder(manager *cache.Manager, cfg Config, logger zerolog.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Timeout: cfg.UpstreamTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		manager: manager,
		maxBody: cfg.MaxUpstreamBody,
		logger:  logger,
	}
}

// Forward fetches req from upstream and settles its pending token.
//
// On success the response replaces the pending marker. On failure a shared
// token keeps its pending marker until it expires and the caller gets
// unavailable; a per-request token is blocked and the caller gets gone.
//
// The upstream call and the store update outlive the inbound request so a
// disconnecting client does not strand the pending marker.
func (f *Forwarder) Forward(ctx context.Context, req *Request) (*cache.Response, error) {
	ctx = context.WithoutCancel(ctx)
	token := req.Token.String()

	resp, err := f.fetch(ctx, req)
	if err == nil && resp.StatusCode >= http.StatusBadRequest {
		f.logger.Error().
			Str("url", req.Target.String()).
			Int("status", resp.StatusCode).
			Interface("headers", req.Header).
			Bytes("body", req.Body).
			Bytes("response", resp.Content).
			Msg("Upstream responded with error status")
		upstreamRequestsTotal.WithLabelValues("status").Inc()
		err = fmt.Errorf("%w: %d", errUpstreamStatus, resp.StatusCode)
	}

	if err != nil {
		if req.Token.Shared {
			return nil, &Error{Kind: KindUnavailable, Message: "shared fetch failed for " + token, Err: err}
		}
		if berr := f.manager.Block(ctx, token); berr != nil {
			f.logger.Error().Err(berr).Str("token", token).Msg("Failed to mark token blocked")
		}
		return nil, &Error{Kind: KindGone, Message: "fetch failed for " + token, Err: err}
	}

	upstreamRequestsTotal.WithLabelValues("success").Inc()
	f.logger.Info().
		Str("url", req.Target.String()).
		Str("token", token).
		Int("status", resp.StatusCode).
		Msg("Upstream responded")

	if err := f.manager.Fill(ctx, token, resp); err != nil {
		f.logger.Error().Err(err).Str("token", token).Msg("Failed to cache response")
	}
	return resp, nil
}

// Pass relays req without touching the cache. Any failure is unavailable.
func (f *Forwarder) Pass(ctx context.Context, req *Request) (*cache.Response, error) {
	resp, err := f.fetch(ctx, req)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Message: "pass-through failed", Err: err}
	}
	upstreamRequestsTotal.WithLabelValues("success").Inc()
	return resp, nil
}

func (f *Forwarder) fetch(ctx context.Context, req *Request) (*cache.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	outbound, err := http.NewRequestWithContext(ctx, req.Method, req.Target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	outbound.Header = headers.Upstream.Apply(req.Header)
	// Leave compression to the transport so bodies arrive decoded.
	outbound.Header.Del("Accept-Encoding")

	start := time.Now()
	httpResp, err := f.client.Do(outbound)
	upstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		upstreamRequestsTotal.WithLabelValues("network").Inc()
		f.logger.Error().
			Err(err).
			Str("url", req.Target.String()).
			Interface("headers", req.Header).
			Bytes("body", req.Body).
			Msg("Upstream request failed")
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	resp, err := cache.ResponseFromHTTP(httpResp, headers.Upstream, f.maxBody)
	if err != nil {
		if errors.Is(err, cache.ErrBodyTooLarge) {
			upstreamRequestsTotal.WithLabelValues("too_large").Inc()
		} else {
			upstreamRequestsTotal.WithLabelValues("network").Inc()
		}
		f.logger.Error().Err(err).Str("url", req.Target.String()).Msg("Failed to read upstream response")
		return nil, err
	}
	return resp, nil
}
