// Package client implements the local retry forwarding proxy: a listener
// on the player's machine that relays every request to the cache server,
// retrying transient failures with a fixed delay.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/headers"
	"github.com/Sternrassler/kcsp-cache/pkg/tunnel"
)

// Prometheus metrics for local proxy operations.
var (
	clientRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_client_requests_total",
		Help: "Total relayed requests by result (relayed, exhausted, cancelled)",
	}, []string{"result"})

	clientRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kcsp_client_request_duration_seconds",
		Help:    "Relayed request duration in seconds including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 200},
	})
)

// Client is the local retry forwarding proxy.
type Client struct {
	httpClient *http.Client
	tunnel     http.Handler
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Upstream is the cache server URL, used as an HTTP proxy.
	Upstream string

	// Timeout bounds one attempt including the body read.
	Timeout time.Duration

	// Retry holds the attempt count and delay.
	Retry RetryConfig

	// MaxBody caps inbound request bodies; larger requests get 413.
	MaxBody int64
}

// DefaultConfig returns the default configuration for upstream.
func DefaultConfig(upstream string) Config {
	return Config{
		Upstream: upstream,
		Timeout:  20 * time.Second,
		Retry:    DefaultRetryConfig(),
		MaxBody:  8 << 20,
	}
}

// Result is the relayed answer of the cache server.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Attempts is the number of attempts made, including the first.
	Attempts int
}

// New creates a new local proxy client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.Upstream == "" {
		return nil, fmt.Errorf("upstream is required")
	}
	proxyURL, err := url.Parse(cfg.Upstream)
	if err != nil || proxyURL.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", cfg.Upstream)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	if cfg.MaxBody <= 0 {
		return nil, fmt.Errorf("max body must be > 0 (got %d)", cfg.MaxBody)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	transport := &http.Transport{
		Proxy: http.ProxyURL(proxyURL),
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		tunnel: tunnel.New(cfg.Timeout, logger),
		config: cfg,
		logger: logger,
	}, nil
}

// ServeHTTP relays r to the cache server. CONNECT requests are tunneled
// directly. When every attempt fails the caller gets 503 with an empty body.
func (c *Client) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		c.tunnel.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.config.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.logger.Warn().Int64("limit", tooLarge.Limit).Str("url", r.URL.Path).Msg("Request body too large")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		c.logger.Warn().Err(err).Msg("Failed to read request body")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	target := absoluteURL(r)
	res, err := c.Forward(r.Context(), r.Method, target, headers.Relay.Apply(r.Header), body)
	if err != nil {
		if errors.Is(err, ErrContextCancelled) {
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	dst := w.Header()
	for k, v := range headers.Relay.Apply(res.Header) {
		dst[k] = v
	}
	dst.Set("Content-Length", strconv.Itoa(len(res.Body)))
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		c.logger.Debug().Err(err).Msg("Caller went away during write")
	}
}

// Forward sends one logical request to the cache server under a fresh
// correlation token, retrying transport errors and 503 answers.
func (c *Client) Forward(ctx context.Context, method, target string, header http.Header, body []byte) (*Result, error) {
	token := NewToken()
	path := target
	if u, err := url.Parse(target); err == nil {
		path = u.Path
	}
	logger := c.logger.With().Str("token", token).Str("url", path).Logger()
	start := time.Now()

	var res *Result
	attempts, err := retryFixed(ctx, c.config.Retry, logger, func(attempt int) error {
		logger.Info().Int("attempt", attempt).Msg("Try")
		r, err := c.attempt(ctx, method, target, header, body, token)
		if err != nil {
			return err
		}
		res = r
		return nil
	})

	elapsed := time.Since(start)
	clientRequestDuration.Observe(elapsed.Seconds())
	logger.Info().Int("attempts", attempts).Dur("duration", elapsed).Msg("Finish")

	if err != nil {
		if errors.Is(err, ErrContextCancelled) {
			clientRequestsTotal.WithLabelValues("cancelled").Inc()
		} else {
			clientRequestsTotal.WithLabelValues("exhausted").Inc()
		}
		return nil, err
	}
	clientRequestsTotal.WithLabelValues("relayed").Inc()
	res.Attempts = attempts
	return res, nil
}

func (c *Client) attempt(ctx context.Context, method, target string, header http.Header, body []byte, token string) (*Result, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()
	req.Header.Set(headers.RequestURI, target)
	req.Header.Set(headers.CacheToken, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// NewToken returns a correlation token: the last eight digits of the
// millisecond clock, a dash and sixteen random hex digits.
func NewToken() string {
	return newTokenAt(time.Now())
}

func newTokenAt(t time.Time) string {
	ms := strconv.FormatInt(t.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	id := uuid.New()
	return ms + "-" + strings.ReplaceAll(id.String(), "-", "")[:16]
}

// absoluteURL returns the destination of a proxied request. Requests sent
// directly rather than through a proxy are resolved against their Host.
func absoluteURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	u := *r.URL
	u.Scheme = "http"
	u.Host = r.Host
	return u.String()
}
