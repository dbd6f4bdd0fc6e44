package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/cache"
)

// Handler is the cache server's public HTTP surface.
type Handler struct {
	validator *Validator
	manager   *cache.Manager
	forwarder *Forwarder
	renderer  *Renderer
	tunnel    http.Handler
	logger    zerolog.Logger
}

// NewHandler wires the request pipeline. tunnel serves CONNECT requests;
// when nil, CONNECT is forbidden.
func NewHandler(cfg Config, manager *cache.Manager, tunnel http.Handler, logger zerolog.Logger) *Handler {
	if manager == nil {
		panic("cache manager cannot be nil")
	}
	return &Handler{
		validator: NewValidator(cfg),
		manager:   manager,
		forwarder: NewForwarder(manager, cfg, logger),
		renderer:  NewRenderer(logger),
		tunnel:    tunnel,
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)

	if r.Method == http.MethodConnect {
		if h.tunnel == nil {
			h.renderer.RenderError(w, KindForbidden)
			return
		}
		h.logger.Info().Str("ip", ip).Str("url", r.Host).Msg("Accept connect")
		h.tunnel.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	outcome := "internal"
	h.logger.Info().Str("ip", ip).Str("url", r.URL.String()).Msg("Accept request")
	defer func() {
		elapsed := time.Since(start)
		requestsTotal.WithLabelValues(outcome).Inc()
		requestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
		h.logger.Info().
			Str("ip", ip).
			Str("url", r.URL.String()).
			Str("outcome", outcome).
			Dur("duration", elapsed).
			Msg("Finish request")
	}()
	defer h.recover(w, r, ip)

	resp, how, err := h.handle(r.Context(), r)
	if err == nil {
		err = h.renderer.Render(w, r.Header.Get("Accept-Encoding"), resp)
	}
	if err != nil {
		outcome = string(h.fail(w, r, ip, err))
		return
	}
	outcome = how
}

// handle runs validation, the cache state machine and the forwarder. The
// returned string names how the response was produced.
func (h *Handler) handle(ctx context.Context, r *http.Request) (*cache.Response, string, error) {
	req, err := h.validator.Validate(r)
	if err != nil {
		return nil, "", err
	}
	if !req.Cacheable {
		resp, err := h.forwarder.Pass(ctx, req)
		return resp, "passthrough", err
	}

	token := req.Token.String()
	h.logger.Debug().Str("url", req.Target.String()).Str("token", token).Msg("Process request")

	resp, err := h.manager.Resolve(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if resp != nil {
		return resp, "hit", nil
	}
	resp, err = h.forwarder.Forward(ctx, req)
	return resp, "miss", err
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, ip string, err error) Kind {
	kind := Classify(err)
	event := h.logger.Warn()
	if kind == KindInternal {
		event = h.logger.Error().Interface("headers", r.Header)
	}
	event.Err(err).
		Str("ip", ip).
		Str("url", r.URL.String()).
		Int("status", kind.StatusCode()).
		Msg("Request failed")
	h.renderer.RenderError(w, kind)
	return kind
}

func (h *Handler) recover(w http.ResponseWriter, r *http.Request, ip string) {
	p := recover()
	if p == nil {
		return
	}
	if p == http.ErrAbortHandler {
		panic(p)
	}
	h.fail(w, r, ip, &Error{Kind: KindInternal, Message: "recovered", Err: fmt.Errorf("panic: %v", p)})
}
