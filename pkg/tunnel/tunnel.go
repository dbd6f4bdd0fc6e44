// Package tunnel implements the CONNECT handler shared by the cache server
// and the local retry proxy: an opaque TCP relay between the client and the
// requested host.
package tunnel

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for CONNECT tunnels.
var (
	tunnelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kcsp_tunnels_active",
		Help: "Number of open CONNECT tunnels",
	})

	tunnelsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_tunnels_total",
		Help: "Total CONNECT requests by result (established, dial_error, hijack_error)",
	}, []string{"result"})

	tunnelBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kcsp_tunnel_bytes_total",
		Help: "Bytes relayed through CONNECT tunnels by direction",
	}, []string{"direction"})
)

// Established is written to the client once the outbound connection is up.
const Established = "HTTP/1.1 200 Connection Established\r\n\r\n"

// DefaultDialTimeout bounds the outbound connect.
const DefaultDialTimeout = 30 * time.Second

// Handler serves CONNECT requests.
type Handler struct {
	dialer *net.Dialer
	logger zerolog.Logger
}

// New creates a tunnel handler. A non-positive timeout uses
// DefaultDialTimeout.
func New(dialTimeout time.Duration, logger zerolog.Logger) *Handler {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Handler{
		dialer: &net.Dialer{Timeout: dialTimeout},
		logger: logger,
	}
}

// ServeHTTP implements http.Handler. The connection is hijacked, so nothing
// may be written through w afterwards.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodConnect {
		http.Error(w, "CONNECT required", http.StatusMethodNotAllowed)
		return
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		tunnelsTotal.WithLabelValues("hijack_error").Inc()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	target := Target(r)
	upstream, dialErr := h.dialer.DialContext(r.Context(), "tcp", target)

	client, buf, err := hj.Hijack()
	if err != nil {
		tunnelsTotal.WithLabelValues("hijack_error").Inc()
		h.logger.Error().Err(err).Str("url", target).Msg("Hijack failed")
		if upstream != nil {
			upstream.Close()
		}
		return
	}

	if dialErr != nil {
		tunnelsTotal.WithLabelValues("dial_error").Inc()
		h.logger.Info().Err(dialErr).Str("url", target).Msg("Connect failed")
		client.Close()
		return
	}

	if _, err := io.WriteString(client, Established); err != nil {
		tunnelsTotal.WithLabelValues("hijack_error").Inc()
		client.Close()
		upstream.Close()
		return
	}
	tunnelsTotal.WithLabelValues("established").Inc()
	h.logger.Info().Str("url", target).Msg("Process connect")

	up, down := h.relay(client, buf.Reader, upstream)
	h.logger.Debug().
		Str("url", target).
		Int64("bytes_up", up).
		Int64("bytes_down", down).
		Msg("Tunnel closed")
}

// relay splices client and upstream until either side finishes, then
// closes both. src carries client bytes already buffered by the server.
func (h *Handler) relay(client net.Conn, src *bufio.Reader, upstream net.Conn) (up, down int64) {
	tunnelsActive.Inc()
	defer tunnelsActive.Dec()

	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			client.Close()
			upstream.Close()
		})
	}

	var upBytes, downBytes atomic.Int64
	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		n, err := io.Copy(upstream, src)
		upBytes.Store(n)
		return err
	})
	g.Go(func() error {
		defer closeBoth()
		n, err := io.Copy(client, upstream)
		downBytes.Store(n)
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Debug().Err(err).Msg("Tunnel copy ended with error")
	}

	tunnelBytesTotal.WithLabelValues("up").Add(float64(upBytes.Load()))
	tunnelBytesTotal.WithLabelValues("down").Add(float64(downBytes.Load()))
	return upBytes.Load(), downBytes.Load()
}

// Target returns host:port of a CONNECT request, defaulting to port 80.
func Target(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "80")
	}
	return host
}
