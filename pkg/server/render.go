package server

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/kcsp-cache/pkg/cache"
)

// Content encodings in order of preference.
const (
	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
	EncodingIdentity = "identity"
)

var preferredEncodings = []string{EncodingGzip, EncodingDeflate, EncodingBrotli}

var errorPages = map[int]string{
	http.StatusForbidden:           "<h1>HTTP 403 - Forbidden</h1>参数错误或无访问权限。",
	http.StatusGone:                "<h1>HTTP 410 - Gone</h1>获取数据失败。",
	http.StatusInternalServerError: "<h1>HTTP 500 - Internal Server Error</h1>服务器内部执行过程中遇到错误。请向webmaster提交错误报告以解决问题。",
	http.StatusServiceUnavailable:  "<h1>HTTP 503 - Service Unavailable</h1>暂未获取到数据。请稍后再试。",
}

// ErrorPage returns the HTML page rendered for status.
func ErrorPage(status int) string {
	msg, ok := errorPages[status]
	if !ok {
		msg = errorPages[http.StatusInternalServerError]
	}
	return `<!DOCTYPE html><html><head><meta charset="UTF-8"></head><body>` +
		msg +
		`<hr/>Powered by KCSP Server</body></html>`
}

// Renderer writes cached payloads and error pages.
type Renderer struct {
	logger zerolog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(logger zerolog.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render writes resp, compressed per acceptEncoding. Nothing is written
// when an error is returned, so the caller can still render an error page.
func (rd *Renderer) Render(w http.ResponseWriter, acceptEncoding string, resp *cache.Response) error {
	h := resp.Header()
	h.Del("Content-Length")
	h.Del("Transfer-Encoding")

	body := resp.Content
	encoding := EncodingIdentity
	if h.Get("Content-Encoding") == "" {
		encoding = Negotiate(acceptEncoding)
	}
	if encoding != EncodingIdentity {
		compressed, err := compress(encoding, body)
		if err != nil {
			rd.logger.Error().Err(err).Str("encoding", encoding).Msg("Compression failed")
			return &Error{Kind: KindInternal, Message: "compress response", Err: err}
		}
		body = compressed
		h.Set("Content-Encoding", encoding)
		h.Add("Vary", "Accept-Encoding")
	}
	renderEncodingsTotal.WithLabelValues(encoding).Inc()

	dst := w.Header()
	for k, v := range h {
		dst[k] = v
	}
	dst.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		rd.logger.Debug().Err(err).Msg("Client went away during write")
	}
	return nil
}

// RenderError writes the error page for kind.
func (rd *Renderer) RenderError(w http.ResponseWriter, kind Kind) {
	status := kind.StatusCode()
	page := ErrorPage(status)
	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Length", strconv.Itoa(len(page)))
	w.WriteHeader(status)
	if _, err := io.WriteString(w, page); err != nil {
		rd.logger.Debug().Err(err).Msg("Client went away during error page")
	}
}

// Negotiate picks the preferred encoding acceptable per an Accept-Encoding
// header value. Codings with q=0 are refused; "*" covers every coding not
// listed by name.
func Negotiate(acceptEncoding string) string {
	accepted := make(map[string]bool)
	wildcard := false
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "":
		case "*":
			wildcard = !refused(params)
		default:
			accepted[name] = !refused(params)
		}
	}
	for _, enc := range preferredEncodings {
		ok, listed := accepted[enc]
		if !listed {
			ok = wildcard
		}
		if ok {
			return enc
		}
	}
	return EncodingIdentity
}

func refused(params string) bool {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return err == nil && q == 0
	}
	return false
}

func compress(encoding string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var zw io.WriteCloser
	switch encoding {
	case EncodingGzip:
		zw = gzip.NewWriter(&buf)
	case EncodingDeflate:
		zw = zlib.NewWriter(&buf)
	case EncodingBrotli:
		zw = brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
