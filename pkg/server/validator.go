package server

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/kcsp-cache/pkg/breaker"
	"github.com/Sternrassler/kcsp-cache/pkg/cache"
	"github.com/Sternrassler/kcsp-cache/pkg/headers"
)

// Request is the per-request context derived by the validator. It is owned
// by the handling of one request.
type Request struct {
	IP      string
	Method  string
	Target  *url.URL
	Header  http.Header
	Body    []byte
	Arrived time.Time

	// Cacheable is false for pass-through traffic outside the API prefix,
	// which is only accepted in body token mode.
	Cacheable bool
	Token     cache.Token
}

// Validator decides eligibility of inbound requests and derives tokens.
type Validator struct {
	prefix  string
	hosts   map[string]struct{}
	shared  map[string]struct{}
	mode    TokenMode
	maxBody int64
}

// NewValidator creates a validator from cfg.
func NewValidator(cfg Config) *Validator {
	v := &Validator{
		prefix:  cfg.APIPrefix,
		hosts:   make(map[string]struct{}, len(cfg.UpstreamHosts)),
		shared:  make(map[string]struct{}, len(cfg.CacheableAPIs)),
		mode:    cfg.TokenMode,
		maxBody: cfg.MaxRequestBody,
	}
	for _, h := range cfg.UpstreamHosts {
		v.hosts[strings.ToLower(h)] = struct{}{}
	}
	for _, p := range cfg.CacheableAPIs {
		v.shared[p] = struct{}{}
	}
	if v.mode == "" {
		v.mode = TokenModeHeader
	}
	return v
}

// Validate inspects r and returns its request context. Every rejection is
// a forbidden error.
func (v *Validator) Validate(r *http.Request) (*Request, error) {
	if v.mode == TokenModeBody {
		return v.validateBody(r)
	}
	return v.validateHeader(r)
}

func (v *Validator) validateHeader(r *http.Request) (*Request, error) {
	if r.Method != http.MethodPost {
		return nil, forbidden("method %s not allowed", r.Method)
	}
	rawURL := r.Header.Get(headers.RequestURI)
	correlation := r.Header.Get(headers.CacheToken)
	if rawURL == "" || correlation == "" {
		return nil, forbidden("missing %s or %s header", headers.RequestURI, headers.CacheToken)
	}

	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" || (target.Scheme != "http" && target.Scheme != "https") {
		return nil, forbidden("invalid destination %q", rawURL)
	}
	if err := v.checkTarget(target); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(target.Path, v.prefix) {
		return nil, forbidden("path %s outside %s", target.Path, v.prefix)
	}

	body, err := v.readBody(r)
	if err != nil {
		return nil, err
	}

	req := v.newRequest(r, target, body)
	req.Cacheable = true
	req.Token = v.token(target.Path, "", correlation)
	if req.Token.String() == breaker.LockKey {
		return nil, forbidden("reserved token")
	}
	return req, nil
}

func (v *Validator) validateBody(r *http.Request) (*Request, error) {
	target := *r.URL
	if target.Host == "" {
		target.Host = r.Host
	}
	if target.Scheme == "" {
		target.Scheme = "http"
	}
	if target.Host == "" {
		return nil, forbidden("missing destination host")
	}
	if err := v.checkTarget(&target); err != nil {
		return nil, err
	}

	body, err := v.readBody(r)
	if err != nil {
		return nil, err
	}
	req := v.newRequest(r, &target, body)
	if !strings.HasPrefix(target.Path, v.prefix) {
		return req, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, forbidden("malformed form body: %v", err)
	}
	user := form.Get("api_token")
	correlation := r.Header.Get(headers.CacheToken)
	if user == "" || correlation == "" {
		return nil, forbidden("missing api_token or %s", headers.CacheToken)
	}

	req.Cacheable = true
	req.Token = v.token(target.Path, user, correlation)
	if req.Token.String() == breaker.LockKey {
		return nil, forbidden("reserved token")
	}
	return req, nil
}

func (v *Validator) checkTarget(target *url.URL) error {
	if _, ok := v.hosts[strings.ToLower(target.Hostname())]; !ok {
		return forbidden("host %s not allowed", target.Hostname())
	}
	return nil
}

func (v *Validator) token(path, user, correlation string) cache.Token {
	if _, ok := v.shared[path]; ok {
		return cache.Token{Endpoint: path, Shared: true}
	}
	return cache.Token{Endpoint: path, User: user, Correlation: correlation}
}

func (v *Validator) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if v.maxBody > 0 && r.ContentLength > v.maxBody {
		return nil, forbidden("request body of %d bytes exceeds %d", r.ContentLength, v.maxBody)
	}

	var reader io.Reader = r.Body
	if v.maxBody > 0 {
		reader = io.LimitReader(r.Body, v.maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	if v.maxBody > 0 && int64(len(body)) > v.maxBody {
		return nil, forbidden("request body exceeds %d bytes", v.maxBody)
	}
	return body, nil
}

func (v *Validator) newRequest(r *http.Request, target *url.URL, body []byte) *Request {
	return &Request{
		IP:      ClientIP(r),
		Method:  r.Method,
		Target:  target,
		Header:  r.Header.Clone(),
		Body:    body,
		Arrived: time.Now(),
	}
}

// ClientIP returns the first X-Forwarded-For hop, else the remote address
// without port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
