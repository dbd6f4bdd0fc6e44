// Package server implements the cache server's HTTP surface: request
// validation, cache-aware upstream forwarding, response rendering with
// content-encoding negotiation, and the operator endpoints.
package server

import "time"

// TokenMode selects how the cache token is derived from a request.
type TokenMode string

const (
	// TokenModeHeader expects a POST carrying Request-Uri and Cache-Token
	// headers; the correlation token is the Cache-Token value.
	TokenModeHeader TokenMode = "header"

	// TokenModeBody serves as a forward proxy: the destination is the
	// absolute request URL and the token is the api_token form field joined
	// with the Cache-Token header.
	TokenModeBody TokenMode = "body"
)

// Config holds the cache server's request handling settings.
type Config struct {
	// APIPrefix is the path prefix of cache-aware game API calls.
	APIPrefix string

	// UpstreamHosts is the allow-list of game API hosts, matched against
	// the destination host without port.
	UpstreamHosts []string

	// CacheableAPIs are paths cached under a shared token for all users.
	CacheableAPIs []string

	TokenMode TokenMode

	// UpstreamTimeout bounds one upstream call including the body read.
	UpstreamTimeout time.Duration

	// MaxRequestBody caps inbound bodies; larger requests are forbidden.
	MaxRequestBody int64

	// MaxUpstreamBody caps upstream bodies; larger responses are an
	// upstream failure.
	MaxUpstreamBody int64
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		APIPrefix:       "/kcsapi/",
		UpstreamHosts:   DefaultUpstreamHosts(),
		CacheableAPIs:   []string{"/kcsapi/api_start2/getData", "/kcsapi/api_start2"},
		TokenMode:       TokenModeHeader,
		UpstreamTimeout: 180 * time.Second,
		MaxRequestBody:  8 << 20,
		MaxUpstreamBody: 32 << 20,
	}
}

// DefaultUpstreamHosts returns the game world servers.
func DefaultUpstreamHosts() []string {
	return []string{
		"203.104.209.71",
		"203.104.209.87",
		"125.6.184.215",
		"203.104.209.183",
		"203.104.209.150",
		"203.104.209.134",
		"203.104.209.167",
		"203.104.209.199",
		"125.6.189.7",
		"125.6.189.39",
		"125.6.189.71",
		"125.6.189.103",
		"125.6.189.135",
		"125.6.189.167",
		"125.6.189.215",
		"125.6.189.247",
		"203.104.209.23",
		"203.104.209.39",
		"203.104.209.55",
		"203.104.209.102",
	}
}
