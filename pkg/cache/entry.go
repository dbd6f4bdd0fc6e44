package cache

import (
	"net/http"

	"github.com/Sternrassler/kcsp-cache/pkg/headers"
)

// Response is a cached upstream response.
type Response struct {
	// StatusCode is the upstream HTTP status code.
	StatusCode int `json:"statusCode"`

	// Headers are the filtered upstream response headers, lower-case keys.
	Headers map[string]string `json:"headers"`

	// Content is the decoded (identity) response body.
	Content []byte `json:"content"`
}

// Header returns the headers as an http.Header.
func (r *Response) Header() http.Header {
	return headers.Expand(r.Headers)
}
