package cache

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/kcsp-cache/pkg/headers"
)

// ErrBodyTooLarge is returned when a response body exceeds the read limit.
var ErrBodyTooLarge = errors.New("response body too large")

// ResponseFromHTTP reads resp into a Response. Headers pass through filter;
// Content-Encoding is dropped because the body is stored decoded. A limit
// of zero or less disables the size check. The body is closed.
func ResponseFromHTTP(resp *http.Response, filter headers.Filter, limit int64) (*Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}
	defer resp.Body.Close()

	var body []byte
	var err error
	if limit > 0 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err == nil && int64(len(body)) > limit {
			return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
		}
	} else {
		body, err = io.ReadAll(resp.Body)
	}
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	h := filter.Apply(resp.Header)
	if resp.Uncompressed {
		h.Del("Content-Encoding")
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers.Flatten(h),
		Content:    body,
	}, nil
}
