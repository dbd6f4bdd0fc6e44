// Package headers holds the header sets stripped when requests and responses
// cross the proxy, and the flat header map used by cached responses.
package headers

import (
	"net/http"
	"sort"
	"strings"
)

// Names of the proxy control headers set by the local forwarding proxy.
const (
	RequestURI = "Request-Uri"
	CacheToken = "Cache-Token"
)

// Filter removes a fixed set of header names. Matching is case-insensitive.
type Filter struct {
	drop map[string]struct{}
}

// NewFilter builds a filter dropping the given names.
func NewFilter(names ...string) Filter {
	f := Filter{drop: make(map[string]struct{}, len(names))}
	for _, n := range names {
		f.drop[http.CanonicalHeaderKey(n)] = struct{}{}
	}
	return f
}

var (
	// Upstream is applied by the cache server to inbound request headers before
	// they are sent to the game API, and to the game API's response headers
	// before they are cached.
	Upstream = NewFilter(
		"Host",
		"Expect",
		"Connection",
		"Proxy-Connection",
		"Content-Length",
		CacheToken,
		RequestURI,
	)

	// Relay is applied by the local forwarding proxy in both directions.
	Relay = NewFilter(
		"Connection",
		"Proxy-Connection",
		CacheToken,
		RequestURI,
	)
)

// Drops reports whether the filter removes name.
func (f Filter) Drops(name string) bool {
	_, ok := f.drop[http.CanonicalHeaderKey(name)]
	return ok
}

// Names returns the dropped header names in canonical form, sorted.
func (f Filter) Names() []string {
	out := make([]string, 0, len(f.drop))
	for n := range f.drop {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Apply returns a copy of h without the filtered names. h is not modified.
func (f Filter) Apply(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		if f.Drops(k) {
			continue
		}
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}

// Flatten converts h to a map with lower-case keys and comma-joined values.
// Set-Cookie values are newline-joined instead.
func Flatten(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) == 0 {
			continue
		}
		sep := ", "
		if http.CanonicalHeaderKey(k) == "Set-Cookie" {
			sep = "\n"
		}
		out[strings.ToLower(k)] = strings.Join(vs, sep)
	}
	return out
}

// Expand is the inverse of Flatten. Set-Cookie is split back into one
// value per cookie; other headers keep their joined value.
func Expand(m map[string]string) http.Header {
	out := make(http.Header, len(m))
	for k, v := range m {
		if http.CanonicalHeaderKey(k) == "Set-Cookie" {
			for _, c := range strings.Split(v, "\n") {
				out.Add(k, c)
			}
			continue
		}
		out.Set(k, v)
	}
	return out
}
