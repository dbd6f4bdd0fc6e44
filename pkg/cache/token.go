package cache

// Token identifies a cacheable resource or a single in-flight request.
type Token struct {
	// Endpoint is the API path of the request.
	Endpoint string

	// Shared is set when Endpoint is on the cacheable-API allow-list. Shared
	// tokens are keyed by endpoint alone and served to every user.
	Shared bool

	// User is the player identifier taken from the request body; empty when
	// the request carried an explicit cache token header.
	User string

	// Correlation is the client-generated per-request token.
	Correlation string
}

// String returns the store key for the token.
//
//	shared:        /kcsapi/api_start2/getData
//	header token:  12345678-4f1c2a9be07d3c55
//	body token:    0a1b2c3d-12345678-4f1c2a9be07d3c55
func (t Token) String() string {
	switch {
	case t.Shared:
		return t.Endpoint
	case t.User != "":
		return t.User + "-" + t.Correlation
	default:
		return t.Correlation
	}
}
