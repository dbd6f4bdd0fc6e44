package cache

import "testing"

func TestToken_String(t *testing.T) {
	tests := []struct {
		name  string
		token Token
		want  string
	}{
		{
			name: "shared endpoint ignores correlation",
			token: Token{
				Endpoint:    "/kcsapi/api_start2/getData",
				Shared:      true,
				Correlation: "12345678-abc",
			},
			want: "/kcsapi/api_start2/getData",
		},
		{
			name: "header token",
			token: Token{
				Endpoint:    "/kcsapi/api_port/port",
				Correlation: "12345678-abc",
			},
			want: "12345678-abc",
		},
		{
			name: "body token",
			token: Token{
				Endpoint:    "/kcsapi/api_port/port",
				User:        "0a1b2c",
				Correlation: "12345678-abc",
			},
			want: "0a1b2c-12345678-abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.token.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
