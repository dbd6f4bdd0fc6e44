package cache

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestDecode_Markers(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want Kind
	}{
		{"nil is absent", nil, KindAbsent},
		{"pending marker", []byte(PendingMarker), KindPending},
		{"blocked marker", []byte(BlockedMarker), KindBlocked},
		{"payload", []byte(`{"statusCode":200,"headers":{},"content":"b2s="}`), KindCached},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Kind != tt.want {
				t.Errorf("Decode() kind = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", []byte{}},
		{"garbage", []byte("not json")},
		{"truncated", []byte(`{"statusCode":200,"content":"`)},
		{"missing status", []byte(`{"headers":{},"content":""}`)},
		{"truthy lock value", []byte("true")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.raw); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Decode(%q) error = %v, want ErrInvalidEntry", tt.raw, err)
			}
		})
	}
}

func TestState_RoundTrip_Binary(t *testing.T) {
	resp := &Response{
		StatusCode: 200,
		Headers: map[string]string{
			"content-type": "text/plain",
			"set-cookie":   "a=1, b=2",
		},
		Content: []byte("svdata={\"api_result\":1}\x00\xff\xfe\x1f\x8b"),
	}

	data, err := Cached(resp).Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got.Kind != KindCached {
		t.Fatalf("kind = %s, want cached", got.Kind)
	}
	if got.Response.StatusCode != resp.StatusCode {
		t.Errorf("StatusCode = %d, want %d", got.Response.StatusCode, resp.StatusCode)
	}
	if !reflect.DeepEqual(got.Response.Headers, resp.Headers) {
		t.Errorf("Headers = %v, want %v", got.Response.Headers, resp.Headers)
	}
	if !bytes.Equal(got.Response.Content, resp.Content) {
		t.Errorf("Content = %q, want %q", got.Response.Content, resp.Content)
	}
}

func TestState_Encode_Errors(t *testing.T) {
	if _, err := (State{Kind: KindAbsent}).Encode(); err == nil {
		t.Error("absent state should not encode")
	}
	if _, err := (State{Kind: KindCached}).Encode(); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("cached state without response error = %v, want ErrInvalidEntry", err)
	}
}

func TestKind_String(t *testing.T) {
	for k, want := range map[Kind]string{
		KindAbsent:  "absent",
		KindPending: "pending",
		KindBlocked: "blocked",
		KindCached:  "cached",
		Kind(9):     "kind(9)",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}
