package cache

import (
	"encoding/json"
	"fmt"
)

// Marker values stored for non-payload states.
const (
	PendingMarker = "__REQUEST__"
	BlockedMarker = "__BLOCK__"
)

// Kind enumerates the states a token can be in.
type Kind int

const (
	KindAbsent Kind = iota
	KindPending
	KindBlocked
	KindCached
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindPending:
		return "pending"
	case KindBlocked:
		return "blocked"
	case KindCached:
		return "cached"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is the decoded store value for a token. Response is set only for
// KindCached.
type State struct {
	Kind     Kind
	Response *Response
}

var (
	statePending = State{Kind: KindPending}
	stateBlocked = State{Kind: KindBlocked}
)

// Cached returns the State holding resp.
func Cached(resp *Response) State {
	return State{Kind: KindCached, Response: resp}
}

// Encode returns the store representation of s.
func (s State) Encode() ([]byte, error) {
	switch s.Kind {
	case KindPending:
		return []byte(PendingMarker), nil
	case KindBlocked:
		return []byte(BlockedMarker), nil
	case KindCached:
		if s.Response == nil {
			return nil, fmt.Errorf("%w: cached state without response", ErrInvalidEntry)
		}
		data, err := json.Marshal(s.Response)
		if err != nil {
			return nil, fmt.Errorf("marshal cached response: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("state %s has no stored form", s.Kind)
	}
}

// Decode parses a store value. A nil value decodes to KindAbsent.
func Decode(raw []byte) (State, error) {
	switch string(raw) {
	case "":
		if raw == nil {
			return State{Kind: KindAbsent}, nil
		}
	case PendingMarker:
		return statePending, nil
	case BlockedMarker:
		return stateBlocked, nil
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if resp.StatusCode == 0 {
		return State{}, fmt.Errorf("%w: missing status code", ErrInvalidEntry)
	}
	return Cached(&resp), nil
}
