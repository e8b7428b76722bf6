package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// EncodeFrame marshals one outbound frame. A nil data value encodes as null.
func EncodeFrame(op Opcode, data any) ([]byte, error) {
	var raw json.RawMessage
	switch v := data.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", op, err)
		}
		raw = b
	}
	return json.Marshal(Frame{Op: op, Data: raw})
}

// EncodeHeartbeat encodes a heartbeat carrying the last seen sequence, or
// null when no dispatch has been seen yet.
func EncodeHeartbeat(seq int64) ([]byte, error) {
	if seq <= 0 {
		return EncodeFrame(OpHeartbeat, nil)
	}
	return EncodeFrame(OpHeartbeat, seq)
}

// GatewayURL appends the version and encoding query to a discovery or resume
// URL, preserving any other query parameters.
func GatewayURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidGatewayURL)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidGatewayURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidGatewayURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidGatewayURL)
	}
	q := u.Query()
	q.Set("v", strconv.Itoa(Version))
	q.Set("encoding", Encoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
