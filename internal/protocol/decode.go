package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodeFrame parses one inbound frame and checks dispatch invariants.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Op == OpDispatch {
		if f.Seq == nil {
			return Frame{}, ErrMissingSequence
		}
		if f.EventName() == "" {
			return Frame{}, ErrMissingEventName
		}
	}
	return f, nil
}

// DecodeData unmarshals a frame payload into T.
func DecodeData[T any](f Frame) (T, error) {
	var out T
	if len(f.Data) == 0 {
		return out, fmt.Errorf("%w: %s frame has no payload", ErrMalformedFrame, f.Op)
	}
	if err := json.Unmarshal(f.Data, &out); err != nil {
		return out, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Op, err)
	}
	return out, nil
}

// DecodeHello extracts and validates the heartbeat interval from a hello frame.
func DecodeHello(f Frame) (time.Duration, error) {
	if f.Op != OpHello {
		return 0, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedOpcode, OpHello, f.Op)
	}
	hello, err := DecodeData[Hello](f)
	if err != nil {
		return 0, err
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidHelloPeriod, hello.HeartbeatInterval)
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}
