package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the gateway API version requested on connect.
const Version = 10

// Encoding is the only payload encoding this client speaks.
const Encoding = "json"

// Opcode identifies the kind of gateway frame.
type Opcode int

const (
	OpDispatch         Opcode = 0
	OpHeartbeat        Opcode = 1
	OpIdentify         Opcode = 2
	OpPresenceUpdate   Opcode = 3
	OpVoiceStateUpdate Opcode = 4
	OpResume           Opcode = 6
	OpReconnect        Opcode = 7
	OpInvalidSession   Opcode = 9
	OpHello            Opcode = 10
	OpHeartbeatAck     Opcode = 11
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpPresenceUpdate:
		return "presence_update"
	case OpVoiceStateUpdate:
		return "voice_state_update"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Passthrough reports whether collaborators may send op verbatim through the
// session. Handshake and liveness opcodes are reserved for the state machine.
func (o Opcode) Passthrough() bool {
	switch o {
	case OpPresenceUpdate, OpVoiceStateUpdate:
		return true
	default:
		return false
	}
}

// Frame is one gateway message in either direction.
// Seq and Event are only set on dispatch frames.
type Frame struct {
	Op    Opcode          `json:"op"`
	Data  json.RawMessage `json:"d"`
	Seq   *int64          `json:"s"`
	Event *string         `json:"t"`
}

// Sequence returns the dispatch sequence, if the frame carries one.
func (f Frame) Sequence() (int64, bool) {
	if f.Seq == nil {
		return 0, false
	}
	return *f.Seq, true
}

// EventName returns the dispatch event name or "".
func (f Frame) EventName() string {
	if f.Event == nil {
		return ""
	}
	return *f.Event
}
