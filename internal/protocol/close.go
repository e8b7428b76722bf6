package protocol

import "fmt"

// CloseCode is a websocket close status as sent by the gateway.
// CloseNone means the socket dropped without a close frame.
type CloseCode int

const (
	CloseNone                 CloseCode = 0
	CloseNormal               CloseCode = 1000
	CloseGoingAway            CloseCode = 1001
	CloseAbnormal             CloseCode = 1006
	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpcode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseInvalidSeq           CloseCode = 4007
	CloseRateLimited          CloseCode = 4008
	CloseSessionTimedOut      CloseCode = 4009
	CloseInvalidShard         CloseCode = 4010
	CloseShardingRequired     CloseCode = 4011
	CloseInvalidAPIVersion    CloseCode = 4012
	CloseInvalidIntents       CloseCode = 4013
	CloseDisallowedIntents    CloseCode = 4014
)

// CloseZombie is what the client sends when it tears down a connection it
// still wants to resume. Any non-1000/1001 code keeps the session alive
// server side.
const CloseZombie CloseCode = 4900

// Disposition is what the session should do after a close.
type Disposition int

const (
	// DispositionResume reconnects and resumes when a session is held.
	DispositionResume Disposition = iota
	// DispositionReidentify reconnects but discards the session first.
	DispositionReidentify
	// DispositionFatal terminates; reconnecting cannot succeed.
	DispositionFatal
)

func (d Disposition) String() string {
	switch d {
	case DispositionResume:
		return "resume"
	case DispositionReidentify:
		return "reidentify"
	case DispositionFatal:
		return "fatal"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// ClassifyClose maps a close code to a disposition. Unknown codes, including
// CloseNone and abnormal closure, are recoverable.
func ClassifyClose(code CloseCode) Disposition {
	switch code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return DispositionFatal
	case CloseNotAuthenticated, CloseInvalidSeq, CloseSessionTimedOut:
		return DispositionReidentify
	default:
		return DispositionResume
	}
}

// Fatal reports whether code ends the session permanently.
func (c CloseCode) Fatal() bool {
	return ClassifyClose(c) == DispositionFatal
}

func (c CloseCode) String() string {
	switch c {
	case CloseNone:
		return "none"
	case CloseNormal:
		return "normal"
	case CloseGoingAway:
		return "going_away"
	case CloseAbnormal:
		return "abnormal"
	case CloseUnknownError:
		return "unknown_error"
	case CloseUnknownOpcode:
		return "unknown_opcode"
	case CloseDecodeError:
		return "decode_error"
	case CloseNotAuthenticated:
		return "not_authenticated"
	case CloseAuthenticationFailed:
		return "authentication_failed"
	case CloseAlreadyAuthenticated:
		return "already_authenticated"
	case CloseInvalidSeq:
		return "invalid_seq"
	case CloseRateLimited:
		return "rate_limited"
	case CloseSessionTimedOut:
		return "session_timed_out"
	case CloseInvalidShard:
		return "invalid_shard"
	case CloseShardingRequired:
		return "sharding_required"
	case CloseInvalidAPIVersion:
		return "invalid_api_version"
	case CloseInvalidIntents:
		return "invalid_intents"
	case CloseDisallowedIntents:
		return "disallowed_intents"
	case CloseZombie:
		return "zombie"
	default:
		return fmt.Sprintf("close(%d)", int(c))
	}
}
