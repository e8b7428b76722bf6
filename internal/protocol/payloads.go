package protocol

// Dispatch event names the session state machine interprets itself.
const (
	EventReady   = "READY"
	EventResumed = "RESUMED"
)

// Hello is the first frame the service sends after the socket opens.
// HeartbeatInterval is in milliseconds.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify starts a fresh session.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Intents        uint64             `json:"intents"`
	Shard          *[2]int            `json:"shard,omitempty"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Presence       any                `json:"presence,omitempty"`
}

// Resume re-attaches to an existing session and asks for a replay after Seq.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Ready is the READY dispatch payload. Only the fields the session needs are
// decoded; collaborators receive the raw payload through OnDispatch.
type Ready struct {
	Version          int    `json:"v"`
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	Shard            []int  `json:"shard,omitempty"`
}

// SessionStartLimit is the identify quota reported by the discovery endpoint.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBot is the discovery endpoint response.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}
