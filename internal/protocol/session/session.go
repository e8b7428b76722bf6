package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is the logical gateway connection state. The connection goroutine
// is the only writer of identity, sequence and attempt fields; the mutex
// exists so status readers see a consistent snapshot. The ack flag is
// shared with the heartbeat goroutine and is atomic.
type Session struct {
	mu                sync.RWMutex
	id                string
	seq               int64
	resumeURL         string
	heartbeatInterval time.Duration
	reconnectAttempt  int

	acked      atomic.Bool
	lastBeatNS atomic.Int64
	pingNS     atomic.Int64
}

// Snapshot is a point-in-time copy of session fields for observers.
type Snapshot struct {
	ID                string        `json:"session_id"`
	Sequence          int64         `json:"sequence"`
	ResumeURL         string        `json:"resume_url"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	ReconnectAttempt  int           `json:"reconnect_attempt"`
	Ping              time.Duration `json:"ping"`
	Acked             bool          `json:"heartbeat_acked"`
}

func New() *Session {
	return &Session{}
}

// ApplySequence records seq if it is strictly greater than the last seen
// value. It returns false for stale or duplicate sequences.
func (s *Session) ApplySequence(seq int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.seq {
		return false
	}
	s.seq = seq
	return true
}

func (s *Session) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Establish stores the identity issued by READY.
func (s *Session) Establish(id, resumeURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.resumeURL = resumeURL
}

func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) ResumeURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeURL
}

// CanResume reports whether a session id is held.
func (s *Session) CanResume() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id != ""
}

// Invalidate discards identity, sequence and resume URL. The next handshake
// is a fresh identify against the discovery endpoint.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.seq = 0
	s.resumeURL = ""
}

func (s *Session) SetHeartbeatInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeatInterval = d
}

func (s *Session) HeartbeatInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartbeatInterval
}

// NextReconnectAttempt increments and returns the reconnect counter.
func (s *Session) NextReconnectAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempt++
	return s.reconnectAttempt
}

func (s *Session) ResetReconnectAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectAttempt = 0
}

func (s *Session) ReconnectAttempt() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnectAttempt
}

// ArmHeartbeat resets the ack flag for a new connection so the first tick
// sends rather than declaring the connection dead.
func (s *Session) ArmHeartbeat() {
	s.acked.Store(true)
	s.lastBeatNS.Store(0)
}

// BeginHeartbeat claims the ack flag for a new heartbeat. It returns false
// when the previous heartbeat was never acknowledged.
func (s *Session) BeginHeartbeat(now time.Time) bool {
	if !s.acked.CompareAndSwap(true, false) {
		return false
	}
	s.lastBeatNS.Store(now.UnixNano())
	return true
}

// Ack marks the outstanding heartbeat acknowledged and returns the measured
// round trip, or 0 when no send time is known.
func (s *Session) Ack(now time.Time) time.Duration {
	s.acked.Store(true)
	sent := s.lastBeatNS.Load()
	if sent == 0 {
		return 0
	}
	rtt := time.Duration(now.UnixNano() - sent)
	if rtt < 0 {
		rtt = 0
	}
	s.pingNS.Store(int64(rtt))
	return rtt
}

func (s *Session) Acked() bool {
	return s.acked.Load()
}

// Ping is the last heartbeat round trip.
func (s *Session) Ping() time.Duration {
	return time.Duration(s.pingNS.Load())
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:                s.id,
		Sequence:          s.seq,
		ResumeURL:         s.resumeURL,
		HeartbeatInterval: s.heartbeatInterval,
		ReconnectAttempt:  s.reconnectAttempt,
		Ping:              s.Ping(),
		Acked:             s.acked.Load(),
	}
}
