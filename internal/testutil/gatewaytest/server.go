// Package gatewaytest runs a scripted fake gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/gorilla/websocket"
)

// Server accepts gateway sockets and hands each one to the test. It also
// serves GET /api/gateway/bot pointing back at itself.
type Server struct {
	t        testing.TB
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *Conn
	accepted atomic.Int32

	// AutoAck answers every client heartbeat with a heartbeat ack.
	AutoAck atomic.Bool
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := newServer(t)
	s.srv = httptest.NewServer(s.handler())
	t.Cleanup(s.srv.Close)
	return s
}

// NewTLSServer serves wss with the given certificate pair.
func NewTLSServer(t testing.TB, certFile, keyFile string) *Server {
	t.Helper()
	s := newServer(t)
	s.srv = httptest.NewUnstartedServer(s.handler())
	cfg, err := ServerTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	s.srv.TLS = cfg
	s.srv.StartTLS()
	t.Cleanup(s.srv.Close)
	return s
}

func newServer(t testing.TB) *Server {
	s := &Server{
		t:        t,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:    make(chan *Conn, 16),
	}
	s.AutoAck.Store(true)
	return s
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/gateway/bot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(protocol.GatewayBot{
			URL:    s.URL(),
			Shards: 1,
			SessionStartLimit: protocol.SessionStartLimit{
				Total: 1000, Remaining: 1000, ResetAfter: 0, MaxConcurrency: 1,
			},
		})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.accepted.Add(1)
		c := newConn(s, ws, r)
		s.conns <- c
	})
	return mux
}

// URL is the websocket base URL of the fake gateway.
func (s *Server) URL() string {
	u := s.srv.URL
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// APIURL is the REST base URL (append /gateway/bot for discovery).
func (s *Server) APIURL() string {
	return s.srv.URL + "/api"
}

// Accepted counts sockets upgraded so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Accept waits for the next client socket.
func (s *Server) Accept(timeout time.Duration) *Conn {
	s.t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(timeout):
		s.t.Fatalf("no gateway connection within %s", timeout)
		return nil
	}
}

// ExpectNoConnection fails if a socket arrives within d.
func (s *Server) ExpectNoConnection(d time.Duration) {
	s.t.Helper()
	select {
	case <-s.conns:
		s.t.Fatalf("unexpected gateway connection")
	case <-time.After(d):
	}
}

// Conn is the server side of one client socket.
type Conn struct {
	t       testing.TB
	ws      *websocket.Conn
	Query   map[string][]string
	frames  chan protocol.Frame
	writeMu sync.Mutex

	closed    chan struct{}
	closeCode atomic.Int32
}

func newConn(s *Server, ws *websocket.Conn, r *http.Request) *Conn {
	c := &Conn{
		t:      s.t,
		ws:     ws,
		Query:  r.URL.Query(),
		frames: make(chan protocol.Frame, 256),
		closed: make(chan struct{}),
	}
	go c.read(s)
	return c
}

func (c *Conn) read(s *Server) {
	defer close(c.closed)
	defer close(c.frames)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				c.closeCode.Store(int32(ce.Code))
			}
			return
		}
		var f protocol.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.Op == protocol.OpHeartbeat && s.AutoAck.Load() {
			c.Send(protocol.OpHeartbeatAck, nil)
		}
		if f.Op == protocol.OpHeartbeat {
			// tests that ignore heartbeats must not wedge the reader
			select {
			case c.frames <- f:
			default:
			}
			continue
		}
		c.frames <- f
	}
}

// Send writes one non-dispatch frame.
func (c *Conn) Send(op protocol.Opcode, data any) {
	raw, err := protocol.EncodeFrame(op, data)
	if err != nil {
		c.t.Errorf("encode %s: %v", op, err)
		return
	}
	c.write(raw)
}

func (c *Conn) write(raw []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) SendHello(interval time.Duration) {
	c.Send(protocol.OpHello, protocol.Hello{HeartbeatInterval: interval.Milliseconds()})
}

// SendDispatch writes a dispatch frame with an explicit sequence.
func (c *Conn) SendDispatch(seq int64, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Errorf("encode dispatch: %v", err)
		return
	}
	raw, err := json.Marshal(protocol.Frame{
		Op:    protocol.OpDispatch,
		Data:  payload,
		Seq:   &seq,
		Event: &event,
	})
	if err != nil {
		c.t.Errorf("encode dispatch frame: %v", err)
		return
	}
	c.write(raw)
}

func (c *Conn) SendReady(seq int64, sessionID, resumeURL string) {
	c.SendDispatch(seq, protocol.EventReady, protocol.Ready{
		Version:          protocol.Version,
		SessionID:        sessionID,
		ResumeGatewayURL: resumeURL,
	})
}

func (c *Conn) SendResumed(seq int64) {
	c.SendDispatch(seq, protocol.EventResumed, map[string]any{})
}

// Next returns the next client frame other than a heartbeat.
func (c *Conn) Next(timeout time.Duration) protocol.Frame {
	c.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				c.t.Fatalf("client closed before sending a frame")
			}
			if f.Op == protocol.OpHeartbeat {
				continue
			}
			return f
		case <-deadline:
			c.t.Fatalf("no client frame within %s", timeout)
			return protocol.Frame{}
		}
	}
}

// NextHeartbeat returns the next client heartbeat and when it arrived.
func (c *Conn) NextHeartbeat(timeout time.Duration) (protocol.Frame, time.Time) {
	c.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				c.t.Fatalf("client closed before heartbeating")
			}
			if f.Op == protocol.OpHeartbeat {
				return f, time.Now()
			}
		case <-deadline:
			c.t.Fatalf("no heartbeat within %s", timeout)
			return protocol.Frame{}, time.Time{}
		}
	}
}

// Expect reads the next non-heartbeat frame and checks its opcode.
func (c *Conn) Expect(op protocol.Opcode, timeout time.Duration) protocol.Frame {
	c.t.Helper()
	f := c.Next(timeout)
	if f.Op != op {
		c.t.Fatalf("frame op = %s, want %s (data %s)", f.Op, op, f.Data)
	}
	return f
}

// Handshake sends hello, expects identify and answers READY.
func (c *Conn) Handshake(interval time.Duration, seq int64, sessionID, resumeURL string) protocol.Identify {
	c.t.Helper()
	c.SendHello(interval)
	f := c.Expect(protocol.OpIdentify, 2*time.Second)
	ident, err := protocol.DecodeData[protocol.Identify](f)
	if err != nil {
		c.t.Fatalf("decode identify: %v", err)
	}
	c.SendReady(seq, sessionID, resumeURL)
	return ident
}

// CloseWith sends a close frame with code and drops the socket.
func (c *Conn) CloseWith(code int, reason string) {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

// Drop kills the socket without a close frame.
func (c *Conn) Drop() {
	_ = c.ws.Close()
}

// WaitClosed waits for the client to close and returns its close code, or
// 0 when the socket dropped without one.
func (c *Conn) WaitClosed(timeout time.Duration) int {
	c.t.Helper()
	select {
	case <-c.closed:
		return int(c.closeCode.Load())
	case <-time.After(timeout):
		c.t.Fatalf("client did not close within %s", timeout)
		return 0
	}
}
