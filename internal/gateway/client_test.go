package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/rest"
	"github.com/danmuck/edgelink/internal/testutil/gatewaytest"
	"github.com/danmuck/edgelink/internal/testutil/testlog"
	"github.com/danmuck/edgelink/internal/testutil/tlstest"
)

const waitFor = 2 * time.Second

type recorder struct {
	mu           sync.Mutex
	dispatches   []string
	disconnects  []protocol.CloseCode
	reconnecting []int
	fatals       []error

	ready   chan protocol.Ready
	resumed chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		ready:   make(chan protocol.Ready, 8),
		resumed: make(chan struct{}, 8),
	}
}

func (r *recorder) OnDispatch(event string, _ json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, event)
}

func (r *recorder) OnReady(ready protocol.Ready) { r.ready <- ready }
func (r *recorder) OnResumed()                   { r.resumed <- struct{}{} }

func (r *recorder) OnDisconnect(code protocol.CloseCode, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects = append(r.disconnects, code)
}

func (r *recorder) OnReconnecting(attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnecting = append(r.reconnecting, attempt)
}

func (r *recorder) OnFatalError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatals = append(r.fatals, err)
}

func (r *recorder) snapshot() (dispatches []string, reconnecting []int, fatals []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.dispatches...),
		append([]int(nil), r.reconnecting...),
		append([]error(nil), r.fatals...)
}

func (r *recorder) waitReady(t *testing.T) protocol.Ready {
	t.Helper()
	select {
	case ready := <-r.ready:
		return ready
	case <-time.After(waitFor):
		t.Fatalf("ready not delivered")
		return protocol.Ready{}
	}
}

func (r *recorder) waitResumed(t *testing.T) {
	t.Helper()
	select {
	case <-r.resumed:
	case <-time.After(waitFor):
		t.Fatalf("resumed not delivered")
	}
}

func fastSession() session.Config {
	return session.Config{
		ConnectTimeout:      time.Second,
		HandshakeTimeout:    time.Second,
		WriteTimeout:        time.Second,
		InvalidSessionDelay: 30 * time.Millisecond,
		Backoff: session.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   1,
			MaxDelay:     10 * time.Millisecond,
		},
	}
}

type running struct {
	client *Client
	errc   chan error
}

func (r running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errc:
		return err
	case <-time.After(waitFor):
		t.Fatalf("Run did not return")
		return nil
	}
}

func start(t *testing.T, cfg Config, endpoint EndpointSource, h Handler) running {
	t.Helper()
	if cfg.Token == "" {
		cfg.Token = "secret"
	}
	if cfg.Session.ConnectTimeout == 0 {
		cfg.Session = fastSession()
	}
	client, err := New(cfg, endpoint, h)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- client.Run(context.Background()) }()
	t.Cleanup(func() { _ = client.Close() })
	return running{client: client, errc: errc}
}

func waitState(t *testing.T, c *Client, want session.State) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestNewValidatesConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}, StaticEndpoint("ws://x"), nil); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
	if _, err := New(Config{Token: "t"}, nil, nil); !errors.Is(err, ErrEndpointRequired) {
		t.Fatalf("expected ErrEndpointRequired, got %v", err)
	}
}

func TestIdentifyThenReady(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	r := start(t, Config{Intents: 513, ShardID: 1, ShardCount: 4}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	if got := conn.Query["v"]; len(got) != 1 || got[0] != "10" {
		t.Fatalf("expected v=10 query, got %v", conn.Query)
	}
	if got := conn.Query["encoding"]; len(got) != 1 || got[0] != "json" {
		t.Fatalf("expected encoding=json query, got %v", conn.Query)
	}

	ident := conn.Handshake(time.Second, 1, "sess-1", srv.URL())
	if ident.Token != "secret" || ident.Intents != 513 {
		t.Fatalf("unexpected identify: %+v", ident)
	}
	if ident.Shard == nil || *ident.Shard != [2]int{1, 4} {
		t.Fatalf("unexpected shard: %v", ident.Shard)
	}
	if ident.Properties.Browser != "edgelink" || ident.Properties.OS == "" {
		t.Fatalf("unexpected properties: %+v", ident.Properties)
	}

	ready := rec.waitReady(t)
	if ready.SessionID != "sess-1" {
		t.Fatalf("ready session = %q", ready.SessionID)
	}
	waitState(t, r.client, session.StateActive)
	st := r.client.Status()
	if st.ID != "sess-1" || st.Sequence != 1 || st.StateName != "active" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.HeartbeatInterval != time.Second {
		t.Fatalf("heartbeat interval = %s", st.HeartbeatInterval)
	}
}

func TestDispatchSequenceTracking(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)

	conn.SendDispatch(2, "MESSAGE_CREATE", map[string]string{"id": "1"})
	conn.SendDispatch(2, "DUPLICATE", nil)
	conn.SendDispatch(5, "GUILD_UPDATE", nil)
	conn.SendDispatch(3, "STALE", nil)

	// a server heartbeat request is answered at once with the tracked sequence
	conn.Send(protocol.OpHeartbeat, nil)
	deadline := time.Now().Add(waitFor)
	for {
		hb, _ := conn.NextHeartbeat(waitFor)
		var seq *int64
		if err := json.Unmarshal(hb.Data, &seq); err != nil {
			t.Fatalf("decode heartbeat: %v", err)
		}
		if seq != nil && *seq == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("heartbeat never carried sequence 5")
		}
	}

	if got := r.client.Status().Sequence; got != 5 {
		t.Fatalf("sequence = %d, want 5", got)
	}
	dispatches, _, _ := rec.snapshot()
	want := []string{protocol.EventReady, "MESSAGE_CREATE", "GUILD_UPDATE"}
	if len(dispatches) != len(want) {
		t.Fatalf("dispatches = %v, want %v", dispatches, want)
	}
	for i := range want {
		if dispatches[i] != want[i] {
			t.Fatalf("dispatches = %v, want %v", dispatches, want)
		}
	}
}

func TestFatalCloseTerminates(t *testing.T) {
	for _, code := range []int{4004, 4010, 4011, 4012, 4013, 4014} {
		t.Run(protocol.CloseCode(code).String(), func(t *testing.T) {
			testlog.Start(t)
			srv := gatewaytest.NewServer(t)
			rec := newRecorder()
			r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)

			conn := srv.Accept(waitFor)
			conn.SendHello(time.Minute)
			conn.Expect(protocol.OpIdentify, waitFor)
			conn.CloseWith(code, "nope")

			err := r.wait(t)
			var fatal *FatalError
			if !errors.As(err, &fatal) || int(fatal.Code) != code {
				t.Fatalf("expected FatalError %d, got %v", code, err)
			}
			if !errors.Is(err, ErrFatalClose) {
				t.Fatalf("expected ErrFatalClose, got %v", err)
			}
			if r.client.State() != session.StateTerminated {
				t.Fatalf("state = %s", r.client.State())
			}
			srv.ExpectNoConnection(100 * time.Millisecond)

			_, reconnecting, fatals := rec.snapshot()
			if len(fatals) != 1 {
				t.Fatalf("OnFatalError called %d times", len(fatals))
			}
			if len(reconnecting) != 0 {
				t.Fatalf("unexpected reconnect attempts %v", reconnecting)
			}
		})
	}
}

func TestRecoverableCloseResumes(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess-abc", srv.URL())
	rec.waitReady(t)
	conn.SendDispatch(2, "MESSAGE_CREATE", nil)
	waitSequence(t, r.client, 2)
	conn.CloseWith(4000, "unknown error")

	next := srv.Accept(waitFor)
	next.SendHello(time.Minute)
	f := next.Expect(protocol.OpResume, waitFor)
	resume, err := protocol.DecodeData[protocol.Resume](f)
	if err != nil {
		t.Fatalf("decode resume: %v", err)
	}
	if resume.SessionID != "sess-abc" || resume.Seq != 2 || resume.Token != "secret" {
		t.Fatalf("unexpected resume: %+v", resume)
	}
	if got := r.client.Status().ReconnectAttempt; got != 1 {
		t.Fatalf("reconnect attempt = %d, want 1", got)
	}

	next.SendResumed(3)
	rec.waitResumed(t)
	waitState(t, r.client, session.StateActive)
	if got := r.client.Status().ReconnectAttempt; got != 0 {
		t.Fatalf("reconnect attempt after resume = %d, want 0", got)
	}
	_, reconnecting, _ := rec.snapshot()
	if len(reconnecting) != 1 || reconnecting[0] != 1 {
		t.Fatalf("reconnecting = %v", reconnecting)
	}
}

func waitSequence(t *testing.T, c *Client, want int64) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if c.Status().Sequence == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sequence = %d, want %d", c.Status().Sequence, want)
}

func TestDroppedSocketResumes(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)
	conn.Drop()

	next := srv.Accept(waitFor)
	next.SendHello(time.Minute)
	next.Expect(protocol.OpResume, waitFor)
}

func TestReidentifyCloseDiscardsSession(t *testing.T) {
	for _, code := range []int{4003, 4007, 4009} {
		t.Run(protocol.CloseCode(code).String(), func(t *testing.T) {
			testlog.Start(t)
			srv := gatewaytest.NewServer(t)
			rec := newRecorder()
			r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)

			conn := srv.Accept(waitFor)
			conn.Handshake(time.Minute, 1, "sess", srv.URL())
			rec.waitReady(t)
			conn.CloseWith(code, "start over")

			next := srv.Accept(waitFor)
			next.SendHello(time.Minute)
			next.Expect(protocol.OpIdentify, waitFor)
			if st := r.client.Status(); st.ID != "" || st.Sequence != 0 {
				t.Fatalf("session not discarded: %+v", st)
			}
		})
	}
}

func TestCloseBeforeReadyIdentifiesAgain(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	start(t, Config{}, StaticEndpoint(srv.URL()), newRecorder())

	conn := srv.Accept(waitFor)
	conn.SendHello(time.Minute)
	conn.Expect(protocol.OpIdentify, waitFor)
	conn.CloseWith(4000, "")

	next := srv.Accept(waitFor)
	next.SendHello(time.Minute)
	next.Expect(protocol.OpIdentify, waitFor)
}

func TestZombieConnectionReconnects(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	srv.AutoAck.Store(false)
	rec := newRecorder()
	start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	interval := 80 * time.Millisecond
	conn := srv.Accept(waitFor)
	conn.Handshake(interval, 1, "sess", srv.URL())
	rec.waitReady(t)

	if code := conn.WaitClosed(waitFor); code != int(protocol.CloseZombie) {
		t.Fatalf("zombie close code = %d, want %d", code, protocol.CloseZombie)
	}
	next := srv.Accept(waitFor)
	next.SendHello(time.Minute)
	next.Expect(protocol.OpResume, waitFor)
}

func TestHeartbeatCadence(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	start(t, Config{}, StaticEndpoint(srv.URL()), newRecorder())

	// hello 41250ms scaled down
	interval := 41250 * time.Millisecond / 200
	conn := srv.Accept(waitFor)
	sent := time.Now()
	conn.SendHello(interval)

	first, at1 := conn.NextHeartbeat(waitFor)
	if string(first.Data) != "null" {
		t.Fatalf("first heartbeat payload = %s, want null", first.Data)
	}
	if gap := at1.Sub(sent); gap > interval/2 {
		t.Fatalf("first heartbeat after %s, want immediate", gap)
	}
	_, at2 := conn.NextHeartbeat(waitFor)
	gap := at2.Sub(at1)
	if gap < interval*3/4 || gap > interval*2 {
		t.Fatalf("heartbeat gap = %s, want about %s", gap, interval)
	}
}

func TestInvalidSessionReidentifiesOnSameSocket(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 4, "old", srv.URL())
	rec.waitReady(t)

	sent := time.Now()
	conn.Send(protocol.OpInvalidSession, true)
	conn.Expect(protocol.OpIdentify, waitFor)
	if gap := time.Since(sent); gap < 30*time.Millisecond {
		t.Fatalf("re-identify after %s, want the fixed delay", gap)
	}
	conn.SendReady(1, "new", srv.URL())
	ready := rec.waitReady(t)
	if ready.SessionID != "new" {
		t.Fatalf("ready session = %q", ready.SessionID)
	}
	if srv.Accepted() != 1 {
		t.Fatalf("invalid session opened %d sockets", srv.Accepted())
	}
	waitSequence(t, r.client, 1)
}

func TestInvalidSessionDelayKeepsHeartbeatAlive(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	cfg := Config{Session: fastSession()}
	cfg.Session.InvalidSessionDelay = 300 * time.Millisecond
	r := start(t, cfg, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(50*time.Millisecond, 1, "old", srv.URL())
	rec.waitReady(t)

	conn.Send(protocol.OpInvalidSession, false)
	conn.Expect(protocol.OpIdentify, waitFor)
	conn.SendReady(2, "fresh", srv.URL())
	if ready := rec.waitReady(t); ready.SessionID != "fresh" {
		t.Fatalf("ready session = %q", ready.SessionID)
	}
	waitState(t, r.client, session.StateActive)

	if srv.Accepted() != 1 {
		t.Fatalf("invalid session opened %d sockets", srv.Accepted())
	}
	if _, reconnecting, fatals := rec.snapshot(); len(reconnecting) != 0 || len(fatals) != 0 {
		t.Fatalf("invalid session escalated: reconnecting=%v fatals=%v", reconnecting, fatals)
	}
}

func TestReconnectRequestResumes(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)
	conn.Send(protocol.OpReconnect, nil)

	if code := conn.WaitClosed(waitFor); code == 1000 || code == 1001 {
		t.Fatalf("reconnect closed with %d, session would be lost", code)
	}
	next := srv.Accept(waitFor)
	next.SendHello(time.Minute)
	next.Expect(protocol.OpResume, waitFor)
}

func TestHandshakeTimeoutReconnects(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	cfg := Config{Session: fastSession()}
	cfg.Session.HandshakeTimeout = 100 * time.Millisecond
	start(t, cfg, StaticEndpoint(srv.URL()), newRecorder())

	srv.Accept(waitFor)
	next := srv.Accept(waitFor)
	next.SendHello(time.Minute)
	next.Expect(protocol.OpIdentify, waitFor)
}

func TestReconnectExhausted(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := Config{Session: fastSession()}
	cfg.Session.MaxReconnectAttempts = 2
	rec := newRecorder()
	r := start(t, cfg, StaticEndpoint("ws://"+addr), rec)

	err = r.wait(t)
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("expected ErrReconnectExhausted, got %v", err)
	}
	_, reconnecting, fatals := rec.snapshot()
	if len(reconnecting) != 2 || reconnecting[0] != 1 || reconnecting[1] != 2 {
		t.Fatalf("reconnecting = %v, want [1 2]", reconnecting)
	}
	if len(fatals) != 1 {
		t.Fatalf("OnFatalError called %d times", len(fatals))
	}
}

func TestShutdownClosesNormally(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)

	if err := r.client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.wait(t); err != nil {
		t.Fatalf("Run after Close = %v, want nil", err)
	}
	if code := conn.WaitClosed(waitFor); code != 1000 {
		t.Fatalf("shutdown close code = %d, want 1000", code)
	}
	if r.client.State() != session.StateTerminated {
		t.Fatalf("state = %s", r.client.State())
	}
	srv.ExpectNoConnection(100 * time.Millisecond)
	if _, _, fatals := rec.snapshot(); len(fatals) != 0 {
		t.Fatalf("shutdown reported fatal errors: %v", fatals)
	}
}

func TestSendPassthrough(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	rec := newRecorder()
	r := start(t, Config{}, StaticEndpoint(srv.URL()), rec)
	ctx := context.Background()

	if err := r.client.Send(ctx, protocol.OpIdentify, nil); !errors.Is(err, ErrReservedOpcode) {
		t.Fatalf("expected ErrReservedOpcode, got %v", err)
	}

	conn := srv.Accept(waitFor)
	if err := r.client.Send(ctx, protocol.OpPresenceUpdate, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before ready, got %v", err)
	}
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)
	waitState(t, r.client, session.StateActive)

	presence := map[string]any{"status": "idle", "afk": false}
	if err := r.client.Send(ctx, protocol.OpPresenceUpdate, presence); err != nil {
		t.Fatalf("send presence: %v", err)
	}
	f := conn.Expect(protocol.OpPresenceUpdate, waitFor)
	var got map[string]any
	if err := json.Unmarshal(f.Data, &got); err != nil || got["status"] != "idle" {
		t.Fatalf("presence payload = %s (%v)", f.Data, err)
	}
}

func TestDiscoveryThroughDispatcher(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	d, err := rest.New(rest.Config{BaseURL: srv.APIURL(), Token: "secret"})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	rec := newRecorder()
	start(t, Config{}, rest.NewGatewayEndpoint(d), rec)
	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)
}

func TestSecureDialWithCustomCA(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "edgelink-test-ca")
	certFile, keyFile := ca.IssueLoopback(t, dir)
	srv := gatewaytest.NewTLSServer(t, certFile, keyFile)

	cfg := Config{Session: fastSession()}
	cfg.Session.SecurityMode = session.SecurityModeProduction
	cfg.Session.TLS.CAFile = ca.CAFile()
	rec := newRecorder()
	start(t, cfg, StaticEndpoint(srv.URL()), rec)

	conn := srv.Accept(waitFor)
	conn.Handshake(time.Minute, 1, "sess", srv.URL())
	rec.waitReady(t)
}

func TestProductionRejectsPlainSocket(t *testing.T) {
	testlog.Start(t)
	srv := gatewaytest.NewServer(t)
	cfg := Config{Session: fastSession()}
	cfg.Session.SecurityMode = session.SecurityModeProduction
	rec := newRecorder()
	r := start(t, cfg, StaticEndpoint(srv.URL()), rec)

	err := r.wait(t)
	if !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if srv.Accepted() != 0 {
		t.Fatalf("insecure socket was dialed")
	}
	if _, _, fatals := rec.snapshot(); len(fatals) != 1 {
		t.Fatalf("OnFatalError called %d times", len(fatals))
	}
}

func TestCloseBeforeRun(t *testing.T) {
	testlog.Start(t)
	c, err := New(Config{Token: "t"}, StaticEndpoint("ws://127.0.0.1:1"), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = c.Close()
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run after Close = %v", err)
	}
	if c.State() != session.StateTerminated {
		t.Fatalf("state = %s", c.State())
	}
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run = %v, want ErrAlreadyRunning", err)
	}
}
