package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

// connection is one socket's lifetime. The first close wins and records
// why the socket went away.
type connection struct {
	conn Conn

	closeOnce sync.Once
	code      protocol.CloseCode
	reason    string
	local     bool

	mu         sync.Mutex
	reidentify *time.Timer
}

func (cn *connection) write(payload []byte) error {
	return cn.conn.WriteMessage(payload)
}

// close tears the socket down from our side. Later calls are no-ops.
func (cn *connection) close(code protocol.CloseCode, reason string) {
	cn.closeOnce.Do(func() {
		cn.code = code
		cn.reason = reason
		cn.local = true
		_ = cn.conn.Close(code, reason)
	})
}

// remoteClosed records a close initiated by the peer or the network.
func (cn *connection) remoteClosed(code protocol.CloseCode, reason string) {
	cn.closeOnce.Do(func() {
		cn.code = code
		cn.reason = reason
		_ = cn.conn.Close(protocol.CloseZombie, "")
	})
}

// stopTimers cancels a pending re-identify.
func (cn *connection) stopTimers() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.reidentify != nil {
		cn.reidentify.Stop()
		cn.reidentify = nil
	}
}

// outcome is how one connection ended.
type outcome struct {
	code   protocol.CloseCode
	reason string
	err    error
	fatal  bool
}

// runConnection dials, handshakes and reads until the socket ends.
func (c *Client) runConnection(ctx context.Context) outcome {
	url, err := c.resolveURL(ctx)
	if err != nil {
		return outcome{code: protocol.CloseNone, reason: "endpoint: " + err.Error(), err: err}
	}
	if err := c.cfg.Session.ValidateClientTransport(url); err != nil {
		return outcome{err: fmt.Errorf("gateway: transport %s: %w", url, err), fatal: true}
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.Session.ConnectTimeout)
	conn, err := c.cfg.Dialer.Dial(dialCtx, url)
	cancelDial()
	if err != nil {
		return outcome{code: protocol.CloseNone, reason: "dial: " + err.Error(), err: err}
	}
	c.log.Info().Str("url", url).Msg("gateway connected")

	cn := &connection{conn: conn}
	c.setCurrent(cn)
	defer c.setCurrent(nil)

	connCtx, cancelConn := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-connCtx.Done()
		if ctx.Err() != nil {
			cn.close(protocol.CloseNormal, "shutdown")
		}
	}()

	err = c.serve(connCtx, cn)
	if err != nil {
		code, reason := closeCodeOf(err)
		cn.remoteClosed(code, reason)
	}
	cancelConn()
	wg.Wait()

	// closeOnce has completed, so the recorded fields are safe to read
	cn.close(protocol.CloseZombie, "")
	out := outcome{code: cn.code, reason: cn.reason, err: err}
	if cn.local {
		// a locally initiated close never carries a fatal code
		out.code = protocol.CloseNone
	}
	return out
}

// serve runs the handshake and the read loop on one socket. It returns the
// read error that ended the connection.
func (c *Client) serve(ctx context.Context, cn *connection) error {
	c.setState(session.StateAwaitingHello)
	_ = cn.conn.SetReadDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	raw, err := cn.conn.ReadMessage()
	if err != nil {
		var ne interface{ Timeout() bool }
		if errors.As(err, &ne) && ne.Timeout() {
			cn.close(protocol.CloseZombie, ErrHandshakeTimeout.Error())
			return ErrHandshakeTimeout
		}
		return err
	}
	_ = cn.conn.SetReadDeadline(time.Time{})

	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		cn.close(protocol.CloseZombie, "bad hello")
		return err
	}
	interval, err := protocol.DecodeHello(frame)
	if err != nil {
		cn.close(protocol.CloseZombie, "bad hello")
		return err
	}
	c.session.SetHeartbeatInterval(interval)
	c.session.ArmHeartbeat()
	c.log.Debug().Dur("interval", interval).Msg("gateway hello")

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		c.heartbeat(hbCtx, cn, interval)
	}()
	defer func() {
		cn.stopTimers()
		stopHeartbeat()
		<-hbDone
	}()

	if err := c.handshake(ctx, cn); err != nil {
		cn.close(protocol.CloseZombie, "handshake write failed")
		return err
	}

	for {
		raw, err := cn.conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := protocol.DecodeFrame(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("gateway frame dropped")
			continue
		}
		if done := c.handleFrame(ctx, cn, frame); done {
			return nil
		}
	}
}

// handshake resumes when a session is held and identifies otherwise.
func (c *Client) handshake(ctx context.Context, cn *connection) error {
	if c.session.CanResume() {
		c.setState(session.StateResuming)
		payload, err := protocol.EncodeFrame(protocol.OpResume, protocol.Resume{
			Token:     c.cfg.Token,
			SessionID: c.session.ID(),
			Seq:       c.session.Sequence(),
		})
		if err != nil {
			return err
		}
		c.log.Info().
			Str("session", c.session.ID()).
			Int64("seq", c.session.Sequence()).
			Msg("gateway resuming")
		return c.sendPaced(ctx, cn, payload)
	}
	return c.identify(ctx, cn)
}

func (c *Client) identify(ctx context.Context, cn *connection) error {
	c.setState(session.StateIdentifying)
	ident := protocol.Identify{
		Token:          c.cfg.Token,
		Properties:     c.cfg.Properties,
		Intents:        c.cfg.Intents,
		LargeThreshold: c.cfg.LargeThreshold,
		Presence:       c.cfg.Presence,
	}
	if c.cfg.ShardCount > 0 {
		ident.Shard = &[2]int{c.cfg.ShardID, c.cfg.ShardCount}
	}
	payload, err := protocol.EncodeFrame(protocol.OpIdentify, ident)
	if err != nil {
		return err
	}
	c.log.Info().Uint64("intents", c.cfg.Intents).Msg("gateway identifying")
	return c.sendPaced(ctx, cn, payload)
}

func (c *Client) sendPaced(ctx context.Context, cn *connection, payload []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return cn.write(payload)
}

// handleFrame applies one inbound frame. It returns true when the
// connection should end.
func (c *Client) handleFrame(ctx context.Context, cn *connection, frame protocol.Frame) bool {
	switch frame.Op {
	case protocol.OpDispatch:
		c.dispatch(frame)
	case protocol.OpHeartbeat:
		c.sendHeartbeat(cn)
	case protocol.OpHeartbeatAck:
		rtt := c.session.Ack(time.Now())
		observability.RecordHeartbeatLatency(rtt)
	case protocol.OpReconnect:
		c.log.Info().Msg("gateway reconnect requested")
		cn.close(protocol.CloseZombie, "reconnect requested")
		return true
	case protocol.OpInvalidSession:
		c.log.Warn().
			Str("session", c.session.ID()).
			Dur("delay", c.cfg.Session.InvalidSessionDelay).
			Msg("gateway session invalidated")
		c.session.Invalidate()
		c.scheduleIdentify(ctx, cn, c.cfg.Session.InvalidSessionDelay)
	case protocol.OpHello:
		c.log.Debug().Msg("gateway duplicate hello ignored")
	default:
		c.log.Debug().Str("op", frame.Op.String()).Msg("gateway frame ignored")
	}
	return false
}

// scheduleIdentify sends a fresh identify on cn once delay has passed. The
// read loop keeps running meanwhile so heartbeat acks are still consumed. A
// later invalidation replaces a pending one.
func (c *Client) scheduleIdentify(ctx context.Context, cn *connection, delay time.Duration) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.reidentify != nil {
		cn.reidentify.Stop()
	}
	cn.reidentify = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := c.identify(ctx, cn); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("gateway re-identify failed")
			cn.close(protocol.CloseZombie, "identify write failed")
		}
	})
}

func (c *Client) dispatch(frame protocol.Frame) {
	seq, _ := frame.Sequence()
	event := frame.EventName()
	if !c.session.ApplySequence(seq) {
		c.log.Debug().
			Int64("seq", seq).
			Int64("tracked", c.session.Sequence()).
			Str("event", event).
			Msg("gateway stale dispatch ignored")
		return
	}
	observability.RecordGatewayDispatch(event)

	switch event {
	case protocol.EventReady:
		ready, err := protocol.DecodeData[protocol.Ready](frame)
		if err != nil {
			c.log.Warn().Err(err).Msg("gateway ready payload")
			break
		}
		c.session.Establish(ready.SessionID, ready.ResumeGatewayURL)
		c.session.ResetReconnectAttempts()
		c.setState(session.StateActive)
		c.log.Info().Str("session", ready.SessionID).Msg("gateway ready")
		c.handler.OnReady(ready)
	case protocol.EventResumed:
		c.session.ResetReconnectAttempts()
		c.setState(session.StateActive)
		c.log.Info().Str("session", c.session.ID()).Int64("seq", seq).Msg("gateway resumed")
		c.handler.OnResumed()
	}
	c.handler.OnDispatch(event, frame.Data)
}

// heartbeat beats once immediately and then every interval. A tick that
// finds the previous beat unacknowledged closes the socket as a zombie.
func (c *Client) heartbeat(ctx context.Context, cn *connection, interval time.Duration) {
	if !c.beat(cn) {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.beat(cn) {
				return
			}
		}
	}
}

func (c *Client) beat(cn *connection) bool {
	if !c.session.BeginHeartbeat(time.Now()) {
		c.log.Warn().
			Dur("interval", c.session.HeartbeatInterval()).
			Msg("gateway heartbeat not acknowledged, closing zombie connection")
		cn.close(protocol.CloseZombie, "heartbeat ack missed")
		return false
	}
	return c.sendHeartbeat(cn)
}

func (c *Client) sendHeartbeat(cn *connection) bool {
	payload, err := protocol.EncodeHeartbeat(c.session.Sequence())
	if err != nil {
		c.log.Warn().Err(err).Msg("gateway heartbeat encode")
		return false
	}
	if err := cn.write(payload); err != nil {
		c.log.Debug().Err(err).Msg("gateway heartbeat write")
		return false
	}
	return true
}
