package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/gorilla/websocket"
)

// Conn is one gateway socket. WriteMessage must be safe for concurrent use;
// reads happen on a single goroutine.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	SetReadDeadline(t time.Time) error
	Close(code protocol.CloseCode, reason string) error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials gateway sockets with gorilla/websocket.
type WebsocketDialer struct {
	cfg session.Config
}

func NewWebsocketDialer(cfg session.Config) *WebsocketDialer {
	return &WebsocketDialer{cfg: cfg.WithDefaults()}
}

func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	tlsCfg, err := d.cfg.ClientTLSConfig()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		TLSClientConfig:  tlsCfg,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(d.cfg.ReadLimit)
	return &wsConn{ws: ws, writeTimeout: d.cfg.WriteTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// Close sends a close frame with code and drops the socket without
// waiting for the peer's reply.
func (c *wsConn) Close(code protocol.CloseCode, reason string) error {
	msg := websocket.FormatCloseMessage(int(code), reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// closeCodeOf extracts the peer's close code from a read error.
func closeCodeOf(err error) (protocol.CloseCode, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return protocol.CloseCode(ce.Code), ce.Text
	}
	return protocol.CloseNone, err.Error()
}
