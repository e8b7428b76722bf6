package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config is captured once by New; changing intents or shard means a new
// Client.
type Config struct {
	Token          string
	Intents        uint64
	ShardID        int
	ShardCount     int
	Properties     protocol.IdentifyProperties
	LargeThreshold int
	Presence       any
	Session        session.Config
	Dialer         Dialer
	Logger         *zerolog.Logger
}

func (c Config) withDefaults() Config {
	c.Session = c.Session.WithDefaults()
	if c.Properties.OS == "" {
		c.Properties.OS = runtime.GOOS
	}
	if c.Properties.Browser == "" {
		c.Properties.Browser = "edgelink"
	}
	if c.Properties.Device == "" {
		c.Properties.Device = "edgelink"
	}
	if c.Dialer == nil {
		c.Dialer = NewWebsocketDialer(c.Session)
	}
	return c
}

// Status is a point-in-time view for observers.
type Status struct {
	State     session.State `json:"-"`
	StateName string        `json:"state"`
	session.Snapshot
}

// Client keeps one gateway session alive across reconnects.
type Client struct {
	cfg      Config
	endpoint EndpointSource
	handler  Handler
	session  *session.Session
	limiter  *rate.Limiter
	log      zerolog.Logger
	rng      *rand.Rand

	state   atomic.Int32
	running atomic.Bool
	fatal   sync.Once

	mu     sync.Mutex
	conn   *connection
	cancel context.CancelFunc
	closed bool
	done   chan struct{}
}

func New(cfg Config, endpoint EndpointSource, handler Handler) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrTokenRequired
	}
	if endpoint == nil {
		return nil, ErrEndpointRequired
	}
	if handler == nil {
		handler = NopHandler{}
	}
	cfg = cfg.withDefaults()
	logger := observability.Component("gateway")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	limit := rate.Every(cfg.Session.SendWindow / time.Duration(cfg.Session.SendLimit))
	return &Client{
		cfg:      cfg,
		endpoint: endpoint,
		handler:  handler,
		session:  session.New(),
		limiter:  rate.NewLimiter(limit, cfg.Session.SendLimit),
		log:      logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		done:     make(chan struct{}),
	}, nil
}

func (c *Client) State() session.State {
	return session.State(c.state.Load())
}

func (c *Client) Status() Status {
	st := c.State()
	return Status{
		State:     st,
		StateName: st.String(),
		Snapshot:  c.session.Snapshot(),
	}
}

func (c *Client) setState(next session.State) {
	prev := session.State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	observability.RecordGatewayState(next.String())
	c.log.Debug().
		Str("from", prev.String()).
		Str("state", next.String()).
		Int64("seq", c.session.Sequence()).
		Msg("gateway state")
}

// Run connects and keeps the session alive until ctx ends, Close is
// called, or the session terminates fatally. It returns nil on shutdown
// and the terminal error otherwise.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.setState(session.StateTerminated)
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return c.shutdown()
		}

		c.setState(session.StateConnecting)
		out := c.runConnection(ctx)
		if ctx.Err() != nil {
			return c.shutdown()
		}
		if out.err != nil && out.fatal {
			return c.fail(out.err)
		}

		disposition := protocol.ClassifyClose(out.code)
		observability.RecordGatewayClose(int(out.code), disposition.String())
		c.log.Warn().
			Int("code", int(out.code)).
			Str("reason", out.reason).
			Str("disposition", disposition.String()).
			Str("session", c.session.ID()).
			Int64("seq", c.session.Sequence()).
			Msg("gateway disconnected")
		c.setState(session.StateDisconnected)
		c.handler.OnDisconnect(out.code, out.reason)

		switch disposition {
		case protocol.DispositionFatal:
			return c.fail(&FatalError{Code: out.code, Reason: out.reason})
		case protocol.DispositionReidentify:
			c.session.Invalidate()
		}

		attempt := c.session.NextReconnectAttempt()
		limit := c.cfg.Session.MaxReconnectAttempts
		if limit > 0 && !session.ShouldRetry(attempt, limit) {
			return c.fail(fmt.Errorf("%w: gave up after %d attempts", ErrReconnectExhausted, limit))
		}
		c.setState(session.StateReconnecting)
		c.handler.OnReconnecting(attempt)

		delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
		c.log.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Bool("resume", c.session.CanResume()).
			Msg("gateway reconnecting")
		if !sleepCtx(ctx, delay) {
			return c.shutdown()
		}
	}
}

// Close stops the session and waits for Run to return. Safe to call more
// than once and before Run.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel == nil {
		if !c.running.Load() {
			c.setState(session.StateTerminated)
		}
		return nil
	}
	cancel()
	<-c.done
	return nil
}

// Send writes a passthrough frame (presence or voice state) on the current
// socket, paced by the gateway send limiter.
func (c *Client) Send(ctx context.Context, op protocol.Opcode, data any) error {
	if !op.Passthrough() {
		return fmt.Errorf("%w: %s", ErrReservedOpcode, op)
	}
	cn := c.current()
	if cn == nil || c.State() != session.StateActive {
		return ErrNotConnected
	}
	payload, err := protocol.EncodeFrame(op, data)
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := cn.write(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

func (c *Client) current() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) setCurrent(cn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = cn
}

func (c *Client) shutdown() error {
	c.setState(session.StateTerminated)
	c.log.Info().Str("session", c.session.ID()).Msg("gateway shut down")
	return nil
}

// fail terminates the session and reports err to the handler exactly once.
func (c *Client) fail(err error) error {
	c.setState(session.StateTerminated)
	c.fatal.Do(func() {
		c.log.Error().Err(err).Msg("gateway terminated")
		c.handler.OnFatalError(err)
	})
	return err
}

func (c *Client) resolveURL(ctx context.Context) (string, error) {
	if c.session.CanResume() {
		if resume := c.session.ResumeURL(); resume != "" {
			return protocol.GatewayURL(resume)
		}
	}
	return c.endpoint.GatewayURL(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
