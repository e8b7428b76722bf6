package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config tunes a Dispatcher. Zero values fall back to DefaultConfig.
type Config struct {
	BaseURL    string
	Token      string
	AuthScheme string
	UserAgent  string
	// RetryLimit caps retries of 5xx and transport failures. Negative
	// disables retries.
	RetryLimit        int
	RequestTimeout    time.Duration
	WorkerIdleTimeout time.Duration
	Backoff           session.BackoffConfig
	BucketKey         BucketKeyFunc
	HTTPClient        *http.Client
	Clock             Clock
	Logger            *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		AuthScheme:        "Bot",
		UserAgent:         "edgelink (https://github.com/danmuck/edgelink, 1.0)",
		RetryLimit:        3,
		RequestTimeout:    15 * time.Second,
		WorkerIdleTimeout: time.Minute,
		Backoff: session.BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.AuthScheme == "" {
		c.AuthScheme = d.AuthScheme
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.RetryLimit == 0 {
		c.RetryLimit = d.RetryLimit
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.WorkerIdleTimeout <= 0 {
		c.WorkerIdleTimeout = d.WorkerIdleTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	if c.BucketKey == nil {
		c.BucketKey = DefaultBucketKey
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	return c
}

// Dispatcher serialises requests per bucket and honours the service's
// rate limits. One worker goroutine runs per active bucket key.
type Dispatcher struct {
	cfg   Config
	table *BucketTable
	log   zerolog.Logger

	mu     sync.Mutex
	queues map[string]*bucketQueue
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
}

type bucketQueue struct {
	key     string
	pending []*queuedRequest
	wake    chan struct{}
}

func New(cfg Config) (*Dispatcher, error) {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	logger := observability.Component("rest")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Dispatcher{
		cfg:    cfg,
		table:  NewBucketTable(),
		log:    logger,
		queues: make(map[string]*bucketQueue),
		done:   make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Table exposes the shared bucket state.
func (d *Dispatcher) Table() *BucketTable {
	return d.table
}

// Enqueue submits a request and blocks until it completes, fails, or ctx
// ends. Requests with the same bucket key run in submission order.
func (d *Dispatcher) Enqueue(ctx context.Context, method, route string, body []byte, header http.Header) (*Response, error) {
	if route == "" || !strings.HasPrefix(route, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoute, route)
	}
	method = strings.ToUpper(method)
	q := &queuedRequest{
		id:     uuid.NewString(),
		key:    d.cfg.BucketKey(method, route),
		ctx:    ctx,
		method: method,
		route:  route,
		body:   body,
		header: header,
		done:   make(chan result, 1),
	}
	if err := d.submit(q); err != nil {
		return nil, err
	}

	select {
	case res := <-q.done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnqueueJSON marshals in (when non-nil) as the request body and decodes
// the response body into out (when non-nil).
func (d *Dispatcher) EnqueueJSON(ctx context.Context, method, route string, in, out any) error {
	var body []byte
	header := http.Header{}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rest: encode body: %w", err)
		}
		body = data
		header.Set("Content-Type", "application/json")
	}
	resp, err := d.Enqueue(ctx, method, route, body, header)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("rest: decode %s %s: %w", method, route, err)
	}
	return nil
}

func (d *Dispatcher) submit(q *queuedRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	// a live local queue keeps its order; otherwise join the service bucket
	key := q.key
	if _, live := d.queues[key]; !live {
		if alias, ok := d.table.Alias(key); ok {
			key = alias
		}
	}
	bq := d.queueLocked(key)
	bq.pending = append(bq.pending, q)
	bq.notify()
	d.log.Debug().
		Str("id", q.id).
		Str("bucket", bq.key).
		Int("queued", len(bq.pending)).
		Msg("rest request queued")
	return nil
}

// queueLocked returns the queue for key, starting its worker if needed.
func (d *Dispatcher) queueLocked(key string) *bucketQueue {
	bq, ok := d.queues[key]
	if !ok {
		bq = &bucketQueue{key: key, wake: make(chan struct{}, 1)}
		d.queues[key] = bq
		d.wg.Add(1)
		go d.run(bq)
	}
	return bq
}

func (bq *bucketQueue) notify() {
	select {
	case bq.wake <- struct{}{}:
	default:
	}
}

// Close rejects queued requests with ErrDispatcherClosed, aborts rate-limit
// and backoff waits, lets in-flight requests finish, and waits for every
// worker to exit.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
		dropped := 0
		for _, bq := range d.queues {
			for _, q := range bq.pending {
				q.finish(nil, ErrDispatcherClosed)
				dropped++
			}
			bq.pending = nil
		}
		d.log.Info().Int("dropped", dropped).Msg("rest dispatcher closing")
	}
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}
