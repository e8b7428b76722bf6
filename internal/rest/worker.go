package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/session"
)

// run drains one bucket queue. It exits after WorkerIdleTimeout without
// work, or once the dispatcher is closed and the queue is empty.
func (d *Dispatcher) run(bq *bucketQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(bq.pending) == 0 {
			if d.closed {
				d.retireLocked(bq)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			if d.idle(bq) {
				return
			}
			continue
		}
		q := bq.pending[0]
		bq.pending[0] = nil
		bq.pending = bq.pending[1:]
		d.mu.Unlock()

		resp, err := d.execute(q)
		q.finish(resp, err)
		if d.handOff(bq) {
			return
		}
	}
}

// handOff moves the pending requests of a local queue onto the queue of the
// service bucket its key now aliases, so keys sharing a service bucket share
// one worker. It reports true when bq retired.
func (d *Dispatcher) handOff(bq *bucketQueue) bool {
	target, ok := d.table.Alias(bq.key)
	if !ok || target == bq.key {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.retireLocked(bq)
	if len(bq.pending) > 0 {
		tq := d.queueLocked(target)
		tq.pending = append(tq.pending, bq.pending...)
		bq.pending = nil
		tq.notify()
	}
	d.log.Debug().Str("bucket", bq.key).Str("shared", target).Msg("rest queue joined shared bucket")
	return true
}

// idle blocks until new work arrives or the worker should retire. It
// reports true when the worker retired.
func (d *Dispatcher) idle(bq *bucketQueue) bool {
	timer := time.NewTimer(d.cfg.WorkerIdleTimeout)
	defer timer.Stop()
	select {
	case <-bq.wake:
		return false
	case <-d.done:
		return false
	case <-timer.C:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(bq.pending) > 0 {
		return false
	}
	d.retireLocked(bq)
	d.log.Debug().Str("bucket", bq.key).Msg("rest worker idle, exiting")
	return true
}

func (d *Dispatcher) retireLocked(bq *bucketQueue) {
	if d.queues[bq.key] == bq {
		delete(d.queues, bq.key)
	}
}

// execute runs one request through admission, send and retry.
func (d *Dispatcher) execute(q *queuedRequest) (*Response, error) {
	retries := 0
	for {
		if err := q.ctx.Err(); err != nil {
			return nil, err
		}
		select {
		case <-d.done:
			return nil, ErrDispatcherClosed
		default:
		}

		if wait := d.table.GlobalWait(d.cfg.Clock.Now()); wait > 0 {
			observability.RecordRateLimitWait("global", wait)
			d.log.Debug().Str("id", q.id).Dur("wait", wait).Msg("rest global limit wait")
			if err := d.sleep(q.ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		if wait := d.table.Wait(q.key, d.cfg.Clock.Now()); wait > 0 {
			observability.RecordRateLimitWait("bucket", wait)
			d.log.Debug().Str("id", q.id).Str("bucket", q.key).Dur("wait", wait).Msg("rest bucket wait")
			if err := d.sleep(q.ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		start := time.Now()
		resp, err := d.send(q)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return nil, perm.err
			}
			if ctxErr := q.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !d.canRetry(retries) {
				return nil, fmt.Errorf("%w: %s %s: %w", ErrRetriesExhausted, q.method, q.route, err)
			}
			retries++
			if err := d.backoff(q, retries, "transport", err); err != nil {
				return nil, err
			}
			continue
		}

		now := d.cfg.Clock.Now()
		info := parseRateLimit(resp.Header, resp.Status, resp.Body, now)
		bucket := d.table.Update(q.key, q.route, info, now)
		observability.RecordRESTRequest(q.key, q.method, resp.Status, time.Since(start))

		switch {
		case resp.Status == http.StatusTooManyRequests:
			wait := info.RetryAfter
			if wait <= 0 && !info.ResetAt.IsZero() {
				wait = info.ResetAt.Sub(now)
			}
			if wait <= 0 {
				wait = time.Second
			}
			scope := "bucket"
			if info.Global {
				scope = "global"
				d.table.LockGlobal(now.Add(wait))
			}
			observability.RecordRESTRetry(q.key, "rate_limited")
			observability.RecordRateLimitWait(scope, wait)
			d.log.Warn().
				Str("id", q.id).
				Str("bucket", bucket).
				Str("scope", scope).
				Dur("retry_after", wait).
				Msg("rest rate limited")
			if err := d.sleep(q.ctx, wait); err != nil {
				return nil, err
			}
		case resp.Status >= http.StatusInternalServerError:
			cause := fmt.Errorf("rest: server error %d", resp.Status)
			if !d.canRetry(retries) {
				return resp, fmt.Errorf("%w: %s %s: %w", ErrRetriesExhausted, q.method, q.route, cause)
			}
			retries++
			if err := d.backoff(q, retries, "server_error", cause); err != nil {
				return nil, err
			}
		case resp.Status >= http.StatusBadRequest:
			return resp, newHTTPError(q.method, q.route, resp)
		default:
			return resp, nil
		}
	}
}

func (d *Dispatcher) canRetry(retries int) bool {
	return d.cfg.RetryLimit > 0 && session.ShouldRetry(retries+1, d.cfg.RetryLimit)
}

func (d *Dispatcher) backoff(q *queuedRequest, attempt int, reason string, cause error) error {
	delay := d.retryDelay(attempt)
	observability.RecordRESTRetry(q.key, reason)
	d.log.Warn().
		Err(cause).
		Str("id", q.id).
		Str("bucket", q.key).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("rest request retry")
	return d.sleep(q.ctx, delay)
}

// retryDelay draws the backoff for attempt. Workers share one rng.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return session.NextBackoffDelay(d.cfg.Backoff, attempt, d.rng)
}

func (d *Dispatcher) send(q *queuedRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(q.ctx, d.cfg.RequestTimeout)
	defer cancel()

	var body io.Reader
	if len(q.body) > 0 {
		body = bytes.NewReader(q.body)
	}
	req, err := http.NewRequestWithContext(ctx, q.method, d.cfg.BaseURL+q.route, body)
	if err != nil {
		return nil, &permanentError{err: fmt.Errorf("rest: build request: %w", err)}
	}
	for k, vs := range q.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if d.cfg.Token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", d.cfg.AuthScheme+" "+d.cfg.Token)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	if len(q.body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: read body: %w", err)
	}
	return &Response{Status: res.StatusCode, Header: res.Header, Body: data}, nil
}

// sleep waits out wait, returning early when ctx ends or the dispatcher closes.
func (d *Dispatcher) sleep(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return ErrDispatcherClosed
	case <-timer.C:
		return nil
	}
}
