package rest

import (
	"sync"
	"time"
)

// Bucket is the last known rate-limit state for one bucket key.
type Bucket struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func (b Bucket) exhausted(now time.Time) bool {
	return b.Remaining <= 0 && now.Before(b.ResetAt)
}

func (b Bucket) wait(now time.Time) time.Duration {
	if !b.exhausted(now) {
		return 0
	}
	return b.ResetAt.Sub(now)
}

// BucketTable holds bucket state shared by all workers. Local keys are
// aliased to service bucket ids once a response reports one, so routes that
// share a service bucket also share its counters.
type BucketTable struct {
	mu      sync.Mutex
	aliases map[string]string
	buckets map[string]*Bucket
	global  Bucket
}

func NewBucketTable() *BucketTable {
	return &BucketTable{
		aliases: make(map[string]string),
		buckets: make(map[string]*Bucket),
	}
}

func (t *BucketTable) resolveLocked(key string) string {
	if alias, ok := t.aliases[key]; ok {
		return alias
	}
	return key
}

// Wait returns how long a request on key must wait for its bucket to reset.
func (t *BucketTable) Wait(key string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[t.resolveLocked(key)]
	if !ok {
		return 0
	}
	return b.wait(now)
}

// GlobalWait returns how long any request must wait for the global limit.
func (t *BucketTable) GlobalWait(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.global.wait(now)
}

// LockGlobal blocks every bucket until the given time.
func (t *BucketTable) LockGlobal(until time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if until.After(t.global.ResetAt) {
		t.global = Bucket{Remaining: 0, ResetAt: until}
	}
}

// Update applies one response's rate-limit info. It returns the key the
// state was stored under.
func (t *BucketTable) Update(key, route string, info RateLimitInfo, now time.Time) string {
	if info.Global {
		if info.RetryAfter > 0 {
			t.LockGlobal(now.Add(info.RetryAfter))
		}
		return globalKey
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.resolveLocked(key)
	if info.Bucket != "" {
		target = info.Bucket
		if major := majorParameter(route); major != "" {
			target = info.Bucket + ":" + major
		}
		if prev, ok := t.aliases[key]; !ok || prev != target {
			t.aliases[key] = target
			// local entry is superseded by the shared one
			delete(t.buckets, key)
		}
	}

	if !info.HasBucketState() && info.RetryAfter <= 0 {
		return target
	}
	b, ok := t.buckets[target]
	if !ok {
		b = &Bucket{}
		t.buckets[target] = b
	}
	if info.HasBucketState() {
		b.Limit = info.Limit
		b.Remaining = info.Remaining
	}
	if !info.ResetAt.IsZero() {
		b.ResetAt = info.ResetAt
	}
	if info.RetryAfter > 0 {
		b.Remaining = 0
		if until := now.Add(info.RetryAfter); until.After(b.ResetAt) {
			b.ResetAt = until
		}
	}
	return target
}

// Set overwrites the state for key.
func (t *BucketTable) Set(key string, b Bucket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[t.resolveLocked(key)] = &b
}

// Get returns the state for key, following aliases.
func (t *BucketTable) Get(key string) (Bucket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.buckets[t.resolveLocked(key)]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Alias returns the service bucket id key was re-keyed to, if any.
func (t *BucketTable) Alias(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	alias, ok := t.aliases[key]
	return alias, ok
}

// Snapshot copies every known bucket, including the global entry under
// the reserved key "global".
func (t *BucketTable) Snapshot() map[string]Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Bucket, len(t.buckets)+1)
	for k, b := range t.buckets {
		out[k] = *b
	}
	out[globalKey] = t.global
	return out
}

const globalKey = "global"
