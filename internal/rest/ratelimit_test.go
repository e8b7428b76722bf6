package rest

import (
	"net/http"
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimitHeaders(t *testing.T) {
	testlog.Start(t)
	now := time.Unix(1_700_000_000, 0)
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "5")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset-After", "2.25")
	h.Set("X-RateLimit-Reset", "1700000099")
	h.Set("X-RateLimit-Bucket", "hash-1")

	info := parseRateLimit(h, http.StatusOK, nil, now)
	require.True(t, info.HasBucketState())
	assert.Equal(t, 5, info.Limit)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, now.Add(2250*time.Millisecond), info.ResetAt, "reset-after wins over absolute reset")
	assert.Equal(t, "hash-1", info.Bucket)
	assert.False(t, info.Global)
	assert.Zero(t, info.RetryAfter, "retry-after only read on 429")
}

func TestParseRateLimitAbsoluteReset(t *testing.T) {
	testlog.Start(t)
	h := http.Header{}
	h.Set("X-RateLimit-Reset", "1700000010.5")
	info := parseRateLimit(h, http.StatusOK, nil, time.Unix(1_700_000_000, 0))
	assert.False(t, info.HasBucketState())
	assert.Equal(t, time.Unix(1_700_000_010, 500_000_000), info.ResetAt)
}

func TestParseRateLimitTooManyRequests(t *testing.T) {
	testlog.Start(t)
	now := time.Now()

	h := http.Header{}
	h.Set("Retry-After", "3")
	info := parseRateLimit(h, http.StatusTooManyRequests, []byte(`{"retry_after":0.75,"global":true}`), now)
	assert.Equal(t, 750*time.Millisecond, info.RetryAfter, "body precision preferred")
	assert.True(t, info.Global)

	info = parseRateLimit(h, http.StatusTooManyRequests, []byte(`not json`), now)
	assert.Equal(t, 3*time.Second, info.RetryAfter)
	assert.False(t, info.Global)

	scoped := http.Header{}
	scoped.Set("X-RateLimit-Scope", "global")
	info = parseRateLimit(scoped, http.StatusTooManyRequests, nil, now)
	assert.True(t, info.Global)
}

func TestParseRateLimitIgnoresGarbage(t *testing.T) {
	testlog.Start(t)
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "five")
	h.Set("X-RateLimit-Remaining", "1")
	h.Set("X-RateLimit-Reset-After", "-4")
	info := parseRateLimit(h, http.StatusOK, nil, time.Now())
	assert.False(t, info.HasBucketState())
	assert.True(t, info.ResetAt.IsZero())
}
