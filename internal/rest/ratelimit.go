package rest

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerScope      = "X-RateLimit-Scope"
	headerRetryAfter = "Retry-After"
)

// RateLimitInfo is what one response says about its bucket.
type RateLimitInfo struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	Bucket     string
	Global     bool
	RetryAfter time.Duration

	hasLimit bool
}

// HasBucketState reports whether limit/remaining/reset headers were present.
func (i RateLimitInfo) HasBucketState() bool {
	return i.hasLimit
}

// parseRateLimit reads rate-limit headers and, for 429 responses, the JSON
// body. Reset-After wins over the absolute Reset header because it does not
// depend on clock agreement with the service.
func parseRateLimit(h http.Header, status int, body []byte, now time.Time) RateLimitInfo {
	var info RateLimitInfo

	limit, limitOK := parseInt(h.Get(headerLimit))
	remaining, remainingOK := parseInt(h.Get(headerRemaining))
	if limitOK && remainingOK {
		info.Limit = limit
		info.Remaining = remaining
		info.hasLimit = true
	}
	if after, ok := parseSeconds(h.Get(headerResetAfter)); ok {
		info.ResetAt = now.Add(after)
	} else if epoch, ok := parseFloat(h.Get(headerReset)); ok {
		sec, frac := math.Modf(epoch)
		info.ResetAt = time.Unix(int64(sec), int64(frac*float64(time.Second)))
	}
	info.Bucket = strings.TrimSpace(h.Get(headerBucket))
	info.Global = parseBool(h.Get(headerGlobal)) || strings.EqualFold(h.Get(headerScope), "global")

	if status != http.StatusTooManyRequests {
		return info
	}

	if after, ok := parseSeconds(h.Get(headerRetryAfter)); ok {
		info.RetryAfter = after
	}
	var payload struct {
		RetryAfter *float64 `json:"retry_after"`
		Global     bool     `json:"global"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.RetryAfter != nil && *payload.RetryAfter >= 0 {
			// the body carries sub-second precision, the header does not
			info.RetryAfter = secondsToDuration(*payload.RetryAfter)
		}
		info.Global = info.Global || payload.Global
	}
	return info
}

func parseInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseSeconds(raw string) (time.Duration, bool) {
	v, ok := parseFloat(raw)
	if !ok {
		return 0, false
	}
	return secondsToDuration(v), true
}

func secondsToDuration(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
