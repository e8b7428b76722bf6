package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return applyJitter(cfg, float64(cfg.InitialDelay), rng)
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return applyJitter(cfg, delay, rng)
}

func applyJitter(cfg BackoffConfig, delay float64, rng *rand.Rand) time.Duration {
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether attempt N (1-based) is still within budget.
// maxAttempts <= 0 means unbounded.
func ShouldRetry(attempt, maxAttempts int) bool {
	if maxAttempts <= 0 {
		return true
	}
	return attempt <= maxAttempts
}
