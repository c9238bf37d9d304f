package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"staybook/internal/models"
)

// RetryPolicy is capped exponential backoff between conflicting attempts.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// ShouldRetry reports whether another attempt may follow attempt (1-based).
func (r RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt <= r.MaxRetries
}

// NextDelay is the backoff ceiling after attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	base := r.InitialDelay
	if base <= 0 {
		base = models.DefaultBackoffBase
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	ceiling := r.MaxDelay
	if ceiling <= 0 {
		ceiling = models.DefaultBackoffCap
	}

	d := time.Duration(float64(base) * math.Pow(factor, float64(max(attempt, 1)-1)))
	// overflow wraps negative
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// JitteredDelay is full jitter: uniform in [0, NextDelay(attempt)].
func (r RetryPolicy) JitteredDelay(attempt int) time.Duration {
	return rand.N(r.NextDelay(attempt) + 1)
}
