package engine

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig bounds the resubscribe loop after a push channel failure.
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (c *BackoffConfig) defaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = 1 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
}

type backoff struct {
	cfg     BackoffConfig
	attempt int
}

func (b *backoff) exhausted() bool {
	return b.attempt >= b.cfg.MaxAttempts
}

// next returns the delay before the coming attempt: exponential with jitter,
// capped at MaxDelay.
func (b *backoff) next() time.Duration {
	jitter := time.Duration(rand.Float64() * float64(b.cfg.BaseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(b.cfg.BaseDelay)*math.Pow(2, float64(b.attempt))+float64(jitter),
		float64(b.cfg.MaxDelay),
	))
	b.attempt++
	return delay
}
