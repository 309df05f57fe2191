package connstate

import (
	"time"

	"github.com/eleven-am/voice-stream/internal/shared"
)

// Backoff tracks the reconnect delay and the consecutive failure count.
// It is not safe for concurrent use; the owning transport serializes access.
type Backoff struct {
	cfg      shared.BackoffConfig
	current  time.Duration
	failures int
}

func NewBackoff(cfg shared.BackoffConfig) *Backoff {
	cfg = cfg.Normalize()
	return &Backoff{
		cfg:     cfg,
		current: cfg.Initial,
	}
}

// Next records a failed attempt. It returns the delay before the next attempt,
// or false once MaxFailures consecutive failures have been recorded.
func (b *Backoff) Next() (time.Duration, bool) {
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		return 0, false
	}

	delay := minDuration(b.current, b.cfg.MaxDelay)
	b.current = minDuration(time.Duration(float64(b.current)*b.cfg.Multiplier), b.cfg.MaxDelay)
	return delay, true
}

func (b *Backoff) Reset() {
	b.current = b.cfg.Initial
	b.failures = 0
}

func (b *Backoff) Current() time.Duration {
	return b.current
}

func (b *Backoff) Failures() int {
	return b.failures
}

func (b *Backoff) Config() shared.BackoffConfig {
	return b.cfg
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
