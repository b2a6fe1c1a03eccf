package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Limit is the policy for one Consume call. Zero fields fall back to the
// limiter's defaults.
type Limit struct {
	Limit  int
	Window time.Duration
	Burst  int
}

func (l Limit) withDefaults(d Limit) Limit {
	if l.Limit <= 0 {
		l.Limit = d.Limit
	}
	if l.Window <= 0 {
		l.Window = d.Window
	}
	if l.Burst <= 0 {
		l.Burst = d.Burst
	}
	return l
}

// Capacity is the largest number of tokens a bucket holds.
func (l Limit) Capacity() int {
	capacity := l.Burst
	if capacity <= 0 {
		capacity = l.Limit
	}
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

func (l Limit) ratePerMs() float64 {
	windowMs := max(l.Window.Milliseconds(), 1)
	return float64(l.Limit) / float64(windowMs)
}

func (l Limit) validate() error {
	if l.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if l.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}

type Decision struct {
	OK         bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// StoreUnavailable marks an admission granted because the backing store
	// could not be reached.
	StoreUnavailable bool
}

type Limiter interface {
	Consume(ctx context.Context, key string, limit Limit) Decision
}
