package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	defaultMaxBuckets = 50000
	sweepIntervalMs   = 1000
)

// bucketState is the per-key token bucket. Times are unix milliseconds. The
// policy fields record the limit the bucket was last consumed under.
type bucketState struct {
	Tokens         float64
	LastRefillAtMs int64
	Limit          int
	Burst          int
	WindowMs       int64
}

func (st bucketState) policy() Limit {
	return Limit{Limit: st.Limit, Window: time.Duration(st.WindowMs) * time.Millisecond, Burst: st.Burst}
}

// refilled reports whether the bucket would hold full capacity at nowMs
// under its own policy.
func (st bucketState) refilled(nowMs int64) bool {
	policy := st.policy()
	if policy.validate() != nil {
		return true
	}
	elapsed := max(nowMs-st.LastRefillAtMs, 0)
	return st.Tokens+float64(elapsed)*policy.ratePerMs() >= float64(policy.Capacity())
}

// consumeAt advances st to nowMs and tries to take one token. It depends on
// nothing but its arguments.
func consumeAt(st bucketState, limit Limit, nowMs int64) (bucketState, Decision) {
	ratePerMs := limit.ratePerMs()
	capacity := float64(limit.Capacity())

	elapsed := nowMs - st.LastRefillAtMs
	if elapsed < 0 {
		elapsed = 0
	}
	st.Tokens = math.Min(capacity, st.Tokens+float64(elapsed)*ratePerMs)
	st.LastRefillAtMs = nowMs
	st.Limit = limit.Limit
	st.Burst = limit.Burst
	st.WindowMs = limit.Window.Milliseconds()

	now := time.UnixMilli(nowMs)
	dec := Decision{Limit: limit.Limit}

	if st.Tokens < 1 {
		retryMs := int64(math.Ceil((1 - st.Tokens) / ratePerMs))
		dec.RetryAfter = time.Duration(retryMs) * time.Millisecond
		dec.ResetAt = now.Add(dec.RetryAfter)
		dec.Remaining = 0
		return st, dec
	}

	st.Tokens--
	dec.OK = true
	dec.Remaining = int(math.Floor(st.Tokens))
	dec.ResetAt = now
	if st.Tokens < 1 {
		dec.ResetAt = now.Add(time.Duration(math.Ceil((1-st.Tokens)/ratePerMs)) * time.Millisecond)
	}
	return st, dec
}

// TokenBucket is the in-process strategy. All buckets share one mutex; the
// critical section is a few float operations.
type TokenBucket struct {
	mu          sync.Mutex
	buckets     map[string]*bucketState
	defaults    Limit
	maxBuckets  int
	lastSweepMs int64
	now         func() time.Time
	metrics     *observability.Metrics
}

func NewTokenBucket(defaults Limit, metrics *observability.Metrics) (*TokenBucket, error) {
	if err := defaults.validate(); err != nil {
		return nil, err
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucketState),
		defaults:   defaults,
		maxBuckets: defaultMaxBuckets,
		now:        time.Now,
		metrics:    metrics,
	}, nil
}

// WithClock replaces the time source. Used by tests.
func (b *TokenBucket) WithClock(now func() time.Time) *TokenBucket {
	b.now = now
	return b
}

func (b *TokenBucket) Consume(_ context.Context, key string, limit Limit) Decision {
	limit = limit.withDefaults(b.defaults)
	nowMs := b.now().UnixMilli()

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.buckets[key]
	if !ok {
		st = &bucketState{Tokens: float64(limit.Capacity()), LastRefillAtMs: nowMs}
		b.buckets[key] = st
	}

	next, dec := consumeAt(*st, limit, nowMs)
	*st = next

	if len(b.buckets) > b.maxBuckets && nowMs-b.lastSweepMs >= sweepIntervalMs {
		b.evictIdle(nowMs)
	}

	b.metrics.Decision(observability.GateRateLimit, outcome(dec))
	return dec
}

// evictIdle drops buckets that would be full again by now under their own
// policy; forgetting them changes no future decision. It runs at most once
// per sweepIntervalMs. Callers hold mu.
func (b *TokenBucket) evictIdle(nowMs int64) {
	b.lastSweepMs = nowMs
	for key, st := range b.buckets {
		if st.refilled(nowMs) {
			delete(b.buckets, key)
		}
	}
}

func outcome(dec Decision) string {
	switch {
	case dec.StoreUnavailable:
		return "fail_open"
	case dec.OK:
		return "allowed"
	default:
		return "rejected"
	}
}
