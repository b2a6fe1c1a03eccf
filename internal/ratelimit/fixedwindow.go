package ratelimit

import (
	"context"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const defaultKeyPrefix = "ratelimit:"

// FixedWindow is the store-backed strategy. Burst is ignored.
type FixedWindow struct {
	store    kv.Store
	defaults Limit
	prefix   string
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Metrics
}

func NewFixedWindow(store kv.Store, defaults Limit, logger *observability.Logger, metrics *observability.Metrics) (*FixedWindow, error) {
	if err := defaults.validate(); err != nil {
		return nil, err
	}
	return &FixedWindow{
		store:    store,
		defaults: defaults,
		prefix:   defaultKeyPrefix,
		now:      time.Now,
		logger:   logger,
		metrics:  metrics,
	}, nil
}

func (f *FixedWindow) WithPrefix(prefix string) *FixedWindow {
	f.prefix = prefix
	return f
}

func (f *FixedWindow) WithClock(now func() time.Time) *FixedWindow {
	f.now = now
	return f
}

func (f *FixedWindow) Consume(ctx context.Context, key string, limit Limit) Decision {
	limit = limit.withDefaults(f.defaults)
	now := f.now()

	count, ttl, err := f.store.IncrEX(ctx, f.prefix+key, limit.Window)
	if err != nil {
		f.logger.Warn("rate_limit_store_unavailable", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
		f.metrics.StoreUnavailable(observability.GateRateLimit)
		dec := Decision{
			OK:               true,
			Limit:            limit.Limit,
			Remaining:        limit.Limit,
			ResetAt:          now,
			StoreUnavailable: true,
		}
		f.metrics.Decision(observability.GateRateLimit, outcome(dec))
		return dec
	}

	if ttl <= 0 {
		ttl = limit.Window
	}

	dec := Decision{
		Limit:   limit.Limit,
		ResetAt: now.Add(ttl),
	}
	if count > int64(limit.Limit) {
		dec.RetryAfter = ttl
	} else {
		dec.OK = true
		dec.Remaining = limit.Limit - int(count)
	}

	f.metrics.Decision(observability.GateRateLimit, outcome(dec))
	return dec
}
