package ratelimit

import (
	"fmt"
	"strings"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	BackendTokenBucket = "token_bucket"
	BackendFixedWindow = "fixed_window"
)

// New builds the limiter named by backend. "memory" and "redis" are accepted
// as aliases for token_bucket and fixed_window.
func New(backend string, store kv.Store, defaults Limit, logger *observability.Logger, metrics *observability.Metrics) (Limiter, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendTokenBucket, "memory":
		return NewTokenBucket(defaults, metrics)
	case BackendFixedWindow, "redis":
		if store == nil {
			return nil, fmt.Errorf("rate limit backend %q requires a kv store", backend)
		}
		return NewFixedWindow(store, defaults, logger, metrics)
	default:
		return nil, fmt.Errorf("unsupported rate limit backend %q", backend)
	}
}
