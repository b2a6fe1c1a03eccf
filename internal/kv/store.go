// Package kv is the shared key/value store every admission gate keeps its
// transient state in. Every key written through Store carries a TTL except
// set members added with SAddEX, whose set key is refreshed on each add.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable wraps every failure to reach the backing store. Gates test
// for it with errors.Is and apply their fail-open or fail-closed default.
var ErrUnavailable = errors.New("kv store unavailable")

// ErrInvalidTTL is returned when a write would create a key without expiry.
var ErrInvalidTTL = errors.New("kv ttl must be positive")

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// TTL returns the remaining lifetime of key; zero or less means the key
	// is absent or does not expire.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error

	// IncrEX increments key and, in the same atomic step, sets its TTL when
	// the increment created the key or the key has no expiry. It returns the
	// post-increment count and the remaining TTL.
	IncrEX(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// SAddEX adds members to the set at key and refreshes the set TTL.
	SAddEX(ctx context.Context, key string, ttl time.Duration, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	Ping(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
