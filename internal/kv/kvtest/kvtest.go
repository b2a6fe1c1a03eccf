// Package kvtest holds helpers shared by the gate tests.
package kvtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errDown = errors.New("connection refused")

// DownStore fails every call the way an unreachable server would.
type DownStore struct{}

var _ kv.Store = DownStore{}

func down(op string) error {
	return fmt.Errorf("%s: %w: %w", op, kv.ErrUnavailable, errDown)
}

func (DownStore) Get(context.Context, string) (string, bool, error) { return "", false, down("get") }
func (DownStore) SetEX(context.Context, string, string, time.Duration) error {
	return down("setex")
}
func (DownStore) Exists(context.Context, string) (bool, error)       { return false, down("exists") }
func (DownStore) TTL(context.Context, string) (time.Duration, error) { return 0, down("ttl") }
func (DownStore) Del(context.Context, ...string) error               { return down("del") }
func (DownStore) IncrEX(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, down("incr")
}
func (DownStore) SAddEX(context.Context, string, time.Duration, ...string) error {
	return down("sadd")
}
func (DownStore) SRem(context.Context, string, ...string) error     { return down("srem") }
func (DownStore) SMembers(context.Context, string) ([]string, error) { return nil, down("smembers") }
func (DownStore) SCard(context.Context, string) (int64, error)       { return 0, down("scard") }
func (DownStore) Ping(context.Context) error                         { return down("ping") }
