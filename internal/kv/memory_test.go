package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/kv/kvtest"
)

func newMemory() (*kv.MemoryStore, *kvtest.Clock) {
	clock := kvtest.NewClock(time.Unix(1_700_000_000, 0))
	return kv.NewMemoryStoreWithClock(clock.Now), clock
}

func TestMemoryStore_SetEXExpires(t *testing.T) {
	ctx := context.Background()
	store, clock := newMemory()

	require.NoError(t, store.SetEX(ctx, "lock:a", "1", time.Minute))

	value, ok, err := store.Get(ctx, "lock:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", value)

	ttl, err := store.TTL(ctx, "lock:a")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	clock.Advance(time.Minute)

	_, ok, err = store.Get(ctx, "lock:a")
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err = store.TTL(ctx, "lock:a")
	require.NoError(t, err)
	assert.Zero(t, ttl)
}

func TestMemoryStore_SetEXRejectsMissingTTL(t *testing.T) {
	store, _ := newMemory()
	err := store.SetEX(context.Background(), "k", "v", 0)
	assert.ErrorIs(t, err, kv.ErrInvalidTTL)
}

func TestMemoryStore_IncrEXSetsTTLOnFirstIncrementOnly(t *testing.T) {
	ctx := context.Background()
	store, clock := newMemory()

	count, ttl, err := store.IncrEX(ctx, "rl:user:1", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 10*time.Second, ttl)

	clock.Advance(4 * time.Second)

	count, ttl, err = store.IncrEX(ctx, "rl:user:1", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 6*time.Second, ttl, "second increment must not extend the window")

	clock.Advance(6 * time.Second)

	count, _, err = store.IncrEX(ctx, "rl:user:1", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired window starts over")
}

func TestMemoryStore_Sets(t *testing.T) {
	ctx := context.Background()
	store, clock := newMemory()

	require.NoError(t, store.SAddEX(ctx, "sessions:user:u1", time.Hour, "s1", "s2"))
	require.NoError(t, store.SAddEX(ctx, "sessions:user:u1", time.Hour, "s2", "s3"))

	n, err := store.SCard(ctx, "sessions:user:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	require.NoError(t, store.SRem(ctx, "sessions:user:u1", "s1"))
	members, err := store.SMembers(ctx, "sessions:user:u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s2", "s3"}, members)

	clock.Advance(59 * time.Minute)
	require.NoError(t, store.SAddEX(ctx, "sessions:user:u1", time.Hour, "s4"))
	clock.Advance(59 * time.Minute)

	n, err = store.SCard(ctx, "sessions:user:u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "add refreshes the set ttl")

	clock.Advance(time.Hour)
	members, err = store.SMembers(ctx, "sessions:user:u1")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemoryStore_DelAndExists(t *testing.T) {
	ctx := context.Background()
	store, _ := newMemory()

	require.NoError(t, store.SetEX(ctx, "a", "1", time.Minute))
	require.NoError(t, store.SetEX(ctx, "b", "1", time.Minute))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, store.Del(ctx, "a", "b", "missing"))

	ok, err := store.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, store.Len())
}
