package kv

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed incr_expire.lua
var incrExpireSource string

var incrExpireScript = redis.NewScript(incrExpireSource)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// RedisOptions selects a standalone client from URL or a cluster client from
// ClusterAddrs. ClusterAddrs wins when both are set.
type RedisOptions struct {
	URL          string
	ClusterAddrs []string
	Password     string
	DialTimeout  time.Duration
}

func NewRedisClient(opts RedisOptions) (redis.UniversalClient, error) {
	if len(opts.ClusterAddrs) > 0 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       opts.ClusterAddrs,
			Password:    opts.Password,
			DialTimeout: opts.DialTimeout,
		}), nil
	}

	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, errors.New("redis url or cluster addrs required")
	}
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	if opts.DialTimeout > 0 {
		parsed.DialTimeout = opts.DialTimeout
	}

	return redis.NewClient(parsed), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable("redis get", err)
	}
	return value, true, nil
}

func (s *RedisStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("redis setex", err)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable("redis exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable("redis pttl", err)
	}
	// go-redis reports -1/-2 for "no expiry"/"no key" unscaled.
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// Keys may hash to different cluster slots, so delete one by one.
	for _, key := range keys {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return unavailable("redis del", err)
		}
	}
	return nil
}

func (s *RedisStore) IncrEX(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		return 0, 0, ErrInvalidTTL
	}

	result, err := incrExpireScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, unavailable("redis incr expire", err)
	}
	if len(result) != 2 {
		return 0, 0, unavailable("redis incr expire", fmt.Errorf("unexpected reply length %d", len(result)))
	}

	return result[0], time.Duration(result[1]) * time.Millisecond, nil
}

func (s *RedisStore) SAddEX(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if len(members) == 0 {
		return nil
	}

	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, args...)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return unavailable("redis sadd expire", err)
	}
	return nil
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return unavailable("redis srem", err)
	}
	return nil
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable("redis smembers", err)
	}
	return members, nil
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, unavailable("redis scard", err)
	}
	return n, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
