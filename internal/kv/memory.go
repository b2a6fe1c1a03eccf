package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const memorySweepThreshold = 10000

type memoryEntry struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time
}

// MemoryStore is a single-process Store. It backs local development and is
// the fake every gate test runs against. Expired keys are dropped lazily on
// access and in bulk once the map passes a size threshold.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     now,
	}
}

// lookup returns the live entry for key. Callers hold mu.
func (s *MemoryStore) lookup(key string, now time.Time) *memoryEntry {
	entry, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return entry
}

func (s *MemoryStore) maybeSweep(now time.Time) {
	if len(s.entries) <= memorySweepThreshold {
		return
	}
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key, s.now())
	if entry == nil || entry.set != nil {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entries[key] = &memoryEntry{value: value, expiresAt: now.Add(ttl)}
	s.maybeSweep(now)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lookup(key, s.now()) != nil, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.lookup(key, now)
	if entry == nil || entry.expiresAt.IsZero() {
		return 0, nil
	}
	return entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) IncrEX(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	if ttl <= 0 {
		return 0, 0, ErrInvalidTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.lookup(key, now)
	if entry == nil {
		entry = &memoryEntry{value: "0"}
		s.entries[key] = entry
	}

	count, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil || entry.set != nil {
		return 0, 0, unavailable("memory incr", strconv.ErrSyntax)
	}
	count++
	entry.value = strconv.FormatInt(count, 10)

	if count == 1 || entry.expiresAt.IsZero() {
		entry.expiresAt = now.Add(ttl)
	}
	s.maybeSweep(now)

	return count, entry.expiresAt.Sub(now), nil
}

func (s *MemoryStore) SAddEX(_ context.Context, key string, ttl time.Duration, members ...string) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	if len(members) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := s.lookup(key, now)
	if entry == nil || entry.set == nil {
		entry = &memoryEntry{set: make(map[string]struct{})}
		s.entries[key] = entry
	}
	for _, m := range members {
		entry.set[m] = struct{}{}
	}
	entry.expiresAt = now.Add(ttl)
	s.maybeSweep(now)
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key, s.now())
	if entry == nil || entry.set == nil {
		return nil
	}
	for _, m := range members {
		delete(entry.set, m)
	}
	if len(entry.set) == 0 {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key, s.now())
	if entry == nil || entry.set == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(entry.set))
	for m := range entry.set {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.lookup(key, s.now())
	if entry == nil || entry.set == nil {
		return 0, nil
	}
	return int64(len(entry.set)), nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key := range s.entries {
		if s.lookup(key, now) != nil {
			n++
		}
	}
	return n
}
