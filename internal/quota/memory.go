package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same transactional semantics
// as Repository, serialised by one mutex.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	records  []UsageRecord
	// FailNext, when set, is returned by the next RecordUsage call before
	// anything is written.
	FailNext error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

func (s *MemoryStore) PutAccount(account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.UserID] = account
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[userID]
	if !ok {
		return Account{}, ErrUserNotFound
	}
	return account, nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, rec UsageRecord, dedupeSince time.Time) (RecordOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailNext; err != nil {
		s.FailNext = nil
		return RecordOutcome{}, err
	}

	account, ok := s.accounts[rec.UserID]
	if !ok {
		return RecordOutcome{}, ErrUserNotFound
	}

	if rec.Meta.RequestID != "" {
		for _, existing := range s.records {
			if existing.UserID == rec.UserID &&
				existing.Model == rec.Model &&
				existing.Meta.RequestID == rec.Meta.RequestID &&
				!existing.CreatedAt.Before(dedupeSince) {
				return RecordOutcome{
					Duplicate:        true,
					MonthlyTokenUsed: account.MonthlyTokenUsed,
					PlanTier:         account.PlanTier,
				}, nil
			}
		}
	}

	s.records = append(s.records, rec)
	account.MonthlyTokenUsed += rec.Tokens()
	s.accounts[rec.UserID] = account

	return RecordOutcome{
		MonthlyTokenUsed: account.MonthlyTokenUsed,
		PlanTier:         account.PlanTier,
	}, nil
}

// Records returns a copy of the user's ledger rows in insertion order.
func (s *MemoryStore) Records(userID string) []UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UsageRecord, 0)
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out
}

// ListUsage mirrors Repository.ListUsage: newest first, at most limit rows.
func (s *MemoryStore) ListUsage(_ context.Context, userID string, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]UsageRecord, 0)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].UserID == userID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}
