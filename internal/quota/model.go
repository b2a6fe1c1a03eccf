package quota

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidUsage = errors.New("invalid usage")
)

type Reason string

const (
	ReasonNoUser             Reason = "NO_USER"
	ReasonPerRequestTooLarge Reason = "PER_REQUEST_TOO_LARGE"
	ReasonOverLimit          Reason = "OVER_LIMIT"
	ReasonDuplicateRequestID Reason = "DUPLICATE_REQUEST_ID"
	ReasonStoreUnavailable   Reason = "STORE_UNAVAILABLE"
)

// Meta is the known metadata of a usage record. RequestID is the
// idempotency key.
type Meta struct {
	RequestID      string `json:"request_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type UsageRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Model     string          `json:"model"`
	TokensIn  int64           `json:"tokens_in"`
	TokensOut int64           `json:"tokens_out"`
	CostUSD   decimal.Decimal `json:"cost_usd"`
	Meta      Meta            `json:"meta"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r UsageRecord) Tokens() int64 {
	return r.TokensIn + r.TokensOut
}

type Account struct {
	UserID           string
	PlanTier         PlanTier
	MonthlyTokenUsed int64
}

type RecordOutcome struct {
	Duplicate        bool
	MonthlyTokenUsed int64
	PlanTier         PlanTier
}

// Store is the relational side of the ledger.
type Store interface {
	// GetAccount returns ErrUserNotFound for unknown ids.
	GetAccount(ctx context.Context, userID string) (Account, error)
	// RecordUsage inserts rec and adds its tokens to the user's monthly
	// counter in one transaction. When rec.Meta.RequestID is set and a
	// record with the same user, model and request id exists with
	// created_at >= dedupeSince, nothing is written and Duplicate is true.
	RecordUsage(ctx context.Context, rec UsageRecord, dedupeSince time.Time) (RecordOutcome, error)
}

type CanSpendResult struct {
	OK            bool     `json:"ok"`
	Reason        Reason   `json:"reason,omitempty"`
	PlanTier      PlanTier `json:"plan_tier,omitempty"`
	Limit         int64    `json:"limit"`
	Used          int64    `json:"used"`
	Remaining     int64    `json:"remaining"`
	WouldExceedBy int64    `json:"would_exceed_by,omitempty"`
	// StoreUnavailable marks a rejection caused by an unreadable budget.
	StoreUnavailable bool `json:"-"`
}

type UsageInput struct {
	UserID    string
	Model     string
	TokensIn  int64
	TokensOut int64
	// CostUSD overrides the price table when set.
	CostUSD *decimal.Decimal
	Meta    Meta
}

type LedgerResult struct {
	Skipped           bool            `json:"skipped"`
	Reason            Reason          `json:"reason,omitempty"`
	RecordID          string          `json:"record_id,omitempty"`
	CostUSD           decimal.Decimal `json:"cost_usd"`
	PlanTier          PlanTier        `json:"plan_tier"`
	MonthlyTokenUsed  int64           `json:"monthly_token_used"`
	MonthlyTokenLimit int64           `json:"monthly_token_limit"`
	Remaining         int64           `json:"remaining"`
	NearLimit         bool            `json:"near_limit"`
}
