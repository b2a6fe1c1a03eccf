// Package quota enforces per-user monthly token budgets and keeps the usage
// ledger billing is reconciled from.
//
// CanSpend is consulted before a costly operation and fails closed: an
// unreadable budget is a rejection. RecordUsage is called after the work
// finished; the usage row and the counter increment commit together or not
// at all, and a repeated request id inside the dedupe window is a no-op.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	DefaultDedupeWindow = 60 * time.Second
	nearLimitRatio      = 0.8
)

type Ledger struct {
	store        Store
	plans        Plans
	prices       PriceTable
	dedupeWindow time.Duration
	now          func() time.Time
	logger       *observability.Logger
	metrics      *observability.Metrics
}

type Option func(*Ledger)

func WithPlans(plans Plans) Option {
	return func(l *Ledger) {
		if len(plans) > 0 {
			l.plans = plans
		}
	}
}

func WithPrices(prices PriceTable) Option {
	return func(l *Ledger) {
		if len(prices) > 0 {
			l.prices = prices
		}
	}
}

func WithDedupeWindow(window time.Duration) Option {
	return func(l *Ledger) {
		if window > 0 {
			l.dedupeWindow = window
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *observability.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Ledger) { l.metrics = metrics }
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		plans:        DefaultPlans(),
		prices:       DefaultPrices(),
		dedupeWindow: DefaultDedupeWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) CanSpend(ctx context.Context, userID string, estimateTokens int64) CanSpendResult {
	if estimateTokens < 0 {
		estimateTokens = 0
	}

	account, err := l.store.GetAccount(ctx, strings.TrimSpace(userID))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			l.metrics.Decision(observability.GateQuota, "no_user")
			return CanSpendResult{Reason: ReasonNoUser}
		}
		l.logger.Error("quota_budget_unavailable", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		l.metrics.StoreUnavailable(observability.GateQuota)
		return CanSpendResult{Reason: ReasonStoreUnavailable, StoreUnavailable: true}
	}

	tier, limits := l.plans.Resolve(account.PlanTier)
	used := account.MonthlyTokenUsed
	result := CanSpendResult{
		PlanTier: tier,
		Limit:    limits.MonthlyTokenLimit,
		Used:     used,
	}

	if estimateTokens > limits.PerRequestMaxTokens {
		result.Reason = ReasonPerRequestTooLarge
		result.Remaining = max(0, limits.MonthlyTokenLimit-used)
		result.WouldExceedBy = estimateTokens - limits.PerRequestMaxTokens
		l.metrics.Decision(observability.GateQuota, "per_request_too_large")
		return result
	}

	projected := used + estimateTokens
	if projected > limits.MonthlyTokenLimit {
		result.Reason = ReasonOverLimit
		result.Remaining = max(0, limits.MonthlyTokenLimit-used)
		result.WouldExceedBy = projected - limits.MonthlyTokenLimit
		l.metrics.Decision(observability.GateQuota, "over_limit")
		return result
	}

	result.OK = true
	result.Remaining = limits.MonthlyTokenLimit - projected
	l.metrics.Decision(observability.GateQuota, "allowed")
	return result
}

func (l *Ledger) RecordUsage(ctx context.Context, input UsageInput) (LedgerResult, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.Model = strings.TrimSpace(input.Model)
	input.Meta.RequestID = strings.TrimSpace(input.Meta.RequestID)

	if input.UserID == "" || input.Model == "" {
		return LedgerResult{}, fmt.Errorf("%w: user id and model are required", ErrInvalidUsage)
	}
	if input.TokensIn < 0 || input.TokensOut < 0 {
		return LedgerResult{}, fmt.Errorf("%w: token counts must not be negative", ErrInvalidUsage)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return LedgerResult{}, fmt.Errorf("generate usage id: %w", err)
	}

	cost := l.prices.Cost(input.Model, input.TokensIn, input.TokensOut)
	if input.CostUSD != nil {
		cost = *input.CostUSD
	}

	now := l.now().UTC()
	rec := UsageRecord{
		ID:        id.String(),
		UserID:    input.UserID,
		Model:     input.Model,
		TokensIn:  input.TokensIn,
		TokensOut: input.TokensOut,
		CostUSD:   cost,
		Meta:      input.Meta,
		CreatedAt: now,
	}

	outcome, err := l.store.RecordUsage(ctx, rec, now.Add(-l.dedupeWindow))
	if err != nil {
		l.logger.Error("quota_record_failed", map[string]any{
			"user_id":    rec.UserID,
			"model":      rec.Model,
			"request_id": rec.Meta.RequestID,
			"tokens":     rec.Tokens(),
			"error":      err.Error(),
		})
		return LedgerResult{}, fmt.Errorf("record usage: %w", err)
	}

	tier, limits := l.plans.Resolve(outcome.PlanTier)
	result := LedgerResult{
		PlanTier:          tier,
		MonthlyTokenUsed:  outcome.MonthlyTokenUsed,
		MonthlyTokenLimit: limits.MonthlyTokenLimit,
		Remaining:         max(0, limits.MonthlyTokenLimit-outcome.MonthlyTokenUsed),
		NearLimit:         float64(outcome.MonthlyTokenUsed) >= nearLimitRatio*float64(limits.MonthlyTokenLimit),
	}

	if outcome.Duplicate {
		result.Skipped = true
		result.Reason = ReasonDuplicateRequestID
		l.logger.Info("quota_duplicate_request", map[string]any{
			"user_id":    rec.UserID,
			"model":      rec.Model,
			"request_id": rec.Meta.RequestID,
		})
		return result, nil
	}

	result.RecordID = rec.ID
	result.CostUSD = cost
	return result, nil
}
