package quota

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository is the Postgres Store. The monthly counter lives on the users
// row, the ledger in usage_records.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetAccount(ctx context.Context, userID string) (Account, error) {
	account := Account{UserID: userID}
	var tier string
	err := r.db.QueryRowContext(ctx, `
		SELECT plan_tier, monthly_token_used
		FROM users
		WHERE id = $1
	`, userID).Scan(&tier, &account.MonthlyTokenUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrUserNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	account.PlanTier = PlanTier(tier)

	return account, nil
}

func (r *Repository) RecordUsage(ctx context.Context, rec UsageRecord, dedupeSince time.Time) (RecordOutcome, error) {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return RecordOutcome{}, fmt.Errorf("encode usage meta: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return RecordOutcome{}, fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback()

	// The row lock serialises concurrent retries of the same request, so
	// the duplicate check below cannot race with another insert.
	var outcome RecordOutcome
	var tier string
	err = tx.QueryRowContext(ctx, `
		SELECT plan_tier, monthly_token_used
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, rec.UserID).Scan(&tier, &outcome.MonthlyTokenUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RecordOutcome{}, ErrUserNotFound
		}
		return RecordOutcome{}, fmt.Errorf("lock user row: %w", err)
	}
	outcome.PlanTier = PlanTier(tier)

	if rec.Meta.RequestID != "" {
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1
				FROM usage_records
				WHERE user_id = $1
				  AND model = $2
				  AND meta->>'request_id' = $3
				  AND created_at >= $4
			)
		`, rec.UserID, rec.Model, rec.Meta.RequestID, dedupeSince.UTC()).Scan(&exists)
		if err != nil {
			return RecordOutcome{}, fmt.Errorf("check duplicate usage: %w", err)
		}
		if exists {
			if err := tx.Commit(); err != nil {
				return RecordOutcome{}, fmt.Errorf("commit duplicate usage tx: %w", err)
			}
			outcome.Duplicate = true
			return outcome, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records (id, user_id, model, tokens_in, tokens_out, cost_usd, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.ID, rec.UserID, rec.Model, rec.TokensIn, rec.TokensOut, rec.CostUSD, string(meta), rec.CreatedAt.UTC())
	if err != nil {
		return RecordOutcome{}, fmt.Errorf("insert usage record: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE users
		SET monthly_token_used = monthly_token_used + $2, updated_at = $3
		WHERE id = $1
		RETURNING monthly_token_used
	`, rec.UserID, rec.Tokens(), rec.CreatedAt.UTC()).Scan(&outcome.MonthlyTokenUsed)
	if err != nil {
		return RecordOutcome{}, fmt.Errorf("increment monthly usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RecordOutcome{}, fmt.Errorf("commit usage tx: %w", err)
	}

	return outcome, nil
}

// ListUsage returns the user's most recent records, newest first.
func (r *Repository) ListUsage(ctx context.Context, userID string, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, model, tokens_in, tokens_out, cost_usd, meta, created_at
		FROM usage_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	records := make([]UsageRecord, 0)
	for rows.Next() {
		var rec UsageRecord
		var meta []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Model, &rec.TokensIn, &rec.TokensOut, &rec.CostUSD, &meta, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Meta); err != nil {
				return nil, fmt.Errorf("decode usage meta: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage records: %w", err)
	}

	return records, nil
}

// DeleteUsageBefore removes at most batchSize records created before cutoff.
func (r *Repository) DeleteUsageBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM usage_records
			WHERE created_at < $1
			ORDER BY created_at ASC
			LIMIT $2
		)
		DELETE FROM usage_records t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale usage records: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale usage records rows affected: %w", err)
	}

	return affected, nil
}

// ResetMonthlyUsage zeroes the counter of every user whose usage period
// started before the calendar month containing now. Running it twice in the
// same month is a no-op.
func (r *Repository) ResetMonthlyUsage(ctx context.Context, now time.Time) (int64, error) {
	periodStart := MonthStart(now)

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET monthly_token_used = 0, usage_period_start = $1, updated_at = NOW()
		WHERE usage_period_start < $1
	`, periodStart)
	if err != nil {
		return 0, fmt.Errorf("reset monthly usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset monthly usage rows affected: %w", err)
	}

	return affected, nil
}

// MonthStart is midnight UTC on the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
