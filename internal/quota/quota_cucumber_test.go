//go:build cucumber

package quota

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/Tietve/AI-saas-sub007/internal/kv/kvtest"
)

func TestQuotaFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "quota",
		ScenarioInitializer: initializeQuotaScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{filepath.Join("testdata", "features", "quota.feature")},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatalf("non-zero godog status")
	}
}

type quotaState struct {
	clock  *kvtest.Clock
	store  *MemoryStore
	ledger *Ledger
	check  CanSpendResult
	record LedgerResult
}

func initializeQuotaScenario(ctx *godog.ScenarioContext) {
	state := &quotaState{}
	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		state.clock = kvtest.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
		state.store = NewMemoryStore()
		state.ledger = NewLedger(state.store, WithClock(state.clock.Now))
		state.check = CanSpendResult{}
		state.record = LedgerResult{}
		return ctx, nil
	})

	ctx.Step(`^a "([^"]+)" user "([^"]+)" who has used (\d+) tokens$`, state.givenUser)
	ctx.Step(`^"([^"]+)" asks to spend (\d+) tokens$`, state.askToSpend)
	ctx.Step(`^"([^"]+)" records (\d+) input and (\d+) output tokens for request "([^"]+)"$`, state.recordUsage)
	ctx.Step(`^(\d+) seconds pass$`, state.advance)
	ctx.Step(`^the check is rejected with reason "([^"]+)"$`, state.checkRejected)
	ctx.Step(`^the check would exceed the limit by (\d+) tokens$`, state.wouldExceedBy)
	ctx.Step(`^the check is admitted with (\d+) tokens remaining$`, state.checkAdmitted)
	ctx.Step(`^"([^"]+)" has used (\d+) tokens this month$`, state.usedThisMonth)
	ctx.Step(`^the last record was skipped as a duplicate$`, state.lastRecordSkipped)
}

func (s *quotaState) givenUser(tier, user string, used int64) error {
	s.store.PutAccount(Account{UserID: user, PlanTier: PlanTier(tier), MonthlyTokenUsed: used})
	return nil
}

func (s *quotaState) askToSpend(user string, tokens int64) error {
	s.check = s.ledger.CanSpend(context.Background(), user, tokens)
	return nil
}

func (s *quotaState) recordUsage(user string, in, out int64, requestID string) error {
	res, err := s.ledger.RecordUsage(context.Background(), UsageInput{
		UserID:    user,
		Model:     "gpt-4o-mini",
		TokensIn:  in,
		TokensOut: out,
		Meta:      Meta{RequestID: requestID},
	})
	s.record = res
	return err
}

func (s *quotaState) advance(seconds int) error {
	s.clock.Advance(time.Duration(seconds) * time.Second)
	return nil
}

func (s *quotaState) checkRejected(reason string) error {
	if s.check.OK {
		return fmt.Errorf("expected rejection, check was admitted")
	}
	if string(s.check.Reason) != reason {
		return fmt.Errorf("expected reason %s, got %s", reason, s.check.Reason)
	}
	return nil
}

func (s *quotaState) wouldExceedBy(tokens int64) error {
	if s.check.WouldExceedBy != tokens {
		return fmt.Errorf("expected overshoot %d, got %d", tokens, s.check.WouldExceedBy)
	}
	return nil
}

func (s *quotaState) checkAdmitted(remaining int64) error {
	if !s.check.OK {
		return fmt.Errorf("expected admission, got %s", s.check.Reason)
	}
	if s.check.Remaining != remaining {
		return fmt.Errorf("expected %d remaining, got %d", remaining, s.check.Remaining)
	}
	return nil
}

func (s *quotaState) usedThisMonth(user string, used int64) error {
	account, err := s.store.GetAccount(context.Background(), user)
	if err != nil {
		return err
	}
	if account.MonthlyTokenUsed != used {
		return fmt.Errorf("expected %d used, got %d", used, account.MonthlyTokenUsed)
	}
	return nil
}

func (s *quotaState) lastRecordSkipped() error {
	if !s.record.Skipped || s.record.Reason != ReasonDuplicateRequestID {
		return fmt.Errorf("expected duplicate skip, got %+v", s.record)
	}
	return nil
}
