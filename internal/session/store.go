// Package session tracks which sessions each user holds and which sessions
// have been revoked before their tokens expire.
//
// IsSessionRevoked sits on every authenticated request and fails open: when
// the store cannot be reached a token that passed signature and expiry
// checks is accepted, and the result carries StoreUnavailable.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
)

const (
	// UserSessionsTTL is refreshed on every tracked login.
	UserSessionsTTL = 30 * 24 * time.Hour
	// RevokedTTL outlives the longest access token lifetime.
	RevokedTTL = 7 * 24 * time.Hour

	userSessionsPrefix = "sessions:user:"
	revokedPrefix      = "revoked:session:"
	revokedSentinel    = "1"
	revokeConcurrency  = 16
)

type RevocationStatus struct {
	Revoked          bool
	StoreUnavailable bool
}

type Store struct {
	kv      kv.Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

func NewStore(store kv.Store, logger *observability.Logger, metrics *observability.Metrics) *Store {
	return &Store{kv: store, logger: logger, metrics: metrics}
}

// normalizeID trims session ids so every operation keys the same entry.
func normalizeID(sessionID string) string {
	return strings.TrimSpace(sessionID)
}

func (s *Store) TrackUserSession(ctx context.Context, userID, sessionID string) error {
	sessionID = normalizeID(sessionID)
	if sessionID == "" {
		return errors.New("track session: empty session id")
	}
	if err := s.kv.SAddEX(ctx, userSessionsPrefix+userID, UserSessionsTTL, sessionID); err != nil {
		return fmt.Errorf("track session: %w", err)
	}
	return nil
}

func (s *Store) UntrackUserSession(ctx context.Context, userID, sessionID string) error {
	sessionID = normalizeID(sessionID)
	if err := s.kv.SRem(ctx, userSessionsPrefix+userID, sessionID); err != nil {
		return fmt.Errorf("untrack session: %w", err)
	}
	return nil
}

func (s *Store) RevokeSession(ctx context.Context, sessionID string) error {
	sessionID = normalizeID(sessionID)
	if sessionID == "" {
		return nil
	}
	if err := s.kv.SetEX(ctx, revokedPrefix+sessionID, revokedSentinel, RevokedTTL); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllUserSessions revokes every session currently in the user's set,
// then removes exactly those members. A session tracked concurrently stays
// in the set for the next call. It returns how many sessions were revoked.
func (s *Store) RevokeAllUserSessions(ctx context.Context, userID string) (int, error) {
	key := userSessionsPrefix + userID

	members, err := s.kv.SMembers(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revokeConcurrency)
	for _, sessionID := range members {
		g.Go(func() error {
			return s.RevokeSession(gctx, sessionID)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if len(members) > 0 {
		if err := s.kv.SRem(ctx, key, members...); err != nil {
			return len(members), fmt.Errorf("remove revoked sessions: %w", err)
		}
	}

	s.logger.Info("sessions_revoked", map[string]any{
		"user_id": userID,
		"count":   len(members),
	})
	return len(members), nil
}

func (s *Store) IsSessionRevoked(ctx context.Context, sessionID string) RevocationStatus {
	sessionID = normalizeID(sessionID)
	revoked, err := s.kv.Exists(ctx, revokedPrefix+sessionID)
	if err != nil {
		s.logger.Warn("session_revocation_check_failed", map[string]any{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		s.metrics.StoreUnavailable(observability.GateSession)
		s.metrics.Decision(observability.GateSession, "fail_open")
		return RevocationStatus{StoreUnavailable: true}
	}

	if revoked {
		s.metrics.Decision(observability.GateSession, "revoked")
	} else {
		s.metrics.Decision(observability.GateSession, "allowed")
	}
	return RevocationStatus{Revoked: revoked}
}

func (s *Store) GetUserActiveSessions(ctx context.Context, userID string) ([]string, error) {
	members, err := s.kv.SMembers(ctx, userSessionsPrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return members, nil
}

func (s *Store) GetUserSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := s.kv.SCard(ctx, userSessionsPrefix+userID)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return int(n), nil
}
