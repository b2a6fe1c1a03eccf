package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tietve/AI-saas-sub007/internal/lockout"
	"github.com/Tietve/AI-saas-sub007/internal/observability"
	"github.com/Tietve/AI-saas-sub007/internal/session"
)

const (
	defaultAccessTTL = 15 * time.Minute
	tokenTypeAccess  = "access"
)

type UserStore interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	UpsertAdminUser(ctx context.Context, email, plainPassword string) error
}

type Service struct {
	users     UserStore
	guard     *lockout.Guard
	sessions  *session.Store
	jwtSecret []byte
	accessTTL time.Duration
	now       func() time.Time
	logger    *observability.Logger
}

func NewService(users UserStore, guard *lockout.Guard, sessions *session.Store, jwtSecret string) *Service {
	return &Service{
		users:     users,
		guard:     guard,
		sessions:  sessions,
		jwtSecret: []byte(jwtSecret),
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
}

// WithAccessTTL sets the token lifetime, capped at the revocation record TTL
// so a revoked token can never outlive its revocation.
func (s *Service) WithAccessTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.accessTTL = min(ttl, session.RevokedTTL)
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(logger *observability.Logger) *Service {
	s.logger = logger
	return s
}

// Login checks the lockout guard before the credentials. Unknown emails and
// wrong passwords count as failed attempts alike, so the responses do not
// reveal which emails exist.
func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Tokens{}, ErrInvalidCredentials
	}

	if status := s.guard.IsAccountLocked(ctx, email); status.Locked {
		return Tokens{}, ErrLoginLocked{Until: status.LockedUntil}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, s.failedAttempt(ctx, email)
		}
		return Tokens{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Tokens{}, s.failedAttempt(ctx, email)
	}

	s.guard.ClearFailedAttempts(ctx, email)
	return s.issueSession(ctx, user.ID)
}

func (s *Service) failedAttempt(ctx context.Context, email string) error {
	res := s.guard.RecordFailedAttempt(ctx, email)
	if res.Locked {
		return ErrLoginLocked{Until: res.LockedUntil}
	}
	return ErrInvalidCredentials
}

func (s *Service) issueSession(ctx context.Context, userID string) (Tokens, error) {
	sessionID := uuid.NewString()

	// An untracked session still authenticates; only logout-all misses it.
	if err := s.sessions.TrackUserSession(ctx, userID, sessionID); err != nil {
		s.logger.Warn("session_track_failed", map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}

	access, expiresIn, err := s.issueAccessToken(userID, sessionID)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		SessionID:   sessionID,
	}, nil
}

func (s *Service) issueAccessToken(userID, sessionID string) (string, int64, error) {
	now := s.now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": tokenTypeAccess,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

// Authenticate validates signature and expiry first, then consults the
// revocation store. A revocation store outage lets the token through.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	if tokenType, _ := claims["typ"].(string); tokenType != tokenTypeAccess {
		return Principal{}, ErrInvalidToken
	}
	userID, _ := claims["sub"].(string)
	sessionID, _ := claims["sid"].(string)
	if userID == "" || sessionID == "" {
		return Principal{}, ErrInvalidToken
	}

	if status := s.sessions.IsSessionRevoked(ctx, sessionID); status.Revoked {
		return Principal{}, ErrTokenRevoked
	}

	return Principal{UserID: userID, SessionID: sessionID}, nil
}

func (s *Service) Logout(ctx context.Context, p Principal) error {
	if err := s.sessions.RevokeSession(ctx, p.SessionID); err != nil {
		return err
	}
	if err := s.sessions.UntrackUserSession(ctx, p.UserID, p.SessionID); err != nil {
		s.logger.Warn("session_untrack_failed", map[string]any{
			"user_id":    p.UserID,
			"session_id": p.SessionID,
			"error":      err.Error(),
		})
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.sessions.RevokeAllUserSessions(ctx, userID)
}

func (s *Service) Sessions(ctx context.Context, userID string) ([]string, error) {
	return s.sessions.GetUserActiveSessions(ctx, userID)
}

func (s *Service) Unlock(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrInvalidCredentials
	}
	return s.guard.UnlockAccount(ctx, email)
}

func (s *Service) BootstrapFromEnv(ctx context.Context, adminEmail, adminPassword string) error {
	adminEmail = normalizeEmail(adminEmail)
	adminPassword = strings.TrimSpace(adminPassword)

	if adminEmail == "" && adminPassword == "" {
		return nil
	}
	if adminEmail == "" || adminPassword == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	return s.users.UpsertAdminUser(ctx, adminEmail, adminPassword)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserNotFound       = errors.New("user not found")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}
