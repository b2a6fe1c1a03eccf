package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tietve/AI-saas-sub007/internal/kv"
	"github.com/Tietve/AI-saas-sub007/internal/kv/kvtest"
	"github.com/Tietve/AI-saas-sub007/internal/lockout"
	"github.com/Tietve/AI-saas-sub007/internal/session"
)

const testSecret = "jwt-test-secret"

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]User
	err   error
}

func newFakeUsers(t *testing.T, email, password string) *fakeUsers {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &fakeUsers{users: map[string]User{
		email: {ID: "user-1", Email: email, PasswordHash: string(hash), PlanTier: "FREE"},
	}}
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return User{}, f.err
	}
	user, ok := f.users[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeUsers) UpsertAdminUser(_ context.Context, email, plainPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.MinCost)
	if err != nil {
		return err
	}
	f.users[email] = User{ID: "admin", Email: email, PasswordHash: string(hash)}
	return nil
}

type fixture struct {
	service  *Service
	users    *fakeUsers
	store    *kv.MemoryStore
	sessions *session.Store
	clock    *kvtest.Clock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := kvtest.NewClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	store := kv.NewMemoryStoreWithClock(clock.Now)
	guard := lockout.NewGuard(store, lockout.WithClock(clock.Now))
	sessions := session.NewStore(store, nil, nil)
	users := newFakeUsers(t, "alice@example.com", "correct horse battery")
	service := NewService(users, guard, sessions, testSecret).WithClock(clock.Now)
	return fixture{service: service, users: users, store: store, sessions: sessions, clock: clock}
}

func TestLogin_IssuesTrackedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tokens, err := f.service.Login(ctx, " Alice@Example.com ", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(defaultAccessTTL.Seconds()), tokens.ExpiresIn)

	active, err := f.sessions.GetUserActiveSessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{tokens.SessionID}, active)

	principal, err := f.service.Authenticate(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, Principal{UserID: "user-1", SessionID: tokens.SessionID}, principal)
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i < lockout.DefaultMaxAttempts; i++ {
		_, err := f.service.Login(ctx, "alice@example.com", "wrong password")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.service.Login(ctx, "alice@example.com", "wrong password")
	var locked ErrLoginLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, f.clock.Now().Add(lockout.DefaultLockoutDuration), locked.Until)

	_, err = f.service.Login(ctx, "alice@example.com", "correct horse battery")
	require.ErrorAs(t, err, &locked, "correct password is refused while locked")

	f.clock.Advance(lockout.DefaultLockoutDuration)
	_, err = f.service.Login(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)
}

func TestLogin_UnknownEmailIsIndistinguishable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var lastErr error
	for i := 0; i < lockout.DefaultMaxAttempts; i++ {
		_, lastErr = f.service.Login(ctx, "nobody@example.com", "whatever123")
	}
	var locked ErrLoginLocked
	assert.ErrorAs(t, lastErr, &locked)
}

func TestLogin_SuccessClearsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i < lockout.DefaultMaxAttempts; i++ {
		_, _ = f.service.Login(ctx, "alice@example.com", "wrong password")
	}
	_, err := f.service.Login(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	_, err = f.service.Login(ctx, "alice@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "counter restarted after success")
}

func TestLogin_RepositoryErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.users.err = errors.New("db down")

	_, err := f.service.Login(context.Background(), "alice@example.com", "correct horse battery")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_WorksWhenStoreIsDown(t *testing.T) {
	users := newFakeUsers(t, "alice@example.com", "correct horse battery")
	down := kvtest.DownStore{}
	service := NewService(users, lockout.NewGuard(down), session.NewStore(down, nil, nil), testSecret)

	tokens, err := service.Login(context.Background(), "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	_, err = service.Authenticate(context.Background(), tokens.AccessToken)
	assert.NoError(t, err, "revocation check fails open")
}

func TestAuthenticate_RejectsRevokedAndExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tokens, err := f.service.Login(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	principal, err := f.service.Authenticate(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.service.Logout(ctx, principal))

	_, err = f.service.Authenticate(ctx, tokens.AccessToken)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	count, err := f.sessions.GetUserSessionCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, count)

	other, err := f.service.Login(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	f.clock.Advance(defaultAccessTTL + time.Second)
	_, err = f.service.Authenticate(ctx, other.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.service.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var issued []Tokens
	for i := 0; i < 3; i++ {
		tokens, err := f.service.Login(ctx, "alice@example.com", "correct horse battery")
		require.NoError(t, err)
		issued = append(issued, tokens)
	}

	n, err := f.service.LogoutAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, tokens := range issued {
		_, err := f.service.Authenticate(ctx, tokens.AccessToken)
		assert.ErrorIs(t, err, ErrTokenRevoked)
	}
}

func TestWithAccessTTLIsCappedAtRevocationTTL(t *testing.T) {
	f := newFixture(t)
	f.service.WithAccessTTL(30 * 24 * time.Hour)
	assert.Equal(t, session.RevokedTTL, f.service.accessTTL)
}

func TestBootstrapFromEnv(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.service.BootstrapFromEnv(ctx, "", ""))
	assert.Error(t, f.service.BootstrapFromEnv(ctx, "ops@example.com", ""))

	require.NoError(t, f.service.BootstrapFromEnv(ctx, "Ops@Example.com", "a long admin password"))
	_, err := f.service.Login(ctx, "ops@example.com", "a long admin password")
	assert.NoError(t, err)
}
