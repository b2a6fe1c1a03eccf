package csrf

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tietve/AI-saas-sub007/internal/kv/kvtest"
)

func newVerifier(t *testing.T) (*Verifier, *kvtest.Clock) {
	t.Helper()
	clock := kvtest.NewClock(time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC))
	v, err := NewVerifier("test-secret-with-enough-entropy", 0)
	require.NoError(t, err)
	return v.WithClock(clock.Now), clock
}

func TestVerify_AcceptsMatchingPair(t *testing.T) {
	v, clock := newVerifier(t)
	token, err := v.Generate()
	require.NoError(t, err)

	assert.Equal(t, clock.Now().Add(DefaultTTL), token.ExpiresAt)
	assert.True(t, v.Verify(token.Value, token.Value))
}

func TestVerify_RejectsMissingOrMismatched(t *testing.T) {
	v, _ := newVerifier(t)
	a, err := v.Generate()
	require.NoError(t, err)
	b, err := v.Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a.Value, b.Value)
	assert.False(t, v.Verify("", a.Value))
	assert.False(t, v.Verify(a.Value, ""))
	assert.False(t, v.Verify(a.Value, b.Value))
}

func mutate(s string, i int) string {
	b := []byte(s)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestVerify_RejectsEverySingleCharacterMutation(t *testing.T) {
	v, _ := newVerifier(t)
	token, err := v.Generate()
	require.NoError(t, err)

	for i := range token.Value {
		changed := mutate(token.Value, i)
		assert.False(t, v.Verify(changed, token.Value), "cookie mutated at %d", i)
		assert.False(t, v.Verify(token.Value, changed), "header mutated at %d", i)
		assert.False(t, v.Verify(changed, changed), "both mutated at %d", i)
	}
}

func TestVerify_RejectsExpired(t *testing.T) {
	v, clock := newVerifier(t)
	token, err := v.Generate()
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Second)
	assert.True(t, v.Verify(token.Value, token.Value))

	clock.Advance(time.Second)
	assert.False(t, v.Verify(token.Value, token.Value))
}

func TestVerify_RejectsOtherSecretsAndTypes(t *testing.T) {
	v, _ := newVerifier(t)

	other, err := NewVerifier("a-different-secret", time.Hour)
	require.NoError(t, err)
	foreign, err := other.Generate()
	require.NoError(t, err)
	assert.False(t, v.Verify(foreign.Value, foreign.Value))

	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"jti": "n",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"typ": "access",
	}).SignedString([]byte("test-secret-with-enough-entropy"))
	require.NoError(t, err)
	assert.False(t, v.Verify(access, access), "access tokens are not csrf tokens")

	unsigned := strings.Join(strings.Split(access, ".")[:2], ".") + "."
	assert.False(t, v.Verify(unsigned, unsigned))
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
