// Package csrf implements double-submit CSRF protection with signed tokens.
//
// A token is an HS256 JWT over a random nonce, its issuance time and a type
// tag. The same value is set as an httpOnly cookie and must be echoed by the
// client in the X-CSRF-Token header. Verification fails closed: anything
// missing, unequal, unsigned or expired is a rejection.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "csrf_token"
	HeaderName = "X-CSRF-Token"
	DefaultTTL = 24 * time.Hour

	tokenType = "csrf"
	nonceSize = 32
)

var ErrMissingSecret = errors.New("csrf secret is required")

type Token struct {
	Value     string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Verifier struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewVerifier(secret string, ttl time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Verifier{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

func (v *Verifier) Generate() (Token, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Token{}, fmt.Errorf("generate csrf nonce: %w", err)
	}

	now := v.now().UTC()
	expiresAt := now.Add(v.ttl)
	claims := jwt.MapClaims{
		"jti": hex.EncodeToString(nonce),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
		"typ": tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign csrf token: %w", err)
	}

	return Token{Value: signed, ExpiresAt: time.Unix(expiresAt.Unix(), 0).UTC()}, nil
}

// Verify checks the double-submit pair: both present, byte-equal, and a valid
// unexpired token of the csrf type.
func (v *Verifier) Verify(cookieValue, headerValue string) bool {
	if cookieValue == "" || headerValue == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(headerValue)) != 1 {
		return false
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(headerValue, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !token.Valid {
		return false
	}

	typ, _ := claims["typ"].(string)
	nonce, _ := claims["jti"].(string)
	return typ == tokenType && nonce != ""
}

func (v *Verifier) VerifyRequest(r *http.Request) bool {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return v.Verify(cookie.Value, r.Header.Get(HeaderName))
}
