package auth

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	PlanTier     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	SessionID   string `json:"session_id"`
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID    string
	SessionID string
}
