package domain

import "time"

// TokenPurpose distinguishes single-use tokens mailed to users.
type TokenPurpose string

const (
	TokenPurposePasswordReset     TokenPurpose = "password_reset"
	TokenPurposeEmailVerification TokenPurpose = "email_verification"
)

// AuthToken is a single-use token for password reset or email verification.
type AuthToken struct {
	ID        string
	UserID    string
	Purpose   TokenPurpose
	Token     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token can still be redeemed at now.
func (t *AuthToken) Usable(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
