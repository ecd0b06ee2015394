package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token is one short-lived session credential. Tokens are replaced wholesale
// on every refresh and never mutated in place; holders only ever borrow a
// read-only reference for the duration of one request.
//
// The payload is decoded WITHOUT signature verification: expiry and subject
// are only used to schedule refreshes client-side. Trust decisions belong to
// the server.
type Token struct {
	Raw       string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Decode extracts the unverified registered claims from a raw JWT.
func Decode(raw string) (*Token, error) {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %w", err)
	}

	tok := &Token{
		Raw:     raw,
		Subject: claims.Subject,
	}
	if claims.IssuedAt != nil {
		tok.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok, nil
}

// Remaining returns the lifetime left at now. Zero for tokens without an
// expiry claim.
func (t *Token) Remaining(now time.Time) time.Duration {
	if t == nil || t.ExpiresAt.IsZero() {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// ValidFor reports whether the token has more than margin of lifetime left.
// Tokens without an expiry claim never expire client-side.
func (t *Token) ValidFor(now time.Time, margin time.Duration) bool {
	if t == nil {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return t.Remaining(now) > margin
}
