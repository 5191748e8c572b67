package gateway

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// TokenClaims reads sub and exp from a JWT without verifying its signature.
// Only the auth service can vouch for a token; this is for local expiry checks.
func TokenClaims(token string) (Claims, error) {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return Claims{}, fmt.Errorf("parse token claims: %w", err)
	}
	out := Claims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time.UTC()
	}
	return out, nil
}
