package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can read from a bearer token without the
// server's signing secret.
type Claims struct {
	Username  string
	ExpiresAt time.Time
}

// ParseClaims decodes a JWT payload without verifying its signature. It
// reports false for tokens that are not JWTs; those are treated as opaque.
func ParseClaims(token string) (Claims, bool) {
	var mc jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &mc); err != nil {
		return Claims{}, false
	}
	var c Claims
	if name, ok := mc["username"].(string); ok {
		c.Username = name
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, true
}

// Expired reports whether the claims carry an expiry at or before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
