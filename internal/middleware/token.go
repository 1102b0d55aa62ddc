package middleware

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignToken issues an HS256 token accepted by Authenticator. Production tokens
// come from the identity provider; this is for local development and tests.
func SignToken(secret, subject, username, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
		Role:     role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
