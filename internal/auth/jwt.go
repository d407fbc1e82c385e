// Package auth verifies session tokens. API keys are validated separately by
// the auth service against their stored hash; this package only covers the
// signed JWTs issued to dashboard sessions.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// SessionClaims are the claims carried by a session JWT.
type SessionClaims struct {
	UserID string
	Tier   string
}

type tokenClaims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 session tokens signed with the derived JWT key.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// VerifyToken parses and validates a session token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*SessionClaims, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &SessionClaims{UserID: claims.Subject, Tier: claims.Tier}, nil
}

// Sign issues a session token for a user. Used by tests and local tooling;
// production sessions are minted by the dashboard backend with the same
// derived secret.
func (v *Verifier) Sign(userID, tier string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &tokenClaims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
