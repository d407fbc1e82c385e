// Package mw contains HTTP middleware for the trawl-api.
package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/trawlhq/trawl-api/internal/auth"
	"github.com/trawlhq/trawl-api/internal/service"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for request claims.
	ClaimsKey ContextKey = "claims"

	// apiKeyPrefix marks raw API keys; anything else in the bearer slot is
	// treated as a session JWT.
	apiKeyPrefix = "tw_"
)

// Auth returns an authentication middleware that accepts raw API keys and
// session JWTs. Session users are bound to their default API key so every
// authenticated request carries a key-scoped identity.
func Auth(verifier *auth.Verifier, authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"success":false,"error":"unauthorized","message":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := resolveToken(r.Context(), verifier, authSvc, token)
			if err != nil {
				http.Error(w, `{"success":false,"error":"unauthorized","message":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveToken(ctx context.Context, verifier *auth.Verifier, authSvc *service.AuthService, token string) (*service.Claims, error) {
	if strings.HasPrefix(token, apiKeyPrefix) {
		return authSvc.ValidateAPIKey(ctx, token)
	}
	if verifier == nil {
		return nil, auth.ErrInvalidToken
	}
	session, err := verifier.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return authSvc.ResolveUser(ctx, session.UserID)
}

// GetClaims retrieves request claims from context.
func GetClaims(ctx context.Context) *service.Claims {
	claims, ok := ctx.Value(ClaimsKey).(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}
