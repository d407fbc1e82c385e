package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims identify the caller of a protected request. APIKeyID is always set;
// it is the ownership and billing identity for everything the request does.
type Claims struct {
	APIKeyID string
	UserID   string
	Tier     string
}

// AuthService validates API keys against their stored hash and binds session
// users to their default key. Session token signatures are verified upstream
// by the middleware; only key resolution happens here.
type AuthService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewAuthService creates the auth service.
func NewAuthService(repos *repository.Repositories, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{repos: repos, logger: logger}
}

// ValidateAPIKey resolves a raw bearer key to claims. The key is never stored;
// lookup is by SHA-256 hash.
func (s *AuthService) ValidateAPIKey(ctx context.Context, apiKey string) (*Claims, error) {
	hash := sha256.Sum256([]byte(apiKey))
	key, err := s.repos.APIKey.GetByKeyHash(ctx, hex.EncodeToString(hash[:]))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if key == nil || !key.IsActive || key.RevokedAt != nil {
		return nil, ErrInvalidToken
	}
	if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	// Fire and forget; last_used_at is advisory.
	go func() {
		_ = s.repos.APIKey.UpdateLastUsed(context.Background(), key.ID, time.Now().UTC())
	}()

	return claimsFor(key), nil
}

// ResolveUser binds a session-authenticated user to their default API key so
// session requests share the key-scoped ownership and billing path.
func (s *AuthService) ResolveUser(ctx context.Context, userID string) (*Claims, error) {
	key, err := s.repos.APIKey.GetDefaultForUser(ctx, userID)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if key == nil {
		return nil, ErrInvalidToken
	}
	return claimsFor(key), nil
}

func claimsFor(key *models.APIKey) *Claims {
	return &Claims{APIKeyID: key.ID, UserID: key.UserID, Tier: key.Tier}
}
