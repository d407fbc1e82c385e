package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// APIKeyService handles API key operations for session-authenticated users.
type APIKeyService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(repos *repository.Repositories, logger *slog.Logger) *APIKeyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyService{
		repos:  repos,
		logger: logger,
	}
}

// CreateKeyInput represents input for creating an API key.
type CreateKeyInput struct {
	Name      string     `json:"name"`
	Tier      string     `json:"tier,omitempty"`
	Credits   int64      `json:"credits,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateKeyOutput represents output from creating an API key. Key carries the
// raw secret and is only ever returned here.
type CreateKeyOutput struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	Tier      string     `json:"tier"`
	Credits   int64      `json:"credits"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateKey creates a new API key. Only the SHA-256 hash is persisted.
func (s *APIKeyService) CreateKey(ctx context.Context, userID string, input CreateKeyInput) (*CreateKeyOutput, error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := "tw_" + base64.RawURLEncoding.EncodeToString(keyBytes)
	keyPrefix := key[:11] + "..."

	hash := sha256.Sum256([]byte(key))
	keyHash := hex.EncodeToString(hash[:])

	tier := input.Tier
	if tier == "" {
		tier = constants.TierFree
	}

	now := time.Now().UTC()
	apiKey := &models.APIKey{
		ID:        ulid.Make().String(),
		UserID:    userID,
		Name:      input.Name,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Tier:      tier,
		Credits:   input.Credits,
		IsActive:  true,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: now,
	}

	if err := s.repos.APIKey.Create(ctx, apiKey); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &CreateKeyOutput{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key,
		KeyPrefix: keyPrefix,
		Tier:      tier,
		Credits:   apiKey.Credits,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: now,
	}, nil
}

// ListKeys lists a user's API keys. KeyHash is never serialized.
func (s *APIKeyService) ListKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	return s.repos.APIKey.GetByUserID(ctx, userID)
}

// GetKey returns a single key owned by the user, or nil when it does not
// exist or belongs to someone else.
func (s *APIKeyService) GetKey(ctx context.Context, userID, keyID string) (*models.APIKey, error) {
	key, err := s.repos.APIKey.GetByID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if key == nil || key.UserID != userID {
		return nil, nil
	}
	return key, nil
}

// RevokeKey revokes an API key owned by the user. Returns false when the key
// does not exist or belongs to someone else.
func (s *APIKeyService) RevokeKey(ctx context.Context, userID, keyID string) (bool, error) {
	key, err := s.GetKey(ctx, userID, keyID)
	if err != nil {
		return false, err
	}
	if key == nil {
		return false, nil
	}
	if err := s.repos.APIKey.Revoke(ctx, keyID); err != nil {
		return false, fmt.Errorf("failed to revoke key: %w", err)
	}
	return true, nil
}
