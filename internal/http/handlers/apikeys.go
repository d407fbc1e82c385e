package handlers

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// APIKeyHandler handles API key management for session users.
type APIKeyHandler struct {
	keys *service.APIKeyService
}

// NewAPIKeyHandler creates a new API key handler.
func NewAPIKeyHandler(keys *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

// CreateKeyHTTPInput is the key creation request.
type CreateKeyHTTPInput struct {
	Body service.CreateKeyInput
}

// CreateKeyOutput is the key creation response. The raw key appears only
// here; afterwards only its hash exists.
type CreateKeyOutput struct {
	Body Envelope[*service.CreateKeyOutput]
}

// CreateKey mints a new API key for the authenticated user.
func (h *APIKeyHandler) CreateKey(ctx context.Context, input *CreateKeyHTTPInput) (*CreateKeyOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	created, err := h.keys.CreateKey(ctx, claims.UserID, input.Body)
	if err != nil {
		return nil, errFromService(err, "create api key")
	}
	return &CreateKeyOutput{Body: envelope(created)}, nil
}

// ListKeysOutput is the key list response.
type ListKeysOutput struct {
	Body Envelope[[]*models.APIKey]
}

// ListKeys returns the user's keys. Only prefixes are exposed, never the
// raw keys.
func (h *APIKeyHandler) ListKeys(ctx context.Context, input *struct{}) (*ListKeysOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	keys, err := h.keys.ListKeys(ctx, claims.UserID)
	if err != nil {
		return nil, errInternal("list api keys", err)
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	return &ListKeysOutput{Body: envelope(keys)}, nil
}

// KeyIDInput addresses a single API key.
type KeyIDInput struct {
	ID string `path:"id" doc:"API key ID"`
}

// KeyOutput wraps a single API key.
type KeyOutput struct {
	Body Envelope[*models.APIKey]
}

// GetKey returns one of the user's keys.
func (h *APIKeyHandler) GetKey(ctx context.Context, input *KeyIDInput) (*KeyOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	key, err := h.keys.GetKey(ctx, claims.UserID, input.ID)
	if err != nil {
		return nil, errInternal("load api key", err)
	}
	if key == nil {
		return nil, errNotFound("api key")
	}
	return &KeyOutput{Body: envelope(key)}, nil
}

// RevokedData reports a completed revocation.
type RevokedData struct {
	Revoked bool `json:"revoked"`
}

// RevokeKeyOutput is the key revocation response.
type RevokeKeyOutput struct {
	Body Envelope[RevokedData]
}

// RevokeKey permanently disables a key. Revocation is not reversible.
func (h *APIKeyHandler) RevokeKey(ctx context.Context, input *KeyIDInput) (*RevokeKeyOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	revoked, err := h.keys.RevokeKey(ctx, claims.UserID, input.ID)
	if err != nil {
		return nil, errInternal("revoke api key", err)
	}
	if !revoked {
		return nil, errNotFound("api key")
	}
	return &RevokeKeyOutput{Body: envelope(RevokedData{Revoked: true})}, nil
}
