package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateAPIKey(t *testing.T) {
	_, repos := setupServiceDB(t)
	svc := NewAuthService(repos, nil)
	keys := NewAPIKeyService(repos, nil)

	created, err := keys.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "test", Tier: "pro", Credits: 50})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	claims, err := svc.ValidateAPIKey(context.Background(), created.Key)
	if err != nil {
		t.Fatalf("ValidateAPIKey failed: %v", err)
	}
	if claims.APIKeyID != created.ID {
		t.Errorf("APIKeyID: got %q, want %q", claims.APIKeyID, created.ID)
	}
	if claims.UserID != "user-1" || claims.Tier != "pro" {
		t.Errorf("claims: %+v", claims)
	}

	// Unknown key.
	if _, err := svc.ValidateAPIKey(context.Background(), "tw_does-not-exist"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("unknown key: got %v, want ErrInvalidToken", err)
	}
}

func TestValidateAPIKeyRevoked(t *testing.T) {
	_, repos := setupServiceDB(t)
	svc := NewAuthService(repos, nil)
	keys := NewAPIKeyService(repos, nil)

	created, err := keys.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "test"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	revoked, err := keys.RevokeKey(context.Background(), "user-1", created.ID)
	if err != nil || !revoked {
		t.Fatalf("RevokeKey: revoked=%v err=%v", revoked, err)
	}

	if _, err := svc.ValidateAPIKey(context.Background(), created.Key); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("revoked key: got %v, want ErrInvalidToken", err)
	}
}

func TestValidateAPIKeyExpired(t *testing.T) {
	_, repos := setupServiceDB(t)
	svc := NewAuthService(repos, nil)
	keys := NewAPIKeyService(repos, nil)

	past := time.Now().Add(-time.Hour)
	created, err := keys.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "test", ExpiresAt: &past})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	if _, err := svc.ValidateAPIKey(context.Background(), created.Key); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired key: got %v, want ErrTokenExpired", err)
	}
}

func TestResolveUserDefaultKey(t *testing.T) {
	db, repos := setupServiceDB(t)
	svc := NewAuthService(repos, nil)
	keys := NewAPIKeyService(repos, nil)

	first, err := keys.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "first"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	second, err := keys.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "second"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	if _, err := db.Exec(`UPDATE api_keys SET created_at = strftime('%Y-%m-%dT%H:%M:%SZ','now','+1 hour') WHERE id = ?`, second.ID); err != nil {
		t.Fatalf("failed to shift created_at: %v", err)
	}

	claims, err := svc.ResolveUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ResolveUser failed: %v", err)
	}
	if claims.APIKeyID != first.ID {
		t.Errorf("default key: got %q, want oldest key %q", claims.APIKeyID, first.ID)
	}

	if _, err := svc.ResolveUser(context.Background(), "user-without-keys"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("no keys: got %v, want ErrInvalidToken", err)
	}
}
