package service

import (
	"context"
	"strings"
	"testing"
)

func TestCreateKeyShape(t *testing.T) {
	_, repos := setupServiceDB(t)
	svc := NewAPIKeyService(repos, nil)

	out, err := svc.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "primary"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	if !strings.HasPrefix(out.Key, "tw_") {
		t.Errorf("key prefix: got %q", out.Key)
	}
	if !strings.HasPrefix(out.Key, strings.TrimSuffix(out.KeyPrefix, "...")) {
		t.Errorf("key prefix %q does not match key %q", out.KeyPrefix, out.Key)
	}
	if out.Tier != "free" {
		t.Errorf("tier default: got %q, want free", out.Tier)
	}

	stored, err := repos.APIKey.GetByID(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored == nil || !stored.IsActive {
		t.Fatalf("stored key: %+v", stored)
	}
	if stored.KeyHash == out.Key || stored.KeyHash == "" {
		t.Errorf("raw key must not be persisted, key_hash=%q", stored.KeyHash)
	}
}

func TestListKeysScopedToUser(t *testing.T) {
	_, repos := setupServiceDB(t)
	svc := NewAPIKeyService(repos, nil)

	if _, err := svc.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "a"}); err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}
	if _, err := svc.CreateKey(context.Background(), "user-2", CreateKeyInput{Name: "b"}); err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	list, err := svc.ListKeys(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(list) != 1 || list[0].Name != "a" {
		t.Errorf("list: %+v", list)
	}
}

func TestRevokeKeyOwnership(t *testing.T) {
	_, repos := setupServiceDB(t)
	svc := NewAPIKeyService(repos, nil)

	out, err := svc.CreateKey(context.Background(), "user-1", CreateKeyInput{Name: "a"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	// Another user cannot revoke it.
	revoked, err := svc.RevokeKey(context.Background(), "user-2", out.ID)
	if err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}
	if revoked {
		t.Error("cross-user revoke must report not found")
	}

	revoked, err = svc.RevokeKey(context.Background(), "user-1", out.ID)
	if err != nil || !revoked {
		t.Fatalf("RevokeKey: revoked=%v err=%v", revoked, err)
	}

	stored, err := repos.APIKey.GetByID(context.Background(), out.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.RevokedAt == nil {
		t.Error("revoked_at not set")
	}
}
