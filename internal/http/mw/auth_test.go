package mw

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/trawlhq/trawl-api/internal/auth"
	"github.com/trawlhq/trawl-api/internal/database/migrations"
	"github.com/trawlhq/trawl-api/internal/repository"
	"github.com/trawlhq/trawl-api/internal/service"
)

func setupAuth(t *testing.T) (*auth.Verifier, *service.AuthService, *service.APIKeyService) {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repos := repository.NewRepositories(db)
	return auth.NewVerifier("test-secret"), service.NewAuthService(repos, nil), service.NewAPIKeyService(repos, nil)
}

func claimsEcho(t *testing.T) (http.Handler, *service.Claims) {
	t.Helper()
	captured := &service.Claims{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaims(r.Context()); c != nil {
			*captured = *c
		}
	}), captured
}

func TestAuthWithAPIKey(t *testing.T) {
	verifier, authSvc, keys := setupAuth(t)

	created, err := keys.CreateKey(context.Background(), "user-1", service.CreateKeyInput{Name: "test", Tier: "pro"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	next, captured := claimsEcho(t)
	handler := Auth(verifier, authSvc)(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/crawl/abc/status", nil)
	req.Header.Set("Authorization", "Bearer "+created.Key)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if captured.APIKeyID != created.ID || captured.Tier != "pro" {
		t.Errorf("claims: %+v", captured)
	}
}

func TestAuthWithSessionToken(t *testing.T) {
	verifier, authSvc, keys := setupAuth(t)

	created, err := keys.CreateKey(context.Background(), "user-1", service.CreateKeyInput{Name: "default"})
	if err != nil {
		t.Fatalf("CreateKey failed: %v", err)
	}

	token, err := verifier.Sign("user-1", "free", time.Hour)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	next, captured := claimsEcho(t)
	handler := Auth(verifier, authSvc)(next)

	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if captured.APIKeyID != created.ID {
		t.Errorf("session must bind to default key: got %q, want %q", captured.APIKeyID, created.ID)
	}
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	verifier, authSvc, _ := setupAuth(t)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not be called")
	})
	handler := Auth(verifier, authSvc)(next)

	// Missing header.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: got %d, want 401", rec.Code)
	}

	// Unknown API key.
	req := httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer tw_unknown")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown key: got %d, want 401", rec.Code)
	}

	// Garbage session token.
	req = httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad session token: got %d, want 401", rec.Code)
	}
}
