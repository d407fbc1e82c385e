package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/service"
)

func TestEnvelopeShape(t *testing.T) {
	body, err := json.Marshal(envelope(map[string]string{"id": "abc"}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !decoded.Success || decoded.Data["id"] != "abc" {
		t.Errorf("envelope: %s", body)
	}
}

func TestErrorShape(t *testing.T) {
	apiErr := apiError(http.StatusNotFound, "not_found", "crawl job not found")

	if apiErr.GetStatus() != http.StatusNotFound {
		t.Errorf("status: got %d", apiErr.GetStatus())
	}

	body, err := json.Marshal(apiErr)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["success"] != false || decoded["error"] != "not_found" {
		t.Errorf("error body: %s", body)
	}
}

func TestMapServiceErrorInsufficientCredits(t *testing.T) {
	err := fmt.Errorf("charge failed: %w", &service.InsufficientCreditsError{CurrentCredits: 3})

	apiErr := mapServiceError(err)
	if apiErr == nil {
		t.Fatal("expected a mapped error")
	}
	if apiErr.GetStatus() != http.StatusPaymentRequired {
		t.Errorf("status: got %d, want 402", apiErr.GetStatus())
	}
	if apiErr.Details["current_credits"] != int64(3) {
		t.Errorf("details: %v", apiErr.Details)
	}
}

func TestMapServiceErrorTaskLimit(t *testing.T) {
	apiErr := mapServiceError(&service.TaskLimitError{Tier: "free", Limit: 2, Count: 2})
	if apiErr == nil {
		t.Fatal("expected a mapped error")
	}
	if apiErr.GetStatus() != http.StatusForbidden {
		t.Errorf("status: got %d, want 403", apiErr.GetStatus())
	}
	if apiErr.Details["tier"] != "free" || apiErr.Details["limit"] != 2 || apiErr.Details["count"] != 2 {
		t.Errorf("details: %v", apiErr.Details)
	}
}

func TestMapServiceErrorSearchProvider(t *testing.T) {
	apiErr := mapServiceError(service.ErrSearchProviderNotConfigured)
	if apiErr == nil {
		t.Fatal("expected a mapped error")
	}
	if apiErr.GetStatus() != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", apiErr.GetStatus())
	}
}

func TestErrFromService(t *testing.T) {
	if got := errFromService(errors.New("invalid crawl URL \"x\""), "create crawl"); got.GetStatus() != http.StatusBadRequest {
		t.Errorf("validation error: got %d, want 400", got.GetStatus())
	}
	if got := errFromService(errors.New("failed to create job: disk full"), "create crawl"); got.GetStatus() != http.StatusInternalServerError {
		t.Errorf("infrastructure error: got %d, want 500", got.GetStatus())
	}
}

func TestOwnerClaimsMissing(t *testing.T) {
	if _, apiErr := ownerClaims(context.Background()); apiErr == nil || apiErr.GetStatus() != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", apiErr)
	}

	ctx := context.WithValue(context.Background(), mw.ClaimsKey, &service.Claims{APIKeyID: "key-1", Tier: "free"})
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		t.Fatalf("unexpected error: %v", apiErr)
	}
	if claims.APIKeyID != "key-1" {
		t.Errorf("claims: %+v", claims)
	}
}
