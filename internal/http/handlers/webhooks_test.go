package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/trawlhq/trawl-api/internal/crypto"
	"github.com/trawlhq/trawl-api/internal/database/migrations"
	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/repository"
	"github.com/trawlhq/trawl-api/internal/service"
)

func setupWebhookHandler(t *testing.T) *WebhookHandler {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	encryptor, err := crypto.NewEncryptor(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	repos := repository.NewRepositories(db)
	return NewWebhookHandler(repos.Webhook, repos.WebhookDelivery, encryptor)
}

func claimsContext(apiKeyID string) context.Context {
	return context.WithValue(context.Background(), mw.ClaimsKey, &service.Claims{
		APIKeyID: apiKeyID,
		UserID:   "user-" + apiKeyID,
		Tier:     "free",
	})
}

func TestCreateWebhookEncryptsSecret(t *testing.T) {
	h := setupWebhookHandler(t)
	ctx := claimsContext("key-1")

	out, err := h.CreateWebhook(ctx, &CreateWebhookInput{Body: WebhookBody{
		Name:     "deploys",
		URL:      "https://example.com/hook",
		Secret:   "hunter2",
		IsActive: true,
	}})
	if err != nil {
		t.Fatalf("CreateWebhook failed: %v", err)
	}

	data := out.Body.Data
	if !data.HasSecret {
		t.Error("expected has_secret=true")
	}
	if len(data.Events) != 1 || data.Events[0] != "*" {
		t.Errorf("events should default to [*]: %v", data.Events)
	}

	// The stored secret must be the ciphertext, not the plaintext.
	stored, err := h.webhooks.GetByID(ctx, data.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.SecretEncrypted == "" || stored.SecretEncrypted == "hunter2" {
		t.Errorf("secret stored in the clear: %q", stored.SecretEncrypted)
	}
}

func TestCreateWebhookDuplicateName(t *testing.T) {
	h := setupWebhookHandler(t)
	ctx := claimsContext("key-1")

	body := WebhookBody{Name: "deploys", URL: "https://example.com/hook", IsActive: true}
	if _, err := h.CreateWebhook(ctx, &CreateWebhookInput{Body: body}); err != nil {
		t.Fatalf("first CreateWebhook failed: %v", err)
	}

	_, err := h.CreateWebhook(ctx, &CreateWebhookInput{Body: body})
	apiErr, ok := err.(*Error)
	if !ok || apiErr.GetStatus() != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}

	// The same name under another key is fine.
	if _, err := h.CreateWebhook(claimsContext("key-2"), &CreateWebhookInput{Body: body}); err != nil {
		t.Fatalf("CreateWebhook under second key failed: %v", err)
	}
}

func TestGetWebhookOwnership(t *testing.T) {
	h := setupWebhookHandler(t)

	out, err := h.CreateWebhook(claimsContext("key-1"), &CreateWebhookInput{Body: WebhookBody{
		Name: "mine", URL: "https://example.com/hook", IsActive: true,
	}})
	if err != nil {
		t.Fatalf("CreateWebhook failed: %v", err)
	}

	// Another key's webhook reads as not found, not forbidden.
	_, err = h.GetWebhook(claimsContext("key-2"), &WebhookIDInput{ID: out.Body.Data.ID})
	apiErr, ok := err.(*Error)
	if !ok || apiErr.GetStatus() != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestUpdateWebhookKeepsSecret(t *testing.T) {
	h := setupWebhookHandler(t)
	ctx := claimsContext("key-1")

	out, err := h.CreateWebhook(ctx, &CreateWebhookInput{Body: WebhookBody{
		Name: "deploys", URL: "https://example.com/hook", Secret: "hunter2", IsActive: true,
	}})
	if err != nil {
		t.Fatalf("CreateWebhook failed: %v", err)
	}

	updated, err := h.UpdateWebhook(ctx, &UpdateWebhookInput{
		ID: out.Body.Data.ID,
		Body: WebhookBody{
			Name:     "deploys",
			URL:      "https://example.com/hook2",
			Events:   []string{"crawl.completed"},
			IsActive: false,
		},
	})
	if err != nil {
		t.Fatalf("UpdateWebhook failed: %v", err)
	}

	data := updated.Body.Data
	if !data.HasSecret {
		t.Error("empty secret on update must keep the stored one")
	}
	if data.URL != "https://example.com/hook2" || data.IsActive {
		t.Errorf("update not applied: %+v", data)
	}
	if len(data.Events) != 1 || data.Events[0] != "crawl.completed" {
		t.Errorf("events: %v", data.Events)
	}
}

func TestDeleteWebhook(t *testing.T) {
	h := setupWebhookHandler(t)
	ctx := claimsContext("key-1")

	out, err := h.CreateWebhook(ctx, &CreateWebhookInput{Body: WebhookBody{
		Name: "deploys", URL: "https://example.com/hook", IsActive: true,
	}})
	if err != nil {
		t.Fatalf("CreateWebhook failed: %v", err)
	}

	if _, err := h.DeleteWebhook(ctx, &WebhookIDInput{ID: out.Body.Data.ID}); err != nil {
		t.Fatalf("DeleteWebhook failed: %v", err)
	}

	_, err = h.GetWebhook(ctx, &WebhookIDInput{ID: out.Body.Data.ID})
	apiErr, ok := err.(*Error)
	if !ok || apiErr.GetStatus() != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %v", err)
	}
}

func TestListDeliveriesEmpty(t *testing.T) {
	h := setupWebhookHandler(t)
	ctx := claimsContext("key-1")

	out, err := h.CreateWebhook(ctx, &CreateWebhookInput{Body: WebhookBody{
		Name: "deploys", URL: "https://example.com/hook", IsActive: true,
	}})
	if err != nil {
		t.Fatalf("CreateWebhook failed: %v", err)
	}

	deliveries, err := h.ListDeliveries(ctx, &ListDeliveriesInput{ID: out.Body.Data.ID, Limit: 50})
	if err != nil {
		t.Fatalf("ListDeliveries failed: %v", err)
	}
	if deliveries.Body.Data == nil || len(deliveries.Body.Data) != 0 {
		t.Errorf("expected empty slice, got %v", deliveries.Body.Data)
	}
}
