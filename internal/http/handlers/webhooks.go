package handlers

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/crypto"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// WebhookHandler handles webhook subscription CRUD and delivery history.
// It works against the repositories directly; event emission lives in the
// webhook service.
type WebhookHandler struct {
	webhooks   repository.WebhookRepository
	deliveries repository.WebhookDeliveryRepository
	encryptor  *crypto.Encryptor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhooks repository.WebhookRepository, deliveries repository.WebhookDeliveryRepository, encryptor *crypto.Encryptor) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, deliveries: deliveries, encryptor: encryptor}
}

// WebhookBody is the webhook payload in create and update requests.
type WebhookBody struct {
	Name     string          `json:"name" minLength:"1" maxLength:"64" doc:"Name, unique per key"`
	URL      string          `json:"url" format:"uri" minLength:"1" doc:"Endpoint events are delivered to"`
	Secret   string          `json:"secret,omitempty" maxLength:"256" doc:"HMAC-SHA256 signing secret (empty keeps the service-wide key)"`
	Events   []string        `json:"events,omitempty" doc:"Subscribed event types ([\"*\"] or empty for all)"`
	Headers  []models.Header `json:"headers,omitempty" maxItems:"10" doc:"Extra headers sent with each delivery"`
	IsActive bool            `json:"is_active" doc:"Whether deliveries are sent"`
}

// WebhookResponse is a webhook in API responses. The secret never leaves
// the server; has_secret reports its presence.
type WebhookResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	URL       string          `json:"url"`
	HasSecret bool            `json:"has_secret"`
	Events    []string        `json:"events"`
	Headers   []models.Header `json:"headers,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ListWebhooksOutput is the webhook list response.
type ListWebhooksOutput struct {
	Body Envelope[[]WebhookResponse]
}

// ListWebhooks returns the caller's webhooks.
func (h *WebhookHandler) ListWebhooks(ctx context.Context, input *struct{}) (*ListWebhooksOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	webhooks, err := h.webhooks.GetByAPIKeyID(ctx, claims.APIKeyID)
	if err != nil {
		return nil, errInternal("list webhooks", err)
	}

	responses := make([]WebhookResponse, 0, len(webhooks))
	for _, w := range webhooks {
		responses = append(responses, webhookResponse(w))
	}
	return &ListWebhooksOutput{Body: envelope(responses)}, nil
}

// WebhookIDInput addresses a single webhook.
type WebhookIDInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// WebhookOutput wraps a single webhook.
type WebhookOutput struct {
	Body Envelope[WebhookResponse]
}

// GetWebhook returns one webhook.
func (h *WebhookHandler) GetWebhook(ctx context.Context, input *WebhookIDInput) (*WebhookOutput, error) {
	webhook, apiErr := h.owned(ctx, input.ID)
	if apiErr != nil {
		return nil, apiErr
	}
	return &WebhookOutput{Body: envelope(webhookResponse(webhook))}, nil
}

// CreateWebhookInput is the webhook creation request.
type CreateWebhookInput struct {
	Body WebhookBody
}

// CreateWebhook registers a new webhook. The secret is encrypted at rest.
func (h *WebhookHandler) CreateWebhook(ctx context.Context, input *CreateWebhookInput) (*WebhookOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	if apiErr := h.checkName(ctx, claims.APIKeyID, input.Body.Name, ""); apiErr != nil {
		return nil, apiErr
	}

	secretEncrypted, apiErr := h.encryptSecret(input.Body.Secret)
	if apiErr != nil {
		return nil, apiErr
	}

	now := time.Now().UTC()
	webhook := &models.Webhook{
		ID:              ulid.Make().String(),
		APIKeyID:        claims.APIKeyID,
		UserID:          claims.UserID,
		Name:            input.Body.Name,
		URL:             input.Body.URL,
		SecretEncrypted: secretEncrypted,
		Events:          defaultEvents(input.Body.Events),
		Headers:         input.Body.Headers,
		IsActive:        input.Body.IsActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.webhooks.Create(ctx, webhook); err != nil {
		return nil, errInternal("create webhook", err)
	}
	return &WebhookOutput{Body: envelope(webhookResponse(webhook))}, nil
}

// UpdateWebhookInput is the webhook update request.
type UpdateWebhookInput struct {
	ID   string `path:"id" doc:"Webhook ID"`
	Body WebhookBody
}

// UpdateWebhook replaces the webhook's configuration. An empty secret
// keeps the stored one.
func (h *WebhookHandler) UpdateWebhook(ctx context.Context, input *UpdateWebhookInput) (*WebhookOutput, error) {
	webhook, apiErr := h.owned(ctx, input.ID)
	if apiErr != nil {
		return nil, apiErr
	}

	if input.Body.Name != webhook.Name {
		if apiErr := h.checkName(ctx, webhook.APIKeyID, input.Body.Name, webhook.ID); apiErr != nil {
			return nil, apiErr
		}
	}

	if input.Body.Secret != "" {
		secretEncrypted, apiErr := h.encryptSecret(input.Body.Secret)
		if apiErr != nil {
			return nil, apiErr
		}
		webhook.SecretEncrypted = secretEncrypted
	}

	webhook.Name = input.Body.Name
	webhook.URL = input.Body.URL
	webhook.Events = defaultEvents(input.Body.Events)
	webhook.Headers = input.Body.Headers
	webhook.IsActive = input.Body.IsActive
	webhook.UpdatedAt = time.Now().UTC()

	if err := h.webhooks.Update(ctx, webhook); err != nil {
		return nil, errInternal("update webhook", err)
	}
	return &WebhookOutput{Body: envelope(webhookResponse(webhook))}, nil
}

// DeleteWebhook removes a webhook. Past deliveries are kept for audit.
func (h *WebhookHandler) DeleteWebhook(ctx context.Context, input *WebhookIDInput) (*DeletedOutput, error) {
	webhook, apiErr := h.owned(ctx, input.ID)
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.webhooks.Delete(ctx, webhook.ID); err != nil {
		return nil, errInternal("delete webhook", err)
	}
	return &DeletedOutput{Body: envelope(DeletedData{Deleted: true})}, nil
}

// ListDeliveriesInput is the delivery history request.
type ListDeliveriesInput struct {
	ID     string `path:"id" doc:"Webhook ID"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"100" doc:"Maximum deliveries to return"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Deliveries to skip"`
}

// ListDeliveriesOutput is the delivery history response.
type ListDeliveriesOutput struct {
	Body Envelope[[]*models.WebhookDelivery]
}

// ListDeliveries returns the webhook's delivery attempts, newest first.
func (h *WebhookHandler) ListDeliveries(ctx context.Context, input *ListDeliveriesInput) (*ListDeliveriesOutput, error) {
	webhook, apiErr := h.owned(ctx, input.ID)
	if apiErr != nil {
		return nil, apiErr
	}

	deliveries, err := h.deliveries.GetByWebhookID(ctx, webhook.ID, input.Limit, input.Offset)
	if err != nil {
		return nil, errInternal("list deliveries", err)
	}
	if deliveries == nil {
		deliveries = []*models.WebhookDelivery{}
	}
	return &ListDeliveriesOutput{Body: envelope(deliveries)}, nil
}

// owned loads the webhook scoped to the caller's key. Missing webhooks and
// webhooks owned by another key both read as not found.
func (h *WebhookHandler) owned(ctx context.Context, id string) (*models.Webhook, *Error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	webhook, err := h.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, errInternal("load webhook", err)
	}
	if webhook == nil || webhook.APIKeyID != claims.APIKeyID {
		return nil, errNotFound("webhook")
	}
	return webhook, nil
}

func (h *WebhookHandler) checkName(ctx context.Context, apiKeyID, name, excludeID string) *Error {
	existing, err := h.webhooks.GetByAPIKeyID(ctx, apiKeyID)
	if err != nil {
		return errInternal("check webhook name", err)
	}
	for _, w := range existing {
		if w.Name == name && w.ID != excludeID {
			return errConflict("a webhook with this name already exists")
		}
	}
	return nil
}

func (h *WebhookHandler) encryptSecret(secret string) (string, *Error) {
	if secret == "" || h.encryptor == nil {
		return "", nil
	}
	encrypted, err := h.encryptor.Encrypt(secret)
	if err != nil {
		return "", errInternal("encrypt webhook secret", err)
	}
	return encrypted, nil
}

func defaultEvents(events []string) []string {
	if len(events) == 0 {
		return []string{string(models.WebhookEventAll)}
	}
	return events
}

func webhookResponse(w *models.Webhook) WebhookResponse {
	return WebhookResponse{
		ID:        w.ID,
		Name:      w.Name,
		URL:       w.URL,
		HasSecret: w.SecretEncrypted != "",
		Events:    w.Events,
		Headers:   w.Headers,
		IsActive:  w.IsActive,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}
