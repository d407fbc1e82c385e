package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/crypto"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

const (
	webhookUserAgent   = "Trawl-Webhook/1.0"
	webhookMaxAttempts = 3
)

// WebhookService delivers lifecycle events to subscriber endpoints.
// Deliveries are fire-and-forget with retries; a failed delivery never fails
// the operation that emitted the event. Every attempt is recorded as a
// webhook_deliveries row.
type WebhookService struct {
	repos      *repository.Repositories
	encryptor  *crypto.Encryptor
	signingKey []byte
	enabled    bool
	logger     *slog.Logger
	client     *http.Client
}

// NewWebhookService creates a new webhook service. signingKey signs payloads
// for subscriptions without their own secret; encryptor unwraps per-webhook
// secrets at rest.
func NewWebhookService(repos *repository.Repositories, encryptor *crypto.Encryptor, signingKey []byte, enabled bool, logger *slog.Logger) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		repos:      repos,
		encryptor:  encryptor,
		signingKey: signingKey,
		enabled:    enabled,
		logger:     logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Emit fans an event out to every active subscription of the owning API key
// that matches it. Delivery happens in the background.
func (s *WebhookService) Emit(ctx context.Context, apiKeyID string, event models.WebhookEventType, resourceID string, payload map[string]any) {
	if !s.enabled || apiKeyID == "" {
		return
	}

	webhooks, err := s.repos.Webhook.GetActiveByAPIKeyID(ctx, apiKeyID)
	if err != nil {
		s.logger.Warn("webhook: failed to load subscriptions",
			"api_key_id", apiKeyID, "event", event, "error", err)
		return
	}

	for _, webhook := range webhooks {
		if !webhook.Matches(event) {
			continue
		}
		go s.deliver(webhook, event, resourceID, payload)
	}
}

// EmitToURL delivers an event to a caller-supplied URL (a job's webhook_url)
// outside any subscription. Signed with the service key.
func (s *WebhookService) EmitToURL(ctx context.Context, url string, event models.WebhookEventType, resourceID string, payload map[string]any) {
	if !s.enabled || url == "" {
		return
	}
	go s.deliver(&models.Webhook{URL: url}, event, resourceID, payload)
}

// webhookEnvelope is the wire shape of a delivery body.
type webhookEnvelope struct {
	Event      models.WebhookEventType `json:"event"`
	ResourceID string                  `json:"resource_id"`
	Timestamp  time.Time               `json:"timestamp"`
	Data       map[string]any          `json:"data,omitempty"`
}

func (s *WebhookService) deliver(webhook *models.Webhook, event models.WebhookEventType, resourceID string, payload map[string]any) {
	ctx := context.Background()

	body, err := json.Marshal(webhookEnvelope{
		Event:      event,
		ResourceID: resourceID,
		Timestamp:  time.Now().UTC(),
		Data:       payload,
	})
	if err != nil {
		s.logger.Error("webhook: failed to marshal payload", "event", event, "error", err)
		return
	}

	now := time.Now().UTC()
	delivery := &models.WebhookDelivery{
		ID:          ulid.Make().String(),
		Event:       event,
		ResourceID:  resourceID,
		URL:         webhook.URL,
		PayloadJSON: string(body),
		Status:      models.WebhookDeliveryStatusPending,
		MaxAttempts: webhookMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if webhook.ID != "" {
		id := webhook.ID
		delivery.WebhookID = &id
	}
	if err := s.repos.WebhookDelivery.Create(ctx, delivery); err != nil {
		s.logger.Warn("webhook: failed to record delivery", "event", event, "error", err)
	}

	signature := s.sign(webhook, body)

	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		if attempt > 1 {
			// Quadratic backoff: 1s, 4s.
			time.Sleep(time.Duration((attempt-1)*(attempt-1)) * time.Second)
		}
		delivery.Attempts = attempt

		status, elapsed, err := s.attempt(ctx, webhook, event, body, signature)
		if status > 0 {
			delivery.ResponseStatus = &status
			ms := int(elapsed.Milliseconds())
			delivery.ResponseTimeMs = &ms
		}

		if err == nil && status >= 200 && status < 300 {
			deliveredAt := time.Now().UTC()
			delivery.Status = models.WebhookDeliveryStatusSuccess
			delivery.DeliveredAt = &deliveredAt
			delivery.ErrorMessage = ""
			if err := s.repos.WebhookDelivery.Update(ctx, delivery); err != nil {
				s.logger.Warn("webhook: failed to update delivery", "id", delivery.ID, "error", err)
			}
			s.logger.Info("webhook: delivered",
				"event", event, "url", webhook.URL, "status", status, "attempt", attempt)
			return
		}

		if err != nil {
			delivery.ErrorMessage = err.Error()
		} else {
			delivery.ErrorMessage = http.StatusText(status)
		}
		delivery.Status = models.WebhookDeliveryStatusRetrying
		if attempt < webhookMaxAttempts {
			retryAt := time.Now().UTC().Add(time.Duration(attempt*attempt) * time.Second)
			delivery.NextRetryAt = &retryAt
			if err := s.repos.WebhookDelivery.Update(ctx, delivery); err != nil {
				s.logger.Warn("webhook: failed to update delivery", "id", delivery.ID, "error", err)
			}
		}
		s.logger.Warn("webhook: attempt failed",
			"event", event, "url", webhook.URL, "status", status, "attempt", attempt, "error", err)
	}

	delivery.Status = models.WebhookDeliveryStatusFailed
	delivery.NextRetryAt = nil
	if err := s.repos.WebhookDelivery.Update(ctx, delivery); err != nil {
		s.logger.Warn("webhook: failed to update delivery", "id", delivery.ID, "error", err)
	}
	s.logger.Error("webhook: delivery failed after retries", "event", event, "url", webhook.URL)
}

func (s *WebhookService) attempt(ctx context.Context, webhook *models.Webhook, event models.WebhookEventType, body []byte, signature string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("X-Trawl-Event", string(event))
	req.Header.Set("X-Trawl-Signature", signature)
	for _, h := range webhook.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, elapsed, err
	}
	resp.Body.Close()
	return resp.StatusCode, elapsed, nil
}

// sign computes the hex HMAC-SHA256 of the body. Subscriptions with their
// own secret sign with it; everything else uses the service signing key.
func (s *WebhookService) sign(webhook *models.Webhook, body []byte) string {
	key := s.signingKey
	if webhook.SecretEncrypted != "" && s.encryptor != nil {
		secret, err := s.encryptor.Decrypt(webhook.SecretEncrypted)
		if err != nil {
			s.logger.Warn("webhook: failed to decrypt secret, using service key",
				"webhook_id", webhook.ID, "error", err)
		} else {
			key = []byte(secret)
		}
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
