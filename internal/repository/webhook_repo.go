package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLiteWebhookRepository implements WebhookRepository for SQLite.
type SQLiteWebhookRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookRepository creates a new SQLite webhook repository.
func NewSQLiteWebhookRepository(db *sql.DB) *SQLiteWebhookRepository {
	return &SQLiteWebhookRepository{db: db}
}

const webhookColumns = `id, api_key_id, user_id, name, url, secret_encrypted, events_json, headers_json, is_active, created_at, updated_at`

func (r *SQLiteWebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	query := `INSERT INTO webhooks (` + webhookColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	eventsJSON, _ := json.Marshal(webhook.Events)
	headersJSON := ""
	if len(webhook.Headers) > 0 {
		b, _ := json.Marshal(webhook.Headers)
		headersJSON = string(b)
	}
	_, err := r.db.ExecContext(ctx, query,
		webhook.ID, webhook.APIKeyID, nullString(webhook.UserID), webhook.Name, webhook.URL,
		nullString(webhook.SecretEncrypted), string(eventsJSON), nullString(headersJSON),
		boolInt(webhook.IsActive),
		webhook.CreatedAt.Format(time.RFC3339), webhook.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE id = ?`
	return scanWebhook(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteWebhookRepository) GetByAPIKeyID(ctx context.Context, apiKeyID string) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE api_key_id = ? ORDER BY created_at DESC`
	return r.queryWebhooks(ctx, query, apiKeyID)
}

func (r *SQLiteWebhookRepository) GetActiveByAPIKeyID(ctx context.Context, apiKeyID string) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE api_key_id = ? AND is_active = 1 ORDER BY created_at DESC`
	return r.queryWebhooks(ctx, query, apiKeyID)
}

func (r *SQLiteWebhookRepository) Update(ctx context.Context, webhook *models.Webhook) error {
	query := `
		UPDATE webhooks SET name = ?, url = ?, secret_encrypted = ?, events_json = ?,
			headers_json = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`
	eventsJSON, _ := json.Marshal(webhook.Events)
	headersJSON := ""
	if len(webhook.Headers) > 0 {
		b, _ := json.Marshal(webhook.Headers)
		headersJSON = string(b)
	}
	_, err := r.db.ExecContext(ctx, query,
		webhook.Name, webhook.URL, nullString(webhook.SecretEncrypted),
		string(eventsJSON), nullString(headersJSON), boolInt(webhook.IsActive),
		time.Now().Format(time.RFC3339), webhook.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookRepository) queryWebhooks(ctx context.Context, query string, args ...interface{}) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func scanWebhook(s rowScanner) (*models.Webhook, error) {
	var webhook models.Webhook
	var userID, secret, headersJSON sql.NullString
	var eventsJSON string
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&webhook.ID, &webhook.APIKeyID, &userID, &webhook.Name, &webhook.URL,
		&secret, &eventsJSON, &headersJSON, &isActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}

	webhook.UserID = userID.String
	webhook.SecretEncrypted = secret.String
	json.Unmarshal([]byte(eventsJSON), &webhook.Events)
	if headersJSON.Valid {
		json.Unmarshal([]byte(headersJSON.String), &webhook.Headers)
	}
	webhook.IsActive = isActive == 1
	webhook.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	webhook.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &webhook, nil
}

// SQLiteWebhookDeliveryRepository implements WebhookDeliveryRepository for SQLite.
type SQLiteWebhookDeliveryRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookDeliveryRepository creates a new SQLite webhook delivery repository.
func NewSQLiteWebhookDeliveryRepository(db *sql.DB) *SQLiteWebhookDeliveryRepository {
	return &SQLiteWebhookDeliveryRepository{db: db}
}

const deliveryColumns = `id, webhook_id, event, resource_id, url, payload_json, status, attempts,
	max_attempts, response_status, response_time_ms, error_message, next_retry_at,
	delivered_at, created_at, updated_at`

func (r *SQLiteWebhookDeliveryRepository) Create(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries (` + deliveryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var webhookID sql.NullString
	if delivery.WebhookID != nil {
		webhookID = sql.NullString{String: *delivery.WebhookID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		delivery.ID, webhookID, delivery.Event, delivery.ResourceID, delivery.URL,
		delivery.PayloadJSON, delivery.Status, delivery.Attempts, delivery.MaxAttempts,
		nullIntPtr(delivery.ResponseStatus), nullIntPtr(delivery.ResponseTimeMs),
		nullString(delivery.ErrorMessage), nullTime(delivery.NextRetryAt),
		nullTime(delivery.DeliveredAt),
		delivery.CreatedAt.Format(time.RFC3339), delivery.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook delivery: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookDeliveryRepository) Update(ctx context.Context, delivery *models.WebhookDelivery) error {
	query := `
		UPDATE webhook_deliveries SET status = ?, attempts = ?, response_status = ?,
			response_time_ms = ?, error_message = ?, next_retry_at = ?, delivered_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		delivery.Status, delivery.Attempts,
		nullIntPtr(delivery.ResponseStatus), nullIntPtr(delivery.ResponseTimeMs),
		nullString(delivery.ErrorMessage), nullTime(delivery.NextRetryAt),
		nullTime(delivery.DeliveredAt), time.Now().Format(time.RFC3339), delivery.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}
	return nil
}

func (r *SQLiteWebhookDeliveryRepository) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = ?`
	return scanDelivery(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteWebhookDeliveryRepository) GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE webhook_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	return r.queryDeliveries(ctx, query, webhookID, limit, offset)
}

func (r *SQLiteWebhookDeliveryRepository) GetByResourceID(ctx context.Context, resourceID string) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE resource_id = ? ORDER BY created_at DESC`
	return r.queryDeliveries(ctx, query, resourceID)
}

func (r *SQLiteWebhookDeliveryRepository) queryDeliveries(ctx context.Context, query string, args ...interface{}) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, delivery)
	}
	return deliveries, rows.Err()
}

func scanDelivery(s rowScanner) (*models.WebhookDelivery, error) {
	var delivery models.WebhookDelivery
	var webhookID, errMsg, nextRetryAt, deliveredAt sql.NullString
	var responseStatus, responseTimeMs sql.NullInt64
	var createdAt, updatedAt string

	err := s.Scan(&delivery.ID, &webhookID, &delivery.Event, &delivery.ResourceID,
		&delivery.URL, &delivery.PayloadJSON, &delivery.Status, &delivery.Attempts,
		&delivery.MaxAttempts, &responseStatus, &responseTimeMs, &errMsg,
		&nextRetryAt, &deliveredAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
	}

	if webhookID.Valid {
		delivery.WebhookID = &webhookID.String
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		delivery.ResponseStatus = &v
	}
	if responseTimeMs.Valid {
		v := int(responseTimeMs.Int64)
		delivery.ResponseTimeMs = &v
	}
	delivery.ErrorMessage = errMsg.String
	delivery.NextRetryAt = parseNullTime(nextRetryAt)
	delivery.DeliveredAt = parseNullTime(deliveredAt)
	delivery.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	delivery.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &delivery, nil
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
