package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLiteAPIKeyRepository implements APIKeyRepository for SQLite.
type SQLiteAPIKeyRepository struct {
	db *sql.DB
}

// NewSQLiteAPIKeyRepository creates a new SQLite API key repository.
func NewSQLiteAPIKeyRepository(db *sql.DB) *SQLiteAPIKeyRepository {
	return &SQLiteAPIKeyRepository{db: db}
}

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, tier, credits, is_active, last_used_at, expires_at, created_at, revoked_at`

func (r *SQLiteAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	query := `INSERT INTO api_keys (` + apiKeyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	isActive := 0
	if key.IsActive {
		isActive = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		key.ID, nullString(key.UserID), key.Name, key.KeyHash, key.KeyPrefix,
		key.Tier, key.Credits, isActive,
		nullTime(key.LastUsedAt), nullTime(key.ExpiresAt),
		key.CreatedAt.Format(time.RFC3339), nullTime(key.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (r *SQLiteAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ?`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, hash))
}

func (r *SQLiteAPIKeyRepository) GetByUserID(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = ? AND revoked_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanAPIKeyFromRows(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *SQLiteAPIKeyRepository) GetDefaultForUser(ctx context.Context, userID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys
		WHERE user_id = ? AND is_active = 1 AND revoked_at IS NULL
		ORDER BY created_at ASC, id ASC LIMIT 1`
	return scanAPIKey(r.db.QueryRowContext(ctx, query, userID))
}

func (r *SQLiteAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = ? WHERE id = ?", lastUsed.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	return nil
}

func (r *SQLiteAPIKeyRepository) AdjustCredits(ctx context.Context, id string, delta int64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE api_keys SET credits = credits + ? WHERE id = ?", delta, id)
	if err != nil {
		return fmt.Errorf("failed to adjust credits: %w", err)
	}
	return nil
}

func (r *SQLiteAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = ?, is_active = 0 WHERE id = ?", time.Now().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

func scanAPIKeyRow(s rowScanner) (*models.APIKey, error) {
	var key models.APIKey
	var userID, lastUsedAt, expiresAt, revokedAt sql.NullString
	var isActive int
	var createdAt string

	err := s.Scan(&key.ID, &userID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.Tier, &key.Credits, &isActive, &lastUsedAt, &expiresAt, &createdAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}

	key.UserID = userID.String
	key.IsActive = isActive == 1
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastUsedAt.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsedAt.String)
		key.LastUsedAt = &t
	}
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339, expiresAt.String)
		key.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t, _ := time.Parse(time.RFC3339, revokedAt.String)
		key.RevokedAt = &t
	}
	return &key, nil
}

func scanAPIKey(row *sql.Row) (*models.APIKey, error) {
	return scanAPIKeyRow(row)
}

func scanAPIKeyFromRows(rows *sql.Rows) (*models.APIKey, error) {
	key, err := scanAPIKeyRow(rows)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("failed to scan api key: %w", sql.ErrNoRows)
	}
	return key, nil
}
