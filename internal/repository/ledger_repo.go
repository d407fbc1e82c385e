package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLiteLedgerRepository implements LedgerRepository for SQLite. The billing
// service writes ledger rows inside its own transactions; this repository
// only reads them back for audits and dedup checks.
type SQLiteLedgerRepository struct {
	db *sql.DB
}

// NewSQLiteLedgerRepository creates a new SQLite billing ledger repository.
func NewSQLiteLedgerRepository(db *sql.DB) *SQLiteLedgerRepository {
	return &SQLiteLedgerRepository{db: db}
}

const ledgerColumns = `id, job_id, api_key_id, mode, reason, idempotency_key, charged,
	before_used, after_used, before_credits, after_credits, charge_details_json, created_at`

func (r *SQLiteLedgerRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM billing_ledger WHERE idempotency_key = ?`
	return scanLedgerEntry(r.db.QueryRowContext(ctx, query, key))
}

func (r *SQLiteLedgerRepository) ListByJob(ctx context.Context, jobID string) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM billing_ledger WHERE job_id = ? ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(s rowScanner) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	var beforeCredits, afterCredits sql.NullInt64
	var detailsJSON sql.NullString
	var createdAt string

	err := s.Scan(
		&entry.ID, &entry.JobID, &entry.APIKeyID, &entry.Mode, &entry.Reason,
		&entry.IdempotencyKey, &entry.Charged, &entry.BeforeUsed, &entry.AfterUsed,
		&beforeCredits, &afterCredits, &detailsJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	if beforeCredits.Valid {
		entry.BeforeCredits = &beforeCredits.Int64
	}
	if afterCredits.Valid {
		entry.AfterCredits = &afterCredits.Int64
	}
	entry.ChargeDetailsJSON = detailsJSON.String
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &entry, nil
}
