package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

const chargeMaxRetries = 5

// BillingService debits credits from an api_key in response to work done,
// exactly once per semantic charge, with a full ledger audit trail.
//
// Two modes:
//   - delta: debit a fixed amount, deduplicated by idempotency key
//   - target: raise a job's credits_used to a target, never lowering it
//
// Both run inside a transaction. Balances may go negative; post-hoc
// negative-balance detection pauses the task at its next trigger instead.
type BillingService struct {
	db      *sql.DB
	repos   *repository.Repositories
	enabled bool
	logger  *slog.Logger
}

// NewBillingService creates a new billing service. When enabled is false
// every charge short-circuits to {charged: 0}.
func NewBillingService(db *sql.DB, repos *repository.Repositories, enabled bool, logger *slog.Logger) *BillingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingService{db: db, repos: repos, enabled: enabled, logger: logger}
}

// Enabled reports whether charges actually debit credits.
func (s *BillingService) Enabled() bool {
	return s.enabled
}

// CheckBalance returns an InsufficientCreditsError when the key has no
// credits left. Charges applied after a passing check may still push the
// balance negative; the next check catches it.
func (s *BillingService) CheckBalance(ctx context.Context, apiKeyID string) error {
	if !s.enabled {
		return nil
	}
	key, err := s.repos.APIKey.GetByID(ctx, apiKeyID)
	if err != nil {
		return fmt.Errorf("failed to load api key: %w", err)
	}
	if key == nil || key.Credits <= 0 {
		var current int64
		if key != nil {
			current = key.Credits
		}
		return &InsufficientCreditsError{CurrentCredits: current}
	}
	return nil
}

// ChargeDelta debits delta credits against a job, deduplicated by
// idempotencyKey. A repeated key returns {charged: 0} without touching
// the balance.
func (s *BillingService) ChargeDelta(ctx context.Context, jobID string, delta int64, reason, idempotencyKey string, details *models.ChargeDetails) (*models.ChargeResult, error) {
	if !s.enabled || delta <= 0 {
		return &models.ChargeResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin billing transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := s.ChargeDeltaTx(ctx, tx, jobID, delta, reason, idempotencyKey, details)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit billing transaction: %w", err)
	}
	return result, nil
}

// ChargeDeltaTx is ChargeDelta inside a caller-owned transaction.
func (s *BillingService) ChargeDeltaTx(ctx context.Context, tx *sql.Tx, jobID string, delta int64, reason, idempotencyKey string, details *models.ChargeDetails) (*models.ChargeResult, error) {
	if !s.enabled || delta <= 0 {
		return &models.ChargeResult{}, nil
	}

	beforeUsed, apiKeyID, err := s.readJobCredits(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	detailsJSON := normalizeDetails(details, delta)

	ledgerID := ulid.Make().String()
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `
		INSERT INTO billing_ledger (id, job_id, api_key_id, mode, reason, idempotency_key,
			charged, before_used, after_used, charge_details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING`,
		ledgerID, jobID, apiKeyID, models.ChargeModeDelta, reason, idempotencyKey,
		delta, beforeUsed, beforeUsed+delta, detailsJSON, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check ledger insert: %w", err)
	}
	if affected == 0 {
		// Duplicate idempotency key: already charged.
		return &models.ChargeResult{}, nil
	}

	afterCredits, err := s.applyDebit(ctx, tx, jobID, apiKeyID, beforeUsed+delta, delta, now)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE billing_ledger SET before_credits = ?, after_credits = ? WHERE id = ?",
		afterCredits+delta, afterCredits, ledgerID); err != nil {
		return nil, fmt.Errorf("failed to finalize ledger entry: %w", err)
	}

	return &models.ChargeResult{Charged: delta, RemainingCredits: afterCredits}, nil
}

// ChargeToUsed raises a job's credits_used to targetUsed and debits the
// difference. Targets at or below the current usage charge nothing; this
// mode never refunds.
func (s *BillingService) ChargeToUsed(ctx context.Context, jobID string, targetUsed int64, reason string) (*models.ChargeResult, error) {
	if !s.enabled {
		return &models.ChargeResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin billing transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := s.ChargeToUsedTx(ctx, tx, jobID, targetUsed, reason)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit billing transaction: %w", err)
	}
	return result, nil
}

// ChargeToUsedTx is ChargeToUsed inside a caller-owned transaction. The
// optimistic credits_used update retries when another writer moved the
// counter between the read and the write.
func (s *BillingService) ChargeToUsedTx(ctx context.Context, tx *sql.Tx, jobID string, targetUsed int64, reason string) (*models.ChargeResult, error) {
	if !s.enabled {
		return &models.ChargeResult{}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	idempotencyKey := fmt.Sprintf("%s-target-%d", jobID, targetUsed)

	for attempt := 0; attempt < chargeMaxRetries; attempt++ {
		beforeUsed, apiKeyID, err := s.readJobCredits(ctx, tx, jobID)
		if err != nil {
			return nil, err
		}

		if targetUsed <= beforeUsed {
			// Never refund. Record the no-op idempotently for the audit trail.
			_, err := tx.ExecContext(ctx, `
				INSERT INTO billing_ledger (id, job_id, api_key_id, mode, reason, idempotency_key,
					charged, before_used, after_used, created_at)
				VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
				ON CONFLICT(idempotency_key) DO NOTHING`,
				ulid.Make().String(), jobID, apiKeyID, models.ChargeModeTarget, reason,
				idempotencyKey, beforeUsed, beforeUsed, now,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
			}
			remaining, err := s.readKeyCredits(ctx, tx, apiKeyID)
			if err != nil {
				return nil, err
			}
			return &models.ChargeResult{RemainingCredits: remaining}, nil
		}

		delta := targetUsed - beforeUsed
		res, err := tx.ExecContext(ctx,
			"UPDATE jobs SET credits_used = ?, deducted_at = ?, updated_at = ? WHERE id = ? AND credits_used = ?",
			targetUsed, now, now, jobID, beforeUsed)
		if err != nil {
			return nil, fmt.Errorf("failed to update job credits: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check job credits update: %w", err)
		}
		if affected == 0 {
			// Another writer moved credits_used; re-read and retry.
			continue
		}

		beforeCredits, err := s.readKeyCredits(ctx, tx, apiKeyID)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE api_keys SET credits = credits - ?, last_used_at = ? WHERE id = ?",
			delta, now, apiKeyID); err != nil {
			return nil, fmt.Errorf("failed to debit api key: %w", err)
		}
		afterCredits := beforeCredits - delta

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO billing_ledger (id, job_id, api_key_id, mode, reason, idempotency_key,
				charged, before_used, after_used, before_credits, after_credits, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(idempotency_key) DO NOTHING`,
			ulid.Make().String(), jobID, apiKeyID, models.ChargeModeTarget, reason,
			idempotencyKey, delta, beforeUsed, targetUsed, beforeCredits, afterCredits, now,
		); err != nil {
			return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
		}

		return &models.ChargeResult{Charged: delta, RemainingCredits: afterCredits}, nil
	}

	return nil, fmt.Errorf("Failed to chargeToUsed after %d retries", chargeMaxRetries)
}

// applyDebit bumps the job's credits_used to afterUsed and debits the api
// key by delta, returning the key's balance after the debit.
func (s *BillingService) applyDebit(ctx context.Context, tx *sql.Tx, jobID, apiKeyID string, afterUsed, delta int64, now string) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		"UPDATE jobs SET credits_used = ?, deducted_at = ?, updated_at = ? WHERE id = ?",
		afterUsed, now, now, jobID); err != nil {
		return 0, fmt.Errorf("failed to update job credits: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE api_keys SET credits = credits - ?, last_used_at = ? WHERE id = ?",
		delta, now, apiKeyID); err != nil {
		return 0, fmt.Errorf("failed to debit api key: %w", err)
	}
	return s.readKeyCredits(ctx, tx, apiKeyID)
}

func (s *BillingService) readJobCredits(ctx context.Context, tx *sql.Tx, jobID string) (int64, string, error) {
	var creditsUsed int64
	var apiKeyID string
	err := tx.QueryRowContext(ctx, "SELECT credits_used, api_key_id FROM jobs WHERE id = ?", jobID).
		Scan(&creditsUsed, &apiKeyID)
	if err == sql.ErrNoRows {
		return 0, "", fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to read job credits: %w", err)
	}
	return creditsUsed, apiKeyID, nil
}

func (s *BillingService) readKeyCredits(ctx context.Context, tx *sql.Tx, apiKeyID string) (int64, error) {
	var credits int64
	err := tx.QueryRowContext(ctx, "SELECT credits FROM api_keys WHERE id = ?", apiKeyID).Scan(&credits)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read api key credits: %w", err)
	}
	return credits, nil
}

// normalizeDetails forces the details to account for exactly delta credits
// and returns their JSON, or nil when no details were supplied.
func normalizeDetails(details *models.ChargeDetails, delta int64) interface{} {
	if details == nil {
		return nil
	}
	details.Normalize(delta)
	b, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return string(b)
}
