package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLiteJobRepository implements JobRepository for SQLite.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

const jobColumns = `id, api_key_id, user_id, type, engine, queue_name, status, is_success, url,
	payload_json, origin, total, completed, failed, credits_used, deducted_at, error_message,
	webhook_url, started_at, completed_at, expires_at, created_at, updated_at`

const insertJobQuery = `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func jobInsertArgs(job *models.Job) []interface{} {
	isSuccess := 0
	if job.IsSuccess {
		isSuccess = 1
	}
	return []interface{}{
		job.ID, job.APIKeyID, nullString(job.UserID), job.Type, job.Engine,
		job.QueueName, job.Status, isSuccess, nullString(job.URL),
		nullString(job.PayloadJSON), job.Origin, job.Total, job.Completed,
		job.Failed, job.CreditsUsed, nullTime(job.DeductedAt),
		nullString(job.ErrorMessage), nullString(job.WebhookURL),
		nullTime(job.StartedAt), nullTime(job.CompletedAt), nullTime(job.ExpiresAt),
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339),
	}
}

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.Job) error {
	if _, err := r.db.ExecContext(ctx, insertJobQuery, jobInsertArgs(job)...); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) CreateTx(ctx context.Context, tx *sql.Tx, job *models.Job) error {
	if _, err := tx.ExecContext(ctx, insertJobQuery, jobInsertArgs(job)...); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteJobRepository) GetByAPIKeyID(ctx context.Context, apiKeyID string, limit, offset int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE api_key_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, apiKeyID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteJobRepository) CountActiveByAPIKeyID(ctx context.Context, apiKeyID string) (int, error) {
	query := `SELECT COUNT(*) FROM jobs WHERE api_key_id = ? AND status IN ('pending', 'running')`
	var count int
	if err := r.db.QueryRowContext(ctx, query, apiKeyID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active jobs: %w", err)
	}
	return count, nil
}

func (r *SQLiteJobRepository) Update(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs SET status = ?, is_success = ?, total = ?, completed = ?, failed = ?,
			credits_used = ?, deducted_at = ?, error_message = ?, started_at = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	isSuccess := 0
	if job.IsSuccess {
		isSuccess = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		job.Status, isSuccess, job.Total, job.Completed, job.Failed,
		job.CreditsUsed, nullTime(job.DeductedAt), nullString(job.ErrorMessage),
		nullTime(job.StartedAt), nullTime(job.CompletedAt),
		time.Now().Format(time.RFC3339), job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	now := time.Now().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET status = 'running', started_at = ?, updated_at = ? WHERE id = ? AND status = 'pending'",
		now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job running: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteJobRepository) SetTotal(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET total = ?, updated_at = ? WHERE id = ?",
		total, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set job total: %w", err)
	}
	return nil
}

const applyPageResultQuery = "UPDATE jobs SET completed = completed + 1, failed = failed + ?, updated_at = ? WHERE id = ?"

func (r *SQLiteJobRepository) ApplyPageResult(ctx context.Context, id string, success bool) error {
	failedDelta := 0
	if !success {
		failedDelta = 1
	}
	_, err := r.db.ExecContext(ctx, applyPageResultQuery,
		failedDelta, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply page result: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) ApplyPageResultTx(ctx context.Context, tx *sql.Tx, id string, success bool) error {
	failedDelta := 0
	if !success {
		failedDelta = 1
	}
	_, err := tx.ExecContext(ctx, applyPageResultQuery,
		failedDelta, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to apply page result: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) Finish(ctx context.Context, id string, status models.JobStatus, isSuccess bool, errorMessage string) error {
	now := time.Now().Format(time.RFC3339)
	success := 0
	if isSuccess {
		success = 1
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, is_success = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed', 'cancelled')`,
		status, success, nullString(errorMessage), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobRow(s rowScanner) (*models.Job, error) {
	var job models.Job
	var userID, url, payloadJSON, errorMessage, webhookURL sql.NullString
	var deductedAt, startedAt, completedAt, expiresAt sql.NullString
	var isSuccess int
	var createdAt, updatedAt string

	err := s.Scan(
		&job.ID, &job.APIKeyID, &userID, &job.Type, &job.Engine, &job.QueueName,
		&job.Status, &isSuccess, &url, &payloadJSON, &job.Origin,
		&job.Total, &job.Completed, &job.Failed, &job.CreditsUsed, &deductedAt,
		&errorMessage, &webhookURL, &startedAt, &completedAt, &expiresAt,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.UserID = userID.String
	job.URL = url.String
	job.PayloadJSON = payloadJSON.String
	job.ErrorMessage = errorMessage.String
	job.WebhookURL = webhookURL.String
	job.IsSuccess = isSuccess == 1
	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	job.DeductedAt = parseNullTime(deductedAt)
	job.StartedAt = parseNullTime(startedAt)
	job.CompletedAt = parseNullTime(completedAt)
	job.ExpiresAt = parseNullTime(expiresAt)
	return &job, nil
}

func scanJob(row *sql.Row) (*models.Job, error) {
	return scanJobRow(row)
}

func scanJobFromRows(rows *sql.Rows) (*models.Job, error) {
	job, err := scanJobRow(rows)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("failed to scan job: %w", sql.ErrNoRows)
	}
	return job, nil
}

// Helper functions shared across repositories.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// SQLiteJobResultRepository implements JobResultRepository for SQLite.
type SQLiteJobResultRepository struct {
	db *sql.DB
}

// NewSQLiteJobResultRepository creates a new SQLite job result repository.
func NewSQLiteJobResultRepository(db *sql.DB) *SQLiteJobResultRepository {
	return &SQLiteJobResultRepository{db: db}
}

const jobResultColumns = `id, job_id, url, status_code, title, description, content_key, data_json, error_message, from_cache, created_at`

func (r *SQLiteJobResultRepository) Create(ctx context.Context, result *models.JobResult) error {
	query := `INSERT INTO job_results (` + jobResultColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	fromCache := 0
	if result.FromCache {
		fromCache = 1
	}
	_, err := r.db.ExecContext(ctx, query,
		result.ID, result.JobID, result.URL, result.StatusCode,
		nullString(result.Title), nullString(result.Description),
		nullString(result.ContentKey), nullString(result.DataJSON),
		nullString(result.ErrorMessage), fromCache,
		result.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create job result: %w", err)
	}
	return nil
}

func (r *SQLiteJobResultRepository) GetByJobID(ctx context.Context, jobID string, limit, offset int) ([]*models.JobResult, error) {
	query := `SELECT ` + jobResultColumns + ` FROM job_results WHERE job_id = ? ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query job results: %w", err)
	}
	defer rows.Close()

	var results []*models.JobResult
	for rows.Next() {
		var result models.JobResult
		var title, description, contentKey, dataJSON, errorMessage sql.NullString
		var fromCache int
		var createdAt string
		err := rows.Scan(&result.ID, &result.JobID, &result.URL, &result.StatusCode,
			&title, &description, &contentKey, &dataJSON, &errorMessage, &fromCache, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job result: %w", err)
		}
		result.Title = title.String
		result.Description = description.String
		result.ContentKey = contentKey.String
		result.DataJSON = dataJSON.String
		result.ErrorMessage = errorMessage.String
		result.FromCache = fromCache == 1
		result.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		results = append(results, &result)
	}
	return results, rows.Err()
}

func (r *SQLiteJobResultRepository) CountByJobID(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM job_results WHERE job_id = ?", jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count job results: %w", err)
	}
	return count, nil
}

func (r *SQLiteJobResultRepository) DeleteByJobID(ctx context.Context, jobID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM job_results WHERE job_id = ?", jobID); err != nil {
		return fmt.Errorf("failed to delete job results: %w", err)
	}
	return nil
}
