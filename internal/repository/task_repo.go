package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLiteTaskRepository implements TaskRepository for SQLite.
type SQLiteTaskRepository struct {
	db *sql.DB
}

// NewSQLiteTaskRepository creates a new SQLite scheduled task repository.
func NewSQLiteTaskRepository(db *sql.DB) *SQLiteTaskRepository {
	return &SQLiteTaskRepository{db: db}
}

const taskColumns = `id, api_key_id, user_id, name, description, cron_expression, timezone,
	task_type, task_payload_json, concurrency_mode, max_executions_per_day, min_credits_required,
	is_active, is_paused, pause_reason, next_execution_at, last_execution_at,
	total_executions, successful_executions, failed_executions, consecutive_failures,
	tags_json, metadata_json, created_at, updated_at`

func (r *SQLiteTaskRepository) Create(ctx context.Context, task *models.ScheduledTask) error {
	query := `INSERT INTO scheduled_tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	tagsJSON := ""
	if len(task.Tags) > 0 {
		b, _ := json.Marshal(task.Tags)
		tagsJSON = string(b)
	}
	_, err := r.db.ExecContext(ctx, query,
		task.ID, task.APIKeyID, nullString(task.UserID), task.Name, nullString(task.Description),
		task.CronExpression, task.Timezone, task.TaskType, nullString(task.TaskPayloadJSON),
		task.ConcurrencyMode, task.MaxExecutionsPerDay, task.MinCreditsRequired,
		boolInt(task.IsActive), boolInt(task.IsPaused), nullString(task.PauseReason),
		nullTime(task.NextExecutionAt), nullTime(task.LastExecutionAt),
		task.TotalExecutions, task.SuccessfulExecutions, task.FailedExecutions, task.ConsecutiveFailures,
		nullString(tagsJSON), nullString(task.MetadataJSON),
		task.CreatedAt.Format(time.RFC3339), task.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled task: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) GetByID(ctx context.Context, id string) (*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id = ?`
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (r *SQLiteTaskRepository) ListByAPIKey(ctx context.Context, apiKeyID string) ([]*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE api_key_id = ? ORDER BY created_at DESC`
	return r.queryTasks(ctx, query, apiKeyID)
}

func (r *SQLiteTaskRepository) ListActive(ctx context.Context) ([]*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE is_active = 1 AND is_paused = 0 ORDER BY created_at ASC`
	return r.queryTasks(ctx, query)
}

func (r *SQLiteTaskRepository) UpdatedSince(ctx context.Context, since time.Time) ([]*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE updated_at >= ? ORDER BY updated_at ASC`
	return r.queryTasks(ctx, query, since.Format(time.RFC3339))
}

func (r *SQLiteTaskRepository) ListByTaskType(ctx context.Context, taskType models.TaskType) ([]*models.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE task_type = ? ORDER BY created_at ASC`
	return r.queryTasks(ctx, query, taskType)
}

func (r *SQLiteTaskRepository) Update(ctx context.Context, task *models.ScheduledTask) error {
	query := `
		UPDATE scheduled_tasks SET name = ?, description = ?, cron_expression = ?, timezone = ?,
			task_type = ?, task_payload_json = ?, concurrency_mode = ?, max_executions_per_day = ?,
			min_credits_required = ?, is_active = ?, is_paused = ?, pause_reason = ?,
			next_execution_at = ?, tags_json = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`
	tagsJSON := ""
	if len(task.Tags) > 0 {
		b, _ := json.Marshal(task.Tags)
		tagsJSON = string(b)
	}
	_, err := r.db.ExecContext(ctx, query,
		task.Name, nullString(task.Description), task.CronExpression, task.Timezone,
		task.TaskType, nullString(task.TaskPayloadJSON), task.ConcurrencyMode,
		task.MaxExecutionsPerDay, task.MinCreditsRequired,
		boolInt(task.IsActive), boolInt(task.IsPaused), nullString(task.PauseReason),
		nullTime(task.NextExecutionAt), nullString(tagsJSON), nullString(task.MetadataJSON),
		time.Now().Format(time.RFC3339), task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled task: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete scheduled task: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) Pause(ctx context.Context, id, reason string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE scheduled_tasks SET is_paused = 1, pause_reason = ?, updated_at = ? WHERE id = ? AND is_paused = 0",
		reason, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to pause task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *SQLiteTaskRepository) Resume(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE scheduled_tasks SET is_paused = 0, pause_reason = NULL, consecutive_failures = 0, updated_at = ? WHERE id = ?",
		time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to resume task: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) Stop(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE scheduled_tasks SET is_active = 0, is_paused = 1, pause_reason = ?, updated_at = ? WHERE id = ?",
		reason, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to stop task: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) RecordTrigger(ctx context.Context, id string, next *time.Time, last time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET next_execution_at = ?, last_execution_at = ?,
			total_executions = total_executions + 1, consecutive_failures = 0, updated_at = ?
		WHERE id = ?`,
		nullTime(next), last.Format(time.RFC3339), time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record trigger: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) AdvanceNext(ctx context.Context, id string, next *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE scheduled_tasks SET next_execution_at = ?, updated_at = ? WHERE id = ?",
		nullTime(next), time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to advance next execution: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) RecordFailure(ctx context.Context, id string, next *time.Time) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE scheduled_tasks SET next_execution_at = ?,
			failed_executions = failed_executions + 1,
			consecutive_failures = consecutive_failures + 1, updated_at = ?
		WHERE id = ?
		RETURNING consecutive_failures`,
		nullTime(next), time.Now().Format(time.RFC3339), id,
	)
	var consecutive int
	if err := row.Scan(&consecutive); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	return consecutive, nil
}

func (r *SQLiteTaskRepository) RecordExecutionOutcome(ctx context.Context, id string, success bool) error {
	column := "failed_executions"
	if success {
		column = "successful_executions"
	}
	query := fmt.Sprintf(
		"UPDATE scheduled_tasks SET %s = %s + 1, updated_at = ? WHERE id = ?",
		column, column,
	)
	if _, err := r.db.ExecContext(ctx, query, time.Now().Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("failed to record execution outcome: %w", err)
	}
	return nil
}

func (r *SQLiteTaskRepository) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanTask(s rowScanner) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	var userID, description, payloadJSON, pauseReason, tagsJSON, metadataJSON sql.NullString
	var nextExecAt, lastExecAt sql.NullString
	var isActive, isPaused int
	var createdAt, updatedAt string

	err := s.Scan(
		&task.ID, &task.APIKeyID, &userID, &task.Name, &description,
		&task.CronExpression, &task.Timezone, &task.TaskType, &payloadJSON,
		&task.ConcurrencyMode, &task.MaxExecutionsPerDay, &task.MinCreditsRequired,
		&isActive, &isPaused, &pauseReason, &nextExecAt, &lastExecAt,
		&task.TotalExecutions, &task.SuccessfulExecutions, &task.FailedExecutions,
		&task.ConsecutiveFailures, &tagsJSON, &metadataJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
	}

	task.UserID = userID.String
	task.Description = description.String
	task.TaskPayloadJSON = payloadJSON.String
	task.PauseReason = pauseReason.String
	task.MetadataJSON = metadataJSON.String
	task.IsActive = isActive == 1
	task.IsPaused = isPaused == 1
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &task.Tags)
	}
	task.NextExecutionAt = parseNullTime(nextExecAt)
	task.LastExecutionAt = parseNullTime(lastExecAt)
	task.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	task.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &task, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SQLiteExecutionRepository implements ExecutionRepository for SQLite.
type SQLiteExecutionRepository struct {
	db *sql.DB
}

// NewSQLiteExecutionRepository creates a new SQLite task execution repository.
func NewSQLiteExecutionRepository(db *sql.DB) *SQLiteExecutionRepository {
	return &SQLiteExecutionRepository{db: db}
}

const executionColumns = `id, scheduled_task_id, execution_number, idempotency_key, status,
	scheduled_for, started_at, completed_at, triggered_by, job_id,
	error_message, error_code, error_details_json, created_at, updated_at`

const insertExecutionQuery = `
	INSERT INTO task_executions (` + executionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func executionInsertArgs(exec *models.TaskExecution) []interface{} {
	var jobID sql.NullString
	if exec.JobID != nil {
		jobID = sql.NullString{String: *exec.JobID, Valid: true}
	}
	return []interface{}{
		exec.ID, exec.ScheduledTaskID, exec.ExecutionNumber, exec.IdempotencyKey,
		exec.Status, exec.ScheduledFor.Format(time.RFC3339),
		nullTime(exec.StartedAt), nullTime(exec.CompletedAt), exec.TriggeredBy, jobID,
		nullString(exec.ErrorMessage), nullString(exec.ErrorCode), nullString(exec.ErrorDetailsJSON),
		exec.CreatedAt.Format(time.RFC3339), exec.UpdatedAt.Format(time.RFC3339),
	}
}

func (r *SQLiteExecutionRepository) Create(ctx context.Context, exec *models.TaskExecution) error {
	if _, err := r.db.ExecContext(ctx, insertExecutionQuery, executionInsertArgs(exec)...); err != nil {
		return fmt.Errorf("failed to create task execution: %w", err)
	}
	return nil
}

func (r *SQLiteExecutionRepository) CreateTx(ctx context.Context, tx *sql.Tx, exec *models.TaskExecution) error {
	if _, err := tx.ExecContext(ctx, insertExecutionQuery, executionInsertArgs(exec)...); err != nil {
		return fmt.Errorf("failed to create task execution: %w", err)
	}
	return nil
}

func (r *SQLiteExecutionRepository) GetByID(ctx context.Context, id string) (*models.TaskExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM task_executions WHERE id = ?`
	return scanExecution(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteExecutionRepository) ListByTask(ctx context.Context, taskID string, limit, offset int) ([]*models.TaskExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM task_executions WHERE scheduled_task_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	return r.queryExecutions(ctx, query, taskID, limit, offset)
}

func (r *SQLiteExecutionRepository) CountInFlight(ctx context.Context, taskID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_executions WHERE scheduled_task_id = ? AND status IN ('pending', 'running')",
		taskID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count in-flight executions: %w", err)
	}
	return count, nil
}

func (r *SQLiteExecutionRepository) CountScheduledSince(ctx context.Context, taskID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_executions WHERE scheduled_task_id = ? AND scheduled_for >= ?",
		taskID, since.Format(time.RFC3339),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled executions: %w", err)
	}
	return count, nil
}

func (r *SQLiteExecutionRepository) MarkRunningTx(ctx context.Context, tx *sql.Tx, id, jobID string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE task_executions SET status = 'running', job_id = ?, updated_at = ? WHERE id = ?",
		jobID, time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark execution running: %w", err)
	}
	return nil
}

func (r *SQLiteExecutionRepository) MarkStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE task_executions SET started_at = ?, updated_at = ? WHERE id = ?",
		at.Format(time.RFC3339), time.Now().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark execution started: %w", err)
	}
	return nil
}

func (r *SQLiteExecutionRepository) Complete(ctx context.Context, id string, status models.ExecutionStatus, errMsg, errCode, errDetailsJSON string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE task_executions SET status = ?, error_message = ?, error_code = ?,
			error_details_json = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'running')`,
		status, nullString(errMsg), nullString(errCode), nullString(errDetailsJSON),
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete execution: %w", err)
	}
	return nil
}

func (r *SQLiteExecutionRepository) ListUnfinished(ctx context.Context) ([]*models.TaskExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM task_executions WHERE status IN ('pending', 'running') ORDER BY created_at ASC`
	return r.queryExecutions(ctx, query)
}

func (r *SQLiteExecutionRepository) queryExecutions(ctx context.Context, query string, args ...interface{}) ([]*models.TaskExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query task executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(s rowScanner) (*models.TaskExecution, error) {
	var exec models.TaskExecution
	var startedAt, completedAt, jobID sql.NullString
	var errMsg, errCode, errDetails sql.NullString
	var scheduledFor, createdAt, updatedAt string

	err := s.Scan(
		&exec.ID, &exec.ScheduledTaskID, &exec.ExecutionNumber, &exec.IdempotencyKey,
		&exec.Status, &scheduledFor, &startedAt, &completedAt, &exec.TriggeredBy,
		&jobID, &errMsg, &errCode, &errDetails, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task execution: %w", err)
	}

	if jobID.Valid {
		exec.JobID = &jobID.String
	}
	exec.ErrorMessage = errMsg.String
	exec.ErrorCode = errCode.String
	exec.ErrorDetailsJSON = errDetails.String
	exec.ScheduledFor, _ = time.Parse(time.RFC3339, scheduledFor)
	exec.StartedAt = parseNullTime(startedAt)
	exec.CompletedAt = parseNullTime(completedAt)
	exec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	exec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &exec, nil
}
