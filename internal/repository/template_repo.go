package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLiteTemplateRepository implements TemplateRepository for SQLite.
type SQLiteTemplateRepository struct {
	db *sql.DB
}

// NewSQLiteTemplateRepository creates a new SQLite template repository.
func NewSQLiteTemplateRepository(db *sql.DB) *SQLiteTemplateRepository {
	return &SQLiteTemplateRepository{db: db}
}

const templateColumns = `id, api_key_id, user_id, name, description, task_type, payload_json, is_active, created_at, updated_at`

func (r *SQLiteTemplateRepository) Create(ctx context.Context, tmpl *models.Template) error {
	query := `INSERT INTO templates (` + templateColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		tmpl.ID, tmpl.APIKeyID, nullString(tmpl.UserID), tmpl.Name, nullString(tmpl.Description),
		tmpl.TaskType, nullString(tmpl.PayloadJSON), boolInt(tmpl.IsActive),
		tmpl.CreatedAt.Format(time.RFC3339), tmpl.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *SQLiteTemplateRepository) GetByID(ctx context.Context, id string) (*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = ?`
	return scanTemplate(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteTemplateRepository) ListByAPIKey(ctx context.Context, apiKeyID string) ([]*models.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates WHERE api_key_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func (r *SQLiteTemplateRepository) Update(ctx context.Context, tmpl *models.Template) error {
	query := `
		UPDATE templates SET name = ?, description = ?, task_type = ?, payload_json = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query,
		tmpl.Name, nullString(tmpl.Description), tmpl.TaskType, nullString(tmpl.PayloadJSON),
		boolInt(tmpl.IsActive), time.Now().Format(time.RFC3339), tmpl.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

func (r *SQLiteTemplateRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

func scanTemplate(s rowScanner) (*models.Template, error) {
	var tmpl models.Template
	var userID, description, payloadJSON sql.NullString
	var isActive int
	var createdAt, updatedAt string

	err := s.Scan(&tmpl.ID, &tmpl.APIKeyID, &userID, &tmpl.Name, &description,
		&tmpl.TaskType, &payloadJSON, &isActive, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	tmpl.UserID = userID.String
	tmpl.Description = description.String
	tmpl.PayloadJSON = payloadJSON.String
	tmpl.IsActive = isActive == 1
	tmpl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	tmpl.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &tmpl, nil
}

// SQLiteTemplateExecutionRepository implements TemplateExecutionRepository for SQLite.
type SQLiteTemplateExecutionRepository struct {
	db *sql.DB
}

// NewSQLiteTemplateExecutionRepository creates a new SQLite template execution repository.
func NewSQLiteTemplateExecutionRepository(db *sql.DB) *SQLiteTemplateExecutionRepository {
	return &SQLiteTemplateExecutionRepository{db: db}
}

func (r *SQLiteTemplateExecutionRepository) Create(ctx context.Context, exec *models.TemplateExecution) error {
	query := `INSERT INTO template_executions (id, template_id, task_execution_id, resolved_type, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		exec.ID, exec.TemplateID, exec.TaskExecutionID, exec.ResolvedType,
		exec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create template execution: %w", err)
	}
	return nil
}

func (r *SQLiteTemplateExecutionRepository) ListByTemplate(ctx context.Context, templateID string, limit, offset int) ([]*models.TemplateExecution, error) {
	query := `SELECT id, template_id, task_execution_id, resolved_type, created_at
		FROM template_executions WHERE template_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, templateID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query template executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.TemplateExecution
	for rows.Next() {
		var exec models.TemplateExecution
		var createdAt string
		if err := rows.Scan(&exec.ID, &exec.TemplateID, &exec.TaskExecutionID, &exec.ResolvedType, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan template execution: %w", err)
		}
		exec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		execs = append(execs, &exec)
	}
	return execs, rows.Err()
}
