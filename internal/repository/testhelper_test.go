package repository

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/trawlhq/trawl-api/internal/database/migrations"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestAPIKey is a helper to insert a test API key directly.
func InsertTestAPIKey(t *testing.T, db *sql.DB, id, keyHash string, credits int64) {
	t.Helper()
	query := `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, tier, credits, is_active, created_at)
		VALUES (?, 'user-1', 'Test Key', ?, 'tw_test', 'free', ?, 1, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`
	if _, err := db.Exec(query, id, keyHash, credits); err != nil {
		t.Fatalf("failed to insert test API key: %v", err)
	}
}

// InsertTestJob is a helper to insert a test job directly.
func InsertTestJob(t *testing.T, db *sql.DB, id, apiKeyID, taskType, status string) {
	t.Helper()
	query := `
		INSERT INTO jobs (id, api_key_id, type, engine, queue_name, status, url, origin, created_at, updated_at)
		VALUES (?, ?, ?, 'cheerio', ? || '-cheerio', ?, 'https://example.com', 'api', strftime('%Y-%m-%dT%H:%M:%SZ','now'), strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`
	if _, err := db.Exec(query, id, apiKeyID, taskType, taskType, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}

// InsertTestTask is a helper to insert a test scheduled task directly.
func InsertTestTask(t *testing.T, db *sql.DB, id, apiKeyID, cronExpr string, active, paused bool) {
	t.Helper()
	query := `
		INSERT INTO scheduled_tasks (id, api_key_id, name, cron_expression, timezone, task_type,
			concurrency_mode, is_active, is_paused, created_at, updated_at)
		VALUES (?, ?, 'Test Task', ?, 'UTC', 'scrape', 'skip', ?, ?, strftime('%Y-%m-%dT%H:%M:%SZ','now'), strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`
	if _, err := db.Exec(query, id, apiKeyID, cronExpr, boolInt(active), boolInt(paused)); err != nil {
		t.Fatalf("failed to insert test task: %v", err)
	}
}

// InsertTestExecution is a helper to insert a test task execution directly.
func InsertTestExecution(t *testing.T, db *sql.DB, id, taskID, idempotencyKey, status string, scheduledFor time.Time) {
	t.Helper()
	query := `
		INSERT INTO task_executions (id, scheduled_task_id, execution_number, idempotency_key, status,
			scheduled_for, triggered_by, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, 'scheduler', strftime('%Y-%m-%dT%H:%M:%SZ','now'), strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`
	if _, err := db.Exec(query, id, taskID, idempotencyKey, status, scheduledFor.Format(time.RFC3339)); err != nil {
		t.Fatalf("failed to insert test execution: %v", err)
	}
}
