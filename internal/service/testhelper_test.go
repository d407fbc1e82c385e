package service

import (
	"database/sql"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/trawlhq/trawl-api/internal/database/migrations"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// setupServiceDB creates a migrated in-memory SQLite database for service
// tests, cleaned up when the test completes.
func setupServiceDB(t *testing.T) (*sql.DB, *repository.Repositories) {
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

	return db, repository.NewRepositories(db)
}

// insertAPIKey inserts a test api key with the given credit balance.
func insertAPIKey(t *testing.T, db *sql.DB, id string, credits int64) {
	t.Helper()
	query := `
		INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, tier, credits, is_active, created_at)
		VALUES (?, 'user-1', 'Test Key', 'hash-' || ?, 'tw_test', 'free', ?, 1, strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`
	if _, err := db.Exec(query, id, id, credits); err != nil {
		t.Fatalf("failed to insert test API key: %v", err)
	}
}

// insertJob inserts a test job owned by the given api key.
func insertJob(t *testing.T, db *sql.DB, id, apiKeyID, taskType, status string) {
	t.Helper()
	query := `
		INSERT INTO jobs (id, api_key_id, type, engine, queue_name, status, url, origin, created_at, updated_at)
		VALUES (?, ?, ?, 'cheerio', ? || '-cheerio', ?, 'https://example.com', 'api', strftime('%Y-%m-%dT%H:%M:%SZ','now'), strftime('%Y-%m-%dT%H:%M:%SZ','now'))
	`
	if _, err := db.Exec(query, id, apiKeyID, taskType, taskType, status); err != nil {
		t.Fatalf("failed to insert test job: %v", err)
	}
}
