// Package migrations applies the schema migrations registered by the
// versioned migration files in this package. Versions are timestamps in
// YYYYMMDD-HHmmss form; each file registers itself from init() and every
// version is applied at most once, recorded in schema_migrations.
package migrations

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	// Timestamp orders migrations and keys the applied-version record,
	// e.g. "20260111-143022".
	Timestamp   string
	Description string
	Up          []string // SQL statements, applied in order
}

var registry []Migration

// Register adds a migration to the registry. Migration files call it from
// their init() functions.
func Register(m Migration) {
	registry = append(registry, m)
}

// Run applies every registered migration that has not been applied yet, in
// timestamp order. The schema_migrations tracking table is created on first
// use.
func Run(db *sql.DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	sort.Slice(registry, func(i, j int) bool {
		return registry[i].Timestamp < registry[j].Timestamp
	})

	for _, m := range registry {
		if applied[m.Timestamp] {
			continue
		}
		logger.Info("applying migration", "version", m.Timestamp, "description", m.Description)
		if err := apply(db, m); err != nil {
			return fmt.Errorf("migration %s (%s): %w", m.Timestamp, m.Description, err)
		}
	}

	return nil
}

// apply runs one migration and records it, all in a single transaction.
func apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.Up {
		if _, err := tx.Exec(stmt); err != nil {
			if ignorable(err, stmt) {
				continue
			}
			return fmt.Errorf("statement failed: %w\n%s", err, stmt)
		}
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
		m.Timestamp, m.Description, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// ignorable reports whether a statement error means the change is already in
// place: re-adding a column or re-creating an index on a database that was
// migrated before the tracking row landed.
func ignorable(err error, stmt string) bool {
	msg := err.Error()
	if strings.Contains(msg, "duplicate column") {
		return true
	}
	return strings.Contains(msg, "already exists") && strings.Contains(stmt, "CREATE INDEX")
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// AppliedMigration is one row of the schema_migrations table.
type AppliedMigration struct {
	Timestamp   string
	Description string
	AppliedAt   time.Time
}

// GetAppliedMigrations lists the applied migrations in version order.
func GetAppliedMigrations(db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.Query("SELECT version, description, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		var appliedAt string
		if err := rows.Scan(&m.Timestamp, &m.Description, &appliedAt); err != nil {
			return nil, err
		}
		m.AppliedAt, _ = time.Parse(time.RFC3339, appliedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetLatestVersion returns the newest applied version, or "" when the
// database has never been migrated.
func GetLatestVersion(db *sql.DB) (string, error) {
	var version sql.NullString
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return version.String, nil
}

// GetMigrationCount returns how many migrations have been applied.
func GetMigrationCount(db *sql.DB) (int, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
