package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// SQLitePageCacheRepository implements PageCacheRepository for SQLite.
type SQLitePageCacheRepository struct {
	db *sql.DB
}

// NewSQLitePageCacheRepository creates a new SQLite page cache repository.
func NewSQLitePageCacheRepository(db *sql.DB) *SQLitePageCacheRepository {
	return &SQLitePageCacheRepository{db: db}
}

const pageCacheColumns = `id, url_hash, options_hash, url, domain, content_hash, title, description,
	status_code, content_type, content_length, engine, has_proxy, has_screenshot,
	content_key, data_json, scraped_at, created_at`

func (r *SQLitePageCacheRepository) Upsert(ctx context.Context, entry *models.PageCacheEntry) error {
	query := `INSERT INTO page_cache (` + pageCacheColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_hash, options_hash) DO UPDATE SET
			content_hash = excluded.content_hash,
			title = excluded.title,
			description = excluded.description,
			status_code = excluded.status_code,
			content_type = excluded.content_type,
			content_length = excluded.content_length,
			engine = excluded.engine,
			has_proxy = excluded.has_proxy,
			has_screenshot = excluded.has_screenshot,
			content_key = excluded.content_key,
			data_json = excluded.data_json,
			scraped_at = excluded.scraped_at`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.URLHash, entry.OptionsHash, entry.URL, entry.Domain,
		nullString(entry.ContentHash), nullString(entry.Title), nullString(entry.Description),
		entry.StatusCode, nullString(entry.ContentType), entry.ContentLength,
		entry.Engine, boolInt(entry.HasProxy), boolInt(entry.HasScreenshot),
		nullString(entry.ContentKey), nullString(entry.DataJSON),
		entry.ScrapedAt.Format(time.RFC3339), entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page cache entry: %w", err)
	}
	return nil
}

func (r *SQLitePageCacheRepository) GetFresh(ctx context.Context, urlHash, optionsHash string, maxAge time.Duration) (*models.PageCacheEntry, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	query := `SELECT ` + pageCacheColumns + ` FROM page_cache
		WHERE url_hash = ? AND options_hash = ? AND scraped_at > ?
		ORDER BY scraped_at DESC LIMIT 1`
	return scanPageCacheEntry(r.db.QueryRowContext(ctx, query, urlHash, optionsHash, cutoff))
}

func (r *SQLitePageCacheRepository) ListByDomain(ctx context.Context, domain string, limit int) ([]*models.PageCacheEntry, error) {
	query := `SELECT ` + pageCacheColumns + ` FROM page_cache WHERE domain = ? ORDER BY scraped_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, domain, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query page cache by domain: %w", err)
	}
	defer rows.Close()

	var entries []*models.PageCacheEntry
	for rows.Next() {
		entry, err := scanPageCacheEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanPageCacheEntry(s rowScanner) (*models.PageCacheEntry, error) {
	var entry models.PageCacheEntry
	var contentHash, title, description, contentType, contentKey, dataJSON sql.NullString
	var hasProxy, hasScreenshot int
	var scrapedAt, createdAt string

	err := s.Scan(
		&entry.ID, &entry.URLHash, &entry.OptionsHash, &entry.URL, &entry.Domain,
		&contentHash, &title, &description, &entry.StatusCode, &contentType,
		&entry.ContentLength, &entry.Engine, &hasProxy, &hasScreenshot,
		&contentKey, &dataJSON, &scrapedAt, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page cache entry: %w", err)
	}

	entry.ContentHash = contentHash.String
	entry.Title = title.String
	entry.Description = description.String
	entry.ContentType = contentType.String
	entry.ContentKey = contentKey.String
	entry.DataJSON = dataJSON.String
	entry.HasProxy = hasProxy == 1
	entry.HasScreenshot = hasScreenshot == 1
	entry.ScrapedAt, _ = time.Parse(time.RFC3339, scrapedAt)
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &entry, nil
}

// SQLiteMapCacheRepository implements MapCacheRepository for SQLite.
type SQLiteMapCacheRepository struct {
	db *sql.DB
}

// NewSQLiteMapCacheRepository creates a new SQLite map cache repository.
func NewSQLiteMapCacheRepository(db *sql.DB) *SQLiteMapCacheRepository {
	return &SQLiteMapCacheRepository{db: db}
}

const mapCacheColumns = `id, domain_hash, domain, source, url_count, content_key, data_json, discovered_at, created_at`

func (r *SQLiteMapCacheRepository) Upsert(ctx context.Context, entry *models.MapCacheEntry) error {
	query := `INSERT INTO map_cache (` + mapCacheColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain_hash, source) DO UPDATE SET
			url_count = excluded.url_count,
			content_key = excluded.content_key,
			data_json = excluded.data_json,
			discovered_at = excluded.discovered_at`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.DomainHash, entry.Domain, entry.Source, entry.URLCount,
		nullString(entry.ContentKey), nullString(entry.DataJSON),
		entry.DiscoveredAt.Format(time.RFC3339), entry.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert map cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteMapCacheRepository) GetFresh(ctx context.Context, domainHash string, source models.MapSource, maxAge time.Duration) (*models.MapCacheEntry, error) {
	cutoff := time.Now().Add(-maxAge).Format(time.RFC3339)
	query := `SELECT ` + mapCacheColumns + ` FROM map_cache
		WHERE domain_hash = ? AND source = ? AND discovered_at > ?
		ORDER BY discovered_at DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, domainHash, source, cutoff)

	var entry models.MapCacheEntry
	var contentKey, dataJSON sql.NullString
	var discoveredAt, createdAt string
	err := row.Scan(&entry.ID, &entry.DomainHash, &entry.Domain, &entry.Source,
		&entry.URLCount, &contentKey, &dataJSON, &discoveredAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan map cache entry: %w", err)
	}

	entry.ContentKey = contentKey.String
	entry.DataJSON = dataJSON.String
	entry.DiscoveredAt, _ = time.Parse(time.RFC3339, discoveredAt)
	entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &entry, nil
}
