package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
)

func testPageEntry(urlHash, optionsHash string, scrapedAt time.Time) *models.PageCacheEntry {
	return &models.PageCacheEntry{
		ID:            ulid.Make().String(),
		URLHash:       urlHash,
		OptionsHash:   optionsHash,
		URL:           "https://example.com/page",
		Domain:        "example.com",
		ContentHash:   "abc",
		Title:         "Example",
		StatusCode:    200,
		ContentType:   "text/html",
		ContentLength: 1024,
		Engine:        models.EngineCheerio,
		ScrapedAt:     scrapedAt,
		CreatedAt:     scrapedAt,
	}
}

func TestPageCacheUpsertReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	repos := setupTestRepos(t)

	now := time.Now().UTC().Truncate(time.Second)
	first := testPageEntry("u1", "o1", now.Add(-time.Hour))
	if err := repos.PageCache.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	second := testPageEntry("u1", "o1", now)
	second.Title = "Example (fresh)"
	second.ContentHash = "def"
	if err := repos.PageCache.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	got, err := repos.PageCache.GetFresh(ctx, "u1", "o1", 24*time.Hour)
	if err != nil {
		t.Fatalf("GetFresh failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetFresh returned nil after upsert")
	}
	// The conflict keeps the original row id; the mutable columns update.
	if got.ID != first.ID {
		t.Errorf("row id changed on upsert: got %s, want %s", got.ID, first.ID)
	}
	if got.Title != "Example (fresh)" || got.ContentHash != "def" {
		t.Errorf("upsert did not replace columns: %+v", got)
	}

	entries, err := repos.PageCache.ListByDomain(ctx, "example.com", 10)
	if err != nil {
		t.Fatalf("ListByDomain failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("upsert created a second row: %d entries", len(entries))
	}
}

func TestPageCacheGetFreshHonorsMaxAge(t *testing.T) {
	ctx := context.Background()
	repos := setupTestRepos(t)

	stale := testPageEntry("u1", "o1", time.Now().UTC().Add(-2*time.Hour))
	if err := repos.PageCache.Upsert(ctx, stale); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := repos.PageCache.GetFresh(ctx, "u1", "o1", time.Hour)
	if err != nil {
		t.Fatalf("GetFresh failed: %v", err)
	}
	if got != nil {
		t.Errorf("entry older than max age returned: %+v", got)
	}

	got, err = repos.PageCache.GetFresh(ctx, "u1", "o1", 3*time.Hour)
	if err != nil {
		t.Fatalf("GetFresh with wider window failed: %v", err)
	}
	if got == nil {
		t.Error("entry within max age not returned")
	}
}

func TestPageCacheOptionsHashIsolation(t *testing.T) {
	ctx := context.Background()
	repos := setupTestRepos(t)

	now := time.Now().UTC()
	if err := repos.PageCache.Upsert(ctx, testPageEntry("u1", "o1", now)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := repos.PageCache.GetFresh(ctx, "u1", "o2", time.Hour)
	if err != nil {
		t.Fatalf("GetFresh failed: %v", err)
	}
	if got != nil {
		t.Error("entry served for a different options hash")
	}
}

func TestMapCacheUpsertAndFreshness(t *testing.T) {
	ctx := context.Background()
	repos := setupTestRepos(t)

	now := time.Now().UTC().Truncate(time.Second)
	entry := &models.MapCacheEntry{
		ID:           ulid.Make().String(),
		DomainHash:   "d1",
		Domain:       "example.com",
		Source:       models.MapSourceSitemap,
		URLCount:     42,
		ContentKey:   "maps/d1/sitemap.json",
		DiscoveredAt: now.Add(-time.Hour),
		CreatedAt:    now.Add(-time.Hour),
	}
	if err := repos.MapCache.Upsert(ctx, entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	refresh := *entry
	refresh.ID = ulid.Make().String()
	refresh.URLCount = 50
	refresh.DiscoveredAt = now
	if err := repos.MapCache.Upsert(ctx, &refresh); err != nil {
		t.Fatalf("refresh Upsert failed: %v", err)
	}

	got, err := repos.MapCache.GetFresh(ctx, "d1", models.MapSourceSitemap, 30*time.Minute)
	if err != nil {
		t.Fatalf("GetFresh failed: %v", err)
	}
	if got == nil {
		t.Fatal("refreshed entry not returned")
	}
	if got.URLCount != 50 {
		t.Errorf("url count: got %d, want 50", got.URLCount)
	}

	// Sources are cached independently.
	got, err = repos.MapCache.GetFresh(ctx, "d1", models.MapSourceSearch, 24*time.Hour)
	if err != nil {
		t.Fatalf("GetFresh for other source failed: %v", err)
	}
	if got != nil {
		t.Error("sitemap entry served for search source")
	}
}
