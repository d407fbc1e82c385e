package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/trawlhq/trawl-api/internal/engine"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

type scrapeEnv struct {
	scrape *ScrapeService
	db     *sql.DB
	repos  *repository.Repositories
	engine *fakeEngine
}

func newScrapeEnv(t *testing.T) *scrapeEnv {
	t.Helper()

	db, repos := setupServiceDB(t)
	billing := NewBillingService(db, repos, true, nil)
	eng := &fakeEngine{pages: make(map[string]fakePage)}
	cache := NewCacheService(repos.PageCache, repos.MapCache, newFakeObjectStore(false), 48*time.Hour, 7*24*time.Hour, nil)
	scrape := NewScrapeService(repos, map[models.Engine]engine.Engine{models.EngineCheerio: eng}, cache, billing, nil, nil, nil, nil)

	return &scrapeEnv{scrape: scrape, db: db, repos: repos, engine: eng}
}

func (env *scrapeEnv) keyCredits(t *testing.T, keyID string) int64 {
	t.Helper()
	var credits int64
	if err := env.db.QueryRow(`SELECT credits FROM api_keys WHERE id = ?`, keyID).Scan(&credits); err != nil {
		t.Fatalf("failed to read credits: %v", err)
	}
	return credits
}

func TestScrapeChargesOneCreditAndCompletes(t *testing.T) {
	env := newScrapeEnv(t)
	ctx := context.Background()
	insertAPIKey(t, env.db, "key-1", 10)
	env.engine.pages["https://example.com"] = fakePage{}

	doc, job, err := env.scrape.Scrape(ctx, "key-1", "user-1", ScrapeRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	if doc == nil || doc.Title != "Page" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
	if job.CreditsUsed != 1 {
		t.Errorf("job credits_used = %d, want 1", job.CreditsUsed)
	}
	if got := env.keyCredits(t, "key-1"); got != 9 {
		t.Errorf("key credits = %d, want 9", got)
	}

	results, err := env.repos.JobResult.GetByJobID(ctx, job.ID, 10, 0)
	if err != nil {
		t.Fatalf("GetByJobID failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].URL != "https://example.com" {
		t.Errorf("result URL = %q", results[0].URL)
	}
}

func TestScrapeSecondHitServesFromCache(t *testing.T) {
	env := newScrapeEnv(t)
	ctx := context.Background()
	insertAPIKey(t, env.db, "key-1", 10)
	env.engine.pages["https://example.com"] = fakePage{}

	first, _, err := env.scrape.Scrape(ctx, "key-1", "user-1", ScrapeRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("first scrape failed: %v", err)
	}
	if first.FromCache {
		t.Error("first scrape should not come from cache")
	}

	second, job, err := env.scrape.Scrape(ctx, "key-1", "user-1", ScrapeRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("second scrape failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second scrape should come from cache")
	}
	// Cache hits are charged like fetches.
	if job.CreditsUsed != 1 {
		t.Errorf("cached scrape credits_used = %d, want 1", job.CreditsUsed)
	}
	if got := env.keyCredits(t, "key-1"); got != 8 {
		t.Errorf("key credits = %d, want 8", got)
	}
}

func TestScrapeInsufficientCredits(t *testing.T) {
	env := newScrapeEnv(t)
	ctx := context.Background()
	insertAPIKey(t, env.db, "key-1", 0)

	_, _, err := env.scrape.Scrape(ctx, "key-1", "user-1", ScrapeRequest{URL: "https://example.com"})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got: %v", err)
	}
	if insufficient.CurrentCredits != 0 {
		t.Errorf("current credits = %d, want 0", insufficient.CurrentCredits)
	}

	var jobs int
	if err := env.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&jobs); err != nil {
		t.Fatalf("failed to count jobs: %v", err)
	}
	if jobs != 0 {
		t.Errorf("expected no job rows, got %d", jobs)
	}
}

func TestScrapeErrorStatusFailsJob(t *testing.T) {
	env := newScrapeEnv(t)
	ctx := context.Background()
	insertAPIKey(t, env.db, "key-1", 10)
	env.engine.pages["https://example.com/missing"] = fakePage{status: 404}

	_, job, err := env.scrape.Scrape(ctx, "key-1", "user-1", ScrapeRequest{URL: "https://example.com/missing"})
	if err == nil {
		t.Fatal("expected error for 404 page")
	}

	stored, err := env.repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != models.JobStatusFailed {
		t.Errorf("job status = %q, want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("expected error message on failed job")
	}
}

func TestScrapeUnknownEngineFails(t *testing.T) {
	env := newScrapeEnv(t)
	ctx := context.Background()
	insertAPIKey(t, env.db, "key-1", 10)

	_, _, err := env.scrape.Scrape(ctx, "key-1", "user-1", ScrapeRequest{
		URL:     "https://example.com",
		Options: &models.ScrapeOptions{Engine: models.EnginePlaywright},
	})
	if err == nil {
		t.Fatal("expected error for unregistered engine")
	}
}

func TestRunJobExecutesQueuedScrape(t *testing.T) {
	env := newScrapeEnv(t)
	ctx := context.Background()
	insertAPIKey(t, env.db, "key-1", 10)
	env.engine.pages["https://example.com"] = fakePage{}

	job := &models.Job{
		ID:          "job-queued",
		APIKeyID:    "key-1",
		UserID:      "user-1",
		Type:        models.TaskTypeScrape,
		Engine:      models.EngineCheerio,
		QueueName:   models.QueueNameFor(models.TaskTypeScrape, models.EngineCheerio),
		Status:      models.JobStatusPending,
		URL:         "https://example.com",
		PayloadJSON: `{"url":"https://example.com"}`,
		Origin:      models.JobOriginScheduler,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := env.repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := env.scrape.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("RunJob failed: %v", err)
	}

	stored, err := env.repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.Status != models.JobStatusCompleted {
		t.Errorf("job status = %q, want completed", stored.Status)
	}
}
