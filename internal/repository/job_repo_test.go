package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
)

func TestJobCreateAndGet(t *testing.T) {
	ctx := context.Background()
	repos := setupTestRepos(t)

	now := time.Now().UTC().Truncate(time.Second)
	job := &models.Job{
		ID:          ulid.Make().String(),
		APIKeyID:    "key-1",
		Type:        models.TaskTypeCrawl,
		Engine:      models.EngineCheerio,
		QueueName:   models.QueueNameFor(models.TaskTypeCrawl, models.EngineCheerio),
		Status:      models.JobStatusPending,
		URL:         "https://example.com",
		PayloadJSON: `{"url":"https://example.com","limit":10}`,
		Origin:      models.JobOriginAPI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repos.Job.Create(ctx, job); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetByID returned nil")
	}
	if got.QueueName != "crawl-cheerio" || got.Status != models.JobStatusPending {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	missing, err := repos.Job.GetByID(ctx, "missing")
	if err != nil {
		t.Fatalf("GetByID missing failed: %v", err)
	}
	if missing != nil {
		t.Errorf("GetByID for missing id: got %+v, want nil", missing)
	}
}

func TestJobMarkRunningOnce(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	InsertTestJob(t, db, "job-1", "key-1", "scrape", "pending")

	claimed, err := repos.Job.MarkRunning(ctx, "job-1")
	if err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if !claimed {
		t.Fatal("first MarkRunning did not claim")
	}

	claimed, err = repos.Job.MarkRunning(ctx, "job-1")
	if err != nil {
		t.Fatalf("second MarkRunning failed: %v", err)
	}
	if claimed {
		t.Error("second MarkRunning claimed an already-running job")
	}
}

func TestJobFinishIsTerminal(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	InsertTestJob(t, db, "job-1", "key-1", "crawl", "running")

	if err := repos.Job.Finish(ctx, "job-1", models.JobStatusCompleted, true, ""); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	// A later Finish (a racing worker) must not overwrite the terminal state.
	if err := repos.Job.Finish(ctx, "job-1", models.JobStatusFailed, false, "late failure"); err != nil {
		t.Fatalf("second Finish failed: %v", err)
	}

	job, err := repos.Job.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job.Status != models.JobStatusCompleted || !job.IsSuccess {
		t.Errorf("terminal state overwritten: status=%s success=%v", job.Status, job.IsSuccess)
	}
	if job.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestJobApplyPageResult(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	InsertTestJob(t, db, "job-1", "key-1", "crawl", "running")

	for i := 0; i < 3; i++ {
		if err := repos.Job.ApplyPageResult(ctx, "job-1", true); err != nil {
			t.Fatalf("ApplyPageResult failed: %v", err)
		}
	}
	if err := repos.Job.ApplyPageResult(ctx, "job-1", false); err != nil {
		t.Fatalf("ApplyPageResult failed: %v", err)
	}

	job, err := repos.Job.GetByID(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job.Completed != 4 || job.Failed != 1 {
		t.Errorf("counters: completed=%d failed=%d, want 4/1", job.Completed, job.Failed)
	}
}

func TestJobResultsPaginationAndCascade(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	InsertTestJob(t, db, "job-1", "key-1", "crawl", "running")

	for i := 0; i < 5; i++ {
		result := &models.JobResult{
			ID:         ulid.Make().String(),
			JobID:      "job-1",
			URL:        "https://example.com/page",
			StatusCode: 200,
			Title:      "Page",
			CreatedAt:  time.Now().UTC(),
		}
		if err := repos.JobResult.Create(ctx, result); err != nil {
			t.Fatalf("Create result failed: %v", err)
		}
	}

	count, err := repos.JobResult.CountByJobID(ctx, "job-1")
	if err != nil {
		t.Fatalf("CountByJobID failed: %v", err)
	}
	if count != 5 {
		t.Errorf("count: got %d, want 5", count)
	}

	page, err := repos.JobResult.GetByJobID(ctx, "job-1", 2, 2)
	if err != nil {
		t.Fatalf("GetByJobID failed: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("page size: got %d, want 2", len(page))
	}

	// Deleting the job cascades to its results.
	if _, err := db.Exec("DELETE FROM jobs WHERE id = 'job-1'"); err != nil {
		t.Fatalf("delete job failed: %v", err)
	}
	count, _ = repos.JobResult.CountByJobID(ctx, "job-1")
	if count != 0 {
		t.Errorf("results survived job delete: %d left", count)
	}
}

func TestAPIKeyCreditsAdjustGoesNegative(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	InsertTestAPIKey(t, db, "key-1", "hash-1", 2)

	if err := repos.APIKey.AdjustCredits(ctx, "key-1", -5); err != nil {
		t.Fatalf("AdjustCredits failed: %v", err)
	}

	key, err := repos.APIKey.GetByID(ctx, "key-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if key.Credits != -3 {
		t.Errorf("credits: got %d, want -3", key.Credits)
	}
}

func TestAPIKeyHashUniqueAndLookup(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repos := NewRepositories(db)
	InsertTestAPIKey(t, db, "key-1", "hash-1", 100)

	key, err := repos.APIKey.GetByKeyHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetByKeyHash failed: %v", err)
	}
	if key == nil || key.ID != "key-1" {
		t.Fatalf("GetByKeyHash: got %+v", key)
	}

	dup := &models.APIKey{
		ID:        "key-2",
		Name:      "Dup",
		KeyHash:   "hash-1",
		KeyPrefix: "tw_dup",
		Tier:      "free",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := repos.APIKey.Create(ctx, dup); err == nil {
		t.Error("duplicate key hash did not conflict")
	}

	// Revoked keys disappear from hash lookup.
	if err := repos.APIKey.Revoke(ctx, "key-1"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	key, err = repos.APIKey.GetByKeyHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetByKeyHash after revoke failed: %v", err)
	}
	if key != nil {
		t.Error("revoked key still resolvable by hash")
	}
}
