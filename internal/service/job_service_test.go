package service

import (
	"context"
	"testing"
)

func TestJobGetScopedToKey(t *testing.T) {
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertAPIKey(t, db, "key-2", 100)
	insertJob(t, db, "job-1", "key-1", "scrape", "completed")

	jobs := NewJobService(repos, nil)
	ctx := context.Background()

	got, err := jobs.Get(ctx, "key-1", "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ID != "job-1" {
		t.Fatalf("got %+v", got)
	}

	other, err := jobs.Get(ctx, "key-2", "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if other != nil {
		t.Error("job visible to non-owner key")
	}

	missing, err := jobs.Get(ctx, "key-1", "no-such-job")
	if err != nil || missing != nil {
		t.Errorf("missing job: got %+v, %v", missing, err)
	}
}

func TestJobListNewestFirst(t *testing.T) {
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertJob(t, db, "job-a", "key-1", "scrape", "completed")
	insertJob(t, db, "job-b", "key-1", "crawl", "running")

	jobs := NewJobService(repos, nil)
	list, err := jobs.List(context.Background(), "key-1", 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("jobs: got %d, want 2", len(list))
	}
}

func TestJobResultsOwnershipAndPaging(t *testing.T) {
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)
	insertAPIKey(t, db, "key-2", 100)
	insertJob(t, db, "job-1", "key-1", "crawl", "completed")
	for i := 0; i < 3; i++ {
		query := `INSERT INTO job_results (id, job_id, url, status_code, created_at)
			VALUES ('res-' || ?, 'job-1', 'https://example.com/' || ?, 200, strftime('%Y-%m-%dT%H:%M:%SZ','now'))`
		if _, err := db.Exec(query, i, i); err != nil {
			t.Fatalf("failed to insert result: %v", err)
		}
	}

	jobs := NewJobService(repos, nil)
	ctx := context.Background()

	results, total, err := jobs.Results(ctx, "key-1", "job-1", 2, 0)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if total != 3 || len(results) != 2 {
		t.Errorf("page: got %d of %d, want 2 of 3", len(results), total)
	}

	results, total, err = jobs.Results(ctx, "key-2", "job-1", 10, 0)
	if err != nil {
		t.Fatalf("Results failed: %v", err)
	}
	if results != nil || total != 0 {
		t.Error("results visible to non-owner key")
	}
}
