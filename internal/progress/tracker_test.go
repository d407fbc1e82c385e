package progress

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/queue"
)

type fakeJobStore struct {
	mu          sync.Mutex
	job         *models.Job
	completed   int
	failed      int
	finishCalls int
	finishState models.JobStatus
	finishError string
}

func (f *fakeJobStore) GetByID(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.job == nil || f.job.ID != id {
		return nil, nil
	}
	cp := *f.job
	return &cp, nil
}

func (f *fakeJobStore) ApplyPageResultTx(ctx context.Context, tx *sql.Tx, jobID string, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	if !success {
		f.failed++
	}
	return nil
}

func (f *fakeJobStore) Finish(ctx context.Context, jobID string, status models.JobStatus, isSuccess bool, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishCalls++
	f.finishState = status
	f.finishError = errorMessage
	return nil
}

type fakeBiller struct {
	mu        sync.Mutex
	remaining int64
	charges   []string
}

func (f *fakeBiller) Enabled() bool { return true }

func (f *fakeBiller) ChargeDeltaTx(ctx context.Context, tx *sql.Tx, jobID string, delta int64, reason, key string, details *models.ChargeDetails) (*models.ChargeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.charges {
		if k == key {
			return &models.ChargeResult{Charged: 0, RemainingCredits: f.remaining}, nil
		}
	}
	f.charges = append(f.charges, key)
	f.remaining -= delta
	return &models.ChargeResult{Charged: delta, RemainingCredits: f.remaining}, nil
}

func newTestTracker(t *testing.T, jobs JobStore, billing Biller) (*Tracker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewTracker(client, db, jobs, billing, nil, queue.NewRegistry(client), nil), client
}

func TestFinalizeExactlyOnceUnderContention(t *testing.T) {
	ctx := context.Background()
	store := &fakeJobStore{job: &models.Job{ID: "job-1", APIKeyID: "key-1", Type: models.TaskTypeCrawl}}
	tracker, _ := newTestTracker(t, store, nil)

	const children = 50
	const limit = 10

	if err := tracker.EnsureStarted(ctx, "job-1"); err != nil {
		t.Fatalf("EnsureStarted failed: %v", err)
	}
	if err := tracker.IncrementEnqueued(ctx, "job-1", children); err != nil {
		t.Fatalf("IncrementEnqueued failed: %v", err)
	}

	var wg sync.WaitGroup
	var finalizeWins int64
	var mu sync.Mutex
	for i := 0; i < children; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.MarkPageDone(ctx, "job-1", true, limit); err != nil {
				t.Errorf("MarkPageDone failed: %v", err)
				return
			}
			won, err := tracker.TryFinalize(ctx, "job-1", "", FinalizeOptions{Target: limit})
			if err != nil {
				t.Errorf("TryFinalize failed: %v", err)
				return
			}
			if won {
				mu.Lock()
				finalizeWins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if finalizeWins != 1 {
		t.Errorf("finalize wins: got %d, want 1", finalizeWins)
	}
	if store.finishCalls != 1 {
		t.Errorf("job Finish calls: got %d, want 1", store.finishCalls)
	}
	if store.finishState != models.JobStatusCompleted {
		t.Errorf("terminal status: got %s, want completed", store.finishState)
	}

	snap, err := tracker.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.Finalized {
		t.Error("crawl not marked finalized")
	}
	if snap.Done < int64(limit) {
		t.Errorf("done: got %d, want >= %d", snap.Done, limit)
	}
}

func TestQueueDrainedFinalize(t *testing.T) {
	ctx := context.Background()
	store := &fakeJobStore{job: &models.Job{ID: "job-1", APIKeyID: "key-1"}}
	tracker, _ := newTestTracker(t, store, nil)

	if err := tracker.IncrementEnqueued(ctx, "job-1", 3); err != nil {
		t.Fatalf("IncrementEnqueued failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tracker.MarkPageDone(ctx, "job-1", true, 0); err != nil {
			t.Fatalf("MarkPageDone failed: %v", err)
		}
	}

	// A producer still enqueuing blocks the drain policy.
	if err := tracker.BeginEnqueue(ctx, "job-1"); err != nil {
		t.Fatalf("BeginEnqueue failed: %v", err)
	}
	won, err := tracker.TryFinalize(ctx, "job-1", "", FinalizeOptions{})
	if err != nil {
		t.Fatalf("TryFinalize failed: %v", err)
	}
	if won {
		t.Error("finalized while a producer was still enqueuing")
	}

	if err := tracker.EndEnqueue(ctx, "job-1"); err != nil {
		t.Fatalf("EndEnqueue failed: %v", err)
	}
	won, err = tracker.TryFinalize(ctx, "job-1", "", FinalizeOptions{})
	if err != nil {
		t.Fatalf("TryFinalize failed: %v", err)
	}
	if !won {
		t.Error("drained crawl did not finalize")
	}
}

func TestEnqueuingFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	tracker, client := newTestTracker(t, &fakeJobStore{}, nil)

	// Unpaired EndEnqueue must not push the counter negative.
	if err := tracker.EndEnqueue(ctx, "job-1"); err != nil {
		t.Fatalf("EndEnqueue failed: %v", err)
	}
	if err := tracker.BeginEnqueue(ctx, "job-1"); err != nil {
		t.Fatalf("BeginEnqueue failed: %v", err)
	}
	if err := tracker.EndEnqueue(ctx, "job-1"); err != nil {
		t.Fatalf("EndEnqueue failed: %v", err)
	}
	if err := tracker.EndEnqueue(ctx, "job-1"); err != nil {
		t.Fatalf("EndEnqueue failed: %v", err)
	}

	v, err := client.HGet(ctx, "crawl:job-1", "enqueuing").Int64()
	if err != nil && err != redis.Nil {
		t.Fatalf("HGet failed: %v", err)
	}
	if v < 0 {
		t.Errorf("enqueuing went negative: %d", v)
	}
}

func TestCancelShortCircuits(t *testing.T) {
	ctx := context.Background()
	store := &fakeJobStore{job: &models.Job{ID: "job-1"}}
	tracker, _ := newTestTracker(t, store, nil)

	if err := tracker.IncrementEnqueued(ctx, "job-1", 5); err != nil {
		t.Fatalf("IncrementEnqueued failed: %v", err)
	}
	if err := tracker.Cancel(ctx, "job-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	cancelled, err := tracker.IsCancelled(ctx, "job-1")
	if err != nil {
		t.Fatalf("IsCancelled failed: %v", err)
	}
	if !cancelled {
		t.Error("IsCancelled returned false after Cancel")
	}

	snap, err := tracker.MarkPageDone(ctx, "job-1", true, 0)
	if err != nil {
		t.Fatalf("MarkPageDone failed: %v", err)
	}
	if snap.Done != 0 {
		t.Errorf("MarkPageDone incremented after cancel: done=%d", snap.Done)
	}
	if store.completed != 0 {
		t.Errorf("job counters touched after cancel: completed=%d", store.completed)
	}

	won, err := tracker.TryFinalize(ctx, "job-1", "", FinalizeOptions{Target: 1})
	if err != nil {
		t.Fatalf("TryFinalize failed: %v", err)
	}
	if won {
		t.Error("TryFinalize won on a cancelled crawl")
	}
}

func TestCreditExhaustionFinalizes(t *testing.T) {
	ctx := context.Background()
	store := &fakeJobStore{job: &models.Job{ID: "job-1", APIKeyID: "key-1"}}
	biller := &fakeBiller{remaining: 2}
	tracker, _ := newTestTracker(t, store, biller)

	if err := tracker.IncrementEnqueued(ctx, "job-1", 10); err != nil {
		t.Fatalf("IncrementEnqueued failed: %v", err)
	}

	// Page 1 is free (covered up front); pages 2 and 3 drain the 2 credits.
	for i := 0; i < 3; i++ {
		if _, err := tracker.MarkPageDone(ctx, "job-1", true, 10); err != nil {
			t.Fatalf("MarkPageDone failed: %v", err)
		}
	}

	snap, err := tracker.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.Finalized {
		t.Fatal("crawl not finalized after credits ran out")
	}

	summary, err := tracker.GetSummary(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary == nil {
		t.Fatal("no summary persisted")
	}
	if summary.Reason != ReasonCreditsExhausted {
		t.Errorf("summary reason: got %q, want %q", summary.Reason, ReasonCreditsExhausted)
	}
}

func TestPerPageChargesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	store := &fakeJobStore{job: &models.Job{ID: "job-1", APIKeyID: "key-1"}}
	biller := &fakeBiller{remaining: 100}
	tracker, _ := newTestTracker(t, store, biller)

	if err := tracker.IncrementEnqueued(ctx, "job-1", 5); err != nil {
		t.Fatalf("IncrementEnqueued failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := tracker.MarkPageDone(ctx, "job-1", true, 5); err != nil {
			t.Fatalf("MarkPageDone failed: %v", err)
		}
	}

	// 5 pages done, first covered up front: 4 distinct charge keys.
	if got := len(biller.charges); got != 4 {
		t.Errorf("charge count: got %d, want 4", got)
	}
	seen := make(map[string]bool)
	for _, k := range biller.charges {
		if seen[k] {
			t.Errorf("duplicate charge key %s", k)
		}
		seen[k] = true
	}
}

func TestSweeperDropsFinalizedMembers(t *testing.T) {
	ctx := context.Background()
	store := &fakeJobStore{job: &models.Job{
		ID:          "job-1",
		APIKeyID:    "key-1",
		QueueName:   "crawl-cheerio",
		PayloadJSON: `{"url":"https://example.com","limit":2}`,
	}}
	tracker, client := newTestTracker(t, store, nil)
	sweeper := NewSweeper(client, tracker, store, time.Minute, nil)

	if err := tracker.IncrementEnqueued(ctx, "job-1", 2); err != nil {
		t.Fatalf("IncrementEnqueued failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := tracker.MarkPageDone(ctx, "job-1", true, 2); err != nil {
			t.Fatalf("MarkPageDone failed: %v", err)
		}
	}

	// MarkPageDone enrolled the job at >= 90% of the limit.
	members, err := client.SMembers(ctx, PendingFinalizeSet).Result()
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("finalize set members: got %d, want 1", len(members))
	}

	sweeper.Sweep(ctx)

	snap, err := tracker.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if !snap.Finalized {
		t.Error("sweeper did not finalize a limit-reached crawl")
	}

	n, err := client.SCard(ctx, PendingFinalizeSet).Result()
	if err != nil {
		t.Fatalf("SCard failed: %v", err)
	}
	if n != 0 {
		t.Errorf("finalize set not drained: %d members left", n)
	}

	// Another sweep over an already-finalized crawl is a no-op.
	client.SAdd(ctx, PendingFinalizeSet, "job-1")
	sweeper.Sweep(ctx)
	if n, _ := client.SCard(ctx, PendingFinalizeSet).Result(); n != 0 {
		t.Errorf("finalized member not dropped: %d left", n)
	}
}
