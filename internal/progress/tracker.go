// Package progress coordinates crawl fan-out: one seed page spawns many
// child page jobs across workers, and the shared Redis counters here decide
// when the crawl as a whole is done. Finalization is exactly-once even when
// the last pages finish concurrently on different workers.
package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/queue"
)

// PendingFinalizeSet holds job ids near their page limit; the sweeper calls
// TryFinalize on them so a race between the last MarkPageDone and finalize
// cannot leave a crawl hanging.
const PendingFinalizeSet = "jobs:pending_finalize"

const summaryTTL = 24 * time.Hour

// ReasonCreditsExhausted marks a crawl finalized because the owner's balance
// went non-positive mid-crawl.
const ReasonCreditsExhausted = "credits_exhausted"

func crawlKey(jobID string) string   { return "crawl:" + jobID }
func summaryKey(jobID string) string { return "crawl:summary:" + jobID }

// JobStore is the slice of job persistence the tracker needs.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*models.Job, error)
	// ApplyPageResultTx bumps the job's completed (and failed) counters and
	// refreshes updated_at, which doubles as the crawl liveness signal. It
	// runs in the caller's transaction so the counter bump and the per-page
	// charge commit together.
	ApplyPageResultTx(ctx context.Context, tx *sql.Tx, jobID string, success bool) error
	// Finish moves the job to a terminal status.
	Finish(ctx context.Context, jobID string, status models.JobStatus, isSuccess bool, errorMessage string) error
}

// Biller charges per-page credits inside a caller-owned transaction.
type Biller interface {
	Enabled() bool
	ChargeDeltaTx(ctx context.Context, tx *sql.Tx, jobID string, delta int64, reason, idempotencyKey string, details *models.ChargeDetails) (*models.ChargeResult, error)
}

// Emitter delivers lifecycle webhooks.
type Emitter interface {
	Emit(ctx context.Context, apiKeyID string, event models.WebhookEventType, resourceID string, payload map[string]any)
}

// Snapshot is a point-in-time read of a crawl's counters.
type Snapshot struct {
	Enqueued   int64  `json:"enqueued"`
	Done       int64  `json:"done"`
	Succeeded  int64  `json:"succeeded"`
	Failed     int64  `json:"failed"`
	Enqueuing  int64  `json:"enqueuing"`
	Finalized  bool   `json:"finalized"`
	Cancelled  bool   `json:"cancelled"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// Summary is the terminal report persisted when a crawl finalizes.
type Summary struct {
	JobID      string `json:"job_id"`
	Total      int64  `json:"total"`
	Succeeded  int64  `json:"succeeded"`
	Failed     int64  `json:"failed"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// FinalizeOptions parameterize a finalize attempt.
type FinalizeOptions struct {
	// Target is the crawl's page limit; done >= Target finalizes. Zero means
	// only the queue-drained policy applies.
	Target int
	// Reason is recorded on the summary when set.
	Reason string
}

// Tracker owns the per-crawl counters and the finalize decision. db scopes
// each page's counter bump and charge to a single transaction.
type Tracker struct {
	client   *redis.Client
	db       *sql.DB
	jobs     JobStore
	billing  Biller
	webhooks Emitter
	queues   *queue.Registry
	logger   *slog.Logger
}

// NewTracker creates a tracker. billing and webhooks may be nil.
func NewTracker(client *redis.Client, db *sql.DB, jobs JobStore, billing Biller, webhooks Emitter, queues *queue.Registry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		client:   client,
		db:       db,
		jobs:     jobs,
		billing:  billing,
		webhooks: webhooks,
		queues:   queues,
		logger:   logger,
	}
}

// EnsureStarted records the crawl start time once.
func (t *Tracker) EnsureStarted(ctx context.Context, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := t.client.HSetNX(ctx, crawlKey(jobID), "started_at", now).Err(); err != nil {
		return fmt.Errorf("failed to mark crawl started: %w", err)
	}
	return nil
}

// BeginEnqueue marks a producer as actively adding child URLs. The drain
// check treats enqueuing > 0 as "more pages may still arrive".
func (t *Tracker) BeginEnqueue(ctx context.Context, jobID string) error {
	if err := t.client.HIncrBy(ctx, crawlKey(jobID), "enqueuing", 1).Err(); err != nil {
		return fmt.Errorf("failed to begin enqueue: %w", err)
	}
	return nil
}

// EndEnqueue closes a BeginEnqueue bracket. The counter floors at zero: an
// unpaired EndEnqueue (crash recovery paths) must not push it negative and
// wedge the drain check.
func (t *Tracker) EndEnqueue(ctx context.Context, jobID string) error {
	key := crawlKey(jobID)
	for attempt := 0; attempt < 5; attempt++ {
		err := t.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.HGet(ctx, key, "enqueuing").Int64()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			if cur <= 0 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, "enqueuing", cur-1)
				return nil
			})
			return err
		}, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("failed to end enqueue: %w", err)
	}
	return fmt.Errorf("failed to end enqueue for %s: too many concurrent writers", jobID)
}

// IncrementEnqueued adds n to the enqueued counter and ensures started_at.
func (t *Tracker) IncrementEnqueued(ctx context.Context, jobID string, n int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := t.client.TxPipeline()
	pipe.HIncrBy(ctx, crawlKey(jobID), "enqueued", n)
	pipe.HSetNX(ctx, crawlKey(jobID), "started_at", now)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to increment enqueued: %w", err)
	}
	return nil
}

// MarkPageDone records one finished page: counters, job row, per-page
// billing. limit is the crawl's page limit (0 = unlimited). Returns the
// post-increment snapshot.
func (t *Tracker) MarkPageDone(ctx context.Context, jobID string, success bool, limit int) (*Snapshot, error) {
	snap, err := t.Snapshot(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if snap.Finalized || snap.Cancelled {
		return snap, nil
	}

	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	pipe := t.client.TxPipeline()
	doneCmd := pipe.HIncrBy(ctx, crawlKey(jobID), "done", 1)
	pipe.HIncrBy(ctx, crawlKey(jobID), outcome, 1)
	enqCmd := pipe.HGet(ctx, crawlKey(jobID), "enqueued")
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to mark page done: %w", err)
	}
	done := doneCmd.Val()
	enqueued, _ := enqCmd.Int64()

	res, err := t.recordPage(ctx, jobID, success, done, limit)
	if err != nil {
		t.logger.Error("failed to record page outcome", "job_id", jobID, "page", done, "error", err)
	}
	if res != nil && res.Charged > 0 && res.RemainingCredits <= 0 {
		finalized, ferr := t.TryFinalize(ctx, jobID, "", FinalizeOptions{
			Target: int(done),
			Reason: ReasonCreditsExhausted,
		})
		if ferr != nil {
			t.logger.Error("credit-exhaustion finalize failed", "job_id", jobID, "error", ferr)
		} else if finalized {
			t.logger.Info("crawl finalized on exhausted credits", "job_id", jobID, "done", done)
		}
	}

	if limit > 0 && float64(done) >= constants.PendingFinalizeThreshold*float64(limit) {
		if err := t.client.SAdd(ctx, PendingFinalizeSet, jobID).Err(); err != nil {
			t.logger.Warn("failed to enroll job in finalize set", "job_id", jobID, "error", err)
		}
	}

	snap.Done = done
	snap.Enqueued = enqueued
	if success {
		snap.Succeeded++
	} else {
		snap.Failed++
	}
	return snap, nil
}

// recordPage applies the job row's page counters and the per-page charge in
// one database transaction: a page is either counted and charged, or
// neither. Returns the charge result, nil when no charge applied.
func (t *Tracker) recordPage(ctx context.Context, jobID string, success bool, done int64, limit int) (*models.ChargeResult, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin page transaction: %w", err)
	}
	defer tx.Rollback()

	if err := t.jobs.ApplyPageResultTx(ctx, tx, jobID, success); err != nil {
		return nil, err
	}

	// The seed page is covered by the up-front charge; pages beyond the
	// limit are free because the crawl should not have fetched them.
	var res *models.ChargeResult
	if t.billing != nil && t.billing.Enabled() && success && done > 1 && (limit <= 0 || done <= int64(limit)) {
		key := fmt.Sprintf("crawl:page-success:%s:%d", jobID, done)
		res, err = t.billing.ChargeDeltaTx(ctx, tx, jobID, 1, "crawl_page", key, &models.ChargeDetails{
			Total: 1,
			Items: []models.ChargeDetailItem{{Type: "page_scrape", Credits: 1}},
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit page transaction: %w", err)
	}
	return res, nil
}

// TryFinalize closes the crawl when the limit is reached or the queue has
// drained. Exactly one concurrent caller wins; the winner updates the job
// row, persists the summary, and emits the lifecycle webhook. queueName, when
// set, has its job state cleaned up.
func (t *Tracker) TryFinalize(ctx context.Context, jobID, queueName string, opts FinalizeOptions) (bool, error) {
	snap, err := t.Snapshot(ctx, jobID)
	if err != nil {
		return false, err
	}
	if snap.Finalized {
		return false, nil
	}

	reachedLimit := opts.Target > 0 && snap.Done >= int64(opts.Target)
	queueDrained := snap.Enqueued > 0 && snap.Done == snap.Enqueued && snap.Enqueuing == 0
	if !reachedLimit && !queueDrained {
		return false, nil
	}

	won, err := t.client.HSetNX(ctx, crawlKey(jobID), "finalized", 1).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim finalize: %w", err)
	}
	if !won {
		return false, nil
	}

	finishedAt := time.Now().UTC().Format(time.RFC3339)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, crawlKey(jobID), "finished_at", finishedAt)
	pipe.Expire(ctx, crawlKey(jobID), summaryTTL)
	pipe.SRem(ctx, PendingFinalizeSet, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		t.logger.Warn("finalize bookkeeping failed", "job_id", jobID, "error", err)
	}

	// Re-read so the summary reflects pages that landed between the
	// snapshot and winning the race.
	final, err := t.Snapshot(ctx, jobID)
	if err != nil {
		final = snap
	}

	summary := Summary{
		JobID:      jobID,
		Total:      final.Enqueued,
		Succeeded:  final.Succeeded,
		Failed:     final.Failed,
		StartedAt:  final.StartedAt,
		FinishedAt: finishedAt,
		Reason:     opts.Reason,
	}
	if raw, err := json.Marshal(summary); err == nil {
		if err := t.client.Set(ctx, summaryKey(jobID), raw, summaryTTL).Err(); err != nil {
			t.logger.Warn("failed to persist crawl summary", "job_id", jobID, "error", err)
		}
	}

	if queueName != "" && t.queues != nil {
		if err := t.queues.Get(queueName).Remove(ctx, jobID); err != nil {
			t.logger.Warn("failed to clean up queue state", "job_id", jobID, "error", err)
		}
	}

	event := models.WebhookEventCrawlCompleted
	status := models.JobStatusCompleted
	isSuccess := true
	errorMessage := ""
	if final.Succeeded == 0 {
		event = models.WebhookEventCrawlFailed
		status = models.JobStatusFailed
		isSuccess = false
		errorMessage = "No pages were successfully processed"
	}
	if err := t.jobs.Finish(ctx, jobID, status, isSuccess, errorMessage); err != nil {
		t.logger.Error("failed to finish job row", "job_id", jobID, "error", err)
	}

	if t.webhooks != nil {
		if job, err := t.jobs.GetByID(ctx, jobID); err == nil && job != nil {
			t.webhooks.Emit(ctx, job.APIKeyID, event, jobID, map[string]any{
				"job_id":    jobID,
				"total":     summary.Total,
				"succeeded": summary.Succeeded,
				"failed":    summary.Failed,
				"reason":    summary.Reason,
			})
		}
	}

	t.logger.Info("crawl finalized",
		"job_id", jobID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"reason", opts.Reason)
	return true, nil
}

// Cancel marks the crawl cancelled and finalized so in-flight workers
// short-circuit. The job row transition is the caller's responsibility.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	pipe := t.client.TxPipeline()
	pipe.HSet(ctx, crawlKey(jobID), map[string]interface{}{
		"cancelled":   1,
		"finalized":   1,
		"finished_at": now,
	})
	pipe.Expire(ctx, crawlKey(jobID), summaryTTL)
	pipe.SRem(ctx, PendingFinalizeSet, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel crawl %s: %w", jobID, err)
	}
	return nil
}

// IsCancelled reports whether the crawl was cancelled. Workers check this
// before fetching each page.
func (t *Tracker) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	v, err := t.client.HGet(ctx, crawlKey(jobID), "cancelled").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cancelled flag: %w", err)
	}
	return v == "1", nil
}

// Snapshot reads all counters for a crawl.
func (t *Tracker) Snapshot(ctx context.Context, jobID string) (*Snapshot, error) {
	fields, err := t.client.HGetAll(ctx, crawlKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl state: %w", err)
	}
	snap := &Snapshot{
		Enqueued:   parseCounter(fields["enqueued"]),
		Done:       parseCounter(fields["done"]),
		Succeeded:  parseCounter(fields["succeeded"]),
		Failed:     parseCounter(fields["failed"]),
		Enqueuing:  parseCounter(fields["enqueuing"]),
		Finalized:  fields["finalized"] == "1",
		Cancelled:  fields["cancelled"] == "1",
		StartedAt:  fields["started_at"],
		FinishedAt: fields["finished_at"],
	}
	return snap, nil
}

// GetSummary returns the persisted terminal summary, or nil before finalize.
func (t *Tracker) GetSummary(ctx context.Context, jobID string) (*Summary, error) {
	raw, err := t.client.Get(ctx, summaryKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crawl summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode crawl summary: %w", err)
	}
	return &s, nil
}

func parseCounter(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
