// Package queue implements named FIFO job queues on Redis. Each queue is
// keyed by "{task_type}-{engine}" and delivers at-least-once: a job that
// fails is retried with exponential backoff until its attempts are spent,
// and at most one handler per job id runs at a time across the fleet.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/constants"
)

// Job is one queued work item. Payload is opaque to the queue; handlers
// decode it.
type Job struct {
	ID          string
	QueueName   string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	EnqueuedAt  time.Time

	// backoffMS is carried on the job hash so retries keep the enqueue-time
	// backoff base.
	backoffMS int64
}

// EnqueueOptions control retry behavior for a job.
type EnqueueOptions struct {
	MaxAttempts int
	BackoffBase time.Duration
	// Delay defers first delivery (used to requeue after a lost active-lock
	// race).
	Delay time.Duration
}

// Queue is a single named FIFO queue.
type Queue struct {
	client *redis.Client
	name   string
}

// New creates a queue handle. Queues have no server-side existence beyond
// their keys; creating a handle is free.
func New(client *redis.Client, name string) *Queue {
	return &Queue{client: client, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) waitKey() string    { return "queue:" + q.name + ":wait" }
func (q *Queue) delayedKey() string { return "queue:" + q.name + ":delayed" }
func (q *Queue) jobKey(id string) string {
	return "queue:job:" + q.name + ":" + id
}

func activeKey(jobID string) string { return "queue:active:" + jobID }

// Enqueue adds a job. Re-enqueueing an existing job id refreshes its payload
// and requeues it; the attempts counter survives, which is what retries rely
// on.
func (q *Queue) Enqueue(ctx context.Context, jobID string, payload []byte, opts EnqueueOptions) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), map[string]interface{}{
		"payload":      payload,
		"max_attempts": opts.MaxAttempts,
		"backoff_ms":   opts.BackoffBase.Milliseconds(),
		"enqueued_at":  time.Now().UTC().Format(time.RFC3339),
	})
	pipe.HSetNX(ctx, q.jobKey(jobID), "attempts", 0)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
			Member: jobID,
		})
	} else {
		pipe.LPush(ctx, q.waitKey(), jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job %s on %s: %w", jobID, q.name, err)
	}
	return nil
}

// GetJob returns the stored job, or nil when unknown.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return q.jobFromFields(jobID, fields), nil
}

// Remove deletes a job from the queue, wherever it currently sits. Best
// effort: a worker already holding the job will still run it and must check
// for cancellation itself.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.waitKey(), 0, jobID)
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove job %s: %w", jobID, err)
	}
	return nil
}

// Pop blocks up to timeout for the next job id, returning (nil, nil) on
// timeout. The caller owns the id until Ack, Retry, or requeue.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, q.waitKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to pop from %s: %w", q.name, err)
	}
	jobID := res[1]

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Removed between push and pop; skip it.
		return nil, nil
	}
	return job, nil
}

// AcquireActive takes the per-job execution lock so only one worker in the
// fleet runs this job id at a time.
func (q *Queue) AcquireActive(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	ok, err := q.client.SetNX(ctx, activeKey(jobID), q.name, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire active lock for %s: %w", jobID, err)
	}
	return ok, nil
}

// ReleaseActive drops the per-job execution lock.
func (q *Queue) ReleaseActive(ctx context.Context, jobID string) error {
	return q.client.Del(ctx, activeKey(jobID)).Err()
}

// Requeue puts a job id back on the wait list after a short delay. Used when
// a consumer lost the active-lock race.
func (q *Queue) Requeue(ctx context.Context, jobID string, delay time.Duration) error {
	return q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a finished job's state.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.jobKey(jobID))
	pipe.Del(ctx, activeKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	return nil
}

// Retry schedules the job for another attempt with exponential backoff.
// Returns false when attempts are exhausted; the caller then owns the
// failure path.
func (q *Queue) Retry(ctx context.Context, job *Job) (bool, error) {
	attempts, err := q.client.HIncrBy(ctx, q.jobKey(job.ID), "attempts", 1).Result()
	if err != nil {
		return false, fmt.Errorf("failed to bump attempts for %s: %w", job.ID, err)
	}
	if int(attempts) >= job.MaxAttempts {
		return false, nil
	}

	base := time.Duration(job.backoffMillis()) * time.Millisecond
	delay := constants.CalculateBackoff(int(attempts)-1, base)

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, activeKey(job.ID))
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to schedule retry for %s: %w", job.ID, err)
	}
	return true, nil
}

// PromoteDelayed moves due jobs from the delayed zset to the wait list.
// Called periodically by the worker pool.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs on %s: %w", q.name, err)
	}

	for _, id := range ids {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.delayedKey(), id)
		pipe.LPush(ctx, q.waitKey(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("failed to promote job %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Depth returns how many jobs are waiting (not counting delayed).
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.waitKey()).Result()
}

func (q *Queue) jobFromFields(jobID string, fields map[string]string) *Job {
	job := &Job{
		ID:        jobID,
		QueueName: q.name,
		Payload:   []byte(fields["payload"]),
	}
	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if job.MaxAttempts < 1 {
		job.MaxAttempts = 1
	}
	job.EnqueuedAt, _ = time.Parse(time.RFC3339, fields["enqueued_at"])
	if ms, err := strconv.ParseInt(fields["backoff_ms"], 10, 64); err == nil {
		job.backoffMS = ms
	}
	return job
}

func (j *Job) backoffMillis() int64 {
	if j.backoffMS <= 0 {
		return 2000
	}
	return j.backoffMS
}
