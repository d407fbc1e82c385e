package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/models"
)

// reconcileLoop periodically synchronizes registered triggers with the task
// table. Exactly one replica wins the poll lock per interval.
func (s *Scheduler) reconcileLoop(ctx context.Context) {
	defer close(s.done)

	// Sync immediately so a fresh replica picks up its tasks without
	// waiting a full interval.
	if err := s.SyncFromDatabase(ctx); err != nil {
		s.logger.Error("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SyncFromDatabase(ctx); err != nil {
				s.logger.Error("sync failed", "error", err)
			}
		}
	}
}

// SyncFromDatabase reconciles triggers, cleans up stale executions, and
// enforces tier limits. Returns nil without doing work when another replica
// holds the poll lock.
func (s *Scheduler) SyncFromDatabase(ctx context.Context) error {
	acquired, err := s.pollLock.TryAcquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire poll lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := s.pollLock.Release(ctx); err != nil {
			s.logger.Warn("failed to release poll lock", "error", err)
		}
	}()

	// Capture the watermark before the query so tasks updated mid-sync are
	// seen again next round instead of slipping through.
	syncStart := time.Now().UTC()
	s.mu.Lock()
	since := s.lastSync
	s.mu.Unlock()

	var tasks []*models.ScheduledTask
	if since.IsZero() {
		tasks, err = s.repos.Task.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("failed to list active tasks: %w", err)
		}
	} else {
		tasks, err = s.repos.Task.UpdatedSince(ctx, since)
		if err != nil {
			return fmt.Errorf("failed to list updated tasks: %w", err)
		}
	}

	for _, task := range tasks {
		if task.Eligible() {
			if err := s.AddTask(task); err != nil {
				s.logger.Error("failed to register task", "task_id", task.ID, "error", err)
			}
		} else {
			s.RemoveTask(task.ID)
		}
	}

	s.mu.Lock()
	s.lastSync = syncStart
	s.mu.Unlock()

	if err := s.CleanupStaleExecutions(ctx); err != nil {
		s.logger.Error("stale execution cleanup failed", "error", err)
	}
	if err := s.EnforceTierLimits(ctx); err != nil {
		s.logger.Error("tier limit enforcement failed", "error", err)
	}

	return nil
}

// CleanupStaleExecutions fails executions whose worker crashed or overran
// the per-type runtime ceiling.
func (s *Scheduler) CleanupStaleExecutions(ctx context.Context) error {
	executions, err := s.repos.Execution.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unfinished executions: %w", err)
	}

	now := time.Now().UTC()
	for _, execution := range executions {
		switch execution.Status {
		case models.ExecutionStatusPending:
			s.cleanupStalePending(ctx, execution, now)
		case models.ExecutionStatusRunning:
			s.cleanupStaleRunning(ctx, execution, now)
		}
	}
	return nil
}

func (s *Scheduler) cleanupStalePending(ctx context.Context, execution *models.TaskExecution, now time.Time) {
	if execution.StartedAt == nil {
		if now.Sub(execution.CreatedAt) > constants.StalePendingAge {
			s.failStale(ctx, execution, constants.FailureStalePendingTimeout,
				"Execution was never started by a worker", constants.TimeoutReasonNeverStarted)
		}
		return
	}
	if now.Sub(*execution.StartedAt) > constants.StalePendingStartedAge {
		s.failStale(ctx, execution, constants.FailureStalePendingStarted,
			"Worker crashed after marking the execution started", constants.TimeoutReasonNeverStarted)
	}
}

func (s *Scheduler) cleanupStaleRunning(ctx context.Context, execution *models.TaskExecution, now time.Time) {
	if execution.StartedAt == nil {
		if now.Sub(execution.CreatedAt) > constants.StaleRunningNoStartAge {
			s.failStale(ctx, execution, constants.FailureExecutionTimeout,
				"Execution was marked running but never picked up", constants.TimeoutReasonNeverStarted)
		}
		return
	}

	// The runtime ceiling depends on the actual job type; template
	// executions resolve through their job.
	taskType := ""
	var job *models.Job
	if execution.JobID != nil {
		var err error
		job, err = s.repos.Job.GetByID(ctx, *execution.JobID)
		if err != nil {
			s.logger.Warn("failed to load job for stale check", "execution_id", execution.ID, "error", err)
			return
		}
		if job != nil {
			taskType = string(job.Type)
		}
	}

	if taskType == string(models.TaskTypeCrawl) {
		// Crawls are bounded by inactivity, not total runtime.
		if job != nil && now.Sub(job.UpdatedAt) > constants.CrawlInactivityAge {
			s.failStale(ctx, execution, constants.FailureExecutionTimeout,
				"Crawl made no progress within the inactivity window", constants.TimeoutReasonCrawlInactivity)
			s.failStaleJob(ctx, job, "Crawl made no progress within the inactivity window")
		}
		return
	}

	if now.Sub(*execution.StartedAt) > constants.MaxExecutionRuntime(taskType) {
		s.failStale(ctx, execution, constants.FailureExecutionTimeout,
			"Execution exceeded its maximum runtime", constants.TimeoutReasonMaxRuntime)
		if job != nil && !job.IsTerminal() {
			s.failStaleJob(ctx, job, "Execution exceeded its maximum runtime")
		}
	}
}

func (s *Scheduler) failStale(ctx context.Context, execution *models.TaskExecution, code, message, reason string) {
	details := fmt.Sprintf(`{"reason":%q}`, reason)
	if err := s.repos.Execution.Complete(ctx, execution.ID, models.ExecutionStatusFailed, message, code, details); err != nil {
		s.logger.Warn("failed to fail stale execution", "execution_id", execution.ID, "error", err)
		return
	}
	if err := s.repos.Task.RecordExecutionOutcome(ctx, execution.ScheduledTaskID, false); err != nil {
		s.logger.Warn("failed to update task counters", "task_id", execution.ScheduledTaskID, "error", err)
	}
	s.logger.Info("failed stale execution",
		"execution_id", execution.ID, "code", code, "reason", reason)
}

func (s *Scheduler) failStaleJob(ctx context.Context, job *models.Job, message string) {
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusFailed, false, message); err != nil {
		s.logger.Warn("failed to fail stale job", "job_id", job.ID, "error", err)
	}
}

// EnforceTierLimits pauses the newest tasks of any owner whose active task
// count exceeds their tier's allowance.
func (s *Scheduler) EnforceTierLimits(ctx context.Context) error {
	tasks, err := s.repos.Task.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}

	byOwner := make(map[string][]*models.ScheduledTask)
	for _, task := range tasks {
		byOwner[task.APIKeyID] = append(byOwner[task.APIKeyID], task)
	}

	for apiKeyID, owned := range byOwner {
		key, err := s.repos.APIKey.GetByID(ctx, apiKeyID)
		if err != nil {
			s.logger.Warn("failed to load api key for tier check", "api_key_id", apiKeyID, "error", err)
			continue
		}
		tier := constants.TierFree
		if key != nil {
			tier = key.Tier
		}

		limit := constants.GetTierLimits(tier).MaxScheduledTasks
		if limit <= 0 || len(owned) <= limit {
			continue
		}

		// Newest first; everything beyond the allowance pauses.
		sort.Slice(owned, func(i, j int) bool {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		})
		excess := len(owned) - limit
		for _, task := range owned[:excess] {
			s.pauseTask(ctx, task, models.PauseReasonTierLimit, map[string]any{
				"tier":  tier,
				"limit": limit,
				"count": len(owned),
			})
		}
	}

	return nil
}
