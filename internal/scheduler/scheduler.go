// Package scheduler drives recurring execution of scheduled tasks. A single
// cron engine fires per-task triggers in the task's own timezone; a
// reconciler keeps the registered triggers in sync with the database across
// replicas and cleans up executions that crashed mid-flight.
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/trawlhq/trawl-api/internal/config"
	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/kv"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/queue"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// pollLockKey serializes reconciliation across scheduler replicas.
const pollLockKey = "scheduler:poll:lock"

// Emitter delivers lifecycle webhooks. Satisfied by service.WebhookService.
type Emitter interface {
	Emit(ctx context.Context, apiKeyID string, event models.WebhookEventType, resourceID string, payload map[string]any)
}

// InlineRunner executes search and map jobs inside the scheduler process.
// They have no dedicated worker fleet but still carry a Job row for uniform
// accounting.
type InlineRunner interface {
	RunInline(ctx context.Context, job *models.Job)
}

// Canceller tears down crawl progress state when an execution is cancelled.
// Satisfied by progress.Tracker.
type Canceller interface {
	Cancel(ctx context.Context, jobID string) error
}

// Scheduler registers cron triggers for active tasks and dispatches one
// TaskExecution per firing.
type Scheduler struct {
	db             *sql.DB
	repos          *repository.Repositories
	queues         *queue.Registry
	webhooks       Emitter
	inline         InlineRunner
	progress       Canceller
	billingCfg     config.BillingConfig
	creditsEnabled bool
	syncInterval   time.Duration
	logger         *slog.Logger

	cron     *cron.Cron
	parser   cron.Parser
	pollLock *kv.Lock

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	running  bool
	lastSync time.Time
	stop     chan struct{}
	done     chan struct{}
}

// New creates a scheduler. inline and progress may be nil in processes that
// only reconcile.
func New(db *sql.DB, repos *repository.Repositories, queues *queue.Registry, redisClient *redis.Client, webhooks Emitter, inline InlineRunner, progress Canceller, billingCfg config.BillingConfig, creditsEnabled bool, syncInterval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}

	// Five fields with an optional leading seconds field.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Scheduler{
		db:             db,
		repos:          repos,
		queues:         queues,
		webhooks:       webhooks,
		inline:         inline,
		progress:       progress,
		billingCfg:     billingCfg,
		creditsEnabled: creditsEnabled,
		syncInterval:   syncInterval,
		logger:         logger,
		cron:           cron.New(cron.WithParser(parser)),
		parser:         parser,
		pollLock:       kv.NewLock(redisClient, pollLockKey, 60*time.Second),
		entries:        make(map[string]cron.EntryID),
	}
}

// Start begins firing triggers and reconciling. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.cron.Start()
	go s.reconcileLoop(ctx)
	s.logger.Info("scheduler started", "sync_interval", s.syncInterval)
}

// Stop halts the cron engine and the reconciler and releases the poll lock.
// Running executions are not cancelled. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	<-s.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pollLock.Release(ctx); err != nil {
		s.logger.Warn("failed to release poll lock on stop", "error", err)
	}
	s.logger.Info("scheduler stopped")
}

// AddTask registers (or replaces) the cron trigger for a task.
func (s *Scheduler) AddTask(task *models.ScheduledTask) error {
	spec := cronSpec(task)
	taskID := task.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}

	entryID, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if err := s.ProcessTrigger(ctx, taskID); err != nil {
			s.logger.Error("trigger processing failed", "task_id", taskID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register cron trigger for task %s: %w", taskID, err)
	}

	s.entries[taskID] = entryID
	return nil
}

// RemoveTask unregisters a task's trigger.
func (s *Scheduler) RemoveTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[taskID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, taskID)
	}
}

// Registered reports whether a task currently has a live trigger.
func (s *Scheduler) Registered(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// cronSpec builds the spec string, carrying the task's IANA timezone via the
// CRON_TZ prefix.
func cronSpec(task *models.ScheduledTask) string {
	if task.Timezone != "" {
		return "CRON_TZ=" + task.Timezone + " " + task.CronExpression
	}
	return task.CronExpression
}

// nextExecution computes the next firing from the current wall clock.
func (s *Scheduler) nextExecution(task *models.ScheduledTask) *time.Time {
	schedule, err := s.parser.Parse(cronSpec(task))
	if err != nil {
		return nil
	}
	next := schedule.Next(time.Now())
	if next.IsZero() {
		return nil
	}
	return &next
}

// ProcessTrigger runs the scheduling checks for one firing and dispatches an
// execution when they pass.
func (s *Scheduler) ProcessTrigger(ctx context.Context, taskID string) error {
	task, err := s.repos.Task.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil || !task.Eligible() {
		return nil
	}

	taskType, payload, templateID, err := s.resolveTemplate(ctx, task)
	if err != nil {
		return err
	}
	if taskType == "" {
		// Template missing: the task was stopped inside resolveTemplate.
		return nil
	}

	parsed, err := models.ParseTaskPayload(payload)
	if err != nil {
		s.failTrigger(ctx, task, nil, fmt.Errorf("invalid task payload: %w", err))
		return nil
	}

	limit := int(parsed.Limit)
	if taskType == models.TaskTypeCrawl {
		// Crawl payloads may carry the limit nested under crawl_options.
		if seed, err := models.ParseCrawlPayload(payload); err == nil && seed.Options.Limit > 0 {
			limit = seed.Options.Limit
		}
	}

	if !s.passCreditGate(ctx, task, taskType, limit) {
		return nil
	}

	// Concurrency gate: skip mode drops the tick when a prior execution is
	// still in flight, but the schedule keeps advancing.
	if task.ConcurrencyMode == models.ConcurrencySkip {
		inFlight, err := s.repos.Execution.CountInFlight(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("failed to count in-flight executions: %w", err)
		}
		if inFlight > 0 {
			s.logger.Debug("skipping tick, execution in flight", "task_id", task.ID)
			return s.advanceNext(ctx, task)
		}
	}

	if capped, err := s.dailyCapReached(ctx, task); err != nil {
		return err
	} else if capped {
		s.logger.Debug("skipping tick, daily cap reached", "task_id", task.ID)
		return s.advanceNext(ctx, task)
	}

	execution, job, err := s.dispatch(ctx, task, taskType, payload, parsed, models.TriggeredByScheduler)
	if err != nil {
		s.failTrigger(ctx, task, execution, err)
		return nil
	}

	if templateID != "" {
		audit := &models.TemplateExecution{
			ID:              ulid.Make().String(),
			TemplateID:      templateID,
			TaskExecutionID: execution.ID,
			ResolvedType:    taskType,
			CreatedAt:       time.Now().UTC(),
		}
		if err := s.repos.TemplateExecution.Create(ctx, audit); err != nil {
			s.logger.Warn("failed to record template execution", "task_id", task.ID, "error", err)
		}
	}

	if err := s.repos.Task.RecordTrigger(ctx, task.ID, s.nextExecution(task), time.Now().UTC()); err != nil {
		s.logger.Warn("failed to record trigger", "task_id", task.ID, "error", err)
	}

	s.webhooks.Emit(ctx, task.APIKeyID, models.WebhookEventTaskExecuted, task.ID, map[string]any{
		"task_id":      task.ID,
		"execution_id": execution.ID,
		"job_id":       job.ID,
		"task_type":    taskType,
	})

	return nil
}

// TriggerManually dispatches one execution outside the cron schedule. The
// credit, concurrency, and daily-cap gates do not apply; the caller asked
// explicitly.
func (s *Scheduler) TriggerManually(ctx context.Context, taskID string) (*models.TaskExecution, error) {
	task, err := s.repos.Task.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}

	taskType, payload, _, err := s.resolveTemplate(ctx, task)
	if err != nil {
		return nil, err
	}
	if taskType == "" {
		return nil, fmt.Errorf("template missing for task %s", taskID)
	}

	parsed, err := models.ParseTaskPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid task payload: %w", err)
	}

	execution, _, err := s.dispatch(ctx, task, taskType, payload, parsed, models.TriggeredByManual)
	if err != nil {
		s.failTrigger(ctx, task, execution, err)
		return nil, err
	}
	return execution, nil
}

// resolveTemplate maps a template task to its concrete type and payload.
// A missing or inactive template stops the task; the empty type signals it.
func (s *Scheduler) resolveTemplate(ctx context.Context, task *models.ScheduledTask) (models.TaskType, string, string, error) {
	if task.TaskType != models.TaskTypeTemplate {
		return task.TaskType, task.TaskPayloadJSON, "", nil
	}

	parsed, err := models.ParseTaskPayload(task.TaskPayloadJSON)
	if err != nil || parsed.TemplateID == "" {
		s.stopTask(ctx, task, models.PauseReasonTemplateMissing)
		return "", "", "", nil
	}

	tmpl, err := s.repos.Template.GetByID(ctx, parsed.TemplateID)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to load template: %w", err)
	}
	if tmpl == nil || !tmpl.IsActive {
		s.stopTask(ctx, task, models.PauseReasonTemplateMissing)
		return "", "", "", nil
	}

	return tmpl.TaskType, tmpl.PayloadJSON, tmpl.ID, nil
}

// passCreditGate checks the owner's balance against the estimated cost.
// A missing api_key stops the task; insufficient credits pause it.
func (s *Scheduler) passCreditGate(ctx context.Context, task *models.ScheduledTask, taskType models.TaskType, limit int) bool {
	if !s.creditsEnabled {
		return true
	}

	key, err := s.repos.APIKey.GetByID(ctx, task.APIKeyID)
	if err != nil {
		s.logger.Error("credit gate lookup failed", "task_id", task.ID, "error", err)
		return false
	}
	if key == nil || !key.IsActive {
		s.stopTask(ctx, task, models.PauseReasonAPIKeyMissing)
		return false
	}

	required := s.billingCfg.EstimateCredits(string(taskType), limit)
	if task.MinCreditsRequired > required {
		required = task.MinCreditsRequired
	}

	if key.Credits < required {
		s.pauseTask(ctx, task, models.PauseReasonInsufficientCredits, map[string]any{
			"required_credits": required,
			"current_credits":  key.Credits,
		})
		return false
	}
	return true
}

// dailyCapReached counts executions scheduled since midnight in the task's
// timezone.
func (s *Scheduler) dailyCapReached(ctx context.Context, task *models.ScheduledTask) (bool, error) {
	if task.MaxExecutionsPerDay <= 0 {
		return false, nil
	}

	loc, err := time.LoadLocation(task.Timezone)
	if err != nil {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	count, err := s.repos.Execution.CountScheduledSince(ctx, task.ID, startOfDay)
	if err != nil {
		return false, fmt.Errorf("failed to count today's executions: %w", err)
	}
	return count >= task.MaxExecutionsPerDay, nil
}

// dispatch atomically creates the pending execution and its Job, enqueues
// worker types, and marks the execution running. Search and map run inline
// after commit.
func (s *Scheduler) dispatch(ctx context.Context, task *models.ScheduledTask, taskType models.TaskType, payload string, parsed models.TaskPayload, triggeredBy string) (*models.TaskExecution, *models.Job, error) {
	now := time.Now().UTC()

	execution := &models.TaskExecution{
		ID:              ulid.Make().String(),
		ScheduledTaskID: task.ID,
		ExecutionNumber: task.TotalExecutions + 1,
		IdempotencyKey:  fmt.Sprintf("%s-%d", task.ID, now.UnixMilli()),
		Status:          models.ExecutionStatusPending,
		ScheduledFor:    now,
		TriggeredBy:     triggeredBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	engine := engineFromPayload(payload)
	job := &models.Job{
		ID:          ulid.Make().String(),
		APIKeyID:    task.APIKeyID,
		UserID:      task.UserID,
		Type:        taskType,
		Engine:      engine,
		QueueName:   models.QueueNameFor(taskType, engine),
		Status:      models.JobStatusPending,
		URL:         parsed.URL,
		PayloadJSON: payload,
		Origin:      models.JobOriginScheduler,
		WebhookURL:  parsed.WebhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin dispatch transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.repos.Execution.CreateTx(ctx, tx, execution); err != nil {
		return nil, nil, fmt.Errorf("failed to create execution: %w", err)
	}
	if err := s.repos.Job.CreateTx(ctx, tx, job); err != nil {
		return execution, nil, fmt.Errorf("failed to create job: %w", err)
	}

	inline := taskType == models.TaskTypeSearch || taskType == models.TaskTypeMap
	if !inline {
		// Enqueue failure rolls the whole dispatch back: no execution row
		// without a queued job.
		err := s.queues.For(taskType, engine).Enqueue(ctx, job.ID, []byte(payload), queue.EnqueueOptions{
			MaxAttempts: 5,
		})
		if err != nil {
			return execution, nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	if err := s.repos.Execution.MarkRunningTx(ctx, tx, execution.ID, job.ID); err != nil {
		return execution, nil, fmt.Errorf("failed to mark execution running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return execution, nil, fmt.Errorf("failed to commit dispatch: %w", err)
	}

	execution.Status = models.ExecutionStatusRunning
	execution.JobID = &job.ID

	if inline && s.inline != nil {
		go s.inline.RunInline(context.Background(), job)
	}

	return execution, job, nil
}

// failTrigger records a failed firing: best-effort execution failure,
// failure counters, schedule advance, auto-pause on a failure streak, and
// the task.failed webhook.
func (s *Scheduler) failTrigger(ctx context.Context, task *models.ScheduledTask, execution *models.TaskExecution, cause error) {
	s.logger.Error("trigger failed", "task_id", task.ID, "error", cause)

	if execution != nil {
		err := s.repos.Execution.Complete(ctx, execution.ID, models.ExecutionStatusFailed, cause.Error(), "", "")
		if err != nil {
			s.logger.Warn("failed to record execution failure", "execution_id", execution.ID, "error", err)
		}
	}

	streak, err := s.repos.Task.RecordFailure(ctx, task.ID, s.nextExecution(task))
	if err != nil {
		s.logger.Warn("failed to record task failure", "task_id", task.ID, "error", err)
	}

	s.webhooks.Emit(ctx, task.APIKeyID, models.WebhookEventTaskFailed, task.ID, map[string]any{
		"task_id": task.ID,
		"error":   cause.Error(),
	})

	if streak >= constants.ConsecutiveFailureLimit {
		s.pauseTask(ctx, task, models.PauseReasonConsecutiveFailures, map[string]any{
			"consecutive_failures": streak,
		})
	}
}

// advanceNext moves next_execution_at forward without dispatching.
func (s *Scheduler) advanceNext(ctx context.Context, task *models.ScheduledTask) error {
	if err := s.repos.Task.AdvanceNext(ctx, task.ID, s.nextExecution(task)); err != nil {
		return fmt.Errorf("failed to advance schedule: %w", err)
	}
	return nil
}

// pauseTask pauses the task and unregisters its trigger. The task.paused
// webhook fires only on the first transition so concurrent pausers do not
// double-notify.
func (s *Scheduler) pauseTask(ctx context.Context, task *models.ScheduledTask, reason string, details map[string]any) {
	transitioned, err := s.repos.Task.Pause(ctx, task.ID, reason)
	if err != nil {
		s.logger.Error("failed to pause task", "task_id", task.ID, "error", err)
		return
	}
	s.RemoveTask(task.ID)

	if !transitioned {
		return
	}
	s.logger.Info("task paused", "task_id", task.ID, "reason", reason)

	payload := map[string]any{"task_id": task.ID, "reason": reason}
	for k, v := range details {
		payload[k] = v
	}
	s.webhooks.Emit(ctx, task.APIKeyID, models.WebhookEventTaskPaused, task.ID, payload)
}

// stopTask deactivates the task permanently (missing api_key or template).
func (s *Scheduler) stopTask(ctx context.Context, task *models.ScheduledTask, reason string) {
	if err := s.repos.Task.Stop(ctx, task.ID, reason); err != nil {
		s.logger.Error("failed to stop task", "task_id", task.ID, "error", err)
		return
	}
	s.RemoveTask(task.ID)
	s.logger.Info("task stopped", "task_id", task.ID, "reason", reason)

	s.webhooks.Emit(ctx, task.APIKeyID, models.WebhookEventTaskPaused, task.ID, map[string]any{
		"task_id": task.ID,
		"reason":  reason,
		"stopped": true,
	})
}

// CancelExecution terminates a pending or running execution: the execution
// and its job go to cancelled, the queued copy is removed, and crawl
// progress is torn down. A worker that already holds the job observes the
// cancelled flag and short-circuits.
func (s *Scheduler) CancelExecution(ctx context.Context, executionID string) error {
	execution, err := s.repos.Execution.GetByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution: %w", err)
	}
	if execution == nil {
		return fmt.Errorf("execution not found: %s", executionID)
	}
	if execution.IsTerminal() {
		return nil
	}

	if err := s.repos.Execution.Complete(ctx, executionID, models.ExecutionStatusCancelled, "", "", ""); err != nil {
		return fmt.Errorf("failed to cancel execution: %w", err)
	}

	if execution.JobID == nil {
		return nil
	}
	jobID := *execution.JobID

	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job != nil && !job.IsTerminal() {
		if err := s.repos.Job.Finish(ctx, jobID, models.JobStatusCancelled, false, "Cancelled by user"); err != nil {
			s.logger.Warn("failed to cancel job", "job_id", jobID, "error", err)
		}
		if err := s.queues.Get(job.QueueName).Remove(ctx, jobID); err != nil {
			s.logger.Warn("failed to remove queued job", "job_id", jobID, "error", err)
		}
		if s.progress != nil && job.Type == models.TaskTypeCrawl {
			if err := s.progress.Cancel(ctx, jobID); err != nil {
				s.logger.Warn("failed to cancel crawl progress", "job_id", jobID, "error", err)
			}
		}
	}

	return nil
}

// engineFromPayload pulls the engine out of a raw payload. The scheduler
// only needs it for queue routing; executors re-parse the full options.
func engineFromPayload(payload string) models.Engine {
	type enginePayload struct {
		Engine        models.Engine `json:"engine"`
		ScrapeOptions *struct {
			Engine models.Engine `json:"engine"`
		} `json:"scrape_options"`
	}
	var p enginePayload
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &p); err == nil {
			if p.Engine != "" {
				return p.Engine
			}
			if p.ScrapeOptions != nil && p.ScrapeOptions.Engine != "" {
				return p.ScrapeOptions.Engine
			}
		}
	}
	return models.EngineCheerio
}
