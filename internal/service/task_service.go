package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// TaskLimitError reports that the owner's tier does not allow another active
// scheduled task. Handlers surface it as 403 with the tier and counts.
type TaskLimitError struct {
	Tier  string
	Limit int
	Count int
}

func (e *TaskLimitError) Error() string {
	return fmt.Sprintf("scheduled task limit reached for tier %s (%d of %d)", e.Tier, e.Count, e.Limit)
}

// TriggerRegistry is the scheduler surface the task service drives.
// Satisfied by scheduler.Scheduler.
type TriggerRegistry interface {
	AddTask(task *models.ScheduledTask) error
	RemoveTask(taskID string)
	TriggerManually(ctx context.Context, taskID string) (*models.TaskExecution, error)
	CancelExecution(ctx context.Context, executionID string) error
}

// TaskService manages scheduled tasks: CRUD, pause/resume, manual triggers,
// and execution history. Mutations keep the in-process cron registry in sync;
// other replicas converge through the reconciler's updated_at watermark.
type TaskService struct {
	repos    *repository.Repositories
	triggers TriggerRegistry
	parser   cron.Parser
	logger   *slog.Logger
}

// NewTaskService creates the task service. triggers may be nil in processes
// that do not run a scheduler.
func NewTaskService(repos *repository.Repositories, triggers TriggerRegistry, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{
		repos:    repos,
		triggers: triggers,
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:   logger,
	}
}

// SetTriggers binds the scheduler once it exists. The scheduler needs the
// webhook service, which is built alongside this one, so the registry is
// attached after construction.
func (s *TaskService) SetTriggers(triggers TriggerRegistry) {
	s.triggers = triggers
}

// CreateTaskInput carries the writable fields of a scheduled task.
type CreateTaskInput struct {
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	CronExpression      string          `json:"cron_expression"`
	Timezone            string          `json:"timezone,omitempty"`
	TaskType            models.TaskType `json:"task_type"`
	TaskPayload         json.RawMessage `json:"task_payload,omitempty"`
	ConcurrencyMode     string          `json:"concurrency_mode,omitempty"`
	MaxExecutionsPerDay int             `json:"max_executions_per_day,omitempty"`
	MinCreditsRequired  int64           `json:"min_credits_required,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
}

// UpdateTaskInput is a partial update; nil fields are left untouched.
type UpdateTaskInput struct {
	Name                *string          `json:"name,omitempty"`
	Description         *string          `json:"description,omitempty"`
	CronExpression      *string          `json:"cron_expression,omitempty"`
	Timezone            *string          `json:"timezone,omitempty"`
	TaskPayload         *json.RawMessage `json:"task_payload,omitempty"`
	ConcurrencyMode     *string          `json:"concurrency_mode,omitempty"`
	MaxExecutionsPerDay *int             `json:"max_executions_per_day,omitempty"`
	MinCreditsRequired  *int64           `json:"min_credits_required,omitempty"`
	IsActive            *bool            `json:"is_active,omitempty"`
	Tags                *[]string        `json:"tags,omitempty"`
}

// Create validates and stores a new scheduled task and registers its trigger.
func (s *TaskService) Create(ctx context.Context, apiKeyID, userID string, input CreateTaskInput) (*models.ScheduledTask, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("task name is required")
	}
	if err := s.validateSchedule(input.CronExpression, input.Timezone); err != nil {
		return nil, err
	}
	if !validTaskType(input.TaskType) {
		return nil, fmt.Errorf("invalid task type %q", input.TaskType)
	}

	payloadJSON, err := normalizePayload(input.TaskPayload)
	if err != nil {
		return nil, err
	}
	if input.TaskType == models.TaskTypeTemplate {
		parsed, perr := models.ParseTaskPayload(payloadJSON)
		if perr != nil || parsed.TemplateID == "" {
			return nil, fmt.Errorf("template tasks require template_id in the payload")
		}
	}

	mode := models.ConcurrencyMode(input.ConcurrencyMode)
	if mode == "" {
		mode = models.ConcurrencySkip
	}
	if mode != models.ConcurrencySkip && mode != models.ConcurrencyQueue {
		return nil, fmt.Errorf("invalid concurrency mode %q", input.ConcurrencyMode)
	}

	if err := s.checkTaskLimit(ctx, apiKeyID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &models.ScheduledTask{
		ID:                  ulid.Make().String(),
		APIKeyID:            apiKeyID,
		UserID:              userID,
		Name:                input.Name,
		Description:         input.Description,
		CronExpression:      input.CronExpression,
		Timezone:            defaultTimezone(input.Timezone),
		TaskType:            input.TaskType,
		TaskPayloadJSON:     payloadJSON,
		ConcurrencyMode:     mode,
		MaxExecutionsPerDay: input.MaxExecutionsPerDay,
		MinCreditsRequired:  input.MinCreditsRequired,
		IsActive:            true,
		Tags:                input.Tags,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	task.NextExecutionAt = s.nextExecution(task)

	if err := s.repos.Task.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create scheduled task: %w", err)
	}
	s.register(task)

	s.logger.Info("scheduled task created", "task_id", task.ID, "type", task.TaskType, "cron", task.CronExpression)
	return task, nil
}

// Get returns the task when it belongs to the key, nil otherwise.
func (s *TaskService) Get(ctx context.Context, apiKeyID, taskID string) (*models.ScheduledTask, error) {
	task, err := s.repos.Task.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	if task == nil || task.APIKeyID != apiKeyID {
		return nil, nil
	}
	return task, nil
}

// List returns the key's tasks, optionally filtered on active/paused state.
func (s *TaskService) List(ctx context.Context, apiKeyID string, active, paused *bool) ([]*models.ScheduledTask, error) {
	tasks, err := s.repos.Task.ListByAPIKey(ctx, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if active == nil && paused == nil {
		return tasks, nil
	}

	filtered := tasks[:0]
	for _, task := range tasks {
		if active != nil && task.IsActive != *active {
			continue
		}
		if paused != nil && task.IsPaused != *paused {
			continue
		}
		filtered = append(filtered, task)
	}
	return filtered, nil
}

// Update applies a partial update and re-registers or removes the trigger to
// match the task's new state.
func (s *TaskService) Update(ctx context.Context, apiKeyID, taskID string, input UpdateTaskInput) (*models.ScheduledTask, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil || task == nil {
		return nil, err
	}

	if input.Name != nil {
		if *input.Name == "" {
			return nil, fmt.Errorf("task name is required")
		}
		task.Name = *input.Name
	}
	if input.Description != nil {
		task.Description = *input.Description
	}
	if input.CronExpression != nil {
		task.CronExpression = *input.CronExpression
	}
	if input.Timezone != nil {
		task.Timezone = defaultTimezone(*input.Timezone)
	}
	if input.CronExpression != nil || input.Timezone != nil {
		if err := s.validateSchedule(task.CronExpression, task.Timezone); err != nil {
			return nil, err
		}
	}
	if input.TaskPayload != nil {
		payloadJSON, perr := normalizePayload(*input.TaskPayload)
		if perr != nil {
			return nil, perr
		}
		task.TaskPayloadJSON = payloadJSON
	}
	if input.ConcurrencyMode != nil {
		mode := models.ConcurrencyMode(*input.ConcurrencyMode)
		if mode != models.ConcurrencySkip && mode != models.ConcurrencyQueue {
			return nil, fmt.Errorf("invalid concurrency mode %q", *input.ConcurrencyMode)
		}
		task.ConcurrencyMode = mode
	}
	if input.MaxExecutionsPerDay != nil {
		task.MaxExecutionsPerDay = *input.MaxExecutionsPerDay
	}
	if input.MinCreditsRequired != nil {
		task.MinCreditsRequired = *input.MinCreditsRequired
	}
	if input.IsActive != nil {
		task.IsActive = *input.IsActive
	}
	if input.Tags != nil {
		task.Tags = *input.Tags
	}

	task.NextExecutionAt = s.nextExecution(task)
	task.UpdatedAt = time.Now().UTC()
	if err := s.repos.Task.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if task.Eligible() {
		s.register(task)
	} else {
		s.unregister(task.ID)
	}
	return task, nil
}

// Delete removes the task, its executions (FK cascade), and its trigger.
// Returns false when the task does not exist for this key.
func (s *TaskService) Delete(ctx context.Context, apiKeyID, taskID string) (bool, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil || task == nil {
		return false, err
	}
	if err := s.repos.Task.Delete(ctx, taskID); err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	s.unregister(taskID)
	s.logger.Info("scheduled task deleted", "task_id", taskID)
	return true, nil
}

// Pause suspends triggering with a user_requested reason.
func (s *TaskService) Pause(ctx context.Context, apiKeyID, taskID string) (*models.ScheduledTask, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil || task == nil {
		return nil, err
	}
	if _, err := s.repos.Task.Pause(ctx, taskID, "user_requested"); err != nil {
		return nil, fmt.Errorf("failed to pause task: %w", err)
	}
	s.unregister(taskID)
	return s.repos.Task.GetByID(ctx, taskID)
}

// Resume clears the pause, recomputes the next firing, and re-registers the
// trigger. Resuming also reactivates a stopped task.
func (s *TaskService) Resume(ctx context.Context, apiKeyID, taskID string) (*models.ScheduledTask, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil || task == nil {
		return nil, err
	}
	if err := s.checkTaskLimit(ctx, apiKeyID); err != nil {
		return nil, err
	}
	if err := s.repos.Task.Resume(ctx, taskID); err != nil {
		return nil, fmt.Errorf("failed to resume task: %w", err)
	}

	task, err = s.repos.Task.GetByID(ctx, taskID)
	if err != nil || task == nil {
		return task, err
	}
	task.NextExecutionAt = s.nextExecution(task)
	task.UpdatedAt = time.Now().UTC()
	if err := s.repos.Task.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to update resumed task: %w", err)
	}
	s.register(task)
	return task, nil
}

// Trigger dispatches one execution immediately, outside the cron schedule.
func (s *TaskService) Trigger(ctx context.Context, apiKeyID, taskID string) (*models.TaskExecution, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	if s.triggers == nil {
		return nil, fmt.Errorf("scheduler is not running in this process")
	}
	return s.triggers.TriggerManually(ctx, taskID)
}

// Executions lists the task's execution history, newest first.
func (s *TaskService) Executions(ctx context.Context, apiKeyID, taskID string, limit, offset int) ([]*models.TaskExecution, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil || task == nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repos.Execution.ListByTask(ctx, taskID, limit, offset)
}

// CancelExecution terminates a pending or running execution of the task.
// Returns false when the execution does not exist under this task and key.
func (s *TaskService) CancelExecution(ctx context.Context, apiKeyID, taskID, executionID string) (bool, error) {
	task, err := s.Get(ctx, apiKeyID, taskID)
	if err != nil || task == nil {
		return false, err
	}
	execution, err := s.repos.Execution.GetByID(ctx, executionID)
	if err != nil {
		return false, fmt.Errorf("failed to load execution: %w", err)
	}
	if execution == nil || execution.ScheduledTaskID != taskID {
		return false, nil
	}
	if s.triggers == nil {
		return false, fmt.Errorf("scheduler is not running in this process")
	}
	if err := s.triggers.CancelExecution(ctx, executionID); err != nil {
		return false, err
	}
	return true, nil
}

// checkTaskLimit enforces the tier ceiling on active, unpaused tasks.
func (s *TaskService) checkTaskLimit(ctx context.Context, apiKeyID string) error {
	key, err := s.repos.APIKey.GetByID(ctx, apiKeyID)
	if err != nil {
		return fmt.Errorf("failed to load api key: %w", err)
	}
	if key == nil {
		return fmt.Errorf("api key not found")
	}

	limit := constants.GetTierLimits(key.Tier).MaxScheduledTasks
	if limit <= 0 {
		return nil
	}

	tasks, err := s.repos.Task.ListByAPIKey(ctx, apiKeyID)
	if err != nil {
		return fmt.Errorf("failed to count tasks: %w", err)
	}
	count := 0
	for _, t := range tasks {
		if t.Eligible() {
			count++
		}
	}
	if count >= limit {
		return &TaskLimitError{Tier: key.Tier, Limit: limit, Count: count}
	}
	return nil
}

func (s *TaskService) validateSchedule(expr, tz string) error {
	if expr == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := s.parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return nil
}

func (s *TaskService) nextExecution(task *models.ScheduledTask) *time.Time {
	spec := task.CronExpression
	if task.Timezone != "" {
		spec = "CRON_TZ=" + task.Timezone + " " + spec
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return nil
	}
	next := schedule.Next(time.Now())
	if next.IsZero() {
		return nil
	}
	return &next
}

func (s *TaskService) register(task *models.ScheduledTask) {
	if s.triggers == nil || !task.Eligible() {
		return
	}
	if err := s.triggers.AddTask(task); err != nil {
		s.logger.Error("failed to register trigger", "task_id", task.ID, "error", err)
	}
}

func (s *TaskService) unregister(taskID string) {
	if s.triggers != nil {
		s.triggers.RemoveTask(taskID)
	}
}

func validTaskType(t models.TaskType) bool {
	switch t {
	case models.TaskTypeScrape, models.TaskTypeCrawl, models.TaskTypeSearch, models.TaskTypeMap, models.TaskTypeTemplate:
		return true
	}
	return false
}

func defaultTimezone(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}

// normalizePayload validates that the payload, when present, is a JSON object.
func normalizePayload(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("task payload must be a JSON object: %w", err)
	}
	return string(raw), nil
}
