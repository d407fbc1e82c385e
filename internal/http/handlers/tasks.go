package handlers

import (
	"context"
	"strconv"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// TaskHandler handles scheduled task CRUD and lifecycle endpoints.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new scheduled task handler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// CreateTaskHTTPInput is the task creation request.
type CreateTaskHTTPInput struct {
	Body service.CreateTaskInput
}

// TaskOutput wraps a single scheduled task.
type TaskOutput struct {
	Body Envelope[*models.ScheduledTask]
}

// CreateTask stores a new scheduled task and registers its cron trigger.
// Tier limits on active tasks apply.
func (h *TaskHandler) CreateTask(ctx context.Context, input *CreateTaskHTTPInput) (*TaskOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	task, err := h.tasks.Create(ctx, claims.APIKeyID, claims.UserID, input.Body)
	if err != nil {
		return nil, errFromService(err, "create task")
	}
	return &TaskOutput{Body: envelope(task)}, nil
}

// ListTasksInput is the task list request. The filters accept "true" or
// "false"; empty means no filter.
type ListTasksInput struct {
	Active string `query:"active" doc:"Filter by active state (true/false)"`
	Paused string `query:"paused" doc:"Filter by paused state (true/false)"`
}

// ListTasksOutput is the task list response.
type ListTasksOutput struct {
	Body Envelope[[]*models.ScheduledTask]
}

// ListTasks returns the caller's scheduled tasks, optionally filtered by
// active and paused state.
func (h *TaskHandler) ListTasks(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	active, apiErr := boolFilter("active", input.Active)
	if apiErr != nil {
		return nil, apiErr
	}
	paused, apiErr := boolFilter("paused", input.Paused)
	if apiErr != nil {
		return nil, apiErr
	}

	tasks, err := h.tasks.List(ctx, claims.APIKeyID, active, paused)
	if err != nil {
		return nil, errInternal("list tasks", err)
	}
	if tasks == nil {
		tasks = []*models.ScheduledTask{}
	}
	return &ListTasksOutput{Body: envelope(tasks)}, nil
}

// TaskIDInput addresses a single task.
type TaskIDInput struct {
	ID string `path:"id" doc:"Scheduled task ID"`
}

// GetTask returns one scheduled task.
func (h *TaskHandler) GetTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	task, err := h.tasks.Get(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errInternal("load task", err)
	}
	if task == nil {
		return nil, errNotFound("scheduled task")
	}
	return &TaskOutput{Body: envelope(task)}, nil
}

// UpdateTaskHTTPInput is the partial task update request.
type UpdateTaskHTTPInput struct {
	ID   string `path:"id" doc:"Scheduled task ID"`
	Body service.UpdateTaskInput
}

// UpdateTask applies a partial update and re-registers the trigger when the
// schedule changed.
func (h *TaskHandler) UpdateTask(ctx context.Context, input *UpdateTaskHTTPInput) (*TaskOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	task, err := h.tasks.Update(ctx, claims.APIKeyID, input.ID, input.Body)
	if err != nil {
		return nil, errFromService(err, "update task")
	}
	if task == nil {
		return nil, errNotFound("scheduled task")
	}
	return &TaskOutput{Body: envelope(task)}, nil
}

// DeletedData reports a completed deletion.
type DeletedData struct {
	Deleted bool `json:"deleted"`
}

// DeletedOutput is the deletion response.
type DeletedOutput struct {
	Body Envelope[DeletedData]
}

// DeleteTask removes a scheduled task and unregisters its trigger.
func (h *TaskHandler) DeleteTask(ctx context.Context, input *TaskIDInput) (*DeletedOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	deleted, err := h.tasks.Delete(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errInternal("delete task", err)
	}
	if !deleted {
		return nil, errNotFound("scheduled task")
	}
	return &DeletedOutput{Body: envelope(DeletedData{Deleted: true})}, nil
}

// PauseTask pauses the task and removes its trigger. The paused state
// survives restarts.
func (h *TaskHandler) PauseTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	task, err := h.tasks.Pause(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errFromService(err, "pause task")
	}
	if task == nil {
		return nil, errNotFound("scheduled task")
	}
	return &TaskOutput{Body: envelope(task)}, nil
}

// ResumeTask clears the paused state and re-registers the trigger.
func (h *TaskHandler) ResumeTask(ctx context.Context, input *TaskIDInput) (*TaskOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	task, err := h.tasks.Resume(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errFromService(err, "resume task")
	}
	if task == nil {
		return nil, errNotFound("scheduled task")
	}
	return &TaskOutput{Body: envelope(task)}, nil
}

// ExecutionOutput wraps a single task execution.
type ExecutionOutput struct {
	Body Envelope[*models.TaskExecution]
}

// TriggerTask runs the task immediately with triggered_by=manual, outside
// its cron schedule.
func (h *TaskHandler) TriggerTask(ctx context.Context, input *TaskIDInput) (*ExecutionOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	execution, err := h.tasks.Trigger(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errFromService(err, "trigger task")
	}
	if execution == nil {
		return nil, errNotFound("scheduled task")
	}
	return &ExecutionOutput{Body: envelope(execution)}, nil
}

// ListExecutionsInput is the execution history request.
type ListExecutionsInput struct {
	ID     string `path:"id" doc:"Scheduled task ID"`
	Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Maximum executions to return"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Executions to skip"`
}

// ListExecutionsOutput is the execution history response.
type ListExecutionsOutput struct {
	Body Envelope[[]*models.TaskExecution]
}

// ListExecutions returns the task's execution history, newest first.
func (h *TaskHandler) ListExecutions(ctx context.Context, input *ListExecutionsInput) (*ListExecutionsOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	task, err := h.tasks.Get(ctx, claims.APIKeyID, input.ID)
	if err != nil {
		return nil, errInternal("load task", err)
	}
	if task == nil {
		return nil, errNotFound("scheduled task")
	}

	executions, err := h.tasks.Executions(ctx, claims.APIKeyID, input.ID, input.Limit, input.Offset)
	if err != nil {
		return nil, errInternal("list executions", err)
	}
	if executions == nil {
		executions = []*models.TaskExecution{}
	}
	return &ListExecutionsOutput{Body: envelope(executions)}, nil
}

// CancelExecutionInput addresses one execution of a task.
type CancelExecutionInput struct {
	ID          string `path:"id" doc:"Scheduled task ID"`
	ExecutionID string `path:"execId" doc:"Execution ID"`
}

// CancelledData reports a completed cancellation.
type CancelledData struct {
	Cancelled bool `json:"cancelled"`
}

// CancelExecutionOutput is the execution cancellation response.
type CancelExecutionOutput struct {
	Body Envelope[CancelledData]
}

// CancelExecution stops a pending or running execution, cancelling its job
// when one was created.
func (h *TaskHandler) CancelExecution(ctx context.Context, input *CancelExecutionInput) (*CancelExecutionOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	cancelled, err := h.tasks.CancelExecution(ctx, claims.APIKeyID, input.ID, input.ExecutionID)
	if err != nil {
		return nil, errFromService(err, "cancel execution")
	}
	if !cancelled {
		return nil, errNotFound("execution")
	}
	return &CancelExecutionOutput{Body: envelope(CancelledData{Cancelled: true})}, nil
}

func boolFilter(name, value string) (*bool, *Error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return nil, errBadRequest("invalid " + name + " filter: expected true or false")
	}
	return &parsed, nil
}
