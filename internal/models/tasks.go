package models

import (
	"encoding/json"
	"time"
)

// ConcurrencyMode controls what happens when a cron tick fires while a prior
// execution of the same task is still in flight.
type ConcurrencyMode string

const (
	// ConcurrencySkip skips the tick but still advances next_execution_at.
	ConcurrencySkip ConcurrencyMode = "skip"
	// ConcurrencyQueue always dispatches a new execution.
	ConcurrencyQueue ConcurrencyMode = "queue"
)

// Pause and stop reasons recorded on scheduled tasks.
const (
	PauseReasonConsecutiveFailures = "consecutive_failures"
	PauseReasonInsufficientCredits = "insufficient_credits"
	PauseReasonTierLimit           = "tier_limit_exceeded"
	PauseReasonAPIKeyMissing       = "api_key_missing"
	PauseReasonTemplateMissing     = "template_missing"
)

// ScheduledTask is a recurring trigger that dispatches jobs on a cron
// schedule in the task's own timezone.
type ScheduledTask struct {
	ID                   string          `json:"id"`
	APIKeyID             string          `json:"api_key_id"`
	UserID               string          `json:"user_id,omitempty"`
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	CronExpression       string          `json:"cron_expression"`
	Timezone             string          `json:"timezone"`
	TaskType             TaskType        `json:"task_type"`
	TaskPayloadJSON      string          `json:"task_payload_json,omitempty"`
	ConcurrencyMode      ConcurrencyMode `json:"concurrency_mode"`
	MaxExecutionsPerDay  int             `json:"max_executions_per_day,omitempty"` // 0 = uncapped
	MinCreditsRequired   int64           `json:"min_credits_required"`
	IsActive             bool            `json:"is_active"`
	IsPaused             bool            `json:"is_paused"`
	PauseReason          string          `json:"pause_reason,omitempty"`
	NextExecutionAt      *time.Time      `json:"next_execution_at,omitempty"`
	LastExecutionAt      *time.Time      `json:"last_execution_at,omitempty"`
	TotalExecutions      int             `json:"total_executions"`
	SuccessfulExecutions int             `json:"successful_executions"`
	FailedExecutions     int             `json:"failed_executions"`
	ConsecutiveFailures  int             `json:"consecutive_failures"`
	Tags                 []string        `json:"tags,omitempty"`
	MetadataJSON         string          `json:"metadata_json,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Eligible reports whether the task may be triggered.
func (t *ScheduledTask) Eligible() bool {
	return t.IsActive && !t.IsPaused
}

// TaskPayload is the scheduler-visible slice of a task's payload. The full
// payload round-trips untouched into the Job; executors parse the options
// they understand. Limit tolerates string-encoded numbers since payloads are
// often authored by hand.
type TaskPayload struct {
	URL        string  `json:"url,omitempty"`
	Query      string  `json:"query,omitempty"`
	TemplateID string  `json:"template_id,omitempty"`
	Limit      FlexInt `json:"limit,omitempty"`
	WebhookURL string  `json:"webhook_url,omitempty"`
}

// ParseTaskPayload decodes the scheduler-visible fields from a raw payload.
// An empty payload is valid and yields the zero value.
func ParseTaskPayload(raw string) (TaskPayload, error) {
	var p TaskPayload
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return TaskPayload{}, err
	}
	return p, nil
}

// ExecutionStatus represents the status of a task execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// TriggeredBy records what initiated a task execution.
const (
	TriggeredByScheduler = "scheduler"
	TriggeredByManual    = "manual"
	TriggeredBySystem    = "system"
)

// TaskExecution is one firing of a scheduled task. It is created pending in
// the same transaction as its Job; terminal transitions are one-way.
type TaskExecution struct {
	ID               string          `json:"id"`
	ScheduledTaskID  string          `json:"scheduled_task_id"`
	ExecutionNumber  int             `json:"execution_number"`
	IdempotencyKey   string          `json:"idempotency_key"`
	Status           ExecutionStatus `json:"status"`
	ScheduledFor     time.Time       `json:"scheduled_for"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	TriggeredBy      string          `json:"triggered_by"`
	JobID            *string         `json:"job_id,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorDetailsJSON string          `json:"error_details_json,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the execution has reached a final state.
func (e *TaskExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// Template is a reusable task payload. Scheduled tasks with
// task_type=template resolve their concrete type and payload from the
// linked template at dispatch.
type Template struct {
	ID          string    `json:"id"`
	APIKeyID    string    `json:"api_key_id"`
	UserID      string    `json:"user_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TaskType    TaskType  `json:"task_type"`
	PayloadJSON string    `json:"payload_json,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TemplateExecution is an audit row recording a template resolution at
// dispatch time.
type TemplateExecution struct {
	ID              string    `json:"id"`
	TemplateID      string    `json:"template_id"`
	TaskExecutionID string    `json:"task_execution_id"`
	ResolvedType    TaskType  `json:"resolved_type"`
	CreatedAt       time.Time `json:"created_at"`
}
