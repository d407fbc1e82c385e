// Package repository defines repository interfaces for data access.
// Note: user identity and subscription management live outside this service;
// api_keys is the unit of ownership for everything stored here.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// APIKeyRepository defines methods for API key data access.
type APIKeyRepository interface {
	Create(ctx context.Context, key *models.APIKey) error
	GetByID(ctx context.Context, id string) (*models.APIKey, error)
	GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error)
	GetByUserID(ctx context.Context, userID string) ([]*models.APIKey, error)
	// GetDefaultForUser returns the user's oldest active key, used to bind
	// session-authenticated requests to a billing identity.
	GetDefaultForUser(ctx context.Context, userID string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error
	// AdjustCredits adds delta (which may be negative) to the key's balance.
	AdjustCredits(ctx context.Context, id string, delta int64) error
	Revoke(ctx context.Context, id string) error
}

// JobRepository defines methods for job data access.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	CreateTx(ctx context.Context, tx *sql.Tx, job *models.Job) error
	GetByID(ctx context.Context, id string) (*models.Job, error)
	GetByAPIKeyID(ctx context.Context, apiKeyID string, limit, offset int) ([]*models.Job, error)
	// CountActiveByAPIKeyID counts pending and running jobs, used by the
	// concurrency gate.
	CountActiveByAPIKeyID(ctx context.Context, apiKeyID string) (int, error)
	Update(ctx context.Context, job *models.Job) error
	// MarkRunning transitions pending -> running; returns false when the job
	// was already claimed or finished.
	MarkRunning(ctx context.Context, id string) (bool, error)
	// SetTotal records how many pages the crawl has enqueued so far.
	SetTotal(ctx context.Context, id string, total int) error
	// ApplyPageResult bumps completed (and failed) and refreshes updated_at,
	// which the reconciler reads as crawl liveness.
	ApplyPageResult(ctx context.Context, id string, success bool) error
	// ApplyPageResultTx is ApplyPageResult inside a caller-owned transaction,
	// used to commit the counter bump together with the per-page charge.
	ApplyPageResultTx(ctx context.Context, tx *sql.Tx, id string, success bool) error
	// Finish moves the job to a terminal status. Safe to call once; later
	// calls on a terminal job are no-ops.
	Finish(ctx context.Context, id string, status models.JobStatus, isSuccess bool, errorMessage string) error
}

// JobResultRepository defines methods for per-page result data access.
type JobResultRepository interface {
	Create(ctx context.Context, result *models.JobResult) error
	// GetByJobID returns results ordered by id (ULIDs are time-ordered).
	GetByJobID(ctx context.Context, jobID string, limit, offset int) ([]*models.JobResult, error)
	CountByJobID(ctx context.Context, jobID string) (int, error)
	DeleteByJobID(ctx context.Context, jobID string) error
}

// TaskRepository defines methods for scheduled task data access.
type TaskRepository interface {
	Create(ctx context.Context, task *models.ScheduledTask) error
	GetByID(ctx context.Context, id string) (*models.ScheduledTask, error)
	ListByAPIKey(ctx context.Context, apiKeyID string) ([]*models.ScheduledTask, error)
	// ListActive returns every active, non-paused task; the reconciler groups
	// them by owner for tier limit enforcement.
	ListActive(ctx context.Context) ([]*models.ScheduledTask, error)
	// UpdatedSince returns tasks touched at or after the watermark.
	UpdatedSince(ctx context.Context, since time.Time) ([]*models.ScheduledTask, error)
	ListByTaskType(ctx context.Context, taskType models.TaskType) ([]*models.ScheduledTask, error)
	Update(ctx context.Context, task *models.ScheduledTask) error
	Delete(ctx context.Context, id string) error
	// Pause sets is_paused with a reason; returns false when the task was
	// already paused, so callers can suppress duplicate notifications.
	Pause(ctx context.Context, id, reason string) (bool, error)
	Resume(ctx context.Context, id string) error
	// Stop deactivates the task entirely (missing api_key, missing template).
	Stop(ctx context.Context, id, reason string) error
	// RecordTrigger advances next_execution_at after a successful dispatch,
	// bumps total_executions and resets consecutive_failures.
	RecordTrigger(ctx context.Context, id string, next *time.Time, last time.Time) error
	// AdvanceNext moves next_execution_at without recording an execution
	// (skip-mode ticks, daily-cap skips).
	AdvanceNext(ctx context.Context, id string, next *time.Time) error
	// RecordFailure bumps failed_executions and consecutive_failures,
	// returning the new consecutive count.
	RecordFailure(ctx context.Context, id string, next *time.Time) (int, error)
	// RecordExecutionOutcome bumps successful_executions or failed_executions
	// when a dispatched execution finishes.
	RecordExecutionOutcome(ctx context.Context, id string, success bool) error
}

// ExecutionRepository defines methods for task execution data access.
type ExecutionRepository interface {
	Create(ctx context.Context, exec *models.TaskExecution) error
	CreateTx(ctx context.Context, tx *sql.Tx, exec *models.TaskExecution) error
	GetByID(ctx context.Context, id string) (*models.TaskExecution, error)
	ListByTask(ctx context.Context, taskID string, limit, offset int) ([]*models.TaskExecution, error)
	// CountInFlight counts pending + running executions for a task.
	CountInFlight(ctx context.Context, taskID string) (int, error)
	// CountScheduledSince counts executions scheduled at or after the cutoff,
	// used for the daily cap in the task's local day.
	CountScheduledSince(ctx context.Context, taskID string, since time.Time) (int, error)
	MarkRunningTx(ctx context.Context, tx *sql.Tx, id, jobID string) error
	MarkStarted(ctx context.Context, id string, at time.Time) error
	// Complete moves the execution to a terminal status with optional error
	// detail. Terminal executions are not updated again.
	Complete(ctx context.Context, id string, status models.ExecutionStatus, errMsg, errCode, errDetailsJSON string) error
	// ListUnfinished returns all pending and running executions for stale
	// cleanup.
	ListUnfinished(ctx context.Context) ([]*models.TaskExecution, error)
}

// LedgerRepository defines read access to the billing ledger. Writes happen
// inside the billing service's transactions.
type LedgerRepository interface {
	GetByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	ListByJob(ctx context.Context, jobID string) ([]*models.LedgerEntry, error)
}

// PageCacheRepository defines methods for page cache metadata access.
type PageCacheRepository interface {
	Upsert(ctx context.Context, entry *models.PageCacheEntry) error
	// GetFresh returns the most recent entry scraped within maxAge, or nil.
	GetFresh(ctx context.Context, urlHash, optionsHash string, maxAge time.Duration) (*models.PageCacheEntry, error)
	// ListByDomain feeds map discovery from previously scraped pages.
	ListByDomain(ctx context.Context, domain string, limit int) ([]*models.PageCacheEntry, error)
}

// MapCacheRepository defines methods for map cache metadata access.
type MapCacheRepository interface {
	Upsert(ctx context.Context, entry *models.MapCacheEntry) error
	GetFresh(ctx context.Context, domainHash string, source models.MapSource, maxAge time.Duration) (*models.MapCacheEntry, error)
}

// WebhookRepository defines methods for webhook subscription data access.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	GetByAPIKeyID(ctx context.Context, apiKeyID string) ([]*models.Webhook, error)
	GetActiveByAPIKeyID(ctx context.Context, apiKeyID string) ([]*models.Webhook, error)
	Update(ctx context.Context, webhook *models.Webhook) error
	Delete(ctx context.Context, id string) error
}

// WebhookDeliveryRepository defines methods for delivery attempt tracking.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *models.WebhookDelivery) error
	Update(ctx context.Context, delivery *models.WebhookDelivery) error
	GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error)
	GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error)
	GetByResourceID(ctx context.Context, resourceID string) ([]*models.WebhookDelivery, error)
}

// TemplateRepository defines methods for task template data access.
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.Template) error
	GetByID(ctx context.Context, id string) (*models.Template, error)
	ListByAPIKey(ctx context.Context, apiKeyID string) ([]*models.Template, error)
	Update(ctx context.Context, tmpl *models.Template) error
	Delete(ctx context.Context, id string) error
}

// TemplateExecutionRepository records template resolutions at dispatch time.
type TemplateExecutionRepository interface {
	Create(ctx context.Context, exec *models.TemplateExecution) error
	ListByTemplate(ctx context.Context, templateID string, limit, offset int) ([]*models.TemplateExecution, error)
}

// Repositories holds all repository instances.
type Repositories struct {
	APIKey            APIKeyRepository
	Job               JobRepository
	JobResult         JobResultRepository
	Task              TaskRepository
	Execution         ExecutionRepository
	Ledger            LedgerRepository
	PageCache         PageCacheRepository
	MapCache          MapCacheRepository
	Webhook           WebhookRepository
	WebhookDelivery   WebhookDeliveryRepository
	Template          TemplateRepository
	TemplateExecution TemplateExecutionRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		APIKey:            NewSQLiteAPIKeyRepository(db),
		Job:               NewSQLiteJobRepository(db),
		JobResult:         NewSQLiteJobResultRepository(db),
		Task:              NewSQLiteTaskRepository(db),
		Execution:         NewSQLiteExecutionRepository(db),
		Ledger:            NewSQLiteLedgerRepository(db),
		PageCache:         NewSQLitePageCacheRepository(db),
		MapCache:          NewSQLiteMapCacheRepository(db),
		Webhook:           NewSQLiteWebhookRepository(db),
		WebhookDelivery:   NewSQLiteWebhookDeliveryRepository(db),
		Template:          NewSQLiteTemplateRepository(db),
		TemplateExecution: NewSQLiteTemplateExecutionRepository(db),
	}
}
