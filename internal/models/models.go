// Package models defines the domain models for the application.
// Note: user identity and subscription management live outside this service;
// the UserID fields carry the upstream identity provider's user IDs.
package models

import (
	"time"
)

// APIKey represents an API key for programmatic access. Credits are debited
// by the billing engine and may go negative when a crawl overshoots the
// remaining balance; the scheduler pauses the owning tasks at the next
// trigger instead of refusing mid-crawl pages.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id,omitempty"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"` // First chars for display
	Tier       string     `json:"tier"`
	Credits    int64      `json:"credits"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// TaskType represents the kind of work a job or scheduled task performs.
type TaskType string

const (
	TaskTypeScrape TaskType = "scrape"
	TaskTypeCrawl  TaskType = "crawl"
	TaskTypeSearch TaskType = "search"
	TaskTypeMap    TaskType = "map"
	// TaskTypeTemplate is valid only on scheduled tasks; the concrete type is
	// resolved from the linked template at dispatch time.
	TaskTypeTemplate TaskType = "template"
)

// Engine identifies the fetch engine used to render a page.
type Engine string

const (
	EngineCheerio    Engine = "cheerio"    // static HTTP fetch, no JS
	EnginePlaywright Engine = "playwright" // headless browser
	EnginePuppeteer  Engine = "puppeteer"  // headless browser
)

// ProxyMode selects the egress path for a fetch.
type ProxyMode string

const (
	ProxyNone    ProxyMode = "none"
	ProxyBasic   ProxyMode = "basic"
	ProxyStealth ProxyMode = "stealth"
)

// QueueNameFor builds the worker queue name for a (type, engine) pair.
// Every job carries its queue name so retries and removals land on the
// queue that originally held it.
func QueueNameFor(taskType TaskType, engine Engine) string {
	if engine == "" {
		engine = EngineCheerio
	}
	return string(taskType) + "-" + string(engine)
}

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobOrigin records what created a job.
const (
	JobOriginAPI       = "api"
	JobOriginScheduler = "scheduler"
	JobOriginSystem    = "system"
)

// Job represents a unit of work: a single scrape, a crawl fan-out, a search,
// or a map discovery. Every execution path creates a Job row so billing and
// progress reporting are uniform across origins.
type Job struct {
	ID           string     `json:"id"`
	APIKeyID     string     `json:"api_key_id"`
	UserID       string     `json:"user_id,omitempty"`
	Type         TaskType   `json:"type"`
	Engine       Engine     `json:"engine"`
	QueueName    string     `json:"queue_name"`
	Status       JobStatus  `json:"status"`
	IsSuccess    bool       `json:"is_success"`
	URL          string     `json:"url,omitempty"`
	PayloadJSON  string     `json:"payload_json,omitempty"`
	Origin       string     `json:"origin"`
	Total        int        `json:"total"`     // pages enqueued (crawl) or results requested
	Completed    int        `json:"completed"` // pages finished, success or failure
	Failed       int        `json:"failed"`
	CreditsUsed  int64      `json:"credits_used"` // monotonically non-decreasing
	DeductedAt   *time.Time `json:"deducted_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	WebhookURL   string     `json:"webhook_url,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobResult is the per-page outcome produced by an engine. Rows are
// append-only during crawl execution. The document body lives in the object
// store under ContentKey when storage is configured, otherwise inline in
// DataJSON.
type JobResult struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	StatusCode   int       `json:"status_code"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	ContentKey   string    `json:"content_key,omitempty"`
	DataJSON     string    `json:"-"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FromCache    bool      `json:"from_cache"`
	CreatedAt    time.Time `json:"created_at"`
}

// WebhookEventType represents the type of webhook event.
type WebhookEventType string

const (
	WebhookEventAll             WebhookEventType = "*"
	WebhookEventTaskExecuted    WebhookEventType = "task.executed"
	WebhookEventTaskFailed      WebhookEventType = "task.failed"
	WebhookEventTaskPaused      WebhookEventType = "task.paused"
	WebhookEventTaskResumed     WebhookEventType = "task.resumed"
	WebhookEventScrapeCompleted WebhookEventType = "scrape.completed"
	WebhookEventScrapeFailed    WebhookEventType = "scrape.failed"
	WebhookEventCrawlCompleted  WebhookEventType = "crawl.completed"
	WebhookEventCrawlFailed     WebhookEventType = "crawl.failed"
)

// WebhookDeliveryStatus represents the status of a webhook delivery.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending  WebhookDeliveryStatus = "pending"
	WebhookDeliveryStatusSuccess  WebhookDeliveryStatus = "success"
	WebhookDeliveryStatusFailed   WebhookDeliveryStatus = "failed"
	WebhookDeliveryStatusRetrying WebhookDeliveryStatus = "retrying"
)

// Webhook represents a subscription to lifecycle events, owned by an API key.
type Webhook struct {
	ID              string    `json:"id"`
	APIKeyID        string    `json:"api_key_id"`
	UserID          string    `json:"user_id,omitempty"`
	Name            string    `json:"name"`
	URL             string    `json:"url"`
	SecretEncrypted string    `json:"-"`       // Encrypted webhook secret for HMAC signing
	Events          []string  `json:"events"`  // Event types to subscribe to (["*"] for all)
	Headers         []Header  `json:"headers"` // Custom headers to include
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Matches reports whether the subscription covers the given event.
func (w *Webhook) Matches(event WebhookEventType) bool {
	for _, e := range w.Events {
		if e == string(WebhookEventAll) || e == string(event) {
			return true
		}
	}
	return false
}

// Header represents a custom HTTP header for webhook requests.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WebhookDelivery represents a single webhook delivery attempt. ResourceID
// is the job or scheduled task the event concerns.
type WebhookDelivery struct {
	ID             string                `json:"id"`
	WebhookID      *string               `json:"webhook_id,omitempty"` // nil for per-request webhook URLs
	Event          WebhookEventType      `json:"event"`
	ResourceID     string                `json:"resource_id"`
	URL            string                `json:"url"`
	PayloadJSON    string                `json:"payload_json"`
	Status         WebhookDeliveryStatus `json:"status"`
	Attempts       int                   `json:"attempts"`
	MaxAttempts    int                   `json:"max_attempts"`
	ResponseStatus *int                  `json:"response_status,omitempty"`
	ResponseTimeMs *int                  `json:"response_time_ms,omitempty"`
	ErrorMessage   string                `json:"error_message,omitempty"`
	NextRetryAt    *time.Time            `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time            `json:"delivered_at,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}
