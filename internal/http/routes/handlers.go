// Package routes provides shared route registration for the API. The main
// server and the OpenAPI generator both register through it, keeping the
// published spec in sync with the running routes.
package routes

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/http/handlers"
)

// ScrapeHandlers is the synchronous scrape endpoint.
type ScrapeHandlers interface {
	Scrape(ctx context.Context, input *handlers.ScrapeInput) (*handlers.ScrapeOutput, error)
}

// CrawlHandlers are the crawl lifecycle endpoints.
type CrawlHandlers interface {
	CreateCrawl(ctx context.Context, input *handlers.CreateCrawlInput) (*handlers.CreateCrawlOutput, error)
	CrawlStatus(ctx context.Context, input *handlers.CrawlStatusInput) (*handlers.CrawlStatusOutput, error)
	CrawlResults(ctx context.Context, input *handlers.CrawlResultsInput) (*handlers.CrawlResultsOutput, error)
	CancelCrawl(ctx context.Context, input *handlers.CancelCrawlInput) (*handlers.CancelCrawlOutput, error)
}

// SearchHandlers is the search endpoint.
type SearchHandlers interface {
	Search(ctx context.Context, input *handlers.SearchInput) (*handlers.SearchOutput, error)
}

// MapHandlers is the URL discovery endpoint.
type MapHandlers interface {
	Map(ctx context.Context, input *handlers.MapInput) (*handlers.MapOutput, error)
}

// TaskHandlers are the scheduled task endpoints.
type TaskHandlers interface {
	CreateTask(ctx context.Context, input *handlers.CreateTaskHTTPInput) (*handlers.TaskOutput, error)
	ListTasks(ctx context.Context, input *handlers.ListTasksInput) (*handlers.ListTasksOutput, error)
	GetTask(ctx context.Context, input *handlers.TaskIDInput) (*handlers.TaskOutput, error)
	UpdateTask(ctx context.Context, input *handlers.UpdateTaskHTTPInput) (*handlers.TaskOutput, error)
	DeleteTask(ctx context.Context, input *handlers.TaskIDInput) (*handlers.DeletedOutput, error)
	PauseTask(ctx context.Context, input *handlers.TaskIDInput) (*handlers.TaskOutput, error)
	ResumeTask(ctx context.Context, input *handlers.TaskIDInput) (*handlers.TaskOutput, error)
	TriggerTask(ctx context.Context, input *handlers.TaskIDInput) (*handlers.ExecutionOutput, error)
	ListExecutions(ctx context.Context, input *handlers.ListExecutionsInput) (*handlers.ListExecutionsOutput, error)
	CancelExecution(ctx context.Context, input *handlers.CancelExecutionInput) (*handlers.CancelExecutionOutput, error)
}

// WebhookHandlers are the webhook subscription endpoints.
type WebhookHandlers interface {
	ListWebhooks(ctx context.Context, input *struct{}) (*handlers.ListWebhooksOutput, error)
	GetWebhook(ctx context.Context, input *handlers.WebhookIDInput) (*handlers.WebhookOutput, error)
	CreateWebhook(ctx context.Context, input *handlers.CreateWebhookInput) (*handlers.WebhookOutput, error)
	UpdateWebhook(ctx context.Context, input *handlers.UpdateWebhookInput) (*handlers.WebhookOutput, error)
	DeleteWebhook(ctx context.Context, input *handlers.WebhookIDInput) (*handlers.DeletedOutput, error)
	ListDeliveries(ctx context.Context, input *handlers.ListDeliveriesInput) (*handlers.ListDeliveriesOutput, error)
}

// TemplateHandlers are the task template endpoints.
type TemplateHandlers interface {
	CreateTemplate(ctx context.Context, input *handlers.CreateTemplateInput) (*handlers.TemplateOutput, error)
	ListTemplates(ctx context.Context, input *struct{}) (*handlers.ListTemplatesOutput, error)
	GetTemplate(ctx context.Context, input *handlers.TemplateIDInput) (*handlers.TemplateOutput, error)
	UpdateTemplate(ctx context.Context, input *handlers.UpdateTemplateInput) (*handlers.TemplateOutput, error)
	DeleteTemplate(ctx context.Context, input *handlers.TemplateIDInput) (*handlers.DeletedOutput, error)
}

// APIKeyHandlers are the key management endpoints for session users.
type APIKeyHandlers interface {
	CreateKey(ctx context.Context, input *handlers.CreateKeyHTTPInput) (*handlers.CreateKeyOutput, error)
	ListKeys(ctx context.Context, input *struct{}) (*handlers.ListKeysOutput, error)
	GetKey(ctx context.Context, input *handlers.KeyIDInput) (*handlers.KeyOutput, error)
	RevokeKey(ctx context.Context, input *handlers.KeyIDInput) (*handlers.RevokeKeyOutput, error)
}

// Handlers aggregates all handler interfaces for route registration. The
// main server passes real implementations; the OpenAPI generator passes
// stubs.
type Handlers struct {
	// Public endpoint and probes
	Health func(ctx context.Context, input *struct{}) (*handlers.HealthOutput, error)
	Livez  func(ctx context.Context, input *struct{}) (*handlers.ProbeOutput, error)
	Readyz func(ctx context.Context, input *struct{}) (*handlers.ProbeOutput, error)

	// Protected endpoint handlers
	Scrape   ScrapeHandlers
	Crawl    CrawlHandlers
	Search   SearchHandlers
	Map      MapHandlers
	Task     TaskHandlers
	Webhook  WebhookHandlers
	Template TemplateHandlers
	APIKey   APIKeyHandlers
}

// FromHandlers adapts the concrete handler set for registration.
func FromHandlers(h *handlers.Handlers) *Handlers {
	return &Handlers{
		Health:   h.Health.Health,
		Livez:    h.Health.Livez,
		Readyz:   h.Health.Readyz,
		Scrape:   h.Scrape,
		Crawl:    h.Crawl,
		Search:   h.Search,
		Map:      h.Map,
		Task:     h.Tasks,
		Webhook:  h.Webhooks,
		Template: h.Templates,
		APIKey:   h.Keys,
	}
}
