package routes

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/http/handlers"
)

// StubHandlers returns a Handlers instance whose methods all return nil.
// Only the OpenAPI generator uses it: Huma extracts type information from
// the signatures and never invokes the handlers.
func StubHandlers() *Handlers {
	return &Handlers{
		Health: stubHealth,
		Livez:  stubProbe,
		Readyz: stubProbe,

		Scrape:   &stubScrapeHandlers{},
		Crawl:    &stubCrawlHandlers{},
		Search:   &stubSearchHandlers{},
		Map:      &stubMapHandlers{},
		Task:     &stubTaskHandlers{},
		Webhook:  &stubWebhookHandlers{},
		Template: &stubTemplateHandlers{},
		APIKey:   &stubAPIKeyHandlers{},
	}
}

func stubHealth(_ context.Context, _ *struct{}) (*handlers.HealthOutput, error) {
	return nil, nil
}

func stubProbe(_ context.Context, _ *struct{}) (*handlers.ProbeOutput, error) {
	return nil, nil
}

type stubScrapeHandlers struct{}

func (s *stubScrapeHandlers) Scrape(_ context.Context, _ *handlers.ScrapeInput) (*handlers.ScrapeOutput, error) {
	return nil, nil
}

type stubCrawlHandlers struct{}

func (s *stubCrawlHandlers) CreateCrawl(_ context.Context, _ *handlers.CreateCrawlInput) (*handlers.CreateCrawlOutput, error) {
	return nil, nil
}

func (s *stubCrawlHandlers) CrawlStatus(_ context.Context, _ *handlers.CrawlStatusInput) (*handlers.CrawlStatusOutput, error) {
	return nil, nil
}

func (s *stubCrawlHandlers) CrawlResults(_ context.Context, _ *handlers.CrawlResultsInput) (*handlers.CrawlResultsOutput, error) {
	return nil, nil
}

func (s *stubCrawlHandlers) CancelCrawl(_ context.Context, _ *handlers.CancelCrawlInput) (*handlers.CancelCrawlOutput, error) {
	return nil, nil
}

type stubSearchHandlers struct{}

func (s *stubSearchHandlers) Search(_ context.Context, _ *handlers.SearchInput) (*handlers.SearchOutput, error) {
	return nil, nil
}

type stubMapHandlers struct{}

func (s *stubMapHandlers) Map(_ context.Context, _ *handlers.MapInput) (*handlers.MapOutput, error) {
	return nil, nil
}

type stubTaskHandlers struct{}

func (s *stubTaskHandlers) CreateTask(_ context.Context, _ *handlers.CreateTaskHTTPInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) ListTasks(_ context.Context, _ *handlers.ListTasksInput) (*handlers.ListTasksOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) GetTask(_ context.Context, _ *handlers.TaskIDInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) UpdateTask(_ context.Context, _ *handlers.UpdateTaskHTTPInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) DeleteTask(_ context.Context, _ *handlers.TaskIDInput) (*handlers.DeletedOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) PauseTask(_ context.Context, _ *handlers.TaskIDInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) ResumeTask(_ context.Context, _ *handlers.TaskIDInput) (*handlers.TaskOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) TriggerTask(_ context.Context, _ *handlers.TaskIDInput) (*handlers.ExecutionOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) ListExecutions(_ context.Context, _ *handlers.ListExecutionsInput) (*handlers.ListExecutionsOutput, error) {
	return nil, nil
}

func (s *stubTaskHandlers) CancelExecution(_ context.Context, _ *handlers.CancelExecutionInput) (*handlers.CancelExecutionOutput, error) {
	return nil, nil
}

type stubWebhookHandlers struct{}

func (s *stubWebhookHandlers) ListWebhooks(_ context.Context, _ *struct{}) (*handlers.ListWebhooksOutput, error) {
	return nil, nil
}

func (s *stubWebhookHandlers) GetWebhook(_ context.Context, _ *handlers.WebhookIDInput) (*handlers.WebhookOutput, error) {
	return nil, nil
}

func (s *stubWebhookHandlers) CreateWebhook(_ context.Context, _ *handlers.CreateWebhookInput) (*handlers.WebhookOutput, error) {
	return nil, nil
}

func (s *stubWebhookHandlers) UpdateWebhook(_ context.Context, _ *handlers.UpdateWebhookInput) (*handlers.WebhookOutput, error) {
	return nil, nil
}

func (s *stubWebhookHandlers) DeleteWebhook(_ context.Context, _ *handlers.WebhookIDInput) (*handlers.DeletedOutput, error) {
	return nil, nil
}

func (s *stubWebhookHandlers) ListDeliveries(_ context.Context, _ *handlers.ListDeliveriesInput) (*handlers.ListDeliveriesOutput, error) {
	return nil, nil
}

type stubTemplateHandlers struct{}

func (s *stubTemplateHandlers) CreateTemplate(_ context.Context, _ *handlers.CreateTemplateInput) (*handlers.TemplateOutput, error) {
	return nil, nil
}

func (s *stubTemplateHandlers) ListTemplates(_ context.Context, _ *struct{}) (*handlers.ListTemplatesOutput, error) {
	return nil, nil
}

func (s *stubTemplateHandlers) GetTemplate(_ context.Context, _ *handlers.TemplateIDInput) (*handlers.TemplateOutput, error) {
	return nil, nil
}

func (s *stubTemplateHandlers) UpdateTemplate(_ context.Context, _ *handlers.UpdateTemplateInput) (*handlers.TemplateOutput, error) {
	return nil, nil
}

func (s *stubTemplateHandlers) DeleteTemplate(_ context.Context, _ *handlers.TemplateIDInput) (*handlers.DeletedOutput, error) {
	return nil, nil
}

type stubAPIKeyHandlers struct{}

func (s *stubAPIKeyHandlers) CreateKey(_ context.Context, _ *handlers.CreateKeyHTTPInput) (*handlers.CreateKeyOutput, error) {
	return nil, nil
}

func (s *stubAPIKeyHandlers) ListKeys(_ context.Context, _ *struct{}) (*handlers.ListKeysOutput, error) {
	return nil, nil
}

func (s *stubAPIKeyHandlers) GetKey(_ context.Context, _ *handlers.KeyIDInput) (*handlers.KeyOutput, error) {
	return nil, nil
}

func (s *stubAPIKeyHandlers) RevokeKey(_ context.Context, _ *handlers.KeyIDInput) (*handlers.RevokeKeyOutput, error) {
	return nil, nil
}
