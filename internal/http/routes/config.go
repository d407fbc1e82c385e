package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration: API metadata, the
// bearer security scheme, and tag definitions.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Trawl API", version.Get().Short())
	cfg.Info.Description = "Credit-metered web content extraction: scrape, crawl, search and map, with cron-scheduled tasks and webhook notifications."

	// Disable $schema field in responses. It conflicts with SDK code
	// generators that expect a plain schema field.
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "API key authentication. Include your key in the Authorization header as `Bearer tw_your_key`.",
		},
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Extraction", Description: "Synchronous scrape, search and map endpoints", Extensions: map[string]any{"x-displayName": "Extraction"}},
		{Name: "Crawls", Description: "Asynchronous crawl jobs: creation, status, results", Extensions: map[string]any{"x-displayName": "Crawls"}},
		{Name: "Scheduled Tasks", Description: "Cron-scheduled recurring extractions", Extensions: map[string]any{"x-displayName": "Scheduled Tasks"}},
		{Name: "Templates", Description: "Reusable task payloads", Extensions: map[string]any{"x-displayName": "Templates"}},
		{Name: "Webhooks", Description: "Webhook subscriptions for job and task events", Extensions: map[string]any{"x-displayName": "Webhooks"}},
		{Name: "API Keys", Description: "API key management", Extensions: map[string]any{"x-displayName": "API Keys"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
