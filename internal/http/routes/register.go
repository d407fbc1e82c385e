package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/trawlhq/trawl-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
func Register(api huma.API, h *Handlers) {
	RegisterPublic(api, h)
	RegisterProtected(api, h)
	RegisterExtraction(api, h)
}

// RegisterPublic registers the health endpoint and orchestration probes.
func RegisterPublic(api huma.API, h *Handlers) {
	mw.PublicGet(api, "/v1/health", h.Health,
		mw.WithTags("Health"),
		mw.WithSummary("Health check"),
		mw.WithOperationID("health"))

	mw.HiddenGet(api, "/healthz", h.Livez)
	mw.HiddenGet(api, "/readyz", h.Readyz)
}

// RegisterExtraction registers the job-creating endpoints. They sit behind an
// extra middleware gate in the server (concurrent job limits and extended
// write deadlines), so they get their own Huma API instance there.
func RegisterExtraction(api huma.API, h *Handlers) {
	mw.ProtectedPost(api, "/v1/scrape", h.Scrape.Scrape,
		mw.WithTags("Extraction"),
		mw.WithSummary("Scrape a page"),
		mw.WithDescription("Fetches one page synchronously and returns the extracted document. Charges 1 credit, cache hits included."),
		mw.WithOperationID("scrape"))
	mw.ProtectedPost(api, "/v1/search", h.Search.Search,
		mw.WithTags("Extraction"),
		mw.WithSummary("Search the web"),
		mw.WithDescription("Runs the query through the configured search provider. Charges 1 credit per 10 results requested. scrape_options enriches each hit with its document."),
		mw.WithOperationID("search"))
	mw.ProtectedPost(api, "/v1/map", h.Map.Map,
		mw.WithTags("Extraction"),
		mw.WithSummary("Map a site"),
		mw.WithDescription("Discovers a site's URLs from sitemaps, search, seed-page links and the page cache index."),
		mw.WithOperationID("mapSite"))
	mw.ProtectedPost(api, "/v1/crawl", h.Crawl.CreateCrawl,
		mw.WithTags("Crawls"),
		mw.WithSummary("Start a crawl"),
		mw.WithDefaultStatus(http.StatusCreated),
		mw.WithOperationID("createCrawl"))
}

// RegisterProtected registers the bearer-authenticated read and management
// endpoints.
func RegisterProtected(api huma.API, h *Handlers) {
	// --- Crawls ---
	mw.ProtectedGet(api, "/v1/crawl/{jobId}/status", h.Crawl.CrawlStatus,
		mw.WithTags("Crawls"),
		mw.WithSummary("Get crawl status"),
		mw.WithOperationID("crawlStatus"))
	mw.ProtectedGet(api, "/v1/crawl/{jobId}", h.Crawl.CrawlResults,
		mw.WithTags("Crawls"),
		mw.WithSummary("Get crawl results"),
		mw.WithOperationID("crawlResults"))
	mw.ProtectedDelete(api, "/v1/crawl/{jobId}", h.Crawl.CancelCrawl,
		mw.WithTags("Crawls"),
		mw.WithSummary("Cancel a crawl"),
		mw.WithOperationID("cancelCrawl"))

	// --- Scheduled tasks ---
	mw.ProtectedPost(api, "/v1/scheduled-tasks", h.Task.CreateTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Create a scheduled task"),
		mw.WithDefaultStatus(http.StatusCreated),
		mw.WithOperationID("createScheduledTask"))
	mw.ProtectedGet(api, "/v1/scheduled-tasks", h.Task.ListTasks,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("List scheduled tasks"),
		mw.WithOperationID("listScheduledTasks"))
	mw.ProtectedGet(api, "/v1/scheduled-tasks/{id}", h.Task.GetTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Get a scheduled task"),
		mw.WithOperationID("getScheduledTask"))
	mw.RegisterProtected(api, http.MethodPatch, "/v1/scheduled-tasks/{id}", h.Task.UpdateTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Update a scheduled task"),
		mw.WithOperationID("updateScheduledTask"))
	mw.ProtectedDelete(api, "/v1/scheduled-tasks/{id}", h.Task.DeleteTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Delete a scheduled task"),
		mw.WithOperationID("deleteScheduledTask"))
	mw.ProtectedPost(api, "/v1/scheduled-tasks/{id}/pause", h.Task.PauseTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Pause a scheduled task"),
		mw.WithOperationID("pauseScheduledTask"))
	mw.ProtectedPost(api, "/v1/scheduled-tasks/{id}/resume", h.Task.ResumeTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Resume a scheduled task"),
		mw.WithOperationID("resumeScheduledTask"))
	mw.ProtectedPost(api, "/v1/scheduled-tasks/{id}/trigger", h.Task.TriggerTask,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Trigger a scheduled task"),
		mw.WithDescription("Runs the task immediately, outside its cron schedule."),
		mw.WithOperationID("triggerScheduledTask"))
	mw.ProtectedGet(api, "/v1/scheduled-tasks/{id}/executions", h.Task.ListExecutions,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("List task executions"),
		mw.WithOperationID("listTaskExecutions"))
	mw.ProtectedPost(api, "/v1/scheduled-tasks/{id}/executions/{execId}/cancel", h.Task.CancelExecution,
		mw.WithTags("Scheduled Tasks"),
		mw.WithSummary("Cancel a task execution"),
		mw.WithOperationID("cancelTaskExecution"))

	// --- Webhooks ---
	mw.ProtectedGet(api, "/v1/webhooks", h.Webhook.ListWebhooks,
		mw.WithTags("Webhooks"),
		mw.WithSummary("List webhooks"),
		mw.WithOperationID("listWebhooks"))
	mw.ProtectedPost(api, "/v1/webhooks", h.Webhook.CreateWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Create a webhook"),
		mw.WithDefaultStatus(http.StatusCreated),
		mw.WithOperationID("createWebhook"))
	mw.ProtectedGet(api, "/v1/webhooks/{id}", h.Webhook.GetWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Get a webhook"),
		mw.WithOperationID("getWebhook"))
	mw.ProtectedPut(api, "/v1/webhooks/{id}", h.Webhook.UpdateWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Update a webhook"),
		mw.WithOperationID("updateWebhook"))
	mw.ProtectedDelete(api, "/v1/webhooks/{id}", h.Webhook.DeleteWebhook,
		mw.WithTags("Webhooks"),
		mw.WithSummary("Delete a webhook"),
		mw.WithOperationID("deleteWebhook"))
	mw.ProtectedGet(api, "/v1/webhooks/{id}/deliveries", h.Webhook.ListDeliveries,
		mw.WithTags("Webhooks"),
		mw.WithSummary("List webhook deliveries"),
		mw.WithOperationID("listWebhookDeliveries"))

	// --- Templates ---
	mw.ProtectedGet(api, "/v1/templates", h.Template.ListTemplates,
		mw.WithTags("Templates"),
		mw.WithSummary("List templates"),
		mw.WithOperationID("listTemplates"))
	mw.ProtectedPost(api, "/v1/templates", h.Template.CreateTemplate,
		mw.WithTags("Templates"),
		mw.WithSummary("Create a template"),
		mw.WithDefaultStatus(http.StatusCreated),
		mw.WithOperationID("createTemplate"))
	mw.ProtectedGet(api, "/v1/templates/{id}", h.Template.GetTemplate,
		mw.WithTags("Templates"),
		mw.WithSummary("Get a template"),
		mw.WithOperationID("getTemplate"))
	mw.ProtectedPut(api, "/v1/templates/{id}", h.Template.UpdateTemplate,
		mw.WithTags("Templates"),
		mw.WithSummary("Update a template"),
		mw.WithOperationID("updateTemplate"))
	mw.ProtectedDelete(api, "/v1/templates/{id}", h.Template.DeleteTemplate,
		mw.WithTags("Templates"),
		mw.WithSummary("Delete a template"),
		mw.WithDescription("Removes the template and deactivates scheduled tasks referencing it."),
		mw.WithOperationID("deleteTemplate"))

	// --- API keys ---
	mw.ProtectedGet(api, "/v1/keys", h.APIKey.ListKeys,
		mw.WithTags("API Keys"),
		mw.WithSummary("List API keys"),
		mw.WithOperationID("listKeys"))
	mw.ProtectedPost(api, "/v1/keys", h.APIKey.CreateKey,
		mw.WithTags("API Keys"),
		mw.WithSummary("Create an API key"),
		mw.WithDescription("The raw key appears only in this response."),
		mw.WithDefaultStatus(http.StatusCreated),
		mw.WithOperationID("createKey"))
	mw.ProtectedGet(api, "/v1/keys/{id}", h.APIKey.GetKey,
		mw.WithTags("API Keys"),
		mw.WithSummary("Get an API key"),
		mw.WithOperationID("getKey"))
	mw.ProtectedDelete(api, "/v1/keys/{id}", h.APIKey.RevokeKey,
		mw.WithTags("API Keys"),
		mw.WithSummary("Revoke an API key"),
		mw.WithOperationID("revokeKey"))
}
