package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/queue"
	"github.com/trawlhq/trawl-api/internal/service"
)

// Handlers wires the queue set to the services that execute jobs. Search
// and map jobs run inline in the scheduler and the API; workers only see
// scrape and crawl queues.
type Handlers struct {
	scrape *service.ScrapeService
	crawl  *service.CrawlService
	logger *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(scrape *service.ScrapeService, crawl *service.CrawlService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{scrape: scrape, crawl: crawl, logger: logger}
}

// RegisterAll attaches a handler for every (type, engine) queue the workers
// consume.
func (h *Handlers) RegisterAll(pool *Pool) {
	for _, eng := range []models.Engine{models.EngineCheerio, models.EnginePlaywright, models.EnginePuppeteer} {
		pool.Register(models.QueueNameFor(models.TaskTypeScrape, eng), h.HandleScrape)
		pool.Register(models.QueueNameFor(models.TaskTypeCrawl, eng), h.HandleCrawl)
	}
}

// HandleScrape runs a queued single-page scrape; the entry id is the job id.
func (h *Handlers) HandleScrape(ctx context.Context, entry *queue.Job) error {
	return h.scrape.RunJob(ctx, entry.ID)
}

// HandleCrawl dispatches a crawl entry: page payloads carry crawl_job_id,
// everything else is a seed whose entry id is the crawl job id.
func (h *Handlers) HandleCrawl(ctx context.Context, entry *queue.Job) error {
	var page models.CrawlPagePayload
	if err := json.Unmarshal(entry.Payload, &page); err == nil && page.CrawlJobID != "" {
		return h.crawl.ExecutePage(ctx, page)
	}
	return h.crawl.ExecuteSeed(ctx, entry.ID)
}

// OnExhausted is the pool failure callback: the owning job or crawl page
// goes failed once an entry runs out of attempts.
func (h *Handlers) OnExhausted(ctx context.Context, entry *queue.Job, cause error) {
	var page models.CrawlPagePayload
	if err := json.Unmarshal(entry.Payload, &page); err == nil && page.CrawlJobID != "" {
		h.crawl.FailPage(ctx, page, cause)
		return
	}
	if strings.HasPrefix(entry.QueueName, string(models.TaskTypeCrawl)+"-") {
		h.crawl.FailSeed(ctx, entry.ID, cause)
		return
	}
	h.scrape.FailJob(ctx, entry.ID, cause)
}
