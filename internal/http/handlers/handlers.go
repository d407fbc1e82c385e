package handlers

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/crypto"
	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/repository"
	"github.com/trawlhq/trawl-api/internal/service"
)

// Handlers aggregates every endpoint handler for route registration.
type Handlers struct {
	Health    *HealthHandler
	Scrape    *ScrapeHandler
	Crawl     *CrawlHandler
	Search    *SearchHandler
	Map       *MapHandler
	Tasks     *TaskHandler
	Webhooks  *WebhookHandler
	Templates *TemplateHandler
	Keys      *APIKeyHandler
}

// Config carries the collaborators the handlers need.
type Config struct {
	DB        *sql.DB
	Redis     *redis.Client
	Services  *service.Services
	Repos     *repository.Repositories
	Keys      *service.APIKeyService
	Encryptor *crypto.Encryptor
	Blocklist *mw.URLBlocklist
	// BaseURL is the externally visible origin, used for pagination cursors.
	BaseURL string
}

// New creates all endpoint handlers.
func New(cfg Config) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(cfg.DB, cfg.Redis),
		Scrape:    NewScrapeHandler(cfg.Services.Scrape, cfg.Blocklist),
		Crawl:     NewCrawlHandler(cfg.Services.Crawl, cfg.Services.Job, cfg.Blocklist, cfg.BaseURL),
		Search:    NewSearchHandler(cfg.Services.Search),
		Map:       NewMapHandler(cfg.Services.Map, cfg.Blocklist),
		Tasks:     NewTaskHandler(cfg.Services.Task),
		Webhooks:  NewWebhookHandler(cfg.Repos.Webhook, cfg.Repos.WebhookDelivery, cfg.Encryptor),
		Templates: NewTemplateHandler(cfg.Services.Template),
		Keys:      NewAPIKeyHandler(cfg.Keys),
	}
}
