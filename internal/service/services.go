// Package service contains the business logic layer.
// Note: user identity and subscriptions are managed outside this service;
// api_keys is the unit of ownership and billing.
package service

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/config"
	"github.com/trawlhq/trawl-api/internal/crypto"
	"github.com/trawlhq/trawl-api/internal/engine"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/progress"
	"github.com/trawlhq/trawl-api/internal/queue"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// Services holds all service instances.
type Services struct {
	Storage  *StorageService
	Billing  *BillingService
	Cache    *CacheService
	Webhook  *WebhookService
	Sitemap  *SitemapService
	Scrape   *ScrapeService
	Crawl    *CrawlService
	Search   *SearchService
	Map      *MapService
	Inline   *InlineExecutor
	Job      *JobService
	Task     *TaskService
	Template *TemplateService

	// Progress is the crawl progress tracker, shared with the worker pool and
	// the finalize sweeper.
	Progress *progress.Tracker
}

// NewServices creates all service instances. The scheduler is attached later
// through Task.SetTriggers since it depends on the webhook service built here.
func NewServices(cfg *config.Config, db *sql.DB, repos *repository.Repositories, redisClient *redis.Client, queues *queue.Registry, engines map[models.Engine]engine.Engine, logger *slog.Logger) (*Services, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	storageSvc, err := NewStorageService(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage service: %w", err)
	}

	billingSvc := NewBillingService(db, repos, cfg.CreditsEnabled, logger)
	cacheSvc := NewCacheService(repos.PageCache, repos.MapCache, storageSvc, cfg.PageCacheMaxAge, cfg.SitemapMaxAge, logger)
	webhookSvc := NewWebhookService(repos, encryptor, cfg.WebhookSigningKey, cfg.WebhooksEnabled, logger)
	sitemapSvc := NewSitemapService(logger)

	scrapeSvc := NewScrapeService(repos, engines, cacheSvc, billingSvc, storageSvc, webhookSvc, NewStaticTransformer(), logger)

	tracker := progress.NewTracker(redisClient, db, repos.Job, billingSvc, webhookSvc, queues, logger)

	crawlSvc := NewCrawlService(repos, queues, redisClient, tracker, scrapeSvc, billingSvc, sitemapSvc, CrawlConfig{
		MaxLimit:         cfg.CrawlMaxLimit,
		QueueMaxAttempts: cfg.QueueMaxAttempts,
		QueueBackoffBase: cfg.QueueBackoffBase,
	}, logger)

	// Without a configured provider the search endpoint errors and map
	// discovery skips its search source.
	var provider SearchProvider
	if cfg.SearchEnabled() {
		provider = NewHTTPSearchProvider(cfg.SearchProviderURL, cfg.SearchProviderKey, 0, logger)
	}
	searchSvc := NewSearchService(repos, provider, scrapeSvc, billingSvc, logger)
	mapSvc := NewMapService(repos, cacheSvc, sitemapSvc, provider, scrapeSvc, billingSvc, logger)

	taskSvc := NewTaskService(repos, nil, logger)

	return &Services{
		Storage:  storageSvc,
		Billing:  billingSvc,
		Cache:    cacheSvc,
		Webhook:  webhookSvc,
		Sitemap:  sitemapSvc,
		Scrape:   scrapeSvc,
		Crawl:    crawlSvc,
		Search:   searchSvc,
		Map:      mapSvc,
		Inline:   NewInlineExecutor(searchSvc, mapSvc, logger),
		Job:      NewJobService(repos, logger),
		Task:     taskSvc,
		Template: NewTemplateService(repos, taskSvc, logger),
		Progress: tracker,
	}, nil
}
