package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// DefaultMapLimit caps a map result when the request does not set a limit.
const DefaultMapLimit = 1000

// MapService discovers a site's URL graph by combining the sitemap, the
// search provider, the seed page's links, and the page-cache index. Map jobs
// execute inline and cost one flat credit.
type MapService struct {
	repos    *repository.Repositories
	cache    *CacheService
	sitemaps *SitemapService
	provider SearchProvider
	scraper  *ScrapeService
	billing  *BillingService
	logger   *slog.Logger
}

// NewMapService creates the map service. provider may be nil; the search
// source is then skipped.
func NewMapService(repos *repository.Repositories, cache *CacheService, sitemaps *SitemapService, provider SearchProvider, scraper *ScrapeService, billing *BillingService, logger *slog.Logger) *MapService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MapService{
		repos:    repos,
		cache:    cache,
		sitemaps: sitemaps,
		provider: provider,
		scraper:  scraper,
		billing:  billing,
		logger:   logger,
	}
}

// MapRequest is one URL discovery request.
type MapRequest struct {
	URL               string             `json:"url"`
	Search            string             `json:"search,omitempty"`
	Sources           []models.MapSource `json:"sources,omitempty"`
	Limit             int                `json:"limit,omitempty"`
	IgnoreSitemap     bool               `json:"ignore_sitemap,omitempty"`
	IncludeSubdomains bool               `json:"include_subdomains,omitempty"`
}

func (r *MapRequest) wantsSource(source models.MapSource) bool {
	if len(r.Sources) == 0 {
		return true
	}
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// Map creates a Job row and runs the discovery synchronously.
func (s *MapService) Map(ctx context.Context, apiKeyID, userID string, req MapRequest) (*models.MapResult, *models.Job, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, nil, fmt.Errorf("invalid map URL %q", req.URL)
	}

	if s.billing != nil {
		if err := s.billing.CheckBalance(ctx, apiKeyID); err != nil {
			return nil, nil, err
		}
	}

	now := time.Now().UTC()
	payload, _ := json.Marshal(req)
	job := &models.Job{
		ID:          ulid.Make().String(),
		APIKeyID:    apiKeyID,
		UserID:      userID,
		Type:        models.TaskTypeMap,
		Engine:      models.EngineCheerio,
		QueueName:   models.QueueNameFor(models.TaskTypeMap, models.EngineCheerio),
		Status:      models.JobStatusRunning,
		URL:         req.URL,
		PayloadJSON: string(payload),
		Origin:      models.JobOriginAPI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	started := now
	job.StartedAt = &started
	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to create map job: %w", err)
	}

	result, err := s.run(ctx, job, req)
	if err != nil {
		return nil, job, err
	}
	return result, job, nil
}

// RunJob executes a scheduler-created map job against its persisted payload.
func (s *MapService) RunJob(ctx context.Context, job *models.Job) error {
	var req MapRequest
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		s.finishFailed(ctx, job, fmt.Errorf("invalid map payload: %w", err))
		return nil
	}
	if req.URL == "" {
		req.URL = job.URL
	}
	if _, err := s.repos.Job.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark map job running: %w", err)
	}
	_, err := s.run(ctx, job, req)
	return err
}

func (s *MapService) run(ctx context.Context, job *models.Job, req MapRequest) (*models.MapResult, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" {
		s.finishFailed(ctx, job, fmt.Errorf("invalid map URL %q", req.URL))
		return nil, fmt.Errorf("invalid map URL %q", req.URL)
	}
	domain := strings.ToLower(parsed.Host)

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultMapLimit
	}

	if s.billing != nil && s.billing.Enabled() {
		key := fmt.Sprintf("map:%s", job.ID)
		if _, err := s.billing.ChargeDelta(ctx, job.ID, 1, "map", key, nil); err != nil {
			s.logger.Error("failed to charge map credit", "job_id", job.ID, "error", err)
		}
	}

	// A fresh combined result short-circuits discovery entirely, but only
	// when the request does not narrow the sources.
	if len(req.Sources) == 0 {
		if cached, err := s.cache.GetMap(ctx, domain, models.MapSourceCombined, 0); err != nil {
			s.logger.Warn("map cache lookup failed", "domain", domain, "error", err)
		} else if cached != nil {
			s.finish(ctx, job, cached)
			return cached, nil
		}
	}

	seen := make(map[string]bool)
	urls := make([]models.MapURL, 0, 64)
	add := func(entries ...models.MapURL) {
		for _, entry := range entries {
			if len(urls) >= limit {
				return
			}
			if entry.URL == "" || seen[entry.URL] {
				continue
			}
			if !s.allowed(domain, req.IncludeSubdomains, entry.URL) {
				continue
			}
			seen[entry.URL] = true
			urls = append(urls, entry)
		}
	}

	if req.wantsSource(models.MapSourceSitemap) && !req.IgnoreSitemap {
		if found, ok := s.sitemaps.TryDiscover(ctx, req.URL); ok {
			for _, u := range found {
				add(models.MapURL{URL: u})
			}
		}
	}

	if req.wantsSource(models.MapSourceSearch) && s.provider != nil {
		query := req.Search
		if query == "" {
			query = "site:" + domain
		}
		hits, err := s.provider.Search(ctx, query, SearchProviderOptions{Limit: 100})
		if err != nil {
			s.logger.Warn("map search source failed", "domain", domain, "error", err)
		} else {
			for _, hit := range hits {
				add(models.MapURL{URL: hit.URL, Title: hit.Title, Description: hit.Description})
			}
		}
	}

	if req.wantsSource(models.MapSourceCrawl) {
		if doc, err := s.scraper.ExecutePage(ctx, job, req.URL, &models.ScrapeOptions{}); err != nil {
			s.logger.Warn("map seed fetch failed", "domain", domain, "error", err)
		} else {
			add(models.MapURL{URL: req.URL, Title: doc.Title, Description: doc.Description})
			for _, link := range doc.Links {
				add(models.MapURL{URL: link})
			}
		}

		// Pages already scraped on this domain round out the crawl source.
		if known, err := s.cache.KnownPages(ctx, domain, limit); err != nil {
			s.logger.Warn("map cache index read failed", "domain", domain, "error", err)
		} else {
			add(known...)
		}
	}

	result := &models.MapResult{
		Domain:       domain,
		Source:       models.MapSourceCombined,
		URLs:         urls,
		DiscoveredAt: time.Now().UTC(),
	}
	if len(req.Sources) == 0 {
		if err := s.cache.SaveMap(ctx, result); err != nil {
			s.logger.Warn("failed to save map cache", "domain", domain, "error", err)
		}
	}

	s.finish(ctx, job, result)
	return result, nil
}

// allowed keeps URLs on the mapped domain, optionally admitting subdomains.
func (s *MapService) allowed(domain string, includeSubdomains bool, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Host)
	if host == domain {
		return true
	}
	return includeSubdomains && strings.HasSuffix(host, "."+domain)
}

func (s *MapService) finish(ctx context.Context, job *models.Job, result *models.MapResult) {
	if err := s.repos.Job.SetTotal(ctx, job.ID, len(result.URLs)); err != nil {
		s.logger.Warn("failed to set map total", "job_id", job.ID, "error", err)
	}
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusCompleted, true, ""); err != nil {
		s.logger.Warn("failed to finish map job", "job_id", job.ID, "error", err)
	}
}

func (s *MapService) finishFailed(ctx context.Context, job *models.Job, cause error) {
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusFailed, false, cause.Error()); err != nil {
		s.logger.Warn("failed to mark map job failed", "job_id", job.ID, "error", err)
	}
}
