package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/constants"
	"github.com/trawlhq/trawl-api/internal/engine"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// ScrapeService executes single-page scrapes: cache consult, engine fetch,
// format transformation, billing, result persistence, webhooks. The crawl
// path reuses ExecutePage for each child page.
type ScrapeService struct {
	repos       *repository.Repositories
	engines     map[models.Engine]engine.Engine
	cache       *CacheService
	billing     *BillingService
	storage     *StorageService
	webhooks    *WebhookService
	transformer Transformer
	logger      *slog.Logger
}

// NewScrapeService creates the scrape service. engines maps engine names to
// implementations; missing engines fail jobs that request them.
func NewScrapeService(repos *repository.Repositories, engines map[models.Engine]engine.Engine, cache *CacheService, billing *BillingService, storage *StorageService, webhooks *WebhookService, transformer Transformer, logger *slog.Logger) *ScrapeService {
	if logger == nil {
		logger = slog.Default()
	}
	if transformer == nil {
		transformer = NewStaticTransformer()
	}
	return &ScrapeService{
		repos:       repos,
		engines:     engines,
		cache:       cache,
		billing:     billing,
		storage:     storage,
		webhooks:    webhooks,
		transformer: transformer,
		logger:      logger,
	}
}

// ScrapeRequest is a single-page scrape.
type ScrapeRequest struct {
	URL     string
	Options *models.ScrapeOptions
}

// Scrape runs a synchronous scrape for the given owner: a Job row is created
// for uniform accounting, the page is fetched (or served from cache), one
// credit is charged, and the document is returned inline.
func (s *ScrapeService) Scrape(ctx context.Context, apiKeyID, userID string, req ScrapeRequest) (*models.Document, *models.Job, error) {
	opts := req.Options
	if opts == nil {
		opts = &models.ScrapeOptions{}
	}

	if s.billing != nil {
		if err := s.billing.CheckBalance(ctx, apiKeyID); err != nil {
			return nil, nil, err
		}
	}

	now := time.Now().UTC()
	engineName := opts.EffectiveEngine()
	payload, _ := json.Marshal(map[string]any{"url": req.URL, "scrape_options": opts})

	job := &models.Job{
		ID:          ulid.Make().String(),
		APIKeyID:    apiKeyID,
		UserID:      userID,
		Type:        models.TaskTypeScrape,
		Engine:      engineName,
		QueueName:   models.QueueNameFor(models.TaskTypeScrape, engineName),
		Status:      models.JobStatusRunning,
		URL:         req.URL,
		PayloadJSON: string(payload),
		Origin:      models.JobOriginAPI,
		Total:       1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	started := now
	job.StartedAt = &started
	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	doc, err := s.ExecutePage(ctx, job, req.URL, opts)
	if err != nil {
		s.failJob(ctx, job, err)
		return nil, job, err
	}

	s.persistResult(ctx, job, doc, nil)
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusCompleted, true, ""); err != nil {
		s.logger.Warn("failed to finish scrape job", "job_id", job.ID, "error", err)
	}

	// Reload for the charged credits_used; chargePage debits in SQL.
	if fresh, err := s.repos.Job.GetByID(ctx, job.ID); err == nil && fresh != nil {
		job = fresh
	}

	s.emit(ctx, job, models.WebhookEventScrapeCompleted, map[string]any{
		"job_id":     job.ID,
		"url":        req.URL,
		"from_cache": doc.FromCache,
		"status":     doc.StatusCode,
	})
	return doc, job, nil
}

// RunJob executes a queued scrape job end to end. The worker pool calls
// this; the synchronous API path goes through Scrape instead.
func (s *ScrapeService) RunJob(ctx context.Context, jobID string) error {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil || job.IsTerminal() {
		return nil
	}

	var payload struct {
		URL           string                `json:"url"`
		ScrapeOptions *models.ScrapeOptions `json:"scrape_options"`
	}
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		s.failJob(ctx, job, fmt.Errorf("invalid scrape payload: %w", err))
		return nil
	}
	pageURL := payload.URL
	if pageURL == "" {
		pageURL = job.URL
	}

	if _, err := s.repos.Job.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}

	doc, err := s.ExecutePage(ctx, job, pageURL, payload.ScrapeOptions)
	if err != nil {
		s.failJob(ctx, job, err)
		return nil
	}

	s.persistResult(ctx, job, doc, nil)
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusCompleted, true, ""); err != nil {
		s.logger.Warn("failed to finish scrape job", "job_id", job.ID, "error", err)
	}
	s.emit(ctx, job, models.WebhookEventScrapeCompleted, map[string]any{
		"job_id":     job.ID,
		"url":        pageURL,
		"from_cache": doc.FromCache,
		"status":     doc.StatusCode,
	})
	return nil
}

// FailJob marks a queued job failed after its entry exhausted retries.
func (s *ScrapeService) FailJob(ctx context.Context, jobID string, cause error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil || job == nil || job.IsTerminal() {
		return
	}
	s.failJob(ctx, job, cause)
}

// ExecutePage fetches one page on behalf of a job: cache, engine, transform,
// cache save, one-credit charge. It does not touch job state; callers decide
// how a page outcome affects the job.
func (s *ScrapeService) ExecutePage(ctx context.Context, job *models.Job, url string, opts *models.ScrapeOptions) (*models.Document, error) {
	if opts == nil {
		opts = &models.ScrapeOptions{}
	}

	if doc, err := s.cache.GetPage(ctx, url, opts); err != nil {
		s.logger.Warn("page cache lookup failed", "url", url, "error", err)
	} else if doc != nil {
		s.chargePage(ctx, job, url)
		return doc, nil
	}

	engineName := opts.EffectiveEngine()
	eng, ok := s.engines[engineName]
	if !ok || eng == nil {
		return nil, fmt.Errorf("engine %q is not available", engineName)
	}

	result, err := eng.Fetch(ctx, engine.Request{
		URL:        url,
		Proxy:      string(opts.Proxy),
		WaitForMS:  int64(opts.WaitForMS),
		WaitUntil:  opts.WaitUntil,
		TimeoutMS:  int64(opts.TimeoutMS),
		Screenshot: opts.WantsScreenshot(),
		FullPage:   opts.WantsFormat(models.FormatScreenshotFullPage),
		APIKeyID:   job.APIKeyID,
		JobID:      job.ID,
	})
	if err != nil {
		if errors.Is(err, engine.ErrChallengeUnresolved) {
			return nil, fmt.Errorf("%s: %w", constants.FailureChallengeUnresolved, err)
		}
		return nil, err
	}

	doc := &models.Document{
		URL:           url,
		FinalURL:      result.URL,
		StatusCode:    result.StatusCode,
		ContentType:   result.ContentType,
		Title:         result.Title,
		Metadata:      result.Metadata,
		Links:         result.Links,
		RawHTML:       result.HTML,
		FetchDuration: result.Duration,
		FetchedAt:     result.FetchedAt,
	}
	doc.Description = doc.BestDescription()

	if result.ScreenshotB64 != "" {
		doc.ScreenshotKey = s.storeScreenshot(ctx, job.ID, url, result.ScreenshotB64)
	}

	if err := s.transformer.Transform(ctx, doc, opts); err != nil {
		return nil, fmt.Errorf("failed to transform document: %w", err)
	}

	if doc.StatusCode >= 400 {
		return doc, fmt.Errorf("fetch returned status %d", doc.StatusCode)
	}

	if err := s.cache.SavePage(ctx, url, opts, doc); err != nil {
		s.logger.Warn("failed to save page to cache", "url", url, "error", err)
	}

	s.chargePage(ctx, job, url)
	return doc, nil
}

// chargePage debits one credit for a served page, idempotent per job+url.
func (s *ScrapeService) chargePage(ctx context.Context, job *models.Job, url string) {
	if s.billing == nil || !s.billing.Enabled() {
		return
	}
	// Crawl pages are billed by the progress tracker (the seed page by the
	// up-front charge); map jobs cost one flat credit at creation.
	if job.Type == models.TaskTypeCrawl || job.Type == models.TaskTypeMap {
		return
	}
	key := fmt.Sprintf("scrape:%s", job.ID)
	if job.Type == models.TaskTypeSearch {
		key = fmt.Sprintf("search:enrich:%s:%s", job.ID, url)
	}
	if _, err := s.billing.ChargeDelta(ctx, job.ID, 1, "scrape", key, nil); err != nil {
		s.logger.Error("failed to charge scrape credit", "job_id", job.ID, "error", err)
	}
}

// persistResult writes the per-page JobResult row. The document body goes to
// the object store when storage is configured, inline otherwise. pageErr
// marks a failed page.
func (s *ScrapeService) persistResult(ctx context.Context, job *models.Job, doc *models.Document, pageErr error) *models.JobResult {
	result := &models.JobResult{
		ID:        ulid.Make().String(),
		JobID:     job.ID,
		CreatedAt: time.Now().UTC(),
	}
	if pageErr != nil {
		result.ErrorMessage = pageErr.Error()
	}
	if doc != nil {
		result.URL = doc.URL
		result.StatusCode = doc.StatusCode
		result.Title = doc.Title
		result.Description = doc.Description
		result.FromCache = doc.FromCache

		body, err := json.Marshal(doc)
		if err != nil {
			s.logger.Error("failed to marshal document", "job_id", job.ID, "error", err)
		} else if s.storage != nil && s.storage.IsEnabled() {
			key := fmt.Sprintf("results/%s/%s.json", job.ID, result.ID)
			if err := s.storage.PutJSON(ctx, key, doc); err != nil {
				s.logger.Warn("failed to store result payload, keeping inline",
					"job_id", job.ID, "error", err)
				result.DataJSON = string(body)
			} else {
				result.ContentKey = key
			}
		} else {
			result.DataJSON = string(body)
		}
	}

	if err := s.repos.JobResult.Create(ctx, result); err != nil {
		s.logger.Error("failed to persist job result", "job_id", job.ID, "error", err)
	}
	return result
}

// storeScreenshot decodes and uploads a screenshot, returning its key.
func (s *ScrapeService) storeScreenshot(ctx context.Context, jobID, url, b64 string) string {
	if s.storage == nil || !s.storage.IsEnabled() {
		return ""
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		s.logger.Warn("failed to decode screenshot", "job_id", jobID, "error", err)
		return ""
	}
	key := fmt.Sprintf("screenshots/%s/%s.png", jobID, ulid.Make().String())
	if err := s.storage.PutObject(ctx, key, data, "image/png"); err != nil {
		s.logger.Warn("failed to store screenshot", "job_id", jobID, "url", url, "error", err)
		return ""
	}
	return key
}

func (s *ScrapeService) failJob(ctx context.Context, job *models.Job, cause error) {
	s.persistResult(ctx, job, nil, cause)
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusFailed, false, cause.Error()); err != nil {
		s.logger.Warn("failed to mark job failed", "job_id", job.ID, "error", err)
	}
	s.emit(ctx, job, models.WebhookEventScrapeFailed, map[string]any{
		"job_id": job.ID,
		"url":    job.URL,
		"error":  cause.Error(),
	})
}

func (s *ScrapeService) emit(ctx context.Context, job *models.Job, event models.WebhookEventType, payload map[string]any) {
	if s.webhooks == nil {
		return
	}
	s.webhooks.Emit(ctx, job.APIKeyID, event, job.ID, payload)
	if job.WebhookURL != "" {
		s.webhooks.EmitToURL(ctx, job.WebhookURL, event, job.ID, payload)
	}
}
