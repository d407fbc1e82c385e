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
	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/progress"
	"github.com/trawlhq/trawl-api/internal/queue"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// InsufficientCreditsError is returned when an operation needs credits the
// api_key does not have. Handlers map it to 402 with the current balance.
type InsufficientCreditsError struct {
	CurrentCredits int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %d available", e.CurrentCredits)
}

// CrawlConfig carries the crawl-specific tunables.
type CrawlConfig struct {
	// MaxLimit caps the per-crawl page budget.
	MaxLimit int
	// QueueMaxAttempts and QueueBackoffBase apply to every queue entry a
	// crawl produces.
	QueueMaxAttempts int
	QueueBackoffBase time.Duration
}

// CrawlService coordinates fan-out crawling: one seed job spawns page
// entries on the same queue, the progress tracker counts them, and the
// first party to observe completion finalizes the job.
type CrawlService struct {
	repos    *repository.Repositories
	queues   *queue.Registry
	redis    *redis.Client
	progress *progress.Tracker
	scraper  *ScrapeService
	billing  *BillingService
	sitemaps *SitemapService
	cfg      CrawlConfig
	logger   *slog.Logger
}

// NewCrawlService creates the crawl service.
func NewCrawlService(repos *repository.Repositories, queues *queue.Registry, redisClient *redis.Client, tracker *progress.Tracker, scraper *ScrapeService, billing *BillingService, sitemaps *SitemapService, cfg CrawlConfig, logger *slog.Logger) *CrawlService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueMaxAttempts <= 0 {
		cfg.QueueMaxAttempts = 5
	}
	if cfg.QueueBackoffBase <= 0 {
		cfg.QueueBackoffBase = 2 * time.Second
	}
	return &CrawlService{
		repos:    repos,
		queues:   queues,
		redis:    redisClient,
		progress: tracker,
		scraper:  scraper,
		billing:  billing,
		sitemaps: sitemaps,
		cfg:      cfg,
		logger:   logger,
	}
}

// CrawlRequest starts a crawl from a seed URL.
type CrawlRequest struct {
	URL        string
	WebhookURL string
	Options    *models.CrawlOptions
}

// CreateCrawl validates the request, creates the pending Job, charges one
// credit up front (covering the seed page), and enqueues the seed entry.
// The job ID doubles as the seed queue entry ID.
func (s *CrawlService) CreateCrawl(ctx context.Context, apiKeyID, userID string, req CrawlRequest) (*models.Job, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid crawl URL %q", req.URL)
	}

	opts := req.Options
	if opts == nil {
		opts = &models.CrawlOptions{}
	}
	opts.Limit = opts.EffectiveLimit(s.cfg.MaxLimit)

	if s.billing != nil {
		if err := s.billing.CheckBalance(ctx, apiKeyID); err != nil {
			return nil, err
		}
	}

	engineName := opts.Scrape().EffectiveEngine()
	payload, _ := json.Marshal(models.CrawlPayload{URL: req.URL, Options: opts})

	now := time.Now().UTC()
	job := &models.Job{
		ID:          ulid.Make().String(),
		APIKeyID:    apiKeyID,
		UserID:      userID,
		Type:        models.TaskTypeCrawl,
		Engine:      engineName,
		QueueName:   models.QueueNameFor(models.TaskTypeCrawl, engineName),
		Status:      models.JobStatusPending,
		URL:         req.URL,
		PayloadJSON: string(payload),
		Origin:      models.JobOriginAPI,
		WebhookURL:  req.WebhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create crawl job: %w", err)
	}

	if s.billing != nil && s.billing.Enabled() {
		key := fmt.Sprintf("crawl:seed:%s", job.ID)
		if _, err := s.billing.ChargeDelta(ctx, job.ID, 1, "crawl", key, nil); err != nil {
			s.logger.Error("failed to charge crawl seed credit", "job_id", job.ID, "error", err)
		}
	}

	q := s.queues.Get(job.QueueName)
	if err := q.Enqueue(ctx, job.ID, payload, queue.EnqueueOptions{
		MaxAttempts: s.cfg.QueueMaxAttempts,
		BackoffBase: s.cfg.QueueBackoffBase,
	}); err != nil {
		s.failCrawl(ctx, job, fmt.Errorf("failed to enqueue crawl seed: %w", err))
		return nil, fmt.Errorf("failed to enqueue crawl seed: %w", err)
	}

	s.logger.Info("crawl created",
		"job_id", job.ID,
		"url", req.URL,
		"limit", opts.Limit,
		"engine", engineName,
	)
	return job, nil
}

// ExecuteSeed runs the seed phase of a crawl: fetch the seed page, discover
// candidate URLs from its links and the sitemap, enqueue page entries within
// the budget, then report the seed page done.
func (s *CrawlService) ExecuteSeed(ctx context.Context, jobID string) error {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load crawl job: %w", err)
	}
	if job == nil || job.IsTerminal() {
		return nil
	}
	if cancelled, _ := s.progress.IsCancelled(ctx, jobID); cancelled {
		return nil
	}

	payload, err := models.ParseCrawlPayload(job.PayloadJSON)
	if err != nil {
		s.failCrawl(ctx, job, fmt.Errorf("invalid crawl payload: %w", err))
		return nil
	}
	if payload.URL == "" {
		payload.URL = job.URL
	}
	opts := payload.Options
	limit := opts.EffectiveLimit(s.cfg.MaxLimit)

	if _, err := s.repos.Job.MarkRunning(ctx, jobID); err != nil {
		return fmt.Errorf("failed to mark crawl running: %w", err)
	}
	if err := s.progress.EnsureStarted(ctx, jobID); err != nil {
		return fmt.Errorf("failed to start crawl progress: %w", err)
	}

	if err := s.progress.BeginEnqueue(ctx, jobID); err != nil {
		return fmt.Errorf("failed to begin enqueue: %w", err)
	}
	enqueueEnded := false
	endEnqueue := func() {
		if enqueueEnded {
			return
		}
		enqueueEnded = true
		if err := s.progress.EndEnqueue(ctx, jobID); err != nil {
			s.logger.Warn("failed to end enqueue", "job_id", jobID, "error", err)
		}
	}
	defer endEnqueue()

	// The seed page counts against the budget before anything else does.
	s.markSeen(ctx, jobID, payload.URL)
	if err := s.progress.IncrementEnqueued(ctx, jobID, 1); err != nil {
		return fmt.Errorf("failed to count seed page: %w", err)
	}

	doc, fetchErr := s.scraper.ExecutePage(ctx, job, payload.URL, opts.Scrape())
	s.scraper.persistResult(ctx, job, doc, fetchErr)

	enqueued := int64(1)
	if fetchErr == nil {
		candidates := s.filterLinks(payload.URL, opts, doc.Links)
		if !opts.IgnoreSitemap {
			if urls, ok := s.sitemaps.TryDiscover(ctx, payload.URL); ok {
				candidates = append(candidates, s.filterLinks(payload.URL, opts, urls)...)
			}
		}
		n := s.enqueuePages(ctx, job, candidates, 1, opts, limit, enqueued)
		enqueued += n
	}

	if err := s.repos.Job.SetTotal(ctx, jobID, int(enqueued)); err != nil {
		s.logger.Warn("failed to set crawl total", "job_id", jobID, "error", err)
	}
	endEnqueue()

	if _, err := s.progress.MarkPageDone(ctx, jobID, fetchErr == nil, limit); err != nil {
		s.logger.Error("failed to record seed page", "job_id", jobID, "error", err)
	}
	s.tryFinalize(ctx, job, limit)
	return nil
}

// ExecutePage processes one discovered page of a running crawl.
func (s *CrawlService) ExecutePage(ctx context.Context, payload models.CrawlPagePayload) error {
	jobID := payload.CrawlJobID
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load crawl job: %w", err)
	}
	if job == nil || job.IsTerminal() {
		return nil
	}
	if cancelled, _ := s.progress.IsCancelled(ctx, jobID); cancelled {
		return nil
	}

	seed, err := models.ParseCrawlPayload(job.PayloadJSON)
	if err != nil {
		return fmt.Errorf("invalid crawl payload: %w", err)
	}
	if seed.URL == "" {
		seed.URL = job.URL
	}
	opts := seed.Options
	limit := opts.EffectiveLimit(s.cfg.MaxLimit)

	doc, fetchErr := s.scraper.ExecutePage(ctx, job, payload.URL, opts.Scrape())
	s.scraper.persistResult(ctx, job, doc, fetchErr)

	if fetchErr == nil && len(doc.Links) > 0 {
		if err := s.progress.BeginEnqueue(ctx, jobID); err == nil {
			snap, snapErr := s.progress.Snapshot(ctx, jobID)
			if snapErr == nil && snap.Enqueued < int64(limit) {
				candidates := s.filterLinks(seed.URL, opts, doc.Links)
				n := s.enqueuePages(ctx, job, candidates, payload.Depth+1, opts, limit, snap.Enqueued)
				if n > 0 {
					if err := s.repos.Job.SetTotal(ctx, jobID, int(snap.Enqueued+n)); err != nil {
						s.logger.Warn("failed to set crawl total", "job_id", jobID, "error", err)
					}
				}
			}
			if err := s.progress.EndEnqueue(ctx, jobID); err != nil {
				s.logger.Warn("failed to end enqueue", "job_id", jobID, "error", err)
			}
		}
	}

	if _, err := s.progress.MarkPageDone(ctx, jobID, fetchErr == nil, limit); err != nil {
		s.logger.Error("failed to record crawl page", "job_id", jobID, "error", err)
	}
	s.tryFinalize(ctx, job, limit)
	return nil
}

// FailPage records a page whose queue entry exhausted its retries.
func (s *CrawlService) FailPage(ctx context.Context, payload models.CrawlPagePayload, cause error) {
	job, err := s.repos.Job.GetByID(ctx, payload.CrawlJobID)
	if err != nil || job == nil || job.IsTerminal() {
		return
	}

	seed, _ := models.ParseCrawlPayload(job.PayloadJSON)
	limit := seed.Options.EffectiveLimit(s.cfg.MaxLimit)

	s.scraper.persistResult(ctx, job, &models.Document{URL: payload.URL}, cause)
	if _, err := s.progress.MarkPageDone(ctx, job.ID, false, limit); err != nil {
		s.logger.Error("failed to record exhausted page", "job_id", job.ID, "error", err)
	}
	s.tryFinalize(ctx, job, limit)
}

// FailSeed marks a crawl failed after its seed entry exhausted retries.
func (s *CrawlService) FailSeed(ctx context.Context, jobID string, cause error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil || job == nil || job.IsTerminal() {
		return
	}
	s.failCrawl(ctx, job, cause)
}

// tryFinalize attempts the terminal transition after a page lands. Losing
// the race or an unfinished crawl are both normal.
func (s *CrawlService) tryFinalize(ctx context.Context, job *models.Job, limit int) {
	if _, err := s.progress.TryFinalize(ctx, job.ID, job.QueueName, progress.FinalizeOptions{Target: limit}); err != nil {
		s.logger.Warn("crawl finalize attempt failed", "job_id", job.ID, "error", err)
	}
}

// enqueuePages pushes candidate URLs onto the crawl's queue at the given
// depth, respecting the depth ceiling, the seen set, and the page budget.
// It returns how many entries it enqueued, after counting them in the
// tracker.
func (s *CrawlService) enqueuePages(ctx context.Context, job *models.Job, candidates []string, depth int, opts *models.CrawlOptions, limit int, alreadyEnqueued int64) int64 {
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		return 0
	}
	budget := int64(limit) - alreadyEnqueued
	if budget <= 0 {
		return 0
	}

	q := s.queues.Get(job.QueueName)
	var n int64
	for _, candidate := range candidates {
		if n >= budget {
			break
		}
		if !s.markSeen(ctx, job.ID, candidate) {
			continue
		}
		entryID := fmt.Sprintf("%s:page:%s", job.ID, ulid.Make().String())
		body, _ := json.Marshal(models.CrawlPagePayload{
			CrawlJobID: job.ID,
			URL:        candidate,
			Depth:      depth,
		})
		if err := q.Enqueue(ctx, entryID, body, queue.EnqueueOptions{
			MaxAttempts: s.cfg.QueueMaxAttempts,
			BackoffBase: s.cfg.QueueBackoffBase,
		}); err != nil {
			s.logger.Warn("failed to enqueue crawl page", "job_id", job.ID, "url", candidate, "error", err)
			continue
		}
		n++
	}

	if n > 0 {
		if err := s.progress.IncrementEnqueued(ctx, job.ID, n); err != nil {
			s.logger.Error("failed to count enqueued pages", "job_id", job.ID, "error", err)
		}
	}
	return n
}

// markSeen adds the URL to the crawl's seen set, reporting whether it was
// new. Errors count as seen so a flaky Redis call cannot double-enqueue.
func (s *CrawlService) markSeen(ctx context.Context, jobID, pageURL string) bool {
	added, err := s.redis.SAdd(ctx, "crawl:"+jobID+":seen", pageURL).Result()
	if err != nil {
		s.logger.Warn("failed to update seen set", "job_id", jobID, "error", err)
		return false
	}
	return added > 0
}

// filterLinks keeps the candidate URLs a crawl is allowed to visit: same
// host as the seed (or a subdomain when allowed), http(s) only, and inside
// the include/exclude path filters.
func (s *CrawlService) filterLinks(seedURL string, opts *models.CrawlOptions, links []string) []string {
	seed, err := url.Parse(seedURL)
	if err != nil {
		return nil
	}
	seedHost := strings.ToLower(seed.Host)

	out := make([]string, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		host := strings.ToLower(u.Host)
		if host != seedHost {
			if !opts.AllowSubdomains || !strings.HasSuffix(host, "."+seedHost) {
				continue
			}
		}
		if len(opts.IncludePaths) > 0 && !hasPathPrefix(u.Path, opts.IncludePaths) {
			continue
		}
		if hasPathPrefix(u.Path, opts.ExcludePaths) {
			continue
		}
		out = append(out, link)
	}
	return out
}

func hasPathPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Cancel stops a crawl: the tracker is marked cancelled so in-flight workers
// drop their entries, the job goes terminal, and the seed entry leaves the
// queue.
func (s *CrawlService) Cancel(ctx context.Context, jobID string) error {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load crawl job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("crawl %s not found", jobID)
	}
	if job.IsTerminal() {
		return nil
	}

	if err := s.progress.Cancel(ctx, jobID); err != nil {
		s.logger.Warn("failed to cancel crawl progress", "job_id", jobID, "error", err)
	}
	if err := s.repos.Job.Finish(ctx, jobID, models.JobStatusCancelled, false, "Cancelled by user"); err != nil {
		return fmt.Errorf("failed to cancel crawl job: %w", err)
	}
	if err := s.queues.Get(job.QueueName).Remove(ctx, jobID); err != nil {
		s.logger.Warn("failed to remove crawl seed from queue", "job_id", jobID, "error", err)
	}
	return nil
}

// CrawlStatus is the live view of a crawl: job row, counters, and the
// terminal summary once finalized.
type CrawlStatus struct {
	Job      *models.Job        `json:"job"`
	Progress *progress.Snapshot `json:"progress,omitempty"`
	Summary  *progress.Summary  `json:"summary,omitempty"`
}

// Status returns the crawl's current counters and, when finalized, its
// summary.
func (s *CrawlService) Status(ctx context.Context, jobID string) (*CrawlStatus, error) {
	job, err := s.repos.Job.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	status := &CrawlStatus{Job: job}
	if snap, err := s.progress.Snapshot(ctx, jobID); err == nil {
		status.Progress = snap
	}
	if job.IsTerminal() {
		if summary, err := s.progress.GetSummary(ctx, jobID); err == nil && summary != nil {
			status.Summary = summary
		}
	}
	return status, nil
}

// Results returns a page of per-page results plus the total row count for
// cursor construction.
func (s *CrawlService) Results(ctx context.Context, jobID string, skip, limit int) ([]*models.JobResult, int, error) {
	if limit <= 0 {
		limit = 100
	}
	total, err := s.repos.JobResult.CountByJobID(ctx, jobID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count results: %w", err)
	}
	results, err := s.repos.JobResult.GetByJobID(ctx, jobID, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load results: %w", err)
	}
	return results, total, nil
}

func (s *CrawlService) failCrawl(ctx context.Context, job *models.Job, cause error) {
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusFailed, false, cause.Error()); err != nil {
		s.logger.Warn("failed to mark crawl failed", "job_id", job.ID, "error", err)
	}
}
