package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// ErrSearchProviderNotConfigured is returned when no SERP collaborator is
// wired in.
var ErrSearchProviderNotConfigured = errors.New("search provider not configured")

// SearchResult is one SERP hit, optionally enriched with a full scrape.
type SearchResult struct {
	URL         string           `json:"url"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Document    *models.Document `json:"document,omitempty"`
}

// SearchProviderOptions parameterize one provider call.
type SearchProviderOptions struct {
	Limit int
}

// SearchProvider is the SERP collaborator.
type SearchProvider interface {
	Search(ctx context.Context, query string, opts SearchProviderOptions) ([]SearchResult, error)
}

// HTTPSearchProvider is a generic JSON-over-HTTP SearchProvider: POST the
// query to the configured URL, read `{results: [{url, title, description}]}`.
type HTTPSearchProvider struct {
	baseURL string
	key     string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSearchProvider creates a provider for the given endpoint. key is
// sent as a bearer token when set.
func NewHTTPSearchProvider(baseURL, key string, timeout time.Duration, logger *slog.Logger) *HTTPSearchProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSearchProvider{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Search runs one SERP query against the provider.
func (p *HTTPSearchProvider) Search(ctx context.Context, query string, opts SearchProviderOptions) ([]SearchResult, error) {
	body, _ := json.Marshal(map[string]any{
		"query": query,
		"limit": opts.Limit,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.key != "" {
		req.Header.Set("Authorization", "Bearer "+p.key)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search provider request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("search provider returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return decoded.Results, nil
}

// SearchService runs SERP queries through the provider, with optional
// per-hit scrape enrichment. Search jobs execute inline (API request or
// scheduler goroutine); there is no search worker fleet.
type SearchService struct {
	repos    *repository.Repositories
	provider SearchProvider
	scraper  *ScrapeService
	billing  *BillingService
	logger   *slog.Logger
}

// NewSearchService creates the search service. provider may be nil; searches
// then fail with ErrSearchProviderNotConfigured.
func NewSearchService(repos *repository.Repositories, provider SearchProvider, scraper *ScrapeService, billing *BillingService, logger *slog.Logger) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{
		repos:    repos,
		provider: provider,
		scraper:  scraper,
		billing:  billing,
		logger:   logger,
	}
}

// SearchRequest is one SERP query.
type SearchRequest struct {
	Query         string                `json:"query"`
	Limit         int                   `json:"limit,omitempty"`
	ScrapeOptions *models.ScrapeOptions `json:"scrape_options,omitempty"`
}

// Search creates a Job row and runs the query synchronously.
func (s *SearchService) Search(ctx context.Context, apiKeyID, userID string, req SearchRequest) ([]SearchResult, *models.Job, error) {
	if s.provider == nil {
		return nil, nil, ErrSearchProviderNotConfigured
	}
	if req.Query == "" {
		return nil, nil, errors.New("query is required")
	}
	if req.Limit <= 0 {
		req.Limit = 10
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
		Type:        models.TaskTypeSearch,
		Engine:      req.ScrapeOptions.EffectiveEngine(),
		QueueName:   models.QueueNameFor(models.TaskTypeSearch, req.ScrapeOptions.EffectiveEngine()),
		Status:      models.JobStatusRunning,
		PayloadJSON: string(payload),
		Origin:      models.JobOriginAPI,
		Total:       req.Limit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	started := now
	job.StartedAt = &started
	if err := s.repos.Job.Create(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("failed to create search job: %w", err)
	}

	results, err := s.run(ctx, job, req)
	if err != nil {
		return nil, job, err
	}
	return results, job, nil
}

// RunJob executes a scheduler-created search job against its persisted
// payload.
func (s *SearchService) RunJob(ctx context.Context, job *models.Job) error {
	var req SearchRequest
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		s.finishFailed(ctx, job, fmt.Errorf("invalid search payload: %w", err))
		return nil
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if s.provider == nil {
		s.finishFailed(ctx, job, ErrSearchProviderNotConfigured)
		return nil
	}
	if _, err := s.repos.Job.MarkRunning(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark search job running: %w", err)
	}
	_, err := s.run(ctx, job, req)
	return err
}

// run charges, queries, enriches, and finishes the job. One credit per ten
// results requested.
func (s *SearchService) run(ctx context.Context, job *models.Job, req SearchRequest) ([]SearchResult, error) {
	if s.billing != nil && s.billing.Enabled() {
		credits := int64((req.Limit + 9) / 10)
		key := fmt.Sprintf("search:%s", job.ID)
		if _, err := s.billing.ChargeDelta(ctx, job.ID, credits, "search", key, nil); err != nil {
			s.logger.Error("failed to charge search credits", "job_id", job.ID, "error", err)
		}
	}

	results, err := s.provider.Search(ctx, req.Query, SearchProviderOptions{Limit: req.Limit})
	if err != nil {
		s.finishFailed(ctx, job, err)
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	if req.ScrapeOptions != nil {
		for i := range results {
			doc, err := s.scraper.ExecutePage(ctx, job, results[i].URL, req.ScrapeOptions)
			if err != nil {
				s.logger.Warn("search enrichment failed",
					"job_id", job.ID,
					"url", results[i].URL,
					"error", err,
				)
				continue
			}
			results[i].Document = doc
			if results[i].Title == "" {
				results[i].Title = doc.Title
			}
			if results[i].Description == "" {
				results[i].Description = doc.Description
			}
		}
	}

	s.persistResults(ctx, job, results)
	if err := s.repos.Job.SetTotal(ctx, job.ID, len(results)); err != nil {
		s.logger.Warn("failed to set search total", "job_id", job.ID, "error", err)
	}
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusCompleted, true, ""); err != nil {
		s.logger.Warn("failed to finish search job", "job_id", job.ID, "error", err)
	}
	return results, nil
}

func (s *SearchService) persistResults(ctx context.Context, job *models.Job, results []SearchResult) {
	for _, r := range results {
		row := &models.JobResult{
			ID:          ulid.Make().String(),
			JobID:       job.ID,
			URL:         r.URL,
			Title:       r.Title,
			Description: r.Description,
			CreatedAt:   time.Now().UTC(),
		}
		if r.Document != nil {
			row.StatusCode = r.Document.StatusCode
			row.FromCache = r.Document.FromCache
		}
		if data, err := json.Marshal(r); err == nil {
			row.DataJSON = string(data)
		}
		if err := s.repos.JobResult.Create(ctx, row); err != nil {
			s.logger.Error("failed to persist search result", "job_id", job.ID, "error", err)
		}
	}
}

func (s *SearchService) finishFailed(ctx context.Context, job *models.Job, cause error) {
	if err := s.repos.Job.Finish(ctx, job.ID, models.JobStatusFailed, false, cause.Error()); err != nil {
		s.logger.Warn("failed to mark search job failed", "job_id", job.ID, "error", err)
	}
}
