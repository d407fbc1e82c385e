package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// CrawlHandler handles crawl job creation, status, results and cancellation.
type CrawlHandler struct {
	crawl     *service.CrawlService
	jobs      *service.JobService
	blocklist *mw.URLBlocklist
	baseURL   string
}

// NewCrawlHandler creates a new crawl handler. baseURL is used to build
// pagination cursors.
func NewCrawlHandler(crawl *service.CrawlService, jobs *service.JobService, blocklist *mw.URLBlocklist, baseURL string) *CrawlHandler {
	return &CrawlHandler{crawl: crawl, jobs: jobs, blocklist: blocklist, baseURL: baseURL}
}

// CrawlRequestBody is the crawl creation payload.
type CrawlRequestBody struct {
	URL        string `json:"url" format:"uri" minLength:"1" doc:"Seed URL to crawl"`
	WebhookURL string `json:"webhook_url,omitempty" format:"uri" doc:"Per-job webhook notified on completion"`
	models.CrawlOptions
}

// CreateCrawlInput is the crawl creation request.
type CreateCrawlInput struct {
	Body CrawlRequestBody
}

// CreateCrawlData is the crawl creation payload.
type CreateCrawlData struct {
	JobID  string `json:"job_id" doc:"Crawl job ID"`
	Status string `json:"status" doc:"Always created"`
}

// CreateCrawlOutput is the crawl creation response.
type CreateCrawlOutput struct {
	Body Envelope[CreateCrawlData]
}

// CreateCrawl validates the seed URL, charges one credit up front and
// enqueues the seed page.
func (h *CrawlHandler) CreateCrawl(ctx context.Context, input *CreateCrawlInput) (*CreateCrawlOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := checkTarget(ctx, h.blocklist, input.Body.URL); apiErr != nil {
		return nil, apiErr
	}

	opts := input.Body.CrawlOptions
	job, err := h.crawl.CreateCrawl(ctx, claims.APIKeyID, claims.UserID, service.CrawlRequest{
		URL:        input.Body.URL,
		WebhookURL: input.Body.WebhookURL,
		Options:    &opts,
	})
	if err != nil {
		return nil, errFromService(err, "create crawl")
	}

	return &CreateCrawlOutput{Body: envelope(CreateCrawlData{JobID: job.ID, Status: "created"})}, nil
}

// ownedCrawl loads the crawl job scoped to the caller's key. Missing jobs
// and jobs owned by another key both read as not found.
func (h *CrawlHandler) ownedCrawl(ctx context.Context, jobID string) (*models.Job, *Error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	job, err := h.jobs.Get(ctx, claims.APIKeyID, jobID)
	if err != nil {
		return nil, errInternal("load crawl job", err)
	}
	if job == nil || job.Type != models.TaskTypeCrawl {
		return nil, errNotFound("crawl job")
	}
	return job, nil
}

// CrawlStatusInput is the crawl status request.
type CrawlStatusInput struct {
	JobID string `path:"jobId" doc:"Crawl job ID"`
}

// CrawlStatusOutput is the crawl status response.
type CrawlStatusOutput struct {
	Body Envelope[*service.CrawlStatus]
}

// CrawlStatus returns the crawl's lifecycle state and live counters, plus
// the summary once finalized.
func (h *CrawlHandler) CrawlStatus(ctx context.Context, input *CrawlStatusInput) (*CrawlStatusOutput, error) {
	if _, apiErr := h.ownedCrawl(ctx, input.JobID); apiErr != nil {
		return nil, apiErr
	}

	status, err := h.crawl.Status(ctx, input.JobID)
	if err != nil {
		return nil, errInternal("load crawl status", err)
	}
	if status == nil {
		return nil, errNotFound("crawl job")
	}
	return &CrawlStatusOutput{Body: envelope(status)}, nil
}

// CrawlResultsInput is the crawl results request.
type CrawlResultsInput struct {
	JobID string `path:"jobId" doc:"Crawl job ID"`
	Skip  int    `query:"skip" default:"0" minimum:"0" doc:"Results to skip"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum results to return"`
}

// CrawlPageResult is one crawled page in API responses. Document carries
// the stored artifact payload when it was small enough to inline.
type CrawlPageResult struct {
	URL          string          `json:"url"`
	StatusCode   int             `json:"status_code"`
	Title        string          `json:"title,omitempty"`
	Description  string          `json:"description,omitempty"`
	Document     json.RawMessage `json:"document,omitempty"`
	ContentKey   string          `json:"content_key,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	FromCache    bool            `json:"from_cache"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CrawlResultsData is the crawl results payload.
type CrawlResultsData struct {
	JobID   string            `json:"job_id"`
	Status  models.JobStatus  `json:"status"`
	Total   int               `json:"total" doc:"Total results available"`
	Results []CrawlPageResult `json:"results"`
	Next    string            `json:"next,omitempty" doc:"Cursor URL for the next page"`
}

// CrawlResultsOutput is the crawl results response.
type CrawlResultsOutput struct {
	Body Envelope[CrawlResultsData]
}

// CrawlResults returns a page of per-URL results with a cursor URL when
// more remain.
func (h *CrawlHandler) CrawlResults(ctx context.Context, input *CrawlResultsInput) (*CrawlResultsOutput, error) {
	job, apiErr := h.ownedCrawl(ctx, input.JobID)
	if apiErr != nil {
		return nil, apiErr
	}

	results, total, err := h.crawl.Results(ctx, input.JobID, input.Skip, input.Limit)
	if err != nil {
		return nil, errInternal("load crawl results", err)
	}

	data := CrawlResultsData{
		JobID:   job.ID,
		Status:  job.Status,
		Total:   total,
		Results: make([]CrawlPageResult, 0, len(results)),
	}
	for _, r := range results {
		data.Results = append(data.Results, pageResult(r))
	}
	if next := input.Skip + len(results); next < total {
		data.Next = fmt.Sprintf("%s/v1/crawl/%s?skip=%d&limit=%d", h.baseURL, job.ID, next, input.Limit)
	}
	return &CrawlResultsOutput{Body: envelope(data)}, nil
}

// CancelCrawlInput is the crawl cancellation request.
type CancelCrawlInput struct {
	JobID string `path:"jobId" doc:"Crawl job ID"`
}

// CancelCrawlData is the crawl cancellation payload.
type CancelCrawlData struct {
	JobID  string `json:"job_id"`
	Status string `json:"status" doc:"Always cancelled"`
}

// CancelCrawlOutput is the crawl cancellation response.
type CancelCrawlOutput struct {
	Body Envelope[CancelCrawlData]
}

// CancelCrawl stops a crawl: pending queue entries are removed and the job
// finalizes as cancelled.
func (h *CrawlHandler) CancelCrawl(ctx context.Context, input *CancelCrawlInput) (*CancelCrawlOutput, error) {
	job, apiErr := h.ownedCrawl(ctx, input.JobID)
	if apiErr != nil {
		return nil, apiErr
	}
	if job.IsTerminal() {
		return nil, errConflict("crawl job already finished")
	}

	if err := h.crawl.Cancel(ctx, input.JobID); err != nil {
		return nil, errInternal("cancel crawl", err)
	}
	return &CancelCrawlOutput{Body: envelope(CancelCrawlData{JobID: job.ID, Status: "cancelled"})}, nil
}

func pageResult(r *models.JobResult) CrawlPageResult {
	out := CrawlPageResult{
		URL:          r.URL,
		StatusCode:   r.StatusCode,
		Title:        r.Title,
		Description:  r.Description,
		ContentKey:   r.ContentKey,
		ErrorMessage: r.ErrorMessage,
		FromCache:    r.FromCache,
		CreatedAt:    r.CreatedAt,
	}
	if r.DataJSON != "" && json.Valid([]byte(r.DataJSON)) {
		out.Document = json.RawMessage(r.DataJSON)
	}
	return out
}
