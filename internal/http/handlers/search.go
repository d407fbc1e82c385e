package handlers

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// SearchHandler handles the synchronous search endpoint.
type SearchHandler struct {
	search *service.SearchService
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// SearchRequestBody is the search request payload.
type SearchRequestBody struct {
	Query         string                `json:"query" minLength:"1" doc:"Search query"`
	Limit         int                   `json:"limit,omitempty" minimum:"1" maximum:"100" doc:"Results requested (default 10)"`
	ScrapeOptions *models.ScrapeOptions `json:"scrape_options,omitempty" doc:"When set, each hit is scraped and enriched with its document"`
}

// SearchInput is the search request.
type SearchInput struct {
	Body SearchRequestBody
}

// SearchData is the search response payload.
type SearchData struct {
	JobID       string                 `json:"job_id" doc:"Job created for this search"`
	CreditsUsed int64                  `json:"credits_used" doc:"Credits charged"`
	Results     []service.SearchResult `json:"results"`
}

// SearchOutput is the search response.
type SearchOutput struct {
	Body Envelope[SearchData]
}

// Search runs the query through the configured provider. One credit is
// charged per ten results requested.
func (h *SearchHandler) Search(ctx context.Context, input *SearchInput) (*SearchOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}

	results, job, err := h.search.Search(ctx, claims.APIKeyID, claims.UserID, service.SearchRequest{
		Query:         input.Body.Query,
		Limit:         input.Body.Limit,
		ScrapeOptions: input.Body.ScrapeOptions,
	})
	if err != nil {
		return nil, errFromService(err, "run search")
	}

	data := SearchData{Results: results}
	if data.Results == nil {
		data.Results = []service.SearchResult{}
	}
	if job != nil {
		data.JobID = job.ID
		data.CreditsUsed = job.CreditsUsed
	}
	return &SearchOutput{Body: envelope(data)}, nil
}
