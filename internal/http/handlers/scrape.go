package handlers

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// ScrapeHandler handles the synchronous scrape endpoint.
type ScrapeHandler struct {
	scrape    *service.ScrapeService
	blocklist *mw.URLBlocklist
}

// NewScrapeHandler creates a new scrape handler.
func NewScrapeHandler(scrape *service.ScrapeService, blocklist *mw.URLBlocklist) *ScrapeHandler {
	return &ScrapeHandler{scrape: scrape, blocklist: blocklist}
}

// ScrapeRequestBody is the scrape request payload. The options embed
// directly so clients pass engine, formats and so on at the top level.
type ScrapeRequestBody struct {
	URL string `json:"url" format:"uri" minLength:"1" doc:"Page to scrape"`
	models.ScrapeOptions
}

// ScrapeInput is the scrape request.
type ScrapeInput struct {
	Body ScrapeRequestBody
}

// ScrapeData is the scrape response payload.
type ScrapeData struct {
	JobID       string           `json:"job_id" doc:"Job created for this scrape"`
	CreditsUsed int64            `json:"credits_used" doc:"Credits charged"`
	Document    *models.Document `json:"document" doc:"Extracted document"`
}

// ScrapeOutput is the scrape response.
type ScrapeOutput struct {
	Body Envelope[ScrapeData]
}

// Scrape fetches a single page synchronously and returns the document
// inline. One credit is charged, cache hits included.
func (h *ScrapeHandler) Scrape(ctx context.Context, input *ScrapeInput) (*ScrapeOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := checkTarget(ctx, h.blocklist, input.Body.URL); apiErr != nil {
		return nil, apiErr
	}

	opts := input.Body.ScrapeOptions
	doc, job, err := h.scrape.Scrape(ctx, claims.APIKeyID, claims.UserID, service.ScrapeRequest{
		URL:     input.Body.URL,
		Options: &opts,
	})
	if err != nil {
		return nil, errFromService(err, "scrape page")
	}

	data := ScrapeData{Document: doc}
	if job != nil {
		data.JobID = job.ID
		data.CreditsUsed = job.CreditsUsed
	}
	return &ScrapeOutput{Body: envelope(data)}, nil
}
