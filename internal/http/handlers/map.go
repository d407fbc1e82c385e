package handlers

import (
	"context"

	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/service"
)

// MapHandler handles the URL discovery endpoint.
type MapHandler struct {
	mapper    *service.MapService
	blocklist *mw.URLBlocklist
}

// NewMapHandler creates a new map handler.
func NewMapHandler(mapper *service.MapService, blocklist *mw.URLBlocklist) *MapHandler {
	return &MapHandler{mapper: mapper, blocklist: blocklist}
}

// MapRequestBody is the map request payload.
type MapRequestBody struct {
	URL               string             `json:"url" format:"uri" minLength:"1" doc:"Site to map"`
	Search            string             `json:"search,omitempty" doc:"Substring filter applied to discovered URLs"`
	Sources           []models.MapSource `json:"sources,omitempty" doc:"Discovery sources to use (default all)"`
	Limit             int                `json:"limit,omitempty" minimum:"1" maximum:"5000" doc:"Maximum URLs to return (default 1000)"`
	IgnoreSitemap     bool               `json:"ignore_sitemap,omitempty" doc:"Skip sitemap discovery"`
	IncludeSubdomains bool               `json:"include_subdomains,omitempty" doc:"Keep URLs on subdomains of the target"`
}

// MapInput is the map request.
type MapInput struct {
	Body MapRequestBody
}

// MapData is the map response payload.
type MapData struct {
	JobID       string            `json:"job_id" doc:"Job created for this discovery"`
	CreditsUsed int64             `json:"credits_used" doc:"Credits charged"`
	Map         *models.MapResult `json:"map" doc:"Discovered URLs with their source"`
}

// MapOutput is the map response.
type MapOutput struct {
	Body Envelope[MapData]
}

// Map discovers a site's URLs from sitemaps, search, seed-page links and
// the page cache index. Results are served from and saved to the map cache.
func (h *MapHandler) Map(ctx context.Context, input *MapInput) (*MapOutput, error) {
	claims, apiErr := ownerClaims(ctx)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := checkTarget(ctx, h.blocklist, input.Body.URL); apiErr != nil {
		return nil, apiErr
	}

	result, job, err := h.mapper.Map(ctx, claims.APIKeyID, claims.UserID, service.MapRequest{
		URL:               input.Body.URL,
		Search:            input.Body.Search,
		Sources:           input.Body.Sources,
		Limit:             input.Body.Limit,
		IgnoreSitemap:     input.Body.IgnoreSitemap,
		IncludeSubdomains: input.Body.IncludeSubdomains,
	})
	if err != nil {
		return nil, errFromService(err, "map site")
	}

	data := MapData{Map: result}
	if job != nil {
		data.JobID = job.ID
		data.CreditsUsed = job.CreditsUsed
	}
	return &MapOutput{Body: envelope(data)}, nil
}
