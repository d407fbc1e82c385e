package models

import "encoding/json"

// DefaultCrawlLimit is the page budget applied when a crawl request does not
// set one. The configured CRAWL_MAX_LIMIT caps whatever the request asks for.
const DefaultCrawlLimit = 100

// CrawlOptions control fan-out crawling: how far to follow links from the
// seed and which discovered URLs qualify as pages.
type CrawlOptions struct {
	Limit           int            `json:"limit,omitempty"`
	MaxDepth        int            `json:"max_depth,omitempty"` // 0 = unlimited
	IncludePaths    []string       `json:"include_paths,omitempty"`
	ExcludePaths    []string       `json:"exclude_paths,omitempty"`
	AllowSubdomains bool           `json:"allow_subdomains,omitempty"`
	IgnoreSitemap   bool           `json:"ignore_sitemap,omitempty"`
	ScrapeOptions   *ScrapeOptions `json:"scrape_options,omitempty"`
}

// EffectiveLimit resolves the page budget, applying the default and the
// configured ceiling.
func (o *CrawlOptions) EffectiveLimit(max int) int {
	limit := DefaultCrawlLimit
	if o != nil && o.Limit > 0 {
		limit = o.Limit
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}

// Scrape returns the nested scrape options, never nil.
func (o *CrawlOptions) Scrape() *ScrapeOptions {
	if o == nil || o.ScrapeOptions == nil {
		return &ScrapeOptions{}
	}
	return o.ScrapeOptions
}

// CrawlPayload is the seed payload persisted on a crawl Job. API-created
// crawls nest everything under crawl_options; hand-authored scheduled-task
// payloads tend to put limit, max_depth, and the path filters at the top
// level instead. ParseCrawlPayload accepts both.
type CrawlPayload struct {
	URL     string        `json:"url"`
	Options *CrawlOptions `json:"crawl_options,omitempty"`
}

// ParseCrawlPayload decodes a crawl job payload, folding top-level option
// fields into Options. A field set under crawl_options wins over its
// top-level counterpart. Options is never nil on success.
func ParseCrawlPayload(raw string) (CrawlPayload, error) {
	var aux struct {
		URL             string        `json:"url"`
		Options         *CrawlOptions `json:"crawl_options"`
		Limit           FlexInt       `json:"limit"`
		MaxDepth        FlexInt       `json:"max_depth"`
		IncludePaths    []string      `json:"include_paths"`
		ExcludePaths    []string      `json:"exclude_paths"`
		AllowSubdomains bool          `json:"allow_subdomains"`
		IgnoreSitemap   bool          `json:"ignore_sitemap"`
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &aux); err != nil {
			return CrawlPayload{}, err
		}
	}

	opts := aux.Options
	if opts == nil {
		opts = &CrawlOptions{}
	}
	if opts.Limit <= 0 {
		opts.Limit = int(aux.Limit)
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = int(aux.MaxDepth)
	}
	if len(opts.IncludePaths) == 0 {
		opts.IncludePaths = aux.IncludePaths
	}
	if len(opts.ExcludePaths) == 0 {
		opts.ExcludePaths = aux.ExcludePaths
	}
	opts.AllowSubdomains = opts.AllowSubdomains || aux.AllowSubdomains
	opts.IgnoreSitemap = opts.IgnoreSitemap || aux.IgnoreSitemap

	return CrawlPayload{URL: aux.URL, Options: opts}, nil
}

// CrawlPagePayload is the queue payload for one discovered page of a crawl.
// Seed entries carry the job's own payload instead; the presence of
// crawl_job_id is what distinguishes a page entry.
type CrawlPagePayload struct {
	CrawlJobID string `json:"crawl_job_id"`
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
}
