package models

import (
	"encoding/json"
	"time"
)

// Format names an output artifact a scrape can produce.
type Format string

const (
	FormatMarkdown           Format = "markdown"
	FormatHTML               Format = "html"
	FormatRawHTML            Format = "rawHtml"
	FormatText               Format = "text"
	FormatScreenshot         Format = "screenshot"
	FormatScreenshotFullPage Format = "screenshot@fullPage"
	FormatJSON               Format = "json"
	FormatSummary            Format = "summary"
)

// WaitUntil values accepted by the browser engines.
const (
	WaitUntilLoad             = "load"
	WaitUntilDOMContentLoaded = "domcontentloaded"
	WaitUntilNetworkIdle      = "networkidle"
)

// ExtractSource selects what the json extractor reads from.
const (
	ExtractSourceHTML     = "html"
	ExtractSourceMarkdown = "markdown"
)

// ScrapeOptions are the per-request fetch and transform options. They travel
// inside job payloads and feed the cache fingerprint, so additions here must
// be reflected in the options canonicalization.
type ScrapeOptions struct {
	Engine          Engine          `json:"engine,omitempty"`
	Formats         []Format        `json:"formats,omitempty"`
	Proxy           ProxyMode       `json:"proxy,omitempty"`
	WaitForMS       int             `json:"wait_for_ms,omitempty"`
	WaitUntil       string          `json:"wait_until,omitempty"`
	IncludeTags     []string        `json:"include_tags,omitempty"`
	ExcludeTags     []string        `json:"exclude_tags,omitempty"`
	OnlyMainContent bool            `json:"only_main_content,omitempty"`
	MaxAgeMS        *int64          `json:"max_age_ms,omitempty"` // nil = default; 0 = force refresh
	StoreInCache    *bool           `json:"store_in_cache,omitempty"` // nil = true
	JSONOptions     json.RawMessage `json:"json_options,omitempty"`
	ExtractSource   string          `json:"extract_source,omitempty"`
	TimeoutMS       int             `json:"timeout_ms,omitempty"`
}

// EffectiveEngine returns the engine with the cheerio default applied.
func (o *ScrapeOptions) EffectiveEngine() Engine {
	if o == nil || o.Engine == "" {
		return EngineCheerio
	}
	return o.Engine
}

// EffectiveFormats returns the requested formats, defaulting to [markdown].
func (o *ScrapeOptions) EffectiveFormats() []Format {
	if o == nil || len(o.Formats) == 0 {
		return []Format{FormatMarkdown}
	}
	return o.Formats
}

// WantsFormat reports whether the given artifact was requested.
func (o *ScrapeOptions) WantsFormat(f Format) bool {
	for _, have := range o.EffectiveFormats() {
		if have == f {
			return true
		}
	}
	return false
}

// WantsScreenshot reports whether any screenshot variant was requested.
func (o *ScrapeOptions) WantsScreenshot() bool {
	return o.WantsFormat(FormatScreenshot) || o.WantsFormat(FormatScreenshotFullPage)
}

// ShouldStore reports whether the result may be written to the cache.
func (o *ScrapeOptions) ShouldStore() bool {
	return o == nil || o.StoreInCache == nil || *o.StoreInCache
}

// CacheMaxAge resolves the freshness window, falling back to def when the
// request does not override it. A zero override forces a refresh.
func (o *ScrapeOptions) CacheMaxAge(def time.Duration) time.Duration {
	if o == nil || o.MaxAgeMS == nil {
		return def
	}
	return time.Duration(*o.MaxAgeMS) * time.Millisecond
}

// Document is the full scrape output: the fetch outcome plus every requested
// artifact. It is what the page cache stores and what /v1/scrape returns.
type Document struct {
	URL           string            `json:"url"`
	FinalURL      string            `json:"final_url,omitempty"`
	StatusCode    int               `json:"status_code"`
	ContentType   string            `json:"content_type,omitempty"`
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Links         []string          `json:"links,omitempty"`
	Markdown      string            `json:"markdown,omitempty"`
	HTML          string            `json:"html,omitempty"`
	RawHTML       string            `json:"rawHtml,omitempty"`
	Text          string            `json:"text,omitempty"`
	JSON          json.RawMessage   `json:"json,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	ScreenshotKey string            `json:"screenshot_key,omitempty"`
	FetchDuration time.Duration     `json:"-"`
	FetchedAt     time.Time         `json:"fetched_at"`
	FromCache     bool              `json:"from_cache,omitempty"`
	CachedAt      *time.Time        `json:"cached_at,omitempty"`
}

// BestDescription resolves the page description with the usual meta tag
// fallbacks: description, then og:description, then twitter:description.
func (d *Document) BestDescription() string {
	if d.Description != "" {
		return d.Description
	}
	for _, key := range []string{"description", "og:description", "twitter:description"} {
		if v, ok := d.Metadata[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// MapResult is the URL list a map discovery produced, cached per
// (domain, source).
type MapResult struct {
	Domain       string    `json:"domain"`
	Source       MapSource `json:"source"`
	URLs         []MapURL  `json:"urls"`
	DiscoveredAt time.Time `json:"discovered_at"`
	FromCache    bool      `json:"from_cache,omitempty"`
}

// MapURL is one discovered URL with optional page metadata.
type MapURL struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}
