package models

import "time"

// PageCacheEntry is the metadata row for a cached page payload, keyed by
// (url_hash, options_hash). The payload itself lives in the object store
// under ContentKey when storage is configured, otherwise inline in DataJSON.
type PageCacheEntry struct {
	ID            string    `json:"id"`
	URLHash       string    `json:"url_hash"`
	OptionsHash   string    `json:"options_hash"`
	URL           string    `json:"url"`
	Domain        string    `json:"domain"`
	ContentHash   string    `json:"content_hash,omitempty"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	StatusCode    int       `json:"status_code"`
	ContentType   string    `json:"content_type,omitempty"`
	ContentLength int64     `json:"content_length"`
	Engine        Engine    `json:"engine"`
	HasProxy      bool      `json:"has_proxy"`
	HasScreenshot bool      `json:"has_screenshot"`
	ContentKey    string    `json:"content_key,omitempty"`
	DataJSON      string    `json:"-"`
	ScrapedAt     time.Time `json:"scraped_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// MapSource identifies how a URL list was discovered.
type MapSource string

const (
	MapSourceSitemap  MapSource = "sitemap"
	MapSourceSearch   MapSource = "search"
	MapSourceCrawl    MapSource = "crawl"
	MapSourceCombined MapSource = "combined"
)

// MapCacheEntry is a cached URL discovery result, keyed by (domain_hash,
// source). The URL list lives in the object store under ContentKey when
// storage is configured, otherwise inline in DataJSON.
type MapCacheEntry struct {
	ID           string    `json:"id"`
	DomainHash   string    `json:"domain_hash"`
	Domain       string    `json:"domain"`
	Source       MapSource `json:"source"`
	URLCount     int       `json:"url_count"`
	ContentKey   string    `json:"content_key,omitempty"`
	DataJSON     string    `json:"-"`
	DiscoveredAt time.Time `json:"discovered_at"`
	CreatedAt    time.Time `json:"created_at"`
}
