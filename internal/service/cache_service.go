package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

// ObjectStore is the slice of storage the cache layer needs.
type ObjectStore interface {
	IsEnabled() bool
	PutJSON(ctx context.Context, key string, v interface{}) error
	GetJSON(ctx context.Context, key string, out interface{}) error
}

// CacheService skips re-fetching when a fresh enough prior result exists.
// Payloads live in the object store; the database holds fingerprinted
// metadata. When storage is disabled the payload is inlined in the metadata
// row instead.
type CacheService struct {
	pages         repository.PageCacheRepository
	maps          repository.MapCacheRepository
	store         ObjectStore
	pageMaxAge    time.Duration
	sitemapMaxAge time.Duration
	logger        *slog.Logger
}

// NewCacheService creates a new cache service. pageMaxAge and sitemapMaxAge
// are the default freshness windows applied when a request does not override
// them.
func NewCacheService(pages repository.PageCacheRepository, maps repository.MapCacheRepository, store ObjectStore, pageMaxAge, sitemapMaxAge time.Duration, logger *slog.Logger) *CacheService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheService{
		pages:         pages,
		maps:          maps,
		store:         store,
		pageMaxAge:    pageMaxAge,
		sitemapMaxAge: sitemapMaxAge,
		logger:        logger,
	}
}

// GetPage returns a cached document for (url, options) when one fresh enough
// exists, or nil on a miss. A zero max_age override forces a miss.
func (s *CacheService) GetPage(ctx context.Context, pageURL string, opts *models.ScrapeOptions) (*models.Document, error) {
	maxAge := opts.CacheMaxAge(s.pageMaxAge)
	if maxAge <= 0 {
		return nil, nil // explicit force refresh
	}

	urlHash := hashHex(canonicalURL(pageURL))
	optionsHash := OptionsFingerprint(opts)

	entry, err := s.pages.GetFresh(ctx, urlHash, optionsHash, maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to read page cache: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	var doc models.Document
	switch {
	case entry.ContentKey != "":
		if err := s.store.GetJSON(ctx, entry.ContentKey, &doc); err != nil {
			// Metadata without a payload is a miss, not an error.
			s.logger.Warn("page cache payload missing",
				"url", pageURL,
				"content_key", entry.ContentKey,
				"error", err,
			)
			return nil, nil
		}
	case entry.DataJSON != "":
		if err := json.Unmarshal([]byte(entry.DataJSON), &doc); err != nil {
			s.logger.Warn("page cache inline payload corrupt", "url", pageURL, "error", err)
			return nil, nil
		}
	default:
		return nil, nil
	}

	cachedAt := entry.ScrapedAt
	doc.FromCache = true
	doc.CachedAt = &cachedAt
	return &doc, nil
}

// SavePage stores a scrape result under its (url, options) fingerprint.
// Failed fetches and opted-out requests are never cached.
func (s *CacheService) SavePage(ctx context.Context, pageURL string, opts *models.ScrapeOptions, doc *models.Document) error {
	if doc == nil || !opts.ShouldStore() {
		return nil
	}
	if doc.StatusCode == 0 || doc.StatusCode >= 400 {
		return nil
	}

	urlHash := hashHex(canonicalURL(pageURL))
	optionsHash := OptionsFingerprint(opts)
	now := time.Now().UTC()

	entry := &models.PageCacheEntry{
		ID:            ulid.Make().String(),
		URLHash:       urlHash,
		OptionsHash:   optionsHash,
		URL:           pageURL,
		Domain:        domainOf(pageURL),
		ContentHash:   contentHash(doc),
		Title:         doc.Title,
		Description:   doc.BestDescription(),
		StatusCode:    doc.StatusCode,
		ContentType:   doc.ContentType,
		ContentLength: int64(len(doc.RawHTML) + len(doc.HTML)),
		Engine:        opts.EffectiveEngine(),
		HasProxy:      opts != nil && opts.Proxy != "" && opts.Proxy != models.ProxyNone,
		HasScreenshot: doc.ScreenshotKey != "",
		ScrapedAt:     now,
		CreatedAt:     now,
	}

	if s.store.IsEnabled() {
		key := fmt.Sprintf("pages/%s/%s.json", urlHash, optionsHash)
		if err := s.store.PutJSON(ctx, key, doc); err != nil {
			return fmt.Errorf("failed to store page payload: %w", err)
		}
		entry.ContentKey = key
	} else {
		inline, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal page payload: %w", err)
		}
		entry.DataJSON = string(inline)
	}

	if err := s.pages.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to upsert page cache entry: %w", err)
	}
	return nil
}

// GetMap returns a cached URL list for (domain, source) when one fresh enough
// exists, or nil on a miss. maxAge <= 0 uses the sitemap default.
func (s *CacheService) GetMap(ctx context.Context, domain string, source models.MapSource, maxAge time.Duration) (*models.MapResult, error) {
	if maxAge <= 0 {
		maxAge = s.sitemapMaxAge
	}

	entry, err := s.maps.GetFresh(ctx, hashHex(strings.ToLower(domain)), source, maxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to read map cache: %w", err)
	}
	if entry == nil {
		return nil, nil
	}

	var result models.MapResult
	switch {
	case entry.ContentKey != "":
		if err := s.store.GetJSON(ctx, entry.ContentKey, &result); err != nil {
			s.logger.Warn("map cache payload missing",
				"domain", domain,
				"content_key", entry.ContentKey,
				"error", err,
			)
			return nil, nil
		}
	case entry.DataJSON != "":
		if err := json.Unmarshal([]byte(entry.DataJSON), &result); err != nil {
			s.logger.Warn("map cache inline payload corrupt", "domain", domain, "error", err)
			return nil, nil
		}
	default:
		return nil, nil
	}

	result.FromCache = true
	return &result, nil
}

// SaveMap stores a URL discovery result under its (domain, source) key.
func (s *CacheService) SaveMap(ctx context.Context, result *models.MapResult) error {
	if result == nil || len(result.URLs) == 0 {
		return nil
	}

	domainHash := hashHex(strings.ToLower(result.Domain))
	now := time.Now().UTC()
	if result.DiscoveredAt.IsZero() {
		result.DiscoveredAt = now
	}

	entry := &models.MapCacheEntry{
		ID:           ulid.Make().String(),
		DomainHash:   domainHash,
		Domain:       result.Domain,
		Source:       result.Source,
		URLCount:     len(result.URLs),
		DiscoveredAt: result.DiscoveredAt,
		CreatedAt:    now,
	}

	if s.store.IsEnabled() {
		key := fmt.Sprintf("maps/%s/%s.json", domainHash, result.Source)
		if err := s.store.PutJSON(ctx, key, result); err != nil {
			return fmt.Errorf("failed to store map payload: %w", err)
		}
		entry.ContentKey = key
	} else {
		inline, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal map payload: %w", err)
		}
		entry.DataJSON = string(inline)
	}

	if err := s.maps.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to upsert map cache entry: %w", err)
	}
	return nil
}

// KnownPages reads the page cache index for a domain. Map discovery uses it
// to enrich URL lists with already-scraped metadata.
func (s *CacheService) KnownPages(ctx context.Context, domain string, limit int) ([]models.MapURL, error) {
	entries, err := s.pages.ListByDomain(ctx, strings.ToLower(domain), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached pages: %w", err)
	}

	urls := make([]models.MapURL, 0, len(entries))
	for _, entry := range entries {
		urls = append(urls, models.MapURL{
			URL:         entry.URL,
			Title:       entry.Title,
			Description: entry.Description,
		})
	}
	return urls, nil
}

// OptionsFingerprint hashes the cache-relevant scrape options in canonical
// order. Requests that differ only in slice ordering share a fingerprint;
// anything that changes what the engine fetches or produces does not.
func OptionsFingerprint(opts *models.ScrapeOptions) string {
	if opts == nil {
		opts = &models.ScrapeOptions{}
	}

	formats := make([]string, 0, len(opts.EffectiveFormats()))
	for _, f := range opts.EffectiveFormats() {
		formats = append(formats, string(f))
	}
	sort.Strings(formats)

	canonical := struct {
		Engine          string   `json:"engine"`
		Proxy           string   `json:"proxy"`
		Formats         []string `json:"formats"`
		WaitForMS       int      `json:"wait_for_ms"`
		WaitUntil       string   `json:"wait_until"`
		IncludeTags     []string `json:"include_tags"`
		ExcludeTags     []string `json:"exclude_tags"`
		OnlyMainContent bool     `json:"only_main_content"`
		JSONOptions     string   `json:"json_options"`
		ExtractSource   string   `json:"extract_source"`
	}{
		Engine:          string(opts.EffectiveEngine()),
		Proxy:           string(opts.Proxy),
		Formats:         formats,
		WaitForMS:       opts.WaitForMS,
		WaitUntil:       opts.WaitUntil,
		IncludeTags:     sortedCopy(opts.IncludeTags),
		ExcludeTags:     sortedCopy(opts.ExcludeTags),
		OnlyMainContent: opts.OnlyMainContent,
		JSONOptions:     string(opts.JSONOptions),
		ExtractSource:   opts.ExtractSource,
	}

	b, _ := json.Marshal(canonical)
	return hashHex(string(b))
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalURL lowercases the scheme and host and drops fragments so
// trivially different spellings of the same URL share a cache key.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func contentHash(doc *models.Document) string {
	content := doc.RawHTML
	if content == "" {
		content = doc.HTML
	}
	if content == "" {
		content = doc.Markdown
	}
	if content == "" {
		return ""
	}
	return hashHex(content)
}
