package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/trawlhq/trawl-api/internal/models"
)

// fakeObjectStore is an in-memory ObjectStore for cache tests.
type fakeObjectStore struct {
	enabled bool
	objects map[string][]byte
}

func newFakeObjectStore(enabled bool) *fakeObjectStore {
	return &fakeObjectStore{enabled: enabled, objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) IsEnabled() bool { return f.enabled }

func (f *fakeObjectStore) PutJSON(ctx context.Context, key string, v interface{}) error {
	if !f.enabled {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjectStore) GetJSON(ctx context.Context, key string, out interface{}) error {
	data, ok := f.objects[key]
	if !ok {
		return ErrObjectNotFound
	}
	return json.Unmarshal(data, out)
}

func newTestCacheService(t *testing.T, store *fakeObjectStore) *CacheService {
	t.Helper()
	_, repos := setupServiceDB(t)
	return NewCacheService(repos.PageCache, repos.MapCache, store, 48*time.Hour, 7*24*time.Hour, nil)
}

func testDocument(url string) *models.Document {
	return &models.Document{
		URL:        url,
		StatusCode: 200,
		Title:      "Example Domain",
		Metadata:   map[string]string{"og:description": "An example page"},
		Markdown:   "# Example",
		RawHTML:    "<html><body>Example</body></html>",
		FetchedAt:  time.Now().UTC(),
	}
}

func TestPageCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFakeObjectStore(true)
	cache := newTestCacheService(t, store)

	opts := &models.ScrapeOptions{Formats: []models.Format{models.FormatMarkdown}}
	doc := testDocument("https://example.com/page")

	if err := cache.SavePage(ctx, "https://example.com/page", opts, doc); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}
	if len(store.objects) != 1 {
		t.Fatalf("payload objects: got %d, want 1", len(store.objects))
	}

	got, err := cache.GetPage(ctx, "https://example.com/page", opts)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetPage missed after save")
	}
	if !got.FromCache || got.CachedAt == nil {
		t.Errorf("cache markers: from_cache=%v cached_at=%v", got.FromCache, got.CachedAt)
	}
	if got.Markdown != doc.Markdown || got.Title != doc.Title {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestPageCacheInlinePayloadWhenStorageDisabled(t *testing.T) {
	ctx := context.Background()
	store := newFakeObjectStore(false)
	cache := newTestCacheService(t, store)

	opts := &models.ScrapeOptions{}
	if err := cache.SavePage(ctx, "https://example.com", opts, testDocument("https://example.com")); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	got, err := cache.GetPage(ctx, "https://example.com", opts)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got == nil {
		t.Fatal("inline payload not served")
	}
	if got.Title != "Example Domain" {
		t.Errorf("inline round-trip mismatch: %+v", got)
	}
}

func TestPageCacheZeroMaxAgeForcesMiss(t *testing.T) {
	ctx := context.Background()
	cache := newTestCacheService(t, newFakeObjectStore(true))

	opts := &models.ScrapeOptions{}
	if err := cache.SavePage(ctx, "https://example.com", opts, testDocument("https://example.com")); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	zero := int64(0)
	got, err := cache.GetPage(ctx, "https://example.com", &models.ScrapeOptions{MaxAgeMS: &zero})
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got != nil {
		t.Error("max_age=0 served from cache")
	}
}

func TestPageCacheSkipsFailedAndOptedOut(t *testing.T) {
	ctx := context.Background()
	store := newFakeObjectStore(true)
	cache := newTestCacheService(t, store)

	opts := &models.ScrapeOptions{}
	failed := testDocument("https://example.com/404")
	failed.StatusCode = 404
	if err := cache.SavePage(ctx, "https://example.com/404", opts, failed); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	unfetched := testDocument("https://example.com/timeout")
	unfetched.StatusCode = 0
	if err := cache.SavePage(ctx, "https://example.com/timeout", opts, unfetched); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	noStore := false
	optedOut := &models.ScrapeOptions{StoreInCache: &noStore}
	if err := cache.SavePage(ctx, "https://example.com/private", optedOut, testDocument("https://example.com/private")); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	if len(store.objects) != 0 {
		t.Errorf("uncacheable results written: %d objects", len(store.objects))
	}
}

func TestPageCacheMissingPayloadIsMiss(t *testing.T) {
	ctx := context.Background()
	store := newFakeObjectStore(true)
	cache := newTestCacheService(t, store)

	opts := &models.ScrapeOptions{}
	if err := cache.SavePage(ctx, "https://example.com", opts, testDocument("https://example.com")); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	// Simulate the payload disappearing from the object store.
	store.objects = make(map[string][]byte)

	got, err := cache.GetPage(ctx, "https://example.com", opts)
	if err != nil {
		t.Fatalf("GetPage failed: %v", err)
	}
	if got != nil {
		t.Error("metadata without payload served as a hit")
	}
}

func TestOptionsFingerprintOrderInsensitive(t *testing.T) {
	a := &models.ScrapeOptions{
		Formats:     []models.Format{models.FormatMarkdown, models.FormatHTML},
		IncludeTags: []string{"article", "main"},
	}
	b := &models.ScrapeOptions{
		Formats:     []models.Format{models.FormatHTML, models.FormatMarkdown},
		IncludeTags: []string{"main", "article"},
	}
	if OptionsFingerprint(a) != OptionsFingerprint(b) {
		t.Error("fingerprint sensitive to slice ordering")
	}

	c := &models.ScrapeOptions{
		Engine:      models.EnginePlaywright,
		Formats:     []models.Format{models.FormatMarkdown, models.FormatHTML},
		IncludeTags: []string{"article", "main"},
	}
	if OptionsFingerprint(a) == OptionsFingerprint(c) {
		t.Error("fingerprint ignores engine")
	}

	// Default engine and formats hash the same as their explicit spellings.
	explicit := &models.ScrapeOptions{
		Engine:  models.EngineCheerio,
		Formats: []models.Format{models.FormatMarkdown},
	}
	if OptionsFingerprint(nil) != OptionsFingerprint(explicit) {
		t.Error("defaults and explicit spellings diverge")
	}
}

func TestPageCacheDescriptionFallback(t *testing.T) {
	ctx := context.Background()
	cache := newTestCacheService(t, newFakeObjectStore(true))

	opts := &models.ScrapeOptions{}
	doc := testDocument("https://example.com")
	doc.Description = "" // forces the og:description fallback
	if err := cache.SavePage(ctx, "https://example.com", opts, doc); err != nil {
		t.Fatalf("SavePage failed: %v", err)
	}

	pages, err := cache.KnownPages(ctx, "example.com", 10)
	if err != nil {
		t.Fatalf("KnownPages failed: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("known pages: got %d, want 1", len(pages))
	}
	if pages[0].Description != "An example page" {
		t.Errorf("description fallback: got %q", pages[0].Description)
	}
}

func TestMapCacheRoundTripPerSource(t *testing.T) {
	ctx := context.Background()
	cache := newTestCacheService(t, newFakeObjectStore(true))

	result := &models.MapResult{
		Domain: "example.com",
		Source: models.MapSourceSitemap,
		URLs: []models.MapURL{
			{URL: "https://example.com/"},
			{URL: "https://example.com/about", Title: "About"},
		},
	}
	if err := cache.SaveMap(ctx, result); err != nil {
		t.Fatalf("SaveMap failed: %v", err)
	}

	got, err := cache.GetMap(ctx, "example.com", models.MapSourceSitemap, 0)
	if err != nil {
		t.Fatalf("GetMap failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetMap missed after save")
	}
	if !got.FromCache || len(got.URLs) != 2 {
		t.Errorf("map round-trip: from_cache=%v urls=%d", got.FromCache, len(got.URLs))
	}

	// A different source is a separate cache slot.
	got, err = cache.GetMap(ctx, "example.com", models.MapSourceSearch, 0)
	if err != nil {
		t.Fatalf("GetMap for other source failed: %v", err)
	}
	if got != nil {
		t.Error("sitemap result served for search source")
	}
}
