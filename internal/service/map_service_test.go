package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trawlhq/trawl-api/internal/engine"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

type mapEnv struct {
	maps     *MapService
	cache    *CacheService
	repos    *repository.Repositories
	engine   *fakeEngine
	provider *fakeSearchProvider
	site     *httptest.Server
}

// newMapEnv stands up a map service against a test site serving a sitemap.
func newMapEnv(t *testing.T) *mapEnv {
	t.Helper()

	var site *httptest.Server
	site = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<urlset><url><loc>%s/from-sitemap-1</loc></url><url><loc>%s/from-sitemap-2</loc></url></urlset>`, site.URL, site.URL)
	}))
	t.Cleanup(site.Close)

	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)

	billing := NewBillingService(db, repos, true, nil)
	eng := &fakeEngine{pages: make(map[string]fakePage)}
	cache := NewCacheService(repos.PageCache, repos.MapCache, newFakeObjectStore(false), 48*time.Hour, 7*24*time.Hour, nil)
	scraper := NewScrapeService(repos, map[models.Engine]engine.Engine{models.EngineCheerio: eng}, cache, billing, nil, nil, nil, nil)
	provider := &fakeSearchProvider{}

	return &mapEnv{
		maps:     NewMapService(repos, cache, NewSitemapService(nil), provider, scraper, billing, nil),
		cache:    cache,
		repos:    repos,
		engine:   eng,
		provider: provider,
		site:     site,
	}
}

func (env *mapEnv) url(path string) string { return env.site.URL + path }

func containsURL(urls []models.MapURL, want string) bool {
	for _, u := range urls {
		if u.URL == want {
			return true
		}
	}
	return false
}

func TestMapCombinesSources(t *testing.T) {
	env := newMapEnv(t)
	ctx := context.Background()

	env.provider.results = []SearchResult{
		{URL: env.url("/from-search"), Title: "Search hit"},
		{URL: "https://unrelated.example.org/page"},
	}
	env.engine.pages[env.url("/")] = fakePage{links: []string{env.url("/from-links")}}

	result, job, err := env.maps.Map(ctx, "key-1", "user-1", MapRequest{URL: env.url("/")})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	for _, want := range []string{
		env.url("/from-sitemap-1"),
		env.url("/from-sitemap-2"),
		env.url("/from-search"),
		env.url("/from-links"),
	} {
		if !containsURL(result.URLs, want) {
			t.Errorf("missing %q in %v", want, result.URLs)
		}
	}
	if containsURL(result.URLs, "https://unrelated.example.org/page") {
		t.Error("off-domain search hit should have been filtered")
	}

	got, err := env.repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("status: got %q", got.Status)
	}
	if got.Total != len(result.URLs) {
		t.Errorf("total: got %d, want %d", got.Total, len(result.URLs))
	}
	// Map costs one flat credit regardless of sources consulted.
	if got.CreditsUsed != 1 {
		t.Errorf("credits_used: got %d, want 1", got.CreditsUsed)
	}
}

func TestMapServesCachedResult(t *testing.T) {
	env := newMapEnv(t)
	ctx := context.Background()

	domain := env.site.Listener.Addr().String()
	if err := env.cache.SaveMap(ctx, &models.MapResult{
		Domain: domain,
		Source: models.MapSourceCombined,
		URLs:   []models.MapURL{{URL: env.url("/cached")}},
	}); err != nil {
		t.Fatalf("SaveMap failed: %v", err)
	}

	result, _, err := env.maps.Map(ctx, "key-1", "user-1", MapRequest{URL: env.url("/")})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if !result.FromCache {
		t.Error("expected cached result")
	}
	if len(result.URLs) != 1 || result.URLs[0].URL != env.url("/cached") {
		t.Errorf("urls: %v", result.URLs)
	}
}

func TestMapSourceFilterSkipsOthers(t *testing.T) {
	env := newMapEnv(t)
	ctx := context.Background()

	env.provider.results = []SearchResult{{URL: env.url("/from-search")}}
	env.engine.pages[env.url("/")] = fakePage{links: []string{env.url("/from-links")}}

	result, _, err := env.maps.Map(ctx, "key-1", "user-1", MapRequest{
		URL:     env.url("/"),
		Sources: []models.MapSource{models.MapSourceSitemap},
	})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if !containsURL(result.URLs, env.url("/from-sitemap-1")) {
		t.Errorf("sitemap source missing: %v", result.URLs)
	}
	if containsURL(result.URLs, env.url("/from-search")) || containsURL(result.URLs, env.url("/from-links")) {
		t.Errorf("filtered sources leaked: %v", result.URLs)
	}
	if len(env.provider.queries) != 0 {
		t.Errorf("search provider was queried %d times", len(env.provider.queries))
	}
}

func TestMapRespectsLimit(t *testing.T) {
	env := newMapEnv(t)

	result, _, err := env.maps.Map(context.Background(), "key-1", "user-1", MapRequest{
		URL:   env.url("/"),
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if len(result.URLs) != 1 {
		t.Errorf("urls: got %d, want 1", len(result.URLs))
	}
}

func TestMapRejectsInvalidURL(t *testing.T) {
	env := newMapEnv(t)

	for _, bad := range []string{"", "not-a-url", "ftp://example.com"} {
		if _, _, err := env.maps.Map(context.Background(), "key-1", "user-1", MapRequest{URL: bad}); err == nil {
			t.Errorf("expected error for URL %q", bad)
		}
	}
}
