package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trawlhq/trawl-api/internal/engine"
	"github.com/trawlhq/trawl-api/internal/models"
	"github.com/trawlhq/trawl-api/internal/repository"
)

type fakeSearchProvider struct {
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearchProvider) Search(ctx context.Context, query string, opts SearchProviderOptions) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type searchEnv struct {
	search *SearchService
	repos  *repository.Repositories
	engine *fakeEngine
}

func newSearchEnv(t *testing.T, provider SearchProvider) *searchEnv {
	t.Helper()
	db, repos := setupServiceDB(t)
	insertAPIKey(t, db, "key-1", 100)

	billing := NewBillingService(db, repos, true, nil)
	eng := &fakeEngine{pages: make(map[string]fakePage)}
	cache := NewCacheService(repos.PageCache, repos.MapCache, newFakeObjectStore(false), 48*time.Hour, 7*24*time.Hour, nil)
	scraper := NewScrapeService(repos, map[models.Engine]engine.Engine{models.EngineCheerio: eng}, cache, billing, nil, nil, nil, nil)

	return &searchEnv{
		search: NewSearchService(repos, provider, scraper, billing, nil),
		repos:  repos,
		engine: eng,
	}
}

func TestSearchCreatesJobAndCharges(t *testing.T) {
	provider := &fakeSearchProvider{results: []SearchResult{
		{URL: "https://example.com/a", Title: "A"},
		{URL: "https://example.com/b", Title: "B"},
	}}
	env := newSearchEnv(t, provider)
	ctx := context.Background()

	results, job, err := env.search.Search(ctx, "key-1", "user-1", SearchRequest{
		Query: "example widgets",
		Limit: 25,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if provider.queries[0] != "example widgets" {
		t.Errorf("query: got %q", provider.queries[0])
	}

	got, err := env.repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.JobStatusCompleted {
		t.Errorf("status: got %q", got.Status)
	}
	if got.Total != 2 {
		t.Errorf("total: got %d, want 2", got.Total)
	}
	// 25 results requested rounds up to 3 credits.
	if got.CreditsUsed != 3 {
		t.Errorf("credits_used: got %d, want 3", got.CreditsUsed)
	}

	rows, err := env.repos.JobResult.GetByJobID(ctx, job.ID, 50, 0)
	if err != nil {
		t.Fatalf("GetByJobID failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("result rows: got %d, want 2", len(rows))
	}
}

func TestSearchEnrichmentScrapesHits(t *testing.T) {
	provider := &fakeSearchProvider{results: []SearchResult{
		{URL: "https://example.com/a"},
		{URL: "https://example.com/b"},
	}}
	env := newSearchEnv(t, provider)
	ctx := context.Background()

	results, job, err := env.search.Search(ctx, "key-1", "user-1", SearchRequest{
		Query:         "example",
		Limit:         10,
		ScrapeOptions: &models.ScrapeOptions{},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for i, r := range results {
		if r.Document == nil {
			t.Errorf("result %d: no document", i)
		} else if r.Title == "" {
			t.Errorf("result %d: title not backfilled", i)
		}
	}

	got, err := env.repos.Job.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	// 1 credit for the query batch plus 1 per enriched page.
	if got.CreditsUsed != 3 {
		t.Errorf("credits_used: got %d, want 3", got.CreditsUsed)
	}
}

func TestSearchWithoutProvider(t *testing.T) {
	env := newSearchEnv(t, nil)

	_, _, err := env.search.Search(context.Background(), "key-1", "user-1", SearchRequest{Query: "anything"})
	if !errors.Is(err, ErrSearchProviderNotConfigured) {
		t.Fatalf("err: got %v, want ErrSearchProviderNotConfigured", err)
	}
}

func TestSearchProviderFailureFailsJob(t *testing.T) {
	provider := &fakeSearchProvider{err: errors.New("upstream 503")}
	env := newSearchEnv(t, provider)
	ctx := context.Background()

	_, job, err := env.search.Search(ctx, "key-1", "user-1", SearchRequest{Query: "example"})
	if err == nil {
		t.Fatal("expected error from failing provider")
	}
	got, gerr := env.repos.Job.GetByID(ctx, job.ID)
	if gerr != nil {
		t.Fatalf("GetByID failed: %v", gerr)
	}
	if got.Status != models.JobStatusFailed {
		t.Errorf("status: got %q, want failed", got.Status)
	}
}

func TestHTTPSearchProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization: got %q", got)
		}
		var body struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Query != "example" || body.Limit != 5 {
			t.Errorf("body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"url": "https://example.com/hit", "title": "Hit", "description": "First hit"},
			},
		})
	}))
	defer server.Close()

	provider := NewHTTPSearchProvider(server.URL, "sk-test", 0, nil)
	results, err := provider.Search(context.Background(), "example", SearchProviderOptions{Limit: 5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://example.com/hit" {
		t.Errorf("results: %+v", results)
	}
}

func TestHTTPSearchProviderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	provider := NewHTTPSearchProvider(server.URL, "", 0, nil)
	if _, err := provider.Search(context.Background(), "example", SearchProviderOptions{Limit: 5}); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
