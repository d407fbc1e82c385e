package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSitemapDiscoverParsesURLSet(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sitemap.xml" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/</loc></url>
  <url><loc>%s/about</loc><lastmod>2025-01-01</lastmod></url>
  <url><loc></loc></url>
</urlset>`, server.URL, server.URL)
	}))
	defer server.Close()

	svc := NewSitemapService(nil)
	urls, err := svc.Discover(context.Background(), server.URL+"/some/page")
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("urls: got %d, want 2: %v", len(urls), urls)
	}
	if urls[1] != server.URL+"/about" {
		t.Errorf("urls[1]: got %q", urls[1])
	}
}

func TestSitemapDiscoverFollowsIndex(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/sitemap-pages.xml</loc></sitemap>
  <sitemap><loc>%s/sitemap-posts.xml</loc></sitemap>
</sitemapindex>`, server.URL, server.URL)
		case "/sitemap-pages.xml":
			fmt.Fprintf(w, `<urlset><url><loc>%s/page-1</loc></url></urlset>`, server.URL)
		case "/sitemap-posts.xml":
			fmt.Fprintf(w, `<urlset><url><loc>%s/post-1</loc></url><url><loc>%s/post-2</loc></url></urlset>`, server.URL, server.URL)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	svc := NewSitemapService(nil)
	urls, err := svc.Discover(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(urls) != 3 {
		t.Fatalf("urls: got %d, want 3: %v", len(urls), urls)
	}
	joined := strings.Join(urls, " ")
	for _, want := range []string{"/page-1", "/post-1", "/post-2"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %v", want, urls)
		}
	}
}

func TestSitemapTryDiscoverAbsentSitemap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	svc := NewSitemapService(nil)
	urls, ok := svc.TryDiscover(context.Background(), server.URL)
	if ok {
		t.Fatalf("expected discovery to fail, got %v", urls)
	}
}

func TestSitemapDiscoverInvalidBaseURL(t *testing.T) {
	svc := NewSitemapService(nil)
	if _, err := svc.Discover(context.Background(), "://bad"); err == nil {
		t.Fatal("expected error for invalid base URL")
	}
}
