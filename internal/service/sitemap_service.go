package service

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/trawlhq/trawl-api/internal/constants"
)

const sitemapUserAgent = "Trawl/1.0 (+https://trawl.dev)"

// SitemapService discovers URLs from a site's sitemap.xml. Both crawls
// (seed expansion) and maps (the sitemap source) go through it.
type SitemapService struct {
	logger *slog.Logger
	client *http.Client
}

// NewSitemapService creates a new sitemap service.
func NewSitemapService(logger *slog.Logger) *SitemapService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapService{
		logger: logger,
		client: &http.Client{
			Timeout: constants.SitemapFetchTimeout,
		},
	}
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type sitemapFile struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

// Discover fetches {scheme}://{host}/sitemap.xml and returns its URLs,
// following sitemap indexes up to two levels deep. The result is capped at
// constants.MaxSitemapURLs.
func (s *SitemapService) Discover(ctx context.Context, baseURL string) ([]string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	sitemapURL := fmt.Sprintf("%s://%s/sitemap.xml", parsed.Scheme, parsed.Host)
	urls, err := s.fetch(ctx, sitemapURL, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}

	s.logger.Info("discovered URLs from sitemap",
		"sitemap_url", sitemapURL,
		"url_count", len(urls),
	)
	return urls, nil
}

// TryDiscover is Discover without an error: sitemap absence is normal.
func (s *SitemapService) TryDiscover(ctx context.Context, baseURL string) ([]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, constants.SitemapFetchTimeout)
	defer cancel()

	urls, err := s.Discover(ctx, baseURL)
	if err != nil {
		s.logger.Debug("sitemap discovery failed", "base_url", baseURL, "error", err)
		return nil, false
	}
	if len(urls) == 0 {
		return nil, false
	}
	return urls, true
}

func (s *SitemapService) fetch(ctx context.Context, sitemapURL string, depth int) ([]string, error) {
	if depth > 2 {
		s.logger.Warn("sitemap recursion depth exceeded", "url", sitemapURL)
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", sitemapUserAgent)
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sitemap: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sitemap returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sitemap body: %w", err)
	}

	// An index nests further sitemaps; recurse into each.
	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var all []string
		for _, entry := range index.Sitemaps {
			if len(all) >= constants.MaxSitemapURLs {
				break
			}
			urls, err := s.fetch(ctx, entry.Loc, depth+1)
			if err != nil {
				s.logger.Warn("failed to fetch nested sitemap", "url", entry.Loc, "error", err)
				continue
			}
			all = append(all, urls...)
		}
		if len(all) > constants.MaxSitemapURLs {
			all = all[:constants.MaxSitemapURLs]
		}
		return all, nil
	}

	var file sitemapFile
	if err := xml.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sitemap XML: %w", err)
	}

	urls := make([]string, 0, len(file.URLs))
	for _, u := range file.URLs {
		if u.Loc == "" {
			continue
		}
		if len(urls) >= constants.MaxSitemapURLs {
			break
		}
		urls = append(urls, u.Loc)
	}
	return urls, nil
}
