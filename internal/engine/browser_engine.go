package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/trawlhq/trawl-api/internal/browser"
	"github.com/trawlhq/trawl-api/internal/models"
)

// BrowserConfig carries the render defaults forwarded with every request.
type BrowserConfig struct {
	NavTimeout      time.Duration
	NavWaitUntil    string
	SolveTimeout    time.Duration
	SolveMaxRetries int
}

// Browser renders pages through the browser service. One instance per
// runtime: playwright and puppeteer engines differ only in the runtime field
// sent to the service.
type Browser struct {
	client  *browser.Client
	runtime models.Engine
	cfg     BrowserConfig
	logger  *slog.Logger
}

// NewBrowser creates a browser engine for the given runtime.
func NewBrowser(client *browser.Client, runtime models.Engine, cfg BrowserConfig, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{client: client, runtime: runtime, cfg: cfg, logger: logger}
}

func (e *Browser) Name() string {
	return string(e.runtime)
}

// Fetch renders the page in a real browser. A challenge the service could not
// solve returns ErrChallengeUnresolved.
func (e *Browser) Fetch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	waitUntil := req.WaitUntil
	if waitUntil == "" {
		waitUntil = e.cfg.NavWaitUntil
	}
	timeoutMS := req.TimeoutMS
	if timeoutMS <= 0 {
		timeoutMS = e.cfg.NavTimeout.Milliseconds()
	}

	resp, err := e.client.Render(ctx, req.APIKeyID, req.JobID, browser.RenderRequest{
		URL:             req.URL,
		Runtime:         string(e.runtime),
		Proxy:           req.Proxy,
		WaitForMS:       req.WaitForMS,
		WaitUntil:       waitUntil,
		TimeoutMS:       timeoutMS,
		Screenshot:      req.Screenshot,
		FullPage:        req.FullPage,
		SolveTimeoutMS:  e.cfg.SolveTimeout.Milliseconds(),
		SolveMaxRetries: e.cfg.SolveMaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", req.URL, err)
	}
	if resp.Status != "ok" || resp.Result == nil {
		return nil, fmt.Errorf("browser render returned status %q: %s", resp.Status, resp.Message)
	}

	rendered := resp.Result
	if rendered.Challenged && !rendered.ChallengeSolved {
		e.logger.Info("challenge unresolved by browser service",
			"url", req.URL, "challenge_type", rendered.ChallengeType)
		return nil, ErrChallengeUnresolved
	}

	result := &Result{
		URL:           rendered.URL,
		StatusCode:    rendered.Status,
		ContentType:   "text/html",
		HTML:          rendered.HTML,
		Headers:       rendered.Headers,
		Title:         rendered.Title,
		Metadata:      make(map[string]string),
		ScreenshotB64: rendered.Screenshot,
		FetchedAt:     time.Now().UTC(),
		Duration:      time.Since(start),
	}
	if result.URL == "" {
		result.URL = req.URL
	}

	// The service returns raw HTML only; parse metadata and links here so
	// both engines produce the same result shape.
	e.extract(result)

	return result, nil
}

func (e *Browser) extract(result *Result) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		e.logger.Warn("failed to parse rendered HTML", "url", result.URL, "error", err)
		return
	}

	if result.Title == "" {
		result.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		key, _ := sel.Attr("name")
		if key == "" {
			key, _ = sel.Attr("property")
		}
		if key == "" {
			return
		}
		if content, ok := sel.Attr("content"); ok && content != "" {
			result.Metadata[key] = content
		}
	})

	base := result.URL
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs := absoluteURL(base, href)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		result.Links = append(result.Links, abs)
	})
}
