package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/trawlhq/trawl-api/internal/models"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Static is the cheerio engine: a plain HTTP fetch with HTML parsing and no
// JavaScript execution.
type Static struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewStatic creates the static engine. timeout bounds each fetch; zero means
// 30 seconds.
func NewStatic(timeout time.Duration, logger *slog.Logger) *Static {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{timeout: timeout, logger: logger}
}

func (e *Static) Name() string {
	return string(models.EngineCheerio)
}

// Fetch loads the page and extracts title, meta tags, and absolute links. A
// response that looks like a bot-protection interstitial returns
// ErrChallengeUnresolved alongside the partial result.
func (e *Static) Fetch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	result := &Result{
		URL:      req.URL,
		Metadata: make(map[string]string),
		Headers:  make(map[string]string),
	}

	c := colly.NewCollector(
		colly.UserAgent(defaultUserAgent),
		colly.AllowURLRevisit(),
	)

	timeout := e.timeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	c.SetRequestTimeout(timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		select {
		case <-ctx.Done():
			r.Abort()
		default:
		}
	})

	c.OnResponse(func(r *colly.Response) {
		result.URL = r.Request.URL.String()
		result.StatusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		result.HTML = string(r.Body)
		if r.Headers != nil {
			for name := range *r.Headers {
				result.Headers[name] = r.Headers.Get(name)
			}
		}
	})

	c.OnHTML("title", func(el *colly.HTMLElement) {
		if result.Title == "" {
			result.Title = strings.TrimSpace(el.Text)
		}
	})

	c.OnHTML("meta", func(el *colly.HTMLElement) {
		key := el.Attr("name")
		if key == "" {
			key = el.Attr("property")
		}
		if key == "" {
			return
		}
		if content := el.Attr("content"); content != "" {
			result.Metadata[key] = content
		}
	})

	seen := make(map[string]struct{})
	c.OnHTML("a[href]", func(el *colly.HTMLElement) {
		href := el.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		abs := el.Request.AbsoluteURL(href)
		if abs == "" {
			return
		}
		if _, ok := seen[abs]; ok {
			return
		}
		seen[abs] = struct{}{}
		result.Links = append(result.Links, abs)
	})

	var fetchErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// Non-2xx is still a result; the caller decides what to do
			// with the status.
			result.URL = r.Request.URL.String()
			result.StatusCode = r.StatusCode
			result.HTML = string(r.Body)
			return
		}
		fetchErr = err
	})

	if err := c.Visit(req.URL); err != nil && fetchErr == nil && result.StatusCode == 0 {
		fetchErr = err
	}
	c.Wait()

	result.FetchedAt = time.Now().UTC()
	result.Duration = time.Since(start)

	if fetchErr != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", req.URL, fetchErr)
	}

	if IsChallengePage(result.StatusCode, result.HTML) {
		e.logger.Info("challenge page detected",
			"url", req.URL, "status", result.StatusCode)
		return result, ErrChallengeUnresolved
	}

	if req.Screenshot {
		// Screenshots need a real browser.
		e.logger.Debug("screenshot requested on static engine, skipping", "url", req.URL)
	}

	return result, nil
}
