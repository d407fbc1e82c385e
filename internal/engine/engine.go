// Package engine fetches pages. Two engines exist: a static HTTP engine for
// plain HTML and a browser engine that proxies to the render service for
// JavaScript-heavy sites and anti-bot challenges.
package engine

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrChallengeUnresolved is returned when a page sits behind a bot-protection
// challenge the engine could not get past. Jobs surface it as the
// CHALLENGE_UNRESOLVED failure code.
var ErrChallengeUnresolved = errors.New("anti-bot challenge could not be resolved")

// Request describes a single page fetch.
type Request struct {
	URL        string
	Proxy      string
	WaitForMS  int64
	WaitUntil  string
	TimeoutMS  int64
	Screenshot bool
	FullPage   bool

	// APIKeyID and JobID identify the caller to the browser service; the
	// static engine ignores them.
	APIKeyID string
	JobID    string
}

// Result is a fetched page before any format transformation.
type Result struct {
	URL           string // final URL after redirects
	StatusCode    int
	ContentType   string
	HTML          string
	Headers       map[string]string
	Title         string
	Metadata      map[string]string // meta name/property -> content
	Links         []string          // absolute, deduped, document order
	ScreenshotB64 string
	FetchedAt     time.Time
	Duration      time.Duration
}

// Engine fetches a page.
type Engine interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// absoluteURL resolves href against base. Returns "" for unparseable or
// non-HTTP results.
func absoluteURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := b.ResolveReference(h)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
