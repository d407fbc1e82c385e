// Package constants defines centralized limits, timeouts, and user-facing
// messages. Change values here to update behavior across the entire
// application.
package constants

import "time"

// Stale execution cleanup ages. The reconciliation loop fails any execution
// that crosses one of these thresholds.
const (
	// StalePendingAge fails a pending execution that no worker ever started.
	StalePendingAge = 5 * time.Minute

	// StalePendingStartedAge fails a pending execution whose worker marked a
	// start time and then crashed before transitioning it to running.
	StalePendingStartedAge = 5 * time.Minute

	// StaleRunningNoStartAge fails a running execution with no recorded
	// start time.
	StaleRunningNoStartAge = 10 * time.Minute

	// MaxScrapeRuntime is the runtime ceiling for scrape executions.
	MaxScrapeRuntime = 30 * time.Minute

	// MaxSearchRuntime is the runtime ceiling for search executions.
	MaxSearchRuntime = 60 * time.Minute

	// MaxMapRuntime is the runtime ceiling for map executions.
	MaxMapRuntime = 30 * time.Minute

	// CrawlInactivityAge fails a crawl whose job has not been touched in this
	// long. Crawls have no fixed runtime ceiling; a healthy crawl keeps its
	// job's updated_at fresh as pages complete.
	CrawlInactivityAge = 60 * time.Minute
)

// Execution failure codes recorded by the reconciliation loop.
const (
	FailureStalePendingTimeout = "STALE_PENDING_TIMEOUT"
	FailureStalePendingStarted = "STALE_PENDING_STARTED"
	FailureExecutionTimeout    = "EXECUTION_TIMEOUT"

	// FailureChallengeUnresolved marks a job stuck behind a bot-protection
	// challenge no engine could get past.
	FailureChallengeUnresolved = "CHALLENGE_UNRESOLVED"
)

// Timeout reasons attached to EXECUTION_TIMEOUT failures.
const (
	TimeoutReasonMaxRuntime      = "max_runtime_exceeded"
	TimeoutReasonCrawlInactivity = "crawl_inactivity"
	TimeoutReasonNeverStarted    = "never_started"
)

// MaxExecutionRuntime returns the runtime ceiling for a running execution of
// the given task type. Crawls return 0: they are bounded by
// CrawlInactivityAge rather than total runtime. Unknown types get scrape
// semantics, which covers template executions whose job row is missing.
func MaxExecutionRuntime(taskType string) time.Duration {
	switch taskType {
	case "search":
		return MaxSearchRuntime
	case "map":
		return MaxMapRuntime
	case "crawl":
		return 0
	default:
		return MaxScrapeRuntime
	}
}

// Scheduler behavior.
const (
	// ConsecutiveFailureLimit is how many executions may fail in a row before
	// the scheduler pauses the task.
	ConsecutiveFailureLimit = 5
)

// Queue retry backoff.
const (
	// BackoffMultiplier is the factor by which the retry delay grows after
	// each failed attempt.
	BackoffMultiplier = 2.0

	// MaxBackoff caps the exponential growth of retry delays.
	MaxBackoff = 5 * time.Minute
)

// CalculateBackoff returns the delay before retry number attempt (0-based),
// growing exponentially from base and capped at MaxBackoff.
func CalculateBackoff(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 2 * time.Second
	}
	if attempt < 0 {
		return base
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * BackoffMultiplier)
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}

// Crawling behavior.
const (
	// DefaultCrawlDelay is the minimum delay between requests to the same
	// domain.
	DefaultCrawlDelay = 200 * time.Millisecond

	// MaxSitemapURLs limits how many URLs to process from a sitemap to
	// prevent runaway crawls on very large sitemaps.
	MaxSitemapURLs = 1000

	// SitemapFetchTimeout is the timeout for fetching and parsing sitemap.xml.
	SitemapFetchTimeout = 30 * time.Second

	// PendingFinalizeThreshold is the fraction of a crawl's page limit at
	// which the job is enrolled in the finalize-check set, so the sweeper
	// closes crawls whose last pages never report back.
	PendingFinalizeThreshold = 0.9
)

// Global rate limiting defaults.
const (
	// GlobalIPRateLimitPerMinute is the fallback rate limit for
	// unauthenticated requests.
	GlobalIPRateLimitPerMinute = 100
	// GlobalConcurrencyLimit is the max concurrent requests the server will
	// handle.
	GlobalConcurrencyLimit = 100
	// MaxRequestBodySize is the max request body size in bytes (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024
)

// HTTP request timeouts.
const (
	// DefaultRequestTimeout bounds ordinary API requests.
	DefaultRequestTimeout = 30 * time.Second

	// SyncRequestTimeout bounds synchronous extraction requests, which block
	// on origin fetches.
	SyncRequestTimeout = 120 * time.Second
)

// HTTP response caching.
const (
	// CacheMaxAgeShort is for rapidly changing data (health checks, etc.)
	CacheMaxAgeShort = 30 * time.Second
	// CacheMaxAgeImmutable is for immutable data (completed job results).
	CacheMaxAgeImmutable = 24 * time.Hour
)

// ErrorCategory classifies fetch failures for retry decisions.
type ErrorCategory string

const (
	// ErrorCategoryRateLimit indicates the origin returned 429.
	ErrorCategoryRateLimit ErrorCategory = "rate_limit"

	// ErrorCategoryBlocked indicates the origin refused the request (401/403,
	// usually bot protection). Retrying with the same engine will not help.
	ErrorCategoryBlocked ErrorCategory = "blocked"

	// ErrorCategoryTimeout indicates navigation or response timeout.
	ErrorCategoryTimeout ErrorCategory = "timeout"

	// ErrorCategoryNetwork indicates DNS or connection-level failure.
	ErrorCategoryNetwork ErrorCategory = "network"

	// ErrorCategoryNotFound indicates the page does not exist (404/410).
	ErrorCategoryNotFound ErrorCategory = "not_found"

	// ErrorCategoryHTTPError indicates any other client error status.
	ErrorCategoryHTTPError ErrorCategory = "http_error"

	// ErrorCategoryUpstream indicates an origin server error (5xx).
	ErrorCategoryUpstream ErrorCategory = "upstream_error"

	// ErrorCategoryCancelled indicates the request context was cancelled.
	ErrorCategoryCancelled ErrorCategory = "cancelled"

	// ErrorCategoryUnknown indicates an unclassified error.
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// IsRetryableCategory returns true if a fetch with this error category is
// worth retrying after backoff.
func IsRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryRateLimit, ErrorCategoryTimeout, ErrorCategoryNetwork, ErrorCategoryUpstream:
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps an upstream HTTP status to an error category.
// Successful statuses (and redirects) return the empty category. Status 0
// means the request never produced a response.
func ClassifyHTTPStatus(status int) ErrorCategory {
	switch {
	case status == 0:
		return ErrorCategoryNetwork
	case status < 400:
		return ""
	case status == 404 || status == 410:
		return ErrorCategoryNotFound
	case status == 408:
		return ErrorCategoryTimeout
	case status == 429:
		return ErrorCategoryRateLimit
	case status == 401 || status == 403:
		return ErrorCategoryBlocked
	case status >= 500:
		return ErrorCategoryUpstream
	default:
		return ErrorCategoryHTTPError
	}
}
