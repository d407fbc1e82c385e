package mw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/trawlhq/trawl-api/internal/constants"
)

// CachePolicy defines caching behavior for a route pattern.
type CachePolicy struct {
	// Pattern is the route pattern to match (prefix match by default).
	Pattern string
	// CacheControl is the Cache-Control header value to set.
	CacheControl string
}

// CacheConfig holds the cache middleware configuration.
type CacheConfig struct {
	// Policies are the cache policies to apply, matched in order.
	Policies []CachePolicy
	// DefaultPolicy is applied when no policy matches (empty = no header set).
	DefaultPolicy string
}

// DefaultCacheConfig returns cache defaults for the API. The health endpoint
// is CDN cacheable, probes are never cached, everything else is private.
func DefaultCacheConfig() CacheConfig {
	shortSecs := int(constants.CacheMaxAgeShort.Seconds())

	return CacheConfig{
		DefaultPolicy: "private, no-cache",
		Policies: []CachePolicy{
			{Pattern: "/v1/health", CacheControl: fmt.Sprintf("public, max-age=%d", shortSecs)},

			// K8s probes must reflect real-time state.
			{Pattern: "/healthz", CacheControl: "no-store"},
			{Pattern: "/readyz", CacheControl: "no-store"},

			// Job status and results change while a crawl runs.
			{Pattern: "/v1/crawl", CacheControl: "private, no-cache"},
			{Pattern: "/v1/scheduled-tasks", CacheControl: "private, no-cache"},
		},
	}
}

// Cache returns middleware that sets Cache-Control headers based on route
// patterns. Non-GET/HEAD requests always get "no-store".
func Cache(cfg CacheConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Cache-Control", "no-store")
				next.ServeHTTP(w, r)
				return
			}

			path := r.URL.Path
			for _, policy := range cfg.Policies {
				if matchesPattern(path, policy.Pattern) {
					w.Header().Set("Cache-Control", policy.CacheControl)
					next.ServeHTTP(w, r)
					return
				}
			}

			if cfg.DefaultPolicy != "" {
				w.Header().Set("Cache-Control", cfg.DefaultPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchesPattern checks if the path matches the pattern by exact, prefix, or
// substring match.
func matchesPattern(path, pattern string) bool {
	if path == pattern || strings.HasPrefix(path, pattern) {
		return true
	}
	return strings.Contains(path, pattern)
}
