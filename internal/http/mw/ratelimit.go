package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/trawlhq/trawl-api/internal/constants"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// TierLimits maps tier names to their requests per minute limit.
	// A value of 0 means unlimited.
	TierLimits map[string]int
	// IPRequestsPerMinute is the fallback limit by IP for unauthenticated
	// requests and unknown tiers.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns defaults from the constants package.
func DefaultRateLimitConfig() RateLimitConfig {
	tierLimits := make(map[string]int)
	for _, tier := range []string{constants.TierFree, constants.TierStarter, constants.TierPro, constants.TierEnterprise} {
		tierLimits[tier] = constants.GetTierLimits(tier).RequestsPerMinute
	}
	return RateLimitConfig{
		TierLimits:          tierLimits,
		IPRequestsPerMinute: constants.GlobalIPRateLimitPerMinute,
	}
}

// RateLimitByClaims returns a middleware that rate limits by API key using
// the key's tier allowance. Requests without claims in context fall back to
// IP-based limiting.
func RateLimitByClaims(cfg RateLimitConfig) func(http.Handler) http.Handler {
	tierLimiters := make(map[string]*httprate.RateLimiter)
	for tier, limit := range cfg.TierLimits {
		if limit > 0 {
			tierLimiters[tier] = httprate.NewRateLimiter(
				limit,
				time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					claims := GetClaims(r.Context())
					if claims == nil || claims.APIKeyID == "" {
						return httprate.KeyByIP(r)
					}
					return "key:" + claims.APIKeyID, nil
				}),
			)
		}
	}

	fallbackLimiter := httprate.NewRateLimiter(
		cfg.IPRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := constants.TierFree
			if claims := GetClaims(r.Context()); claims != nil && claims.Tier != "" {
				tier = claims.Tier
			}
			tier = constants.NormalizeTierName(tier)

			if limit, ok := cfg.TierLimits[tier]; ok && limit == 0 {
				next.ServeHTTP(w, r)
				return
			}

			limiter, ok := tierLimiters[tier]
			if !ok {
				limiter = fallbackLimiter
			}
			limiter.Handler(next).ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitGlobal returns a middleware that applies a single shared limit
// across all clients to protect the service itself.
func RateLimitGlobal(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "global", nil
		}),
	)
}
