package mw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/trawlhq/trawl-api/internal/constants"
)

// JobCounter counts a key's in-flight jobs for the concurrency gate.
type JobCounter interface {
	CountActiveByAPIKeyID(ctx context.Context, apiKeyID string) (int, error)
}

// RequireConcurrentJobLimit returns middleware that rejects new work when the
// key already has its tier's maximum of pending and running jobs. Applied to
// job-creating endpoints only; reads and management routes are not gated.
func RequireConcurrentJobLimit(jobs JobCounter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				http.Error(w, `{"success":false,"error":"unauthorized","message":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			limits := constants.GetTierLimits(claims.Tier)
			if limits.MaxConcurrentJobs == 0 {
				next.ServeHTTP(w, r)
				return
			}

			active, err := jobs.CountActiveByAPIKeyID(r.Context(), claims.APIKeyID)
			if err != nil {
				http.Error(w, `{"success":false,"error":"internal_error","message":"failed to check job limit"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("X-Concurrent-Limit", fmt.Sprintf("%d", limits.MaxConcurrentJobs))
			w.Header().Set("X-Concurrent-Active", fmt.Sprintf("%d", active))

			if active >= limits.MaxConcurrentJobs {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   "concurrent_job_limit_exceeded",
					"message": constants.ConcurrentJobLimitMessage(claims.Tier),
					"details": map[string]any{
						"tier":   claims.Tier,
						"limit":  limits.MaxConcurrentJobs,
						"active": active,
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
