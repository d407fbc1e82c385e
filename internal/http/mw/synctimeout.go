package mw

import (
	"net/http"
	"strings"
	"time"

	"github.com/trawlhq/trawl-api/internal/constants"
)

// ExtendWriteDeadlineForSyncRequests extends the HTTP write deadline for
// synchronous extraction endpoints, which block on origin fetches and may
// legitimately outlive the server's default WriteTimeout.
func ExtendWriteDeadlineForSyncRequests(patterns ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, pattern := range patterns {
				if strings.Contains(r.URL.Path, pattern) {
					rc := http.NewResponseController(w)
					deadline := time.Now().Add(constants.SyncRequestTimeout + 30*time.Second)
					// Some proxies don't support extending the deadline; the
					// request may then time out early.
					_ = rc.SetWriteDeadline(deadline)
					break
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
