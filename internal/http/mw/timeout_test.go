package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTimeoutReturns504OnSlowHandler(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	})

	handler := Timeout(TimeoutConfig{Default: 20 * time.Millisecond})(slow)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/webhooks", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status: got %d, want 504", rec.Code)
	}
}

func TestTimeoutExtendedPattern(t *testing.T) {
	done := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			t.Error("extended timeout cancelled too early")
		case <-time.After(50 * time.Millisecond):
		}
		close(done)
	})

	handler := Timeout(TimeoutConfig{
		Default:          10 * time.Millisecond,
		Extended:         time.Second,
		ExtendedPatterns: []string{"/scrape"},
	})(slow)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scrape", nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never finished")
	}
	if rec.Code == http.StatusGatewayTimeout {
		t.Fatal("extended request timed out")
	}
}

func TestTimeoutSkipPattern(t *testing.T) {
	var hadDeadline bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadDeadline = r.Context().Deadline()
	})

	handler := Timeout(TimeoutConfig{
		Default:      10 * time.Millisecond,
		SkipPatterns: []string{"/stream"},
	})(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/crawl/job-1/stream", nil))

	if hadDeadline {
		t.Fatal("skip pattern request must not carry a deadline")
	}
}
