package browser

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientRenderSignsRequest(t *testing.T) {
	secret := []byte("shared-secret")
	verifier := NewSigner(secret)

	var gotRequest RenderRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		if !verifier.Verify(
			r.Header.Get("X-Trawl-Signature"),
			r.Header.Get("X-Trawl-Timestamp"),
			r.Header.Get("X-Trawl-Key-ID"),
			r.Header.Get("X-Trawl-Job-ID"),
			body,
		) {
			t.Error("request signature does not verify")
		}
		if r.Header.Get("X-Trawl-Key-ID") != "key-1" || r.Header.Get("X-Trawl-Job-ID") != "job-1" {
			t.Errorf("identity headers: key=%q job=%q",
				r.Header.Get("X-Trawl-Key-ID"), r.Header.Get("X-Trawl-Job-ID"))
		}
		_ = json.Unmarshal(body, &gotRequest)

		_ = json.NewEncoder(w).Encode(RenderResponse{
			Status: "ok",
			Result: &RenderResult{
				URL:    gotRequest.URL,
				Status: 200,
				HTML:   "<html><body>rendered</body></html>",
				Title:  "Rendered",
			},
		})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Secret: secret})

	resp, err := client.Render(context.Background(), "key-1", "job-1", RenderRequest{
		URL:     "https://example.com",
		Runtime: "playwright",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if resp.Status != "ok" || resp.Result == nil {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Result.HTML == "" || resp.Result.Status != 200 {
		t.Errorf("result: %+v", resp.Result)
	}
	if gotRequest.Runtime != "playwright" {
		t.Errorf("runtime: got %q", gotRequest.Runtime)
	}
}

func TestClientRenderServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Secret: []byte("key")})

	_, err := client.Render(context.Background(), "key-1", "job-1", RenderRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
