// Package browser provides a client for the browser render service. The
// service runs headless Playwright/Puppeteer instances and solves anti-bot
// challenges; the API only ever talks to it over this signed HTTP surface.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client communicates with the browser render service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// ClientConfig holds configuration for the browser client.
type ClientConfig struct {
	BaseURL string
	Secret  []byte
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewClient creates a new browser service client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signer: NewSigner(cfg.Secret),
		logger: logger,
	}
}

// RenderRequest asks the service to load a page and return its rendered
// content.
type RenderRequest struct {
	URL             string `json:"url"`
	Runtime         string `json:"runtime"` // "playwright" or "puppeteer"
	Proxy           string `json:"proxy,omitempty"`
	WaitForMS       int64  `json:"waitForMs,omitempty"`
	WaitUntil       string `json:"waitUntil,omitempty"`
	TimeoutMS       int64  `json:"timeoutMs,omitempty"`
	Screenshot      bool   `json:"screenshot,omitempty"`
	FullPage        bool   `json:"fullPage,omitempty"`
	SolveTimeoutMS  int64  `json:"solveTimeoutMs,omitempty"`
	SolveMaxRetries int    `json:"solveMaxRetries,omitempty"`
}

// RenderResult is the rendered page.
type RenderResult struct {
	URL              string            `json:"url"`
	Status           int               `json:"status"`
	Headers          map[string]string `json:"headers,omitempty"`
	HTML             string            `json:"html"`
	Title            string            `json:"title,omitempty"`
	Screenshot       string            `json:"screenshot,omitempty"` // base64 PNG
	Challenged       bool              `json:"challenged"`
	ChallengeSolved  bool              `json:"challengeSolved"`
	ChallengeType    string            `json:"challengeType,omitempty"`
}

// RenderResponse is the service envelope.
type RenderResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Result  *RenderResult `json:"result,omitempty"`
}

// HealthResponse is the response from the service health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Health checks the browser service health and returns version info.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}

// Render loads a page in a real browser. keyID identifies the owning API key
// and jobID the job on whose behalf the render runs; both are bound into the
// request signature.
func (c *Client) Render(ctx context.Context, keyID, jobID string, req RenderRequest) (*RenderResponse, error) {
	startTime := time.Now()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	sig := c.signer.Sign(keyID, jobID, body)
	httpReq.Header.Set("X-Trawl-Signature", sig.Signature)
	httpReq.Header.Set("X-Trawl-Timestamp", sig.Timestamp)
	httpReq.Header.Set("X-Trawl-Key-ID", sig.KeyID)
	httpReq.Header.Set("X-Trawl-Job-ID", sig.JobID)

	c.logger.Info("browser render request",
		"url", req.URL,
		"runtime", req.Runtime,
		"job_id", jobID,
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("browser render request failed",
			"url", req.URL,
			"job_id", jobID,
			"error", err,
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	durationMs := time.Since(startTime).Milliseconds()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("browser service error",
			"url", req.URL,
			"job_id", jobID,
			"status_code", resp.StatusCode,
			"duration_ms", durationMs,
		)
		return nil, fmt.Errorf("browser service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var renderResp RenderResponse
	if err := json.Unmarshal(respBody, &renderResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.logger.Info("browser render response",
		"url", req.URL,
		"job_id", jobID,
		"status", renderResp.Status,
		"duration_ms", durationMs,
	)

	return &renderResp, nil
}
