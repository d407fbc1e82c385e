package handlers

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/trawlhq/trawl-api/internal/version"
)

// HealthHandler serves the public health endpoint and the orchestration
// probes.
type HealthHandler struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *sql.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient}
}

// HealthData is the public health payload.
type HealthData struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// HealthOutput is the public health response.
type HealthOutput struct {
	Body Envelope[HealthData]
}

// Health reports process liveness with the running version.
func (h *HealthHandler) Health(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: envelope(HealthData{
		Status:  "healthy",
		Version: version.Get().Short(),
	})}, nil
}

// ProbeOutput is the bare probe response. Probes skip the envelope since
// they are read by orchestration, not API clients.
type ProbeOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

func probeOK() *ProbeOutput {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out
}

// Livez reports that the process is running.
func (h *HealthHandler) Livez(ctx context.Context, input *struct{}) (*ProbeOutput, error) {
	return probeOK(), nil
}

// Readyz reports whether the database and Redis are reachable.
func (h *HealthHandler) Readyz(ctx context.Context, input *struct{}) (*ProbeOutput, error) {
	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			return nil, apiError(http.StatusServiceUnavailable, "not_ready", "database unreachable: "+err.Error())
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			return nil, apiError(http.StatusServiceUnavailable, "not_ready", "redis unreachable: "+err.Error())
		}
	}
	return probeOK(), nil
}
