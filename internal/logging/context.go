package logging

import (
	"context"
	"log/slog"
)

// ContextKey is a type for context keys used in logging.
type ContextKey string

const (
	// JobIDKey is the context key for job ID.
	JobIDKey ContextKey = "log_job_id"
	// UserIDKey is the context key for user ID (for filter matching only - NOT logged due to PII).
	UserIDKey ContextKey = "log_user_id"
)

// WithJobID adds a job ID to the context for logging.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithUserID adds a user ID to the context for logging.
// Note: userID is used for filter matching only - NOT logged due to PII concerns.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetJobID extracts the job ID from context.
func GetJobID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(JobIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FromContext returns a logger with the job ID from context added as an attribute.
// Note: userID is NOT included in logs (PII) - only used for filter matching.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}

	if jobID := GetJobID(ctx); jobID != "" {
		return logger.With("job_id", jobID)
	}

	return logger
}
