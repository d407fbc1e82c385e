// Package handlers contains the huma HTTP handlers for the API. Every 2xx
// body is wrapped in the success envelope; errors share the same shape with
// success=false and a short machine-readable code.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/trawlhq/trawl-api/internal/http/mw"
	"github.com/trawlhq/trawl-api/internal/service"
)

// Envelope wraps every successful response body.
type Envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

func envelope[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data}
}

// Error is the envelope-shaped error body. It implements huma.StatusError so
// handlers return it directly.
type Error struct {
	status  int
	Success bool           `json:"success"`
	Code    string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string { return e.Message }

func (e *Error) GetStatus() int { return e.status }

// ContentType keeps error bodies as plain JSON instead of problem+json.
func (e *Error) ContentType(string) string { return "application/json" }

func apiError(status int, code, message string) *Error {
	return &Error{status: status, Success: false, Code: code, Message: message}
}

func init() {
	// Errors generated inside huma (request validation, unknown routes) use
	// the same envelope as handler errors.
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		apiErr := apiError(status, codeForStatus(status), message)
		var issues []string
		for _, err := range errs {
			if err != nil {
				issues = append(issues, err.Error())
			}
		}
		if len(issues) > 0 {
			apiErr.Details = map[string]any{"errors": issues}
		}
		return apiErr
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPaymentRequired:
		return "payment_required"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func errBadRequest(message string) *Error {
	return apiError(http.StatusBadRequest, "bad_request", message)
}

func errUnauthorized() *Error {
	return apiError(http.StatusUnauthorized, "unauthorized", "authentication required")
}

func errNotFound(resource string) *Error {
	return apiError(http.StatusNotFound, "not_found", resource+" not found")
}

func errConflict(message string) *Error {
	return apiError(http.StatusConflict, "conflict", message)
}

func errInternal(action string, err error) *Error {
	return apiError(http.StatusInternalServerError, "internal_error", "failed to "+action+": "+err.Error())
}

// mapServiceError converts the typed service errors into their envelope
// forms. Returns nil for errors without a dedicated mapping.
func mapServiceError(err error) *Error {
	var credits *service.InsufficientCreditsError
	if errors.As(err, &credits) {
		apiErr := apiError(http.StatusPaymentRequired, "insufficient_credits", err.Error())
		apiErr.Details = map[string]any{"current_credits": credits.CurrentCredits}
		return apiErr
	}

	var taskLimit *service.TaskLimitError
	if errors.As(err, &taskLimit) {
		apiErr := apiError(http.StatusForbidden, "task_limit_exceeded", err.Error())
		apiErr.Details = map[string]any{
			"tier":  taskLimit.Tier,
			"limit": taskLimit.Limit,
			"count": taskLimit.Count,
		}
		return apiErr
	}

	if errors.Is(err, service.ErrSearchProviderNotConfigured) {
		return apiError(http.StatusInternalServerError, "search_provider_not_configured", err.Error())
	}

	return nil
}

// errFromService maps a service error to a response. Service validation
// errors are plain; infrastructure errors carry a failed-to prefix.
func errFromService(err error, action string) *Error {
	if apiErr := mapServiceError(err); apiErr != nil {
		return apiErr
	}
	if strings.Contains(err.Error(), "failed to") {
		return errInternal(action, err)
	}
	return errBadRequest(err.Error())
}

// ownerClaims extracts the authenticated owner from the request context.
func ownerClaims(ctx context.Context) (*service.Claims, *Error) {
	claims := mw.GetClaims(ctx)
	if claims == nil {
		return nil, errUnauthorized()
	}
	return claims, nil
}

// checkTarget rejects requests whose target URL is on the blocklist or
// points at a private network.
func checkTarget(ctx context.Context, blocklist *mw.URLBlocklist, rawURL string) *Error {
	if blocklist == nil {
		return nil
	}
	if err := blocklist.Check(ctx, rawURL); err != nil {
		return apiError(http.StatusForbidden, "url_blocked", err.Error())
	}
	return nil
}
