// Package handlers provides HTTP handler implementations for the public
// endpoint API, the admin API and webhook ingestion.
//
// This file defines the standard response utilities used across all routes:
// the error envelope, success helpers, pagination metadata and the mapping
// from service errors to HTTP statuses.
//
// Conventions:
//   - All error responses return an ErrorResponse with a stable `code`.
//   - `fail()` centralizes error logging and formatting, ensuring 5xx responses
//     are logged with request context.
//   - `failErr()` translates service errors so handlers never switch on them.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "endpoint not found"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-api-endpoints/internal/http/middleware"
	"github.com/tbourn/go-api-endpoints/internal/services"
	"github.com/tbourn/go-api-endpoints/internal/utils"
)

// ErrorResponse is the standard error envelope returned by all routes.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code"`
	// Human-readable message (safe to show to users)
	Message string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>=500)
// are logged using the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail(), used by the router for fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr maps a service error to its status and code. Headers carried by
// auth and rate-limit errors are written before the body. Unknown errors
// become a generic 500 so internals never reach the client; the cause is
// kept on the gin context for the access log.
func failErr(c *gin.Context, err error) {
	var (
		authErr *services.AuthError
		rlErr   *services.RateLimitError
		valErr  *services.ValidationError
	)
	switch {
	case errors.As(err, &rlErr):
		for k, v := range rlErr.Headers {
			c.Header(k, v)
		}
		fail(c, http.StatusTooManyRequests, ErrCodeRateLimited, rlErr.Error())
	case errors.As(err, &authErr):
		if authErr.Challenge != "" {
			c.Header("WWW-Authenticate", authErr.Challenge)
		}
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	case errors.Is(err, services.ErrEndpointNotFound),
		errors.Is(err, services.ErrDataSourceNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.As(err, &valErr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, valErr.Error())
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrWebhookForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, "invalid webhook secret")
	case errors.Is(err, services.ErrNotWebhookSource),
		errors.Is(err, services.ErrEmptyPayload):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUnsupportedFormat):
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

// clampPagination parses and bounds the page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
