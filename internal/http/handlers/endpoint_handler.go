// Public endpoint handler.
//
// This file exposes the generated endpoints:
//   - GET  /api-endpoints/{slug}   (render or replay from cache)
//   - HEAD /api-endpoints/{slug}   (same headers, no body)
//
// The same handler is mounted under the configured alias (default /api).
// Query parameters are passed through to the data sources, minus
// credentials (see params.SecretParams and the endpoint's api_key parameter).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-api-endpoints/internal/services"
)

// ServeEndpoint renders the endpoint named by the :slug path parameter.
//
// Errors use the standard envelope: 404 for an unknown or inactive slug,
// 401 with a WWW-Authenticate challenge, 429 with X-RateLimit-* and
// Retry-After headers, and 500 for generation failures.
//
// @ID          serveEndpoint
// @Summary     Render a generated endpoint
// @Description Fetches, transforms and renders the endpoint's sources in its output format, or replays a cached response.
// @Description Also mounted under the configured alias (default /api). HEAD returns the same headers without a body.
// @Tags        Endpoints
// @Produce     json,application/rss+xml,application/xml,text/csv
//
// @Param       slug           path    string  true   "Endpoint slug"  example(news)
// @Param       Authorization  header  string  false  "Bearer token or Basic credentials, when the endpoint requires them"
// @Param       X-API-Key      header  string  false  "API key, when the endpoint requires one"
//
// @Success     200  {string}  string  "Rendered body"
// @Header      200  {string}  X-Cache        "HIT or MISS"
// @Header      200  {string}  Cache-Control  "public, max-age=N or no-cache"
// @Header      200  {string}  X-RateLimit-Remaining  "Requests left in the window, when limited"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid credentials"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown or inactive endpoint"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /api-endpoints/{slug} [get]
func (h *Handlers) ServeEndpoint(c *gin.Context) {
	req := services.Request{
		Slug:      c.Param("slug"),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Query:     c.Request.URL.Query(),
		Header:    c.Request.Header,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	resp, err := h.endpoints.Serve(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}

	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", resp.ContentType)
		c.Header("Content-Length", strconv.Itoa(len(resp.Body)))
		c.Status(status)
		return
	}
	c.Data(status, resp.ContentType, resp.Body)
}
