// Admin HTTP handlers.
//
// This file exposes the configuration API, mounted under /admin behind the
// admin JWT middleware:
//   - /admin/endpoints                  (create, list)
//   - /admin/endpoints/{id}             (get, update, delete)
//   - /admin/endpoints/{id}/sources     (attach; detach via /{source_id})
//   - /admin/endpoints/{id}/stats       (access-log aggregates)
//   - /admin/endpoints/{id}/logs        (access log, paginated)
//   - /admin/sources                    (create, list)
//   - /admin/sources/{id}               (get, update, delete)
//   - /admin/cache?pattern=             (invalidate)
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/services"
)

//
// DTOs
//

// AttachSourceRequest links a data source to an endpoint.
type AttachSourceRequest struct {
	DataSourceID string `json:"data_source_id" binding:"required,uuid"`
	// Position orders the sources of an endpoint, ascending.
	Position int `json:"position" binding:"gte=0"`
}

// ListEndpointsResponse wraps a page of endpoints.
type ListEndpointsResponse struct {
	Endpoints  []domain.Endpoint `json:"endpoints"`
	Pagination Pagination        `json:"pagination"`
}

// ListSourcesResponse wraps a page of data sources.
type ListSourcesResponse struct {
	Sources    []domain.DataSource `json:"sources"`
	Pagination Pagination          `json:"pagination"`
}

// ListLogsResponse wraps a page of access-log rows, newest first.
type ListLogsResponse struct {
	Logs       []domain.AccessLog `json:"logs"`
	Pagination Pagination         `json:"pagination"`
}

// InvalidateCacheResponse reports how many cached responses were dropped.
type InvalidateCacheResponse struct {
	Pattern string `json:"pattern"`
	Removed int64  `json:"removed"`
}

//
// Helpers
//

// pathID validates the named path parameter as a UUID.
func pathID(c *gin.Context, name string) (string, bool) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a UUID")
		return "", false
	}
	return id, true
}

// parseSince accepts an RFC 3339 timestamp or a lookback duration ("24h").
// Empty means no lower bound.
func parseSince(raw string, now time.Time) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d).UTC(), true
	}
	return time.Time{}, false
}

//
// Endpoints
//

// CreateEndpoint handles POST /admin/endpoints.
//
// @ID          createEndpoint
// @Summary     Create an endpoint
// @Description Creates a generated endpoint. Sources are linked separately.
// @Tags        Admin Endpoints
// @Accept      json
// @Produce     json
// @Security    AdminBearer
//
// @Param       body  body  services.EndpointInput  true  "Endpoint configuration"
//
// @Success     201  {object}  domain.Endpoint
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     409  {object}  handlers.ErrorResponse  "Slug or name already in use"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints [post]
func (h *Handlers) CreateEndpoint(c *gin.Context) {
	var in services.EndpointInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ep, err := h.admin.Create(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ep)
}

// ListEndpoints handles GET /admin/endpoints.
//
// @ID          listEndpoints
// @Summary     List endpoints (paginated)
// @Tags        Admin Endpoints
// @Produce     json
// @Security    AdminBearer
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListEndpointsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints [get]
func (h *Handlers) ListEndpoints(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.admin.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Endpoint{}
	}
	ok(c, http.StatusOK, ListEndpointsResponse{Endpoints: items, Pagination: newPagination(page, pageSize, total)})
}

// GetEndpoint handles GET /admin/endpoints/{id}, including linked sources.
//
// @ID          getEndpoint
// @Summary     Get an endpoint
// @Description Returns the endpoint with its linked sources in merge order.
// @Tags        Admin Endpoints
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Endpoint
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Endpoint not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id} [get]
func (h *Handlers) GetEndpoint(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	ep, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ep)
}

// UpdateEndpoint handles PUT /admin/endpoints/{id}. The body replaces the
// writable fields; a missing "active" keeps the current value.
//
// @ID          updateEndpoint
// @Summary     Replace an endpoint configuration
// @Description The body replaces the whole configuration. Cached responses of the endpoint are dropped.
// @Tags        Admin Endpoints
// @Accept      json
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
// @Param       body  body  services.EndpointInput  true  "Endpoint configuration"
//
// @Success     200  {object}  domain.Endpoint
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Endpoint not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Slug or name already in use"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id} [put]
func (h *Handlers) UpdateEndpoint(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var in services.EndpointInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ep, err := h.admin.Update(c.Request.Context(), id, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ep)
}

// DeleteEndpoint handles DELETE /admin/endpoints/{id}.
//
// @ID          deleteEndpoint
// @Summary     Delete an endpoint
// @Tags        Admin Endpoints
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Endpoint not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id} [delete]
func (h *Handlers) DeleteEndpoint(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.admin.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// AttachSource handles POST /admin/endpoints/{id}/sources.
//
// @ID          attachSource
// @Summary     Link a data source to an endpoint
// @Description Linking an already linked source moves it to the given position.
// @Tags        Admin Endpoints
// @Accept      json
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
// @Param       body  body  handlers.AttachSourceRequest  true  "Source and merge position"
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Endpoint or data source not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id}/sources [post]
func (h *Handlers) AttachSource(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req AttachSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "data_source_id (UUID) required, position must be >= 0")
		return
	}
	if err := h.admin.AttachSource(c.Request.Context(), id, req.DataSourceID, req.Position); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// DetachSource handles DELETE /admin/endpoints/{id}/sources/{source_id}.
//
// @ID          detachSource
// @Summary     Unlink a data source from an endpoint
// @Tags        Admin Endpoints
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
// @Param       source_id  path  string  true  "Data source ID (UUID)"  format(uuid)
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Link not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id}/sources/{source_id} [delete]
func (h *Handlers) DetachSource(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	sourceID, valid := pathID(c, "source_id")
	if !valid {
		return
	}
	if err := h.admin.DetachSource(c.Request.Context(), id, sourceID); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// EndpointStats handles GET /admin/endpoints/{id}/stats?since=.
//
// @ID          endpointStats
// @Summary     Access statistics for an endpoint
// @Description Totals, cache hits, errors, rate-limited requests, average latency and last access.
// @Tags        Admin Endpoints
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
// @Param       since  query  string  false  "RFC3339 time or duration such as 24h"  example(24h)
//
// @Success     200  {object}  repo.EndpointStats
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Endpoint not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id}/stats [get]
func (h *Handlers) EndpointStats(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	since, valid := parseSince(c.Query("since"), time.Now())
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "since must be RFC 3339 or a positive duration")
		return
	}
	st, err := h.analytics.Stats(c.Request.Context(), id, since)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// EndpointLogs handles GET /admin/endpoints/{id}/logs.
//
// @ID          endpointLogs
// @Summary     Access log of an endpoint (paginated)
// @Description Newest first.
// @Tags        Admin Endpoints
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Endpoint ID (UUID)"  format(uuid)
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListLogsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Endpoint not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/endpoints/{id}/logs [get]
func (h *Handlers) EndpointLogs(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	page, pageSize := clampPagination(c)
	rows, total, err := h.analytics.LogsPage(c.Request.Context(), id, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if rows == nil {
		rows = []domain.AccessLog{}
	}
	ok(c, http.StatusOK, ListLogsResponse{Logs: rows, Pagination: newPagination(page, pageSize, total)})
}

// InvalidateCache handles DELETE /admin/cache?pattern=. An empty pattern
// is rejected so the whole cache is never dropped by accident; use "*".
//
// @ID          invalidateCache
// @Summary     Drop cached responses
// @Description Deletes every cached response whose key matches the glob. Only * is a wildcard; use * to drop everything.
// @Tags        Admin Cache
// @Produce     json
// @Security    AdminBearer
//
// @Param       pattern  query  string  true  "Key glob, e.g. news or news?*"
//
// @Success     200  {object}  handlers.InvalidateCacheResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/cache [delete]
func (h *Handlers) InvalidateCache(c *gin.Context) {
	pattern := strings.TrimSpace(c.Query("pattern"))
	if pattern == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "pattern query parameter required")
		return
	}
	n, err := h.admin.InvalidateCache(c.Request.Context(), pattern)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, InvalidateCacheResponse{Pattern: pattern, Removed: n})
}

//
// Data sources
//

// CreateSource handles POST /admin/sources.
//
// @ID          createSource
// @Summary     Create a data source
// @Tags        Admin Data Sources
// @Accept      json
// @Produce     json
// @Security    AdminBearer
//
// @Param       body  body  services.DataSourceInput  true  "Data source configuration"
//
// @Success     201  {object}  domain.DataSource
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     409  {object}  handlers.ErrorResponse  "Slug or name already in use"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sources [post]
func (h *Handlers) CreateSource(c *gin.Context) {
	var in services.DataSourceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ds, err := h.sources.Create(c.Request.Context(), in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, ds)
}

// ListSources handles GET /admin/sources.
//
// @ID          listSources
// @Summary     List data sources (paginated)
// @Tags        Admin Data Sources
// @Produce     json
// @Security    AdminBearer
//
// @Param       page       query  int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int  false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListSourcesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sources [get]
func (h *Handlers) ListSources(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.sources.ListPage(c.Request.Context(), page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.DataSource{}
	}
	ok(c, http.StatusOK, ListSourcesResponse{Sources: items, Pagination: newPagination(page, pageSize, total)})
}

// GetSource handles GET /admin/sources/{id}.
//
// @ID          getSource
// @Summary     Get a data source
// @Tags        Admin Data Sources
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Data source ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.DataSource
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Data source not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sources/{id} [get]
func (h *Handlers) GetSource(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	ds, err := h.sources.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ds)
}

// UpdateSource handles PUT /admin/sources/{id}.
//
// @ID          updateSource
// @Summary     Replace a data source configuration
// @Description Cached responses of every endpoint using the source are dropped.
// @Tags        Admin Data Sources
// @Accept      json
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Data source ID (UUID)"  format(uuid)
// @Param       body  body  services.DataSourceInput  true  "Data source configuration"
//
// @Success     200  {object}  domain.DataSource
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Data source not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Slug or name already in use"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sources/{id} [put]
func (h *Handlers) UpdateSource(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var in services.DataSourceInput
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ds, err := h.sources.Update(c.Request.Context(), id, in)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ds)
}

// DeleteSource handles DELETE /admin/sources/{id}.
//
// @ID          deleteSource
// @Summary     Delete a data source
// @Tags        Admin Data Sources
// @Produce     json
// @Security    AdminBearer
//
// @Param       id  path  string  true  "Data source ID (UUID)"  format(uuid)
//
// @Success     204  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid admin token"
// @Failure     404  {object}  handlers.ErrorResponse  "Data source not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/sources/{id} [delete]
func (h *Handlers) DeleteSource(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	if err := h.sources.Delete(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
