// Webhook HTTP handler.
//
// POST /webhooks/{id} stores a JSON payload pushed to a webhook data source.
// Endpoints that read from the source see the payload on their next render.
//
// Idempotency:
// When the client supplies an Idempotency-Key and the key was already
// accepted for the source, the original payload ID is returned with 200 and
// `Idempotency-Replayed: true` instead of storing a second copy.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-api-endpoints/internal/http/middleware"
)

// HeaderWebhookSecret carries the shared secret of a webhook source.
const HeaderWebhookSecret = "X-Webhook-Secret"

const defaultWebhookMaxBody = 1 << 20

// IngestWebhook handles POST /webhooks/{id}.
//
// @ID          ingestWebhook
// @Summary     Push a payload to a webhook data source
// @Description Stores a JSON payload for the source. A repeated Idempotency-Key returns the original result with 200.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       id               path    string  true   "Data source ID (UUID)"  format(uuid)
// @Param       X-Webhook-Secret header  string  false  "Shared secret, when the source has one"
// @Param       Idempotency-Key  header  string  false  "Key for safe redelivery"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    object  true   "JSON payload"
//
// @Success     201  {object}  services.WebhookResult  "Stored"
// @Success     200  {object}  services.WebhookResult  "Replayed delivery"
// @Header      200  {string}  Idempotency-Replayed  "true on a replay"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Wrong secret"
// @Failure     404  {object}  handlers.ErrorResponse  "Data source not found"
// @Failure     413  {object}  handlers.ErrorResponse  "Payload too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limit exceeded"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /webhooks/{id} [post]
func (h *Handlers) IngestWebhook(c *gin.Context) {
	sourceID, valid := pathID(c, "id")
	if !valid {
		return
	}

	limit := h.webhookMaxBody
	if limit <= 0 {
		limit = defaultWebhookMaxBody
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "payload exceeds size limit")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "could not read body")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.webhooks.Ingest(c.Request.Context(), sourceID, c.GetHeader(HeaderWebhookSecret), key, body)
	if err != nil {
		failErr(c, err)
		return
	}

	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, res)
		return
	}
	ok(c, http.StatusCreated, res)
}
