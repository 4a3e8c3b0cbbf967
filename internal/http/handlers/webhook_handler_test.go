package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-api-endpoints/internal/http/middleware"
	"github.com/tbourn/go-api-endpoints/internal/services"
)

type stubWebhooks struct {
	secret, key string
	body        []byte
	replayed    bool
	err         error
}

func (s *stubWebhooks) Ingest(_ context.Context, _, secret, key string, body []byte) (*services.WebhookResult, error) {
	s.secret, s.key, s.body = secret, key, body
	if s.err != nil {
		return nil, s.err
	}
	return &services.WebhookResult{PayloadID: "p-1", Replayed: s.replayed}, nil
}

func newWebhookRouter(wh Webhooks, maxBody int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(Services{Webhooks: wh, WebhookMaxBody: maxBody})
	r := gin.New()
	r.POST("/webhooks/:id",
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil),
		h.IngestWebhook,
	)
	return r
}

func TestIngestWebhook_CreatedAndReplay(t *testing.T) {
	wh := &stubWebhooks{}
	r := newWebhookRouter(wh, 0)
	path := "/webhooks/" + uuid.NewString()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"event":"push"}`))
	req.Header.Set(HeaderWebhookSecret, "s3cret")
	req.Header.Set(middleware.HeaderIdempotencyKey, "delivery-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("ingest -> %d %s", w.Code, w.Body.String())
	}
	if wh.secret != "s3cret" || wh.key != "delivery-1" || string(wh.body) != `{"event":"push"}` {
		t.Fatalf("ingest args: %q %q %q", wh.secret, wh.key, wh.body)
	}
	if !strings.Contains(w.Body.String(), `"payload_id":"p-1"`) {
		t.Fatalf("body = %s", w.Body.String())
	}

	wh.replayed = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"event":"push"}`)))
	if w.Code != http.StatusOK || w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay -> %d %v", w.Code, w.Header())
	}
}

func TestIngestWebhook_Errors(t *testing.T) {
	path := "/webhooks/" + uuid.NewString()

	// invalid id
	r := newWebhookRouter(&stubWebhooks{}, 0)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id -> %d", w.Code)
	}

	// oversized body
	r = newWebhookRouter(&stubWebhooks{}, 8)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"too":"large"}`)))
	if w.Code != http.StatusRequestEntityTooLarge || decodeError(t, w).Code != ErrCodePayloadTooLarge {
		t.Fatalf("oversized -> %d %s", w.Code, w.Body.String())
	}

	cases := map[error]int{
		services.ErrWebhookForbidden:   http.StatusForbidden,
		services.ErrDataSourceNotFound: http.StatusNotFound,
		services.ErrNotWebhookSource:   http.StatusBadRequest,
		services.ErrEmptyPayload:       http.StatusBadRequest,
	}
	for err, status := range cases {
		r = newWebhookRouter(&stubWebhooks{err: err}, 0)
		w = httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`)))
		if w.Code != status {
			t.Fatalf("%v -> %d want %d", err, w.Code, status)
		}
	}

	// invalid idempotency key is rejected before the handler
	wh := &stubWebhooks{}
	r = newWebhookRouter(wh, 0)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
	req.Header.Set(middleware.HeaderIdempotencyKey, "bad key!")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest || wh.body != nil {
		t.Fatalf("bad key -> %d (handler ran: %v)", w.Code, wh.body != nil)
	}
}
