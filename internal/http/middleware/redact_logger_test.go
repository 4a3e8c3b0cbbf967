package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedactingLogger_MasksCredentialsAndPII(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID())
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-API-Key", "X-Webhook-Secret"}}))
	r.GET("/api-endpoints/:slug", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	q := "api_key=k-123&email=a.b@example.com&phone=555-123-4567&id=123e4567-e89b-12d3-a456-426614174000&page=2"
	req := httptest.NewRequest(http.MethodGet, "/api-endpoints/news?"+q, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-API-Key", "shhh")
	req.Header.Set("X-Webhook-Secret", "hook")
	req.Header.Set("X-Custom", "email a@b.com id=123e4567-e89b-12d3-a456-426614174000 phone 555-123-4567")
	req.Header.Set(requestIDHeader, "rid-1")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	for _, want := range []string{
		`"level":"info"`,
		`"message":"http_request"`,
		`"path":"/api-endpoints/:slug"`,
		`"request_id":"rid-1"`,
		`api_key=[REDACTED]`,
		`email=[REDACTED:email]`,
		`id=[REDACTED:id]`,
		`page=2`,
		`"Authorization":"[REDACTED]"`,
		`"X-Api-Key":"[REDACTED]"`,
		`"X-Webhook-Secret":"[REDACTED]"`,
		`"X-Custom":"email [REDACTED:email] id=[REDACTED:id] phone [REDACTED:phone]"`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("expected %s in log, got: %s", want, logs)
		}
	}
	for _, leaked := range []string{"k-123", "shhh", "Bearer secret", "a.b@example.com"} {
		if strings.Contains(logs, leaked) {
			t.Fatalf("%q leaked into log: %s", leaked, logs)
		}
	}
}

func TestRedactingLogger_LevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) {
		_ = c.Error(errBoom{})
		c.Status(http.StatusInternalServerError)
	})

	for _, p := range []string{"/warn", "/error", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"path":"/nowhere"`) {
		t.Fatalf("expected warn lines with raw path fallback: %s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"errors":"Error #01: boom`) {
		t.Fatalf("expected error line carrying gin errors: %s", logs)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestScrubQuery(t *testing.T) {
	mask := nameSet([]string{"api_key"}, []string{"Secret"})
	got := scrubQuery("b=2&secret=x&a=1&API_KEY=y", mask)
	if got != "API_KEY=[REDACTED]&a=1&b=2&secret=[REDACTED]" {
		t.Fatalf("scrubQuery = %q", got)
	}
	if scrubQuery("", mask) != "" {
		t.Fatalf("empty query not empty")
	}
	if got := scrubQuery("%zz=a@b.com", mask); got != "%zz=[REDACTED:email]" {
		t.Fatalf("unparseable query = %q", got)
	}
}
