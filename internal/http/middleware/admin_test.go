package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-api-endpoints/internal/auth"
)

const adminSecret = "0123456789abcdef-admin"

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_ = captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RequireAdmin(adminSecret))
	r.GET("/admin/ping", func(c *gin.Context) {
		c.String(http.StatusOK, AdminSubject(c))
	})

	valid, err := auth.IssueToken(adminSecret, "ops", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := auth.IssueToken(adminSecret, "ops", time.Hour, time.Now().Add(-2*time.Hour))
	otherKey, _ := auth.IssueToken("another-secret-0123456789", "ops", time.Hour, time.Now())
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "reader",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(adminSecret))

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "unauthorized"},
		{"basic scheme", "Basic b3BzOnB3", http.StatusUnauthorized, "unauthorized"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "unauthorized"},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized, "unauthorized"},
		{"no admin role", "Bearer " + noRole, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.status == http.StatusOK {
				if w.Body.String() != "ops" {
					t.Fatalf("subject = %q", w.Body.String())
				}
				return
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != tc.code || body["request_id"] == "" {
				t.Fatalf("unexpected body: %v", body)
			}
			if tc.status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("missing WWW-Authenticate on 401")
			}
		})
	}
}
