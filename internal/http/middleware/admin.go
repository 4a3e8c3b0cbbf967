// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the admin API with HS256 bearer tokens minted by
// auth.IssueToken (see cmd/admintoken).
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-api-endpoints/internal/auth"
)

const ctxKeyAdminSubject = "admin.subject"

// RequireAdmin rejects requests without a valid admin token: 401 when the
// token is missing or invalid, 403 when it lacks the admin role. The token
// subject is available through AdminSubject.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := auth.ValidateAdmin(secret, auth.BearerToken(c.GetHeader("Authorization")))
		if err != nil {
			status, code, msg := http.StatusUnauthorized, "unauthorized", "valid admin token required"
			if errors.Is(err, auth.ErrNotAdmin) {
				status, code, msg = http.StatusForbidden, "forbidden", "admin role required"
			} else {
				c.Header("WWW-Authenticate", `Bearer realm="admin"`)
			}
			LoggerFrom(c).Warn().Err(err).Msg("admin request rejected")
			c.AbortWithStatusJSON(status, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       code,
				"message":    msg,
			})
			return
		}

		c.Set(ctxKeyAdminSubject, sub)
		l := LoggerFrom(c).With().Str("admin", sub).Logger()
		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))
		c.Next()
	}
}

// AdminSubject returns the subject of the admin token, or "".
func AdminSubject(c *gin.Context) string {
	v, _ := c.Get(ctxKeyAdminSubject)
	return asString(v)
}
