package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"credential-server/backend/internal/api"
	"credential-server/backend/internal/security"
)

const bearerPrefix = "bearer "

// AuthRequired validates the Bearer token on operator endpoints and stashes
// the operator identity in the request context.
func AuthRequired(tokens *security.TokenProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(api.Fail(api.NewError(api.CodeAuthFailed, "missing or invalid authorization")))
			return
		}
		subject, realm, _, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(api.Fail(api.NewError(api.CodeAuthFailed, "missing or invalid authorization")))
			return
		}
		c.Request = c.Request.WithContext(WithOperator(c.Request.Context(), subject, realm))
		c.Next()
	}
}

// ClientIPMiddleware copies gin's client IP into the request context so
// non-HTTP layers (audit) can read it.
func ClientIPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// extractBearer returns the Bearer token from an Authorization header value,
// or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
