package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/campuslink/matchmaker/internal/auth"
	"github.com/campuslink/matchmaker/pkg/response"
)

const (
	// ContextSubject is the key for the operator id in gin context.
	ContextSubject = "subject"
	// ContextRole is the key for the operator role in gin context.
	ContextRole = "role"
)

// JWT returns a middleware that validates a bearer token and sets its claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" || token == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}
