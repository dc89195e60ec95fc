package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/dronexam-api/pkg/middleware/requestid"
)

// Audit logs rejected authentication and authorization at the edge. Denials
// decided inside the engine are logged by the access guard itself; this
// covers requests that never reached it.
func Audit(logger *zap.Logger) gin.HandlerFunc {
	audit := logger.Named("audit")
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status != http.StatusUnauthorized && status != http.StatusForbidden {
			return
		}
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.GetHeader("User-Agent")),
			zap.String("request_id", requestid.Value(c)),
		}
		if principal, ok := Principal(c); ok {
			fields = append(fields, zap.String("principal", principal.ID), zap.String("role", string(principal.Role)))
		}
		audit.Warn("request denied", fields...)
	}
}
