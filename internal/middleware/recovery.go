// recovery.go provides panic recovery that also lands the failure in the audit trail,
// mirroring the pipeline's treatment of unhandled server errors.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/recorder"
)

// RecoveryMiddleware recovers from handler panics, responds 500, and records a
// CRITICAL SECURITY_EVENT audit entry with the panic value. Register it before the
// audit pipeline so the pipeline still observes the 500 status.
func RecoveryMiddleware(rec *recorder.Recorder, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			logger.Error("panic recovered in handler",
				slog.String("path", c.Request.URL.Path),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))

			ip := c.ClientIP()
			rec.Record(c.Request.Context(), &models.AuditLog{
				EventType:   models.EventSecurity,
				Severity:    models.SeverityCritical,
				ActorID:     actorID(c),
				Description: fmt.Sprintf("panic while handling %s %s: %v", c.Request.Method, c.Request.URL.Path, r),
				IPAddress:   &ip,
				UserAgent:   strPtrOrNil(c.Request.UserAgent()),
				Context: map[string]interface{}{
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
				},
			})

			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}()

		c.Next()
	}
}
