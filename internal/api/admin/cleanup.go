// cleanup.go implements the retention-cleanup endpoint. Cleanup is the only delete
// path into the audit trail: it cascades change history, audit logs and security
// events older than the cutoff, and records a CONFIG_CHANGE entry describing what it
// removed. Dry runs count rows without mutating anything.
package admin

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/recorder"
)

// CleanupHandlers serves the retention-cleanup endpoint
type CleanupHandlers struct {
	audits *repositories.AuditRepository
	rec    *recorder.Recorder
}

// NewCleanupHandlers creates a new CleanupHandlers instance
func NewCleanupHandlers(db *sql.DB, rec *recorder.Recorder) *CleanupHandlers {
	return &CleanupHandlers{
		audits: repositories.NewAuditRepository(db),
		rec:    rec,
	}
}

// CleanupRequest is the body for POST /cleanup. MaxAgeDays of zero uses the configured
// retention period. Destructive runs require Force; DryRun never requires it.
type CleanupRequest struct {
	MaxAgeDays int  `json:"max_age_days"`
	DryRun     bool `json:"dry_run"`
	Force      bool `json:"force"`
}

// @Summary      Purge expired audit data
// @Description  Deletes audit logs, change history and security events older than the
// @Description  retention cutoff. dry_run reports counts without deleting; destructive
// @Description  runs must set force. The purge itself is recorded as a CONFIG_CHANGE entry.
// @Tags         Cleanup
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CleanupRequest  true  "Cleanup options"
// @Success      200  {object}  map[string]interface{}  "result, cutoff"
// @Failure      400  {object}  map[string]interface{}  "Invalid age or missing force"
// @Router       /api/v1/audit/cleanup [post]
// Cleanup purges audit data older than the retention cutoff.
func (h *CleanupHandlers) Cleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cleanup request"})
		return
	}

	ctx := c.Request.Context()

	days := req.MaxAgeDays
	if days == 0 {
		days = h.rec.Settings(ctx).RetentionDays
	}
	if days < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_days must be >= 1"})
		return
	}

	if !req.DryRun && !req.Force {
		c.JSON(http.StatusBadRequest, gin.H{"error": "destructive cleanup requires force=true"})
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := h.audits.Cleanup(ctx, cutoff, req.DryRun)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cleanup failed"})
		return
	}

	if !req.DryRun {
		h.rec.Record(ctx, &models.AuditLog{
			EventType:   models.EventConfigChange,
			Severity:    models.SeverityMedium,
			ActorID:     actorFromContext(c),
			Description: fmt.Sprintf("retention cleanup removed %d audit entries older than %d days", result.DeletedCount, days),
			Context: map[string]interface{}{
				"max_age_days":            days,
				"cutoff":                  cutoff.Format(time.RFC3339),
				"deleted_count":           result.DeletedCount,
				"deleted_changes":         result.DeletedChanges,
				"deleted_security_events": result.DeletedSecurityEvents,
			},
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"result": result,
		"cutoff": cutoff.Format(time.RFC3339),
	})
}
