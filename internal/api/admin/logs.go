// logs.go implements the read-only handlers over the audit trail: filtered listing
// and single-entry detail with field-level changes. The trail is append-only, so no
// mutation endpoints exist here.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/repositories"
)

// LogHandlers serves the audit log query endpoints
type LogHandlers struct {
	audits *repositories.AuditRepository
}

// NewLogHandlers creates a new LogHandlers instance
func NewLogHandlers(db *sql.DB) *LogHandlers {
	return &LogHandlers{audits: repositories.NewAuditRepository(db)}
}

// @Summary      List audit log entries
// @Description  Returns a filtered, paginated slice of the audit trail, newest first.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        event_type    query  string  false  "Event type (e.g. LOGIN, UPDATE)"
// @Param        severity      query  string  false  "Severity (LOW..CRITICAL)"
// @Param        actor_id      query  string  false  "Actor ID"
// @Param        subject_kind  query  string  false  "Subject entity kind"
// @Param        subject_id    query  string  false  "Subject entity ID"
// @Param        ip_address    query  string  false  "Client IP"
// @Param        start_date    query  string  false  "Window start (2006-01-02 or RFC 3339)"
// @Param        end_date      query  string  false  "Window end"
// @Param        page          query  int     false  "Page number (default 1)"
// @Param        per_page      query  int     false  "Items per page, max 500 (default 50)"
// @Success      200  {object}  map[string]interface{}  "logs, pagination"
// @Failure      400  {object}  map[string]interface{}  "Invalid filter"
// @Router       /api/v1/audit/logs [get]
// ListLogs lists audit log entries matching the query filters.
func (h *LogHandlers) ListLogs(c *gin.Context) {
	filters := repositories.AuditFilters{
		EventType:   queryStrPtr(c, "event_type"),
		Severity:    queryStrPtr(c, "severity"),
		ActorID:     queryStrPtr(c, "actor_id"),
		SubjectKind: queryStrPtr(c, "subject_kind"),
		SubjectID:   queryStrPtr(c, "subject_id"),
		IPAddress:   queryStrPtr(c, "ip_address"),
	}

	var ok bool
	if filters.StartDate, ok = queryTimePtr(c, "start_date"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return
	}
	if filters.EndDate, ok = queryTimePtr(c, "end_date"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return
	}

	page, perPage, offset := pagination(c)

	logs, total, err := h.audits.List(c.Request.Context(), filters, perPage, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs": toAuditLogList(logs),
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// @Summary      Get audit log entry
// @Description  Returns one audit entry with its field-level change history.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Audit log ID"
// @Success      200  {object}  map[string]interface{}  "log"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/audit/logs/{id} [get]
// GetLog returns a single audit entry by ID, including its change rows.
func (h *LogHandlers) GetLog(c *gin.Context) {
	entry, err := h.audits.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve audit log"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"log": toAuditLogResponse(entry)})
}

// @Summary      List field-level changes
// @Description  Returns data-change history rows, optionally scoped to a subject or field.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        subject_kind  query  string  false  "Subject entity kind"
// @Param        subject_id    query  string  false  "Subject entity ID"
// @Param        field_name    query  string  false  "Changed field name"
// @Param        start_date    query  string  false  "Window start"
// @Param        end_date      query  string  false  "Window end"
// @Success      200  {object}  map[string]interface{}  "changes, pagination"
// @Router       /api/v1/audit/changes [get]
// ListChanges lists field-level change history rows matching the query filters.
func (h *LogHandlers) ListChanges(c *gin.Context) {
	filters := repositories.ChangeFilters{
		SubjectKind: queryStrPtr(c, "subject_kind"),
		SubjectID:   queryStrPtr(c, "subject_id"),
		FieldName:   queryStrPtr(c, "field_name"),
	}

	var ok bool
	if filters.StartDate, ok = queryTimePtr(c, "start_date"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return
	}
	if filters.EndDate, ok = queryTimePtr(c, "end_date"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return
	}

	page, perPage, offset := pagination(c)

	changes, total, err := h.audits.ListChanges(c.Request.Context(), filters, perPage, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list change history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"changes": toChangeList(changes),
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}
