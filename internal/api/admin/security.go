// security.go implements handlers for the security-event queue: listing open threats,
// resolving them singly or in bulk. Resolution is idempotent; re-resolving returns the
// originally stored resolver and timestamp.
package admin

import (
	"database/sql"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/repositories"
)

// SecurityHandlers serves the security-event endpoints
type SecurityHandlers struct {
	events *repositories.SecurityRepository
}

// NewSecurityHandlers creates a new SecurityHandlers instance
func NewSecurityHandlers(db *sql.DB) *SecurityHandlers {
	return &SecurityHandlers{events: repositories.NewSecurityRepository(db)}
}

// @Summary      List security events
// @Description  Returns detected threats, newest first, filterable by kind, actor, IP and resolution state.
// @Tags         Security
// @Security     Bearer
// @Produce      json
// @Param        kind        query  string  false  "Event kind (e.g. BRUTE_FORCE, SQL_INJECTION)"
// @Param        ip_address  query  string  false  "Source IP"
// @Param        actor_id    query  string  false  "Actor ID"
// @Param        resolved    query  bool    false  "Resolution state"
// @Param        start_date  query  string  false  "Window start"
// @Param        end_date    query  string  false  "Window end"
// @Success      200  {object}  map[string]interface{}  "events, pagination"
// @Router       /api/v1/audit/security-events [get]
// ListEvents lists security events matching the query filters.
func (h *SecurityHandlers) ListEvents(c *gin.Context) {
	filters := repositories.SecurityFilters{
		Kind:      queryStrPtr(c, "kind"),
		IPAddress: queryStrPtr(c, "ip_address"),
		ActorID:   queryStrPtr(c, "actor_id"),
	}

	var ok bool
	if filters.Resolved, ok = queryBoolPtr(c, "resolved"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolved flag"})
		return
	}
	if filters.StartDate, ok = queryTimePtr(c, "start_date"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
		return
	}
	if filters.EndDate, ok = queryTimePtr(c, "end_date"); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
		return
	}

	page, perPage, offset := pagination(c)

	events, total, err := h.events.List(c.Request.Context(), filters, perPage, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list security events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": toSecurityEventList(events),
		"pagination": gin.H{
			"page":     page,
			"per_page": perPage,
			"total":    total,
		},
	})
}

// @Summary      Resolve security event
// @Description  Marks a security event as resolved by the authenticated caller. Already
// @Description  resolved events return the stored resolver and timestamp unchanged.
// @Tags         Security
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Security event ID"
// @Success      200  {object}  map[string]interface{}  "event"
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /api/v1/audit/security-events/{id}/resolve [post]
// ResolveEvent marks one security event resolved by the calling operator.
func (h *SecurityHandlers) ResolveEvent(c *gin.Context) {
	resolvedBy := ""
	if actor := actorFromContext(c); actor != nil {
		resolvedBy = *actor
	}

	event, err := h.events.Resolve(c.Request.Context(), c.Param("id"), resolvedBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve security event"})
		return
	}
	if event == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "security event not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": toSecurityEventResponse(event)})
}

// BulkResolveRequest is the body for POST /security-events/bulk-resolve.
type BulkResolveRequest struct {
	EventIDs []string `json:"event_ids" binding:"required,min=1"`
}

// @Summary      Bulk-resolve security events
// @Description  Resolves a batch of events in one call. Events already resolved are skipped
// @Description  and do not count toward resolved_count.
// @Tags         Security
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  BulkResolveRequest  true  "Event IDs"
// @Success      200  {object}  map[string]interface{}  "resolved_count"
// @Failure      400  {object}  map[string]interface{}  "Empty or invalid batch"
// @Router       /api/v1/audit/security-events/bulk-resolve [post]
// BulkResolve resolves a batch of security events for the calling operator.
func (h *SecurityHandlers) BulkResolve(c *gin.Context) {
	var req BulkResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_ids must be a non-empty list"})
		return
	}

	resolvedBy := ""
	if actor := actorFromContext(c); actor != nil {
		resolvedBy = *actor
	}

	count, err := h.events.BulkResolve(c.Request.Context(), req.EventIDs, resolvedBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve security events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"resolved_count": count,
		"requested":      len(req.EventIDs),
	})
}
