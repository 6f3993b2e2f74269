// ingest.go implements the write-side endpoints collaborating services call when they
// mutate a tracked entity or process a financial transaction. The capture hook does
// the diffing, masking and severity work; these handlers only carry the payload in.
// Attribution in the body describes the end user the calling service acted for, so it
// wins over the caller's own connection metadata.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/capture"
	"github.com/finvest-platform/audit-service/internal/db/models"
)

// IngestHandlers serves the change-capture and transaction ingest endpoints
type IngestHandlers struct {
	hook *capture.Hook
}

// NewIngestHandlers creates a new IngestHandlers instance
func NewIngestHandlers(hook *capture.Hook) *IngestHandlers {
	return &IngestHandlers{hook: hook}
}

// CaptureChangeRequest is the body for POST /changes. Old and new values are full
// field snapshots; an absent old snapshot records a creation, an absent new snapshot
// a deletion.
type CaptureChangeRequest struct {
	EntityKind string                 `json:"entity_kind" binding:"required"`
	EntityID   string                 `json:"entity_id" binding:"required"`
	OldValues  map[string]interface{} `json:"old_values"`
	NewValues  map[string]interface{} `json:"new_values"`
	ActorID    *string                `json:"actor_id"`
	IPAddress  *string                `json:"ip_address"`
	UserAgent  *string                `json:"user_agent"`
	SessionID  *string                `json:"session_id"`
}

// CaptureTransactionRequest is the body for POST /transactions.
type CaptureTransactionRequest struct {
	EventType string  `json:"event_type" binding:"required"`
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Currency  string  `json:"currency" binding:"required"`
	ActorID   *string `json:"actor_id"`
	IPAddress *string `json:"ip_address"`
	UserAgent *string `json:"user_agent"`
	SessionID *string `json:"session_id"`
}

// transactionEventTypes are the event types accepted on the transaction ingest
// endpoint; entity mutations go through POST /changes instead.
var transactionEventTypes = map[models.EventType]bool{
	models.EventDeposit:    true,
	models.EventWithdrawal: true,
	models.EventInvestment: true,
	models.EventPayment:    true,
	models.EventReferral:   true,
}

// @Summary      Capture an entity change
// @Description  Records an audit entry with field-level change rows for one mutation
// @Description  of a tracked business entity. Old/new snapshots are diffed against
// @Description  the entity kind's capture policy; sensitive field values are masked.
// @Tags         Ingest
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CaptureChangeRequest  true  "Entity mutation"
// @Success      202  {object}  map[string]interface{}  "status: accepted"
// @Failure      400  {object}  map[string]interface{}  "Validation failure"
// @Router       /api/v1/audit/changes [post]
// CaptureChange records one entity mutation as an audit entry with change rows.
func (h *IngestHandlers) CaptureChange(c *gin.Context) {
	var req CaptureChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_kind and entity_id are required"})
		return
	}
	if len(req.OldValues) == 0 && len(req.NewValues) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one of old_values and new_values must be present"})
		return
	}

	h.hook.CaptureChange(c.Request.Context(), req.EntityKind, req.EntityID,
		req.OldValues, req.NewValues, h.requestContext(c, req.ActorID, req.IPAddress, req.UserAgent, req.SessionID))

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// @Summary      Capture a financial transaction
// @Description  Records a transaction audit entry. Amounts at or above the configured
// @Description  alert threshold additionally raise a SUSPICIOUS_ACTIVITY security event.
// @Tags         Ingest
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CaptureTransactionRequest  true  "Transaction"
// @Success      202  {object}  map[string]interface{}  "status: accepted"
// @Failure      400  {object}  map[string]interface{}  "Validation failure"
// @Router       /api/v1/audit/transactions [post]
// CaptureTransaction records a financial transaction, flagging high-value ones.
func (h *IngestHandlers) CaptureTransaction(c *gin.Context) {
	var req CaptureTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type, currency and a positive amount are required"})
		return
	}

	eventType := models.EventType(req.EventType)
	if !transactionEventTypes[eventType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type must be a transaction type (DEPOSIT, WITHDRAWAL, INVESTMENT, PAYMENT, REFERRAL)"})
		return
	}

	h.hook.CaptureTransaction(c.Request.Context(), eventType, req.Amount, req.Currency,
		h.requestContext(c, req.ActorID, req.IPAddress, req.UserAgent, req.SessionID))

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// requestContext builds the hook's attribution from the body, falling back to the
// calling connection for ip and user agent when the body omits them.
func (h *IngestHandlers) requestContext(c *gin.Context, actorID, ip, userAgent, sessionID *string) capture.RequestContext {
	if ip == nil {
		clientIP := c.ClientIP()
		if clientIP != "" {
			ip = &clientIP
		}
	}
	if userAgent == nil {
		ua := c.Request.UserAgent()
		if ua != "" {
			userAgent = &ua
		}
	}
	return capture.RequestContext{
		ActorID:   actorID,
		IPAddress: ip,
		UserAgent: userAgent,
		SessionID: sessionID,
	}
}
