// settings.go implements the audit-settings endpoints. Settings form a singleton row
// replaced atomically on update; reads go through the recorder's cache so the hot
// request path and this API observe the same values.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/recorder"
)

// SettingsHandlers serves the audit-settings endpoints
type SettingsHandlers struct {
	rec *recorder.Recorder
}

// NewSettingsHandlers creates a new SettingsHandlers instance
func NewSettingsHandlers(rec *recorder.Recorder) *SettingsHandlers {
	return &SettingsHandlers{rec: rec}
}

// UpdateSettingsRequest is the body for PUT /settings. All fields are required; the
// singleton is replaced as a whole, never patched field by field.
type UpdateSettingsRequest struct {
	RetentionDays             int     `json:"retention_days"`
	EmailAlertsEnabled        bool    `json:"email_alerts_enabled"`
	FailedLoginThreshold      int     `json:"failed_login_threshold"`
	TransactionAlertThreshold float64 `json:"transaction_alert_threshold"`
	LogAPICalls               bool    `json:"log_api_calls"`
	LogReadOperations         bool    `json:"log_read_operations"`
}

// @Summary      Get audit settings
// @Description  Returns the current operator-tunable audit settings.
// @Tags         Settings
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "settings"
// @Router       /api/v1/audit/settings [get]
// GetSettings returns the current audit settings.
func (h *SettingsHandlers) GetSettings(c *gin.Context) {
	settings := h.rec.Settings(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"settings": toSettingsResponse(settings)})
}

// @Summary      Update audit settings
// @Description  Replaces the settings singleton atomically and records a CONFIG_CHANGE
// @Description  audit entry attributing the change to the caller.
// @Tags         Settings
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  UpdateSettingsRequest  true  "New settings"
// @Success      200  {object}  map[string]interface{}  "settings"
// @Failure      400  {object}  map[string]interface{}  "Validation failure"
// @Router       /api/v1/audit/settings [put]
// UpdateSettings atomically replaces the settings singleton.
func (h *SettingsHandlers) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings payload"})
		return
	}

	settings := &models.AuditSettings{
		RetentionDays:             req.RetentionDays,
		EmailAlertsEnabled:        req.EmailAlertsEnabled,
		FailedLoginThreshold:      req.FailedLoginThreshold,
		TransactionAlertThreshold: req.TransactionAlertThreshold,
		LogAPICalls:               req.LogAPICalls,
		LogReadOperations:         req.LogReadOperations,
	}
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.rec.UpdateSettings(c.Request.Context(), settings, actorFromContext(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": toSettingsResponse(h.rec.Settings(c.Request.Context()))})
}
