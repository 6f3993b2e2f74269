// reports.go implements the reporting endpoints: aggregate statistics with actor/IP
// rankings, per-user activity, system health, and on-demand report generation with
// optional export to the archive backend.
package admin

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/report"
)

const (
	statsDefaultDays  = 30
	statsMaxDays      = 366
	topRankingLimit   = 10
	recentCriticalCap = 20
)

// ReportHandlers serves the reporting and analytics endpoints
type ReportHandlers struct {
	audits    *repositories.AuditRepository
	generator *report.Generator
}

// NewReportHandlers creates a new ReportHandlers instance
func NewReportHandlers(db *sql.DB, generator *report.Generator) *ReportHandlers {
	return &ReportHandlers{
		audits:    repositories.NewAuditRepository(db),
		generator: generator,
	}
}

// @Summary      Audit statistics
// @Description  Aggregate event counts by type and severity over a lookback window,
// @Description  plus the busiest actors, busiest source IPs and most recent critical entries.
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Param        days  query  int  false  "Lookback window in days (default 30, max 366)"
// @Success      200  {object}  map[string]interface{}  "window_days, stats, top_actors, top_ips, recent_critical"
// @Router       /api/v1/audit/reports/stats [get]
// GetStats returns aggregate audit statistics for the lookback window.
func (h *ReportHandlers) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	days := windowDays(c, statsDefaultDays, statsMaxDays)
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats, err := h.audits.GetStats(ctx, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate statistics"})
		return
	}

	topActors, err := h.audits.TopActors(ctx, since, topRankingLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rank actors"})
		return
	}

	topIPs, err := h.audits.TopIPs(ctx, since, topRankingLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rank source addresses"})
		return
	}

	recent, err := h.audits.RecentCritical(ctx, since, recentCriticalCap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load recent critical entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_days":     days,
		"stats":           stats,
		"top_actors":      topActors,
		"top_ips":         topIPs,
		"recent_critical": toAuditLogList(recent),
	})
}

// @Summary      Per-user activity
// @Description  Aggregates one actor's audit activity: event counts by type, distinct
// @Description  source IPs, last-seen time and associated security events.
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Param        actor_id  query  string  true   "Actor ID"
// @Param        days      query  int     false  "Lookback window in days (default 30)"
// @Success      200  {object}  map[string]interface{}  "window_days, activity"
// @Failure      400  {object}  map[string]interface{}  "Missing actor_id"
// @Router       /api/v1/audit/reports/user-activity [get]
// GetUserActivity returns a single actor's aggregated audit activity.
func (h *ReportHandlers) GetUserActivity(c *gin.Context) {
	actorID := c.Query("actor_id")
	if actorID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actor_id is required"})
		return
	}

	days := windowDays(c, statsDefaultDays, statsMaxDays)
	since := time.Now().UTC().AddDate(0, 0, -days)

	activity, err := h.audits.GetUserActivity(c.Request.Context(), actorID, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate user activity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_days": days,
		"activity":    activity,
	})
}

// @Summary      System health
// @Description  Severity counts, unresolved security events and average request latency
// @Description  over a short lookback window.
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Param        days  query  int  false  "Lookback window in days (default 1)"
// @Success      200  {object}  map[string]interface{}  "window_days, health"
// @Router       /api/v1/audit/reports/system-health [get]
// GetSystemHealth returns the audit subsystem's health aggregates.
func (h *ReportHandlers) GetSystemHealth(c *gin.Context) {
	days := windowDays(c, 1, statsMaxDays)
	since := time.Now().UTC().AddDate(0, 0, -days)

	health, err := h.audits.GetSystemHealth(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate system health"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"window_days": days,
		"health":      health,
	})
}

// GenerateReportRequest is the body for POST /reports/generate.
type GenerateReportRequest struct {
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date" binding:"required"`

	EventType string `json:"event_type"`
	Severity  string `json:"severity"`
	ActorID   string `json:"actor_id"`
	IPAddress string `json:"ip_address"`

	Format         string `json:"format"`
	IncludeDetails bool   `json:"include_details"`
	// Export writes the rendered report to the archive backend and returns its
	// path and checksum instead of streaming the file.
	Export bool `json:"export"`
}

// @Summary      Generate audit report
// @Description  Renders a JSON or CSV report over a bounded window. With export=true the
// @Description  report is written to the archive backend and its path and SHA-256 checksum
// @Description  are returned; otherwise the file is streamed as an attachment.
// @Tags         Reports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  GenerateReportRequest  true  "Report parameters"
// @Success      200  {object}  map[string]interface{}  "Report file or export metadata"
// @Failure      400  {object}  map[string]interface{}  "Invalid parameters or archive disabled"
// @Router       /api/v1/audit/reports/generate [post]
// GenerateReport renders a report and streams it, or exports it to the archive.
func (h *ReportHandlers) GenerateReport(c *gin.Context) {
	var req GenerateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date are required"})
		return
	}

	params, err := buildReportParams(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rep, err := h.generator.Generate(c.Request.Context(), params)
	if err != nil {
		if errors.Is(err, report.ErrInvalidParams) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate report"})
		return
	}

	if !req.Export {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rep.Filename))
		c.Data(http.StatusOK, rep.ContentType, rep.Data)
		return
	}

	stored, err := h.generator.Export(c.Request.Context(), rep)
	if err != nil {
		if errors.Is(err, report.ErrArchiveDisabled) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "archive backend not configured"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":      rep.Filename,
		"total_records": rep.TotalCount,
		"generated_at":  rep.GeneratedAt,
		"archive_path":  stored.Path,
		"size_bytes":    stored.Size,
		"checksum":      stored.Checksum,
	})
}

// @Summary      Verify exported report
// @Description  Re-reads an exported report from the archive backend and checks it
// @Description  against the checksum returned at export time.
// @Tags         Reports
// @Security     Bearer
// @Produce      json
// @Param        path      query  string  true  "Archive path returned by the export"
// @Param        checksum  query  string  true  "SHA-256 checksum returned by the export"
// @Success      200  {object}  map[string]interface{}  "path, valid"
// @Failure      400  {object}  map[string]interface{}  "Missing parameters or archive disabled"
// @Failure      404  {object}  map[string]interface{}  "Export not found"
// @Router       /api/v1/audit/reports/verify [get]
// VerifyReport checks an archived export's integrity against its recorded checksum.
func (h *ReportHandlers) VerifyReport(c *gin.Context) {
	path := c.Query("path")
	sum := c.Query("checksum")
	if path == "" || sum == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path and checksum are required"})
		return
	}

	valid, err := h.generator.VerifyExport(c.Request.Context(), path, sum)
	if err != nil {
		if errors.Is(err, report.ErrArchiveDisabled) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "archive backend not configured"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "export not found or unreadable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":  path,
		"valid": valid,
	})
}

// buildReportParams converts the wire request into report parameters, validating the
// enum-valued filters up front so typos fail with a clear message.
func buildReportParams(req GenerateReportRequest) (report.Params, error) {
	var params report.Params

	start, err := parseDate(req.StartDate)
	if err != nil {
		return params, fmt.Errorf("invalid start_date %q", req.StartDate)
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return params, fmt.Errorf("invalid end_date %q", req.EndDate)
	}
	params.StartDate = start
	params.EndDate = end
	params.Format = req.Format
	params.IncludeDetails = req.IncludeDetails

	if req.EventType != "" {
		et := models.EventType(req.EventType)
		if !et.IsValid() {
			return params, fmt.Errorf("unknown event_type %q", req.EventType)
		}
		params.EventType = &et
	}
	if req.Severity != "" {
		sev := models.Severity(req.Severity)
		if !sev.IsValid() {
			return params, fmt.Errorf("unknown severity %q", req.Severity)
		}
		params.Severity = &sev
	}
	if req.ActorID != "" {
		params.ActorID = &req.ActorID
	}
	if req.IPAddress != "" {
		params.IPAddress = &req.IPAddress
	}

	return params, nil
}
