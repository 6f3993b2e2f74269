// pipeline.go provides the audit event pipeline: Gin middleware that inspects every
// inbound request with the pattern detectors, feeds authentication failures into the
// rate tracker, and records the request to the audit trail once it completes.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/detect"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/telemetry"
)

// slowRequestThreshold is the latency above which an otherwise-clean request is
// recorded with MEDIUM severity.
const slowRequestThreshold = 3 * time.Second

// PipelineConfig wires the audit pipeline's collaborators and policy knobs.
type PipelineConfig struct {
	Detector *detect.Detector
	Tracker  detect.Tracker
	Recorder *recorder.Recorder
	// Security, when set, backs alert dedup with the persisted event history, so a
	// restart or a second instance does not re-alert within the window.
	Security *repositories.SecurityRepository

	// ExpectedOrigins are referrer hosts considered first-party for mutating requests.
	ExpectedOrigins []string
	// LoginPaths are request paths treated as authentication endpoints.
	LoginPaths []string
	// BruteForceWindow is the sliding window for failed-login counting.
	BruteForceWindow time.Duration
	// HardBlock rejects flagged requests with 403 before they reach the handler.
	HardBlock bool
	// DedupeAlerts collapses repeated rate-breach alerts into one per window.
	DedupeAlerts bool
}

// AuditPipeline returns the Gin middleware implementing the per-request audit flow:
// extract attribution, inspect for threat signatures, run the handler, track
// authentication failures, then record the request with severity derived from status
// and latency. Detection and recording failures never abort the request.
func AuditPipeline(cfg PipelineConfig) gin.HandlerFunc {
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = detect.DefaultBruteForceWindow
	}
	deduper := detect.NewDeduper()

	return func(c *gin.Context) {
		start := time.Now()

		ip := c.ClientIP()
		userAgent := c.Request.UserAgent()
		referrer := c.Request.Referer()
		path := c.Request.URL.Path
		method := c.Request.Method
		rawQuery := c.Request.URL.RawQuery

		threats := inspect(cfg.Detector, rawQuery, path, userAgent, referrer, method, cfg.ExpectedOrigins)
		flagged := len(threats) > 0

		for _, threat := range threats {
			cfg.Recorder.RecordSecurity(c.Request.Context(), &models.SecurityEvent{
				Kind:        threat.kind,
				IPAddress:   ip,
				UserAgent:   strPtrOrNil(userAgent),
				ActorID:     actorID(c),
				Description: threat.description,
				AdditionalData: map[string]interface{}{
					"path":         path,
					"method":       method,
					"query_string": rawQuery,
					"referrer":     referrer,
				},
			})
		}

		if flagged && cfg.HardBlock {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "request rejected"})
		} else {
			c.Next()
		}

		status := c.Writer.Status()
		latency := time.Since(start)

		if isLoginPath(path, cfg.LoginPaths) && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
			trackFailedLogin(c, cfg, deduper, ip, userAgent)
		}

		settings := cfg.Recorder.Settings(c.Request.Context())
		if !shouldLog(method, status, settings.LogAPICalls, settings.LogReadOperations) {
			return
		}

		log := &models.AuditLog{
			EventType:   resolveEventType(path, method, status, cfg.LoginPaths),
			Severity:    resolveSeverity(status, latency),
			ActorID:     actorID(c),
			Description: fmt.Sprintf("%s %s - status %d", method, path, status),
			IPAddress:   &ip,
			UserAgent:   strPtrOrNil(userAgent),
			SessionID:   sessionID(c),
			Context: map[string]interface{}{
				"method":     method,
				"path":       path,
				"status":     status,
				"latency_ms": float64(latency.Milliseconds()),
				"flagged":    flagged,
			},
		}
		cfg.Recorder.Record(c.Request.Context(), log)
	}
}

type threat struct {
	kind        models.SecurityEventKind
	description string
}

// inspect runs every detector against the request surface and returns the matches.
// Detectors are intentionally over-inclusive; matches are surfaced for triage, not
// treated as verdicts.
func inspect(detector *detect.Detector, rawQuery, path, userAgent, referrer, method string, expectedOrigins []string) []threat {
	var threats []threat

	surface := rawQuery + " " + path

	if detector.SQLInjection(surface) {
		threats = append(threats, threat{
			kind:        models.SecuritySQLInjection,
			description: "request matched SQL injection signature",
		})
	}
	if detector.XSS(surface) {
		threats = append(threats, threat{
			kind:        models.SecurityXSSAttempt,
			description: "request matched XSS signature",
		})
	}
	if detector.MaliciousAgent(userAgent) {
		threats = append(threats, threat{
			kind:        models.SecuritySuspiciousActivity,
			description: fmt.Sprintf("known scanning tool user agent: %s", userAgent),
		})
	}
	if isMutating(method) && detector.SuspiciousReferrer(referrer, expectedOrigins) {
		threats = append(threats, threat{
			kind:        models.SecuritySuspiciousActivity,
			description: fmt.Sprintf("cross-origin referrer on mutating request: %s", referrer),
		})
	}

	return threats
}

// trackFailedLogin records one FAILED_LOGIN security event and, when the in-window
// count reaches the configured threshold, a CRITICAL BRUTE_FORCE event.
func trackFailedLogin(c *gin.Context, cfg PipelineConfig, deduper *detect.Deduper, ip, userAgent string) {
	ctx := c.Request.Context()

	cfg.Recorder.RecordSecurity(ctx, &models.SecurityEvent{
		Kind:        models.SecurityFailedLogin,
		IPAddress:   ip,
		UserAgent:   strPtrOrNil(userAgent),
		Description: "failed login attempt",
		AdditionalData: map[string]interface{}{
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		},
	})

	threshold := cfg.Recorder.Settings(ctx).FailedLoginThreshold
	count, breached, err := cfg.Tracker.RecordAndCheck(ctx, ip, detect.KindFailedLogin, cfg.BruteForceWindow, threshold)
	if err != nil || !breached {
		return
	}

	telemetry.RateBreachesTotal.WithLabelValues(detect.KindFailedLogin).Inc()

	if cfg.DedupeAlerts {
		if !deduper.TryAcquire(detect.KindFailedLogin+"|"+ip, cfg.BruteForceWindow) {
			return
		}
		// The in-memory deduper only remembers this process; an event persisted by
		// another instance, or before a restart, also counts as the window's one
		// alert. On a read error, alert anyway: a duplicate beats a missed alert.
		if cfg.Security != nil {
			since := time.Now().Add(-cfg.BruteForceWindow)
			if n, err := cfg.Security.CountSince(ctx, models.SecurityBruteForce, ip, since); err == nil && n > 0 {
				return
			}
		}
	}

	cfg.Recorder.RecordSecurity(ctx, &models.SecurityEvent{
		Kind:        models.SecurityBruteForce,
		IPAddress:   ip,
		UserAgent:   strPtrOrNil(userAgent),
		Description: fmt.Sprintf("possible brute force attack: %d failed logins within window", count),
		AdditionalData: map[string]interface{}{
			"failed_attempts": count,
			"threshold":       threshold,
			"window":          cfg.BruteForceWindow.String(),
		},
	})
}

// shouldLog is the pipeline's record predicate: failures always, reads only when
// configured, everything else per the API-call toggle.
func shouldLog(method string, status int, logAPICalls, logReadOperations bool) bool {
	if status >= 400 {
		return true
	}
	if method == http.MethodGet || method == http.MethodHead {
		return logReadOperations
	}
	return logAPICalls
}

// resolveEventType derives the audit event type from the request shape. Failed
// requests record as SECURITY_EVENT; authentication and password paths get their
// specific types; remaining writes record as CREATE.
func resolveEventType(path, method string, status int, loginPaths []string) models.EventType {
	if status >= 400 {
		return models.EventSecurity
	}
	if isLoginPath(path, loginPaths) && method == http.MethodPost {
		return models.EventLogin
	}
	if strings.Contains(path, "/logout") {
		return models.EventLogout
	}
	if strings.Contains(path, "/password") {
		return models.EventPasswordChange
	}
	switch method {
	case http.MethodPut, http.MethodPatch:
		return models.EventUpdate
	case http.MethodDelete:
		return models.EventDelete
	default:
		return models.EventCreate
	}
}

func resolveSeverity(status int, latency time.Duration) models.Severity {
	switch {
	case status >= 500:
		return models.SeverityCritical
	case status >= 400:
		return models.SeverityHigh
	case latency > slowRequestThreshold:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func isLoginPath(path string, loginPaths []string) bool {
	for _, p := range loginPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func actorID(c *gin.Context) *string {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

func sessionID(c *gin.Context) *string {
	if cookie, err := c.Cookie("session_id"); err == nil && cookie != "" {
		return &cookie
	}
	return nil
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
