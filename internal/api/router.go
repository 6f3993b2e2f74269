// Package api wires together all HTTP routes for the audit service.
//
// Route grouping philosophy:
//   - /health, /ready and /version are unauthenticated operational probes and sit
//     outside the audit pipeline so liveness checks never inflate the trail.
//   - Everything under /api/v1/audit requires authentication, passes through the
//     audit pipeline (this service audits access to the audit trail itself), and
//     mutating routes additionally require the audit:admin role.
package api

import (
	"context"
	"database/sql"
	"encoding/base64"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/finvest-platform/audit-service/internal/api/admin"
	"github.com/finvest-platform/audit-service/internal/auth"
	"github.com/finvest-platform/audit-service/internal/capture"
	"github.com/finvest-platform/audit-service/internal/config"
	"github.com/finvest-platform/audit-service/internal/crypto"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/detect"
	"github.com/finvest-platform/audit-service/internal/jobs"
	"github.com/finvest-platform/audit-service/internal/middleware"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/report"
	"github.com/finvest-platform/audit-service/internal/sanitize"
	"github.com/finvest-platform/audit-service/internal/siem"
	"github.com/finvest-platform/audit-service/internal/storage"

	// Import archive backends to register them
	_ "github.com/finvest-platform/audit-service/internal/storage/azure"
	_ "github.com/finvest-platform/audit-service/internal/storage/gcs"
	_ "github.com/finvest-platform/audit-service/internal/storage/local"
	_ "github.com/finvest-platform/audit-service/internal/storage/s3"
)

// BackgroundServices holds references to background work that must be stopped during
// graceful shutdown. The caller (cmd/server) is responsible for calling Shutdown()
// when the process receives a termination signal.
type BackgroundServices struct {
	retentionJob  *jobs.RetentionJob
	rateLimiters  []*middleware.RateLimiter
	stopRuleWatch func()
	forwarder     siem.Forwarder
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.stopRuleWatch != nil {
		bg.stopRuleWatch()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.forwarder != nil {
		if err := bg.forwarder.Close(); err != nil {
			slog.Error("failed to close siem forwarder", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories
	auditRepo := repositories.NewAuditRepository(db)
	securityRepo := repositories.NewSecurityRepository(db)
	settingsRepo := repositories.NewSettingsRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)

	// Sanitizer with operator-supplied sensitive-key patterns on top of the defaults
	sanitizer := sanitize.New(cfg.Detection.SensitiveFields...)

	// Signature detector, optionally fed from a hot-reloadable rules file
	rules := detect.DefaultRules()
	if cfg.Detection.RulesFile != "" {
		loaded, err := detect.LoadRules(cfg.Detection.RulesFile)
		if err != nil {
			log.Fatalf("Failed to load detection rules from %s: %v", cfg.Detection.RulesFile, err)
		}
		rules = loaded
	}
	detector := detect.NewDetector(rules)

	var stopRuleWatch func()
	if cfg.Detection.WatchRules && cfg.Detection.RulesFile != "" {
		stop, err := detect.WatchRules(cfg.Detection.RulesFile, detector.Reload)
		if err != nil {
			log.Fatalf("Failed to watch detection rules file: %v", err)
		}
		stopRuleWatch = stop
		slog.Info("watching detection rules file", "path", cfg.Detection.RulesFile)
	}

	// Rate tracker: in-memory by default, Redis when running multiple instances
	var tracker detect.Tracker = detect.NewMemoryTracker()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tracker = detect.NewRedisTracker(client)
		slog.Info("using redis rate tracker", "address", cfg.Redis.Address)
	}

	// Recorder: the single write path into the audit trail
	var recOpts []recorder.Option
	if cfg.Audit.WriteTimeout > 0 {
		recOpts = append(recOpts, recorder.WithWriteTimeout(cfg.Audit.WriteTimeout))
	}

	// Optional SIEM forwarding of security events
	var forwarder siem.Forwarder
	if cfg.SIEM.Enabled {
		mf, err := siem.NewMultiForwarder(forwarderConfigs(cfg), slog.Default())
		if err != nil {
			log.Fatalf("Failed to initialize siem forwarder: %v", err)
		}
		forwarder = mf
		recOpts = append(recOpts, recorder.WithForwarder(mf))
		slog.Info("siem forwarding enabled",
			"webhook", cfg.SIEM.Webhook.URL != "",
			"file", cfg.SIEM.File.Path != "")
	}

	rec := recorder.New(auditRepo, securityRepo, settingsRepo, sanitizer, slog.Default(), recOpts...)

	// Archive backend for report exports, nil when disabled
	var archive storage.Archive
	if cfg.Archive.Enabled {
		backend, err := storage.NewArchive(cfg)
		if err != nil {
			log.Fatalf("Failed to initialize archive backend: %v", err)
		}
		archive = backend
		log.Printf("Initialized archive backend: %s", cfg.Archive.DefaultBackend)
	}

	// Encrypt archived exports when a key is configured
	var genOpts []report.Option
	if cfg.Archive.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.Archive.EncryptionKey)
		if err != nil {
			log.Fatalf("Failed to decode archive encryption key: %v", err)
		}
		cipher, err := crypto.NewArchiveCipher(key)
		if err != nil {
			log.Fatalf("Failed to initialize archive cipher: %v", err)
		}
		genOpts = append(genOpts, report.WithCipher(cipher))
		slog.Info("archive encryption enabled")
	}
	generator := report.NewGenerator(auditRepo, archive, slog.Default(), genOpts...)

	// JWT verifier for the admin API
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to initialize token verifier: %v", err)
	}

	// Retention job
	var retentionJob *jobs.RetentionJob
	if cfg.Audit.RetentionInterval > 0 {
		retentionJob = jobs.NewRetentionJob(auditRepo, rec, slog.Default())
		retentionJob.Start(context.Background(), cfg.Audit.RetentionInterval)
	}

	// Rate limiters
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	adminRateLimiter := middleware.NewRateLimiter(middleware.AdminRateLimitConfig())

	// Outer middleware: headers, attribution, metrics, panic capture
	router.Use(middleware.SecurityHeadersMiddleware(middleware.DefaultSecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.RecoveryMiddleware(rec, slog.Default()))

	// Operational probes stay outside the audit pipeline
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, archive))
	router.GET("/version", versionHandler())

	// Change-capture hook for the ingest endpoints
	var hookOpts []capture.Option
	if cfg.Detection.TransactionWindow > 0 {
		hookOpts = append(hookOpts, capture.WithTransactionWindow(cfg.Detection.TransactionWindow))
	}
	hook := capture.NewHook(capture.DefaultRegistry(), rec, sanitizer, tracker, hookOpts...)

	// Handlers
	logHandlers := admin.NewLogHandlers(db)
	ingestHandlers := admin.NewIngestHandlers(hook)
	securityHandlers := admin.NewSecurityHandlers(db)
	settingsHandlers := admin.NewSettingsHandlers(rec)
	reportHandlers := admin.NewReportHandlers(db, generator)
	cleanupHandlers := admin.NewCleanupHandlers(db, rec)

	// Admin API: pipeline -> rate limit -> auth -> handler
	apiGroup := router.Group("/api/v1/audit")
	apiGroup.Use(middleware.AuditPipeline(middleware.PipelineConfig{
		Detector:         detector,
		Tracker:          tracker,
		Recorder:         rec,
		Security:         securityRepo,
		ExpectedOrigins:  cfg.Detection.ExpectedOrigins,
		LoginPaths:       cfg.Detection.LoginPaths,
		BruteForceWindow: cfg.Detection.BruteForceWindow,
		HardBlock:        cfg.Detection.HardBlock,
		DedupeAlerts:     cfg.Detection.DedupeAlerts,
	}))
	apiGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
	apiGroup.Use(middleware.AuthMiddleware(verifier, apiKeyRepo, cfg.Auth.APIKeysEnabled, cfg.Auth.APIKeyPrefix))
	{
		// Audit trail reads
		apiGroup.GET("/logs", logHandlers.ListLogs)
		apiGroup.GET("/logs/:id", logHandlers.GetLog)
		apiGroup.GET("/changes", logHandlers.ListChanges)

		// Ingest: collaborating services push entity mutations and transactions
		apiGroup.POST("/changes", ingestHandlers.CaptureChange)
		apiGroup.POST("/transactions", ingestHandlers.CaptureTransaction)

		// Security event queue
		apiGroup.GET("/security-events", securityHandlers.ListEvents)
		apiGroup.POST("/security-events/bulk-resolve",
			middleware.RequireRole(middleware.RoleAdmin),
			securityHandlers.BulkResolve)
		apiGroup.POST("/security-events/:id/resolve",
			middleware.RequireRole(middleware.RoleAdmin),
			securityHandlers.ResolveEvent)

		// Settings
		apiGroup.GET("/settings", settingsHandlers.GetSettings)
		apiGroup.PUT("/settings",
			middleware.RateLimitMiddleware(adminRateLimiter),
			middleware.RequireRole(middleware.RoleAdmin),
			settingsHandlers.UpdateSettings)

		// Reports
		apiGroup.GET("/reports/stats", reportHandlers.GetStats)
		apiGroup.GET("/reports/user-activity", reportHandlers.GetUserActivity)
		apiGroup.GET("/reports/system-health", reportHandlers.GetSystemHealth)
		apiGroup.POST("/reports/generate", reportHandlers.GenerateReport)
		apiGroup.GET("/reports/verify", reportHandlers.VerifyReport)

		// Retention cleanup
		apiGroup.POST("/cleanup",
			middleware.RateLimitMiddleware(adminRateLimiter),
			middleware.RequireRole(middleware.RoleAdmin),
			cleanupHandlers.Cleanup)
	}

	bg := &BackgroundServices{
		retentionJob:  retentionJob,
		rateLimiters:  []*middleware.RateLimiter{generalRateLimiter, adminRateLimiter},
		stopRuleWatch: stopRuleWatch,
		forwarder:     forwarder,
	}

	return router, bg
}

// forwarderConfigs translates the operator-facing siem config section into
// destination configs for the multi-forwarder.
func forwarderConfigs(cfg *config.Config) []siem.Config {
	var configs []siem.Config
	if cfg.SIEM.Webhook.URL != "" {
		var headers map[string]string
		if cfg.SIEM.Webhook.AuthHeader != "" {
			headers = map[string]string{"Authorization": cfg.SIEM.Webhook.AuthHeader}
		}
		configs = append(configs, siem.Config{
			Enabled: true,
			Type:    "webhook",
			Webhook: &siem.WebhookConfig{
				URL:           cfg.SIEM.Webhook.URL,
				Headers:       headers,
				Timeout:       cfg.SIEM.Webhook.Timeout,
				BatchSize:     cfg.SIEM.Webhook.BatchSize,
				FlushInterval: cfg.SIEM.Webhook.FlushInterval,
			},
		})
	}
	if cfg.SIEM.File.Path != "" {
		configs = append(configs, siem.Config{
			Enabled: true,
			Type:    "file",
			File: &siem.FileConfig{
				Path:       cfg.SIEM.File.Path,
				MaxSizeMB:  cfg.SIEM.File.MaxSizeMB,
				MaxBackups: cfg.SIEM.File.MaxBackups,
			},
		})
	}
	return configs
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity and the archive backend when configured.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. Unlike the liveness
// probe (/health), this also probes the archive backend so a readiness gate fails
// when report exports would error.
func readinessHandler(db *sql.DB, archive storage.Archive) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if archive != nil {
			// Probe with a known-absent sentinel path. Exists() exercises
			// authentication and network connectivity without creating state.
			if _, err := archive.Exists(c.Request.Context(), ".readiness-probe"); err != nil {
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
