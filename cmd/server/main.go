// @title           Audit Service API
// @version         1.0.0
// @description     Audit trail and threat-detection service for the platform backend: tamper-evident audit recording, security event management, and compliance reporting.
// @contact.name    Platform Security
// @contact.email   security@example.com
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT token or API key. For JWT: 'Bearer {token}'. For API Key: 'Bearer {api_key}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated side-channel port (default: 9090) that is separate from the main API server. This keeps the scrape path off the public ingress and outside the audit pipeline. Configure the port with AUD_TELEMETRY_PROMETHEUS_PORT. The endpoint path is always GET /metrics.

// Package main is the entry point for the audit service binary. It dispatches
// four subcommands — serve, migrate, cleanup, and version — via a simple switch
// on os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency. The serve command runs auto-migration on startup
// so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finvest-platform/audit-service/internal/api"
	"github.com/finvest-platform/audit-service/internal/config"
	"github.com/finvest-platform/audit-service/internal/db"
	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/safego"
	"github.com/finvest-platform/audit-service/internal/sanitize"
	"github.com/finvest-platform/audit-service/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "cleanup":
		return runCleanup(cfg, os.Args[2:])
	case "version":
		fmt.Printf("Audit Service v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, cleanup, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise the structured logger as early as possible so all subsequent
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if schemaVersion, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	// Export DB pool statistics to Prometheus until shutdown.
	poolStatsStop := make(chan struct{})
	safego.Go(func() {
		telemetry.PollDBStats(database, 15*time.Second, poolStatsStop)
	})

	// Serve Prometheus metrics on a dedicated port so the scrape path is not
	// reachable through the public API ingress and never enters the audit pipeline.
	if cfg.Telemetry.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort)
		safego.Go(func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			telemetry.LogMetricsEndpoint(cfg.Telemetry.PrometheusPort)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router, bgServices := api.NewRouter(cfg, database)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	safego.Go(func() {
		slog.Info("starting server", "addr", server.Addr, "base_url", cfg.Server.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	close(poolStatsStop)
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if direction != "up" && direction != "down" {
		return fmt.Errorf("invalid migration direction: %s (must be 'up' or 'down')", direction)
	}

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	slog.Info("migrations completed", "direction", direction, "version", schemaVersion, "dirty", dirty)
	return nil
}

// runCleanup purges audit data past the retention cutoff from the command line,
// mirroring the REST cleanup operation for cron and operator use. Destructive
// runs require --force; --dry-run reports counts without deleting.
func runCleanup(cfg *config.Config, args []string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	days := fs.Int("days", 0, "delete audit data older than this many days (0 = configured retention)")
	dryRun := fs.Bool("dry-run", false, "report what would be deleted without deleting")
	force := fs.Bool("force", false, "confirm destructive deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}

	database, err := db.Connect(cfg.Database.DSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ctx := context.Background()

	auditRepo := repositories.NewAuditRepository(database)
	rec := recorder.New(
		auditRepo,
		repositories.NewSecurityRepository(database),
		repositories.NewSettingsRepository(database),
		sanitize.New(cfg.Detection.SensitiveFields...),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	retention := *days
	if retention == 0 {
		retention = rec.Settings(ctx).RetentionDays
	}
	if retention < 1 {
		return fmt.Errorf("retention must be at least 1 day (got %d)", retention)
	}

	if !*dryRun && !*force {
		return fmt.Errorf("destructive cleanup requires --force (or use --dry-run)")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retention)

	result, err := auditRepo.Cleanup(ctx, cutoff, *dryRun)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	verb := "deleted"
	if *dryRun {
		verb = "would delete"
	}
	fmt.Printf("Cutoff: %s\n", cutoff.Format(time.RFC3339))
	fmt.Printf("%s %d audit entries, %d change rows, %d security events\n",
		verb, result.DeletedCount, result.DeletedChanges, result.DeletedSecurityEvents)

	if !*dryRun {
		rec.Record(ctx, &models.AuditLog{
			EventType:   models.EventConfigChange,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("manual retention cleanup removed %d audit entries older than %d days", result.DeletedCount, retention),
			Context: map[string]interface{}{
				"max_age_days":            retention,
				"cutoff":                  cutoff.Format(time.RFC3339),
				"deleted_count":           result.DeletedCount,
				"deleted_changes":         result.DeletedChanges,
				"deleted_security_events": result.DeletedSecurityEvents,
				"source":                  "cli",
			},
		})
	}

	return nil
}
