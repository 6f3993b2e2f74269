// Package telemetry provides application-level observability for the audit service.
//
// All metrics are registered against the default Prometheus registry and served on a
// side-channel HTTP server started by main.go (default port 9090, path /metrics), kept
// off the main API listener so scrapes bypass auth and rate-limiting middleware.
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/audit/logs/:id) rather
// than the raw request URL to prevent unbounded label cardinality from user-supplied
// path segments.
//
// AuditWriteFailuresTotal deserves a note: the system-health report counts failed audit
// writes, and this counter is how that degradation becomes visible to operators. A
// rising rate here with a flat audit_events_recorded_total means the pipeline is
// falling back to slog-only recording.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by method, route template, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration is a latency histogram by method and route template.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// AuditEventsRecordedTotal counts successfully persisted audit log entries.
	AuditEventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_recorded_total",
			Help: "Audit log entries durably written, by event type and severity.",
		},
		[]string{"event_type", "severity"},
	)

	// AuditWriteFailuresTotal counts audit writes that failed even after the async
	// retry. This is the operator-visible signal of audit-pipeline degradation.
	AuditWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit writes that could not be persisted (after retry); recorded via the slog fallback only.",
		},
	)

	// SecurityEventsTotal counts threat signals raised by the detectors, by kind.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_events_total",
			Help: "Security events raised by the detection pipeline, by kind.",
		},
		[]string{"kind"},
	)

	// RateBreachesTotal counts sliding-window threshold breaches, by event kind.
	RateBreachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_breaches_total",
			Help: "Rate-tracker threshold breaches (brute force, anomalous transaction volume), by kind.",
		},
		[]string{"kind"},
	)

	// RetentionDeletedTotal counts rows removed by retention cleanup, by table.
	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retention_deleted_rows_total",
			Help: "Rows deleted by retention cleanup, by table.",
		},
		[]string{"table"},
	)

	// DBConnectionsInUse is a gauge of open database connections, polled periodically.
	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use.",
		},
	)
)

// PollDBStats samples the connection pool gauge every interval until stop is closed.
// Run it via safego.Go from main.
func PollDBStats(db *sql.DB, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			DBConnectionsInUse.Set(float64(db.Stats().InUse))
		case <-stop:
			return
		}
	}
}

// LogMetricsEndpoint emits a startup breadcrumb so operators can find the scrape target.
func LogMetricsEndpoint(port int) {
	slog.Info("prometheus metrics available", "port", port, "path", "/metrics")
}
