// Package recorder is the single write path into the audit store. It sanitizes
// payloads, applies bounded write timeouts, and guarantees that a failed audit write
// never propagates into the business request that triggered it: failures are counted,
// dumped to the structured log as a fallback channel, and retried once in the
// background.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/safego"
	"github.com/finvest-platform/audit-service/internal/sanitize"
	"github.com/finvest-platform/audit-service/internal/siem"
	"github.com/finvest-platform/audit-service/internal/telemetry"
)

const defaultWriteTimeout = 2 * time.Second

// forwardTimeout bounds each SIEM delivery attempt, independent of the DB write
// timeout since webhook destinations are slower than local Postgres.
const forwardTimeout = 10 * time.Second

// settingsTTL bounds staleness if an update happens on another instance; the cache is
// also invalidated explicitly on local updates.
const settingsTTL = 30 * time.Second

// Recorder writes audit entries and security events durably.
type Recorder struct {
	audits    *repositories.AuditRepository
	security  *repositories.SecurityRepository
	settings  *repositories.SettingsRepository
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger

	writeTimeout time.Duration
	retryDelay   time.Duration
	forwarder    siem.Forwarder

	mu       sync.RWMutex
	cached   *models.AuditSettings
	cachedAt time.Time
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithWriteTimeout bounds each synchronous write.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) { r.writeTimeout = d }
}

// WithRetryDelay sets the pause before the single background retry of a failed write.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Recorder) { r.retryDelay = d }
}

// WithForwarder attaches a SIEM forwarder that receives a copy of every persisted
// security event. Forwarding happens off the write path and never fails it.
func WithForwarder(f siem.Forwarder) Option {
	return func(r *Recorder) { r.forwarder = f }
}

// New creates a Recorder over the given repositories.
func New(audits *repositories.AuditRepository, security *repositories.SecurityRepository, settings *repositories.SettingsRepository, sanitizer *sanitize.Sanitizer, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		audits:       audits,
		security:     security,
		settings:     settings,
		sanitizer:    sanitizer,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		retryDelay:   time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record sanitizes and persists an audit entry together with its change rows. The
// write is bounded by the configured timeout and never returns an error to abort the
// caller's business operation; failures are observable via metrics and the fallback
// log, and retried once in the background.
func (r *Recorder) Record(ctx context.Context, log *models.AuditLog) {
	if log.Severity == "" {
		log.Severity = models.SeverityLow
	}
	log.OldValues = r.sanitizer.Map(log.OldValues)
	log.NewValues = r.sanitizer.Map(log.NewValues)
	log.Context = r.sanitizer.Map(log.Context)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.audits.Create(writeCtx, log); err != nil {
		r.handleWriteFailure("audit_log", err, log.EventType, func(retryCtx context.Context) error {
			return r.audits.Create(retryCtx, log)
		}, slog.String("event_type", string(log.EventType)), slog.String("severity", string(log.Severity)))
		return
	}

	telemetry.AuditEventsRecordedTotal.WithLabelValues(string(log.EventType), string(log.Severity)).Inc()
}

// RecordSecurity persists a security event plus a companion SECURITY_EVENT audit
// entry, linked through the event's audit_log_id. The same non-fatal failure policy
// as Record applies.
func (r *Recorder) RecordSecurity(ctx context.Context, event *models.SecurityEvent) {
	event.AdditionalData = r.sanitizer.Map(event.AdditionalData)

	companion := &models.AuditLog{
		EventType:   models.EventSecurity,
		Severity:    models.SeverityHigh,
		ActorID:     event.ActorID,
		Description: event.Description,
		IPAddress:   &event.IPAddress,
		UserAgent:   event.UserAgent,
		Context: map[string]interface{}{
			"security_event_kind": string(event.Kind),
		},
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.writeTimeout)
	defer cancel()

	if err := r.audits.Create(writeCtx, companion); err == nil {
		event.AuditLogID = &companion.ID
		telemetry.AuditEventsRecordedTotal.WithLabelValues(string(companion.EventType), string(companion.Severity)).Inc()
	} else {
		// The security event is still worth writing on its own; it just loses the
		// back-link.
		telemetry.AuditWriteFailuresTotal.Inc()
		r.logger.Error("failed to write companion audit entry for security event",
			slog.String("kind", string(event.Kind)),
			slog.String("error", err.Error()))
	}

	if err := r.security.Create(writeCtx, event); err != nil {
		r.handleWriteFailure("security_event", err, models.EventSecurity, func(retryCtx context.Context) error {
			return r.security.Create(retryCtx, event)
		}, slog.String("kind", string(event.Kind)), slog.String("ip_address", event.IPAddress))
		return
	}

	telemetry.SecurityEventsTotal.WithLabelValues(string(event.Kind)).Inc()

	if r.forwarder != nil {
		rec := siem.NewRecord(event)
		fw := r.forwarder
		logger := r.logger
		safego.Go(func() {
			fwCtx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
			defer cancel()
			if err := fw.Forward(fwCtx, rec); err != nil {
				// Delivery is best-effort; the durable copy is already in Postgres.
				logger.Warn("siem forward failed", slog.String("kind", rec.Kind), slog.String("error", err.Error()))
			}
		})
	}
}

// handleWriteFailure implements the degraded-write policy: count it, escalate through
// the structured log so the entry is not silently lost, and retry exactly once.
func (r *Recorder) handleWriteFailure(table string, err error, eventType models.EventType, retry func(context.Context) error, attrs ...any) {
	telemetry.AuditWriteFailuresTotal.Inc()

	logAttrs := append([]any{
		slog.String("table", table),
		slog.String("error", err.Error()),
	}, attrs...)
	r.logger.Error("audit write failed, using fallback channel", logAttrs...)

	delay := r.retryDelay
	timeout := r.writeTimeout
	logger := r.logger
	safego.Go(func() {
		time.Sleep(delay)
		retryCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if retryErr := retry(retryCtx); retryErr != nil {
			telemetry.AuditWriteFailuresTotal.Inc()
			logger.Error("audit write retry failed, entry dropped",
				slog.String("table", table),
				slog.String("event_type", string(eventType)),
				slog.String("error", retryErr.Error()))
			return
		}
		logger.Info("audit write retry succeeded", slog.String("table", table))
	})
}

// Settings returns the current audit settings, served from a short-lived cache so the
// pipeline can read them once per request without touching the database every time.
func (r *Recorder) Settings(ctx context.Context) *models.AuditSettings {
	r.mu.RLock()
	if r.cached != nil && time.Since(r.cachedAt) < settingsTTL {
		cached := r.cached
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	settings, err := r.settings.Get(ctx)
	if err != nil {
		r.logger.Warn("failed to load audit settings, using defaults", slog.String("error", err.Error()))
		return models.DefaultAuditSettings()
	}

	r.mu.Lock()
	r.cached = settings
	r.cachedAt = time.Now()
	r.mu.Unlock()

	return settings
}

// UpdateSettings persists new settings, invalidates the cache, and writes a
// CONFIG_CHANGE audit entry describing the change.
func (r *Recorder) UpdateSettings(ctx context.Context, updated *models.AuditSettings, actorID *string) error {
	previous := r.Settings(ctx)

	if err := r.settings.Update(ctx, updated); err != nil {
		return err
	}

	r.InvalidateSettings()

	r.Record(ctx, &models.AuditLog{
		EventType:   models.EventConfigChange,
		Severity:    models.SeverityMedium,
		ActorID:     actorID,
		Description: "audit settings updated",
		OldValues:   settingsSnapshot(previous),
		NewValues:   settingsSnapshot(updated),
	})

	return nil
}

// InvalidateSettings drops the cached settings so the next read hits the database.
func (r *Recorder) InvalidateSettings() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

func settingsSnapshot(s *models.AuditSettings) map[string]interface{} {
	return map[string]interface{}{
		"retention_days":              s.RetentionDays,
		"email_alerts_enabled":        s.EmailAlertsEnabled,
		"failed_login_threshold":      s.FailedLoginThreshold,
		"transaction_alert_threshold": s.TransactionAlertThreshold,
		"log_api_calls":               s.LogAPICalls,
		"log_read_operations":         s.LogReadOperations,
	}
}
