// Package jobs runs the audit subsystem's background work: the periodic retention
// cleanup that enforces the configured data lifetime without operator intervention.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/telemetry"
)

// RetentionJob periodically purges audit data older than the retention period from
// the current audit settings. Retention is read on every pass, so operators can
// change it at runtime without a restart.
type RetentionJob struct {
	audits *repositories.AuditRepository
	rec    *recorder.Recorder
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRetentionJob creates a retention job over the given repository and recorder.
func NewRetentionJob(audits *repositories.AuditRepository, rec *recorder.Recorder, logger *slog.Logger) *RetentionJob {
	return &RetentionJob{
		audits: audits,
		rec:    rec,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start launches the cleanup loop. The first pass runs after one full interval, not
// immediately, so a crash-looping process cannot purge on every restart.
func (j *RetentionJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("starting retention job", "interval", interval)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.RunOnce(ctx)
			case <-j.stopCh:
				j.logger.Info("retention job stopped")
				return
			case <-ctx.Done():
				j.logger.Info("retention job context cancelled")
				return
			}
		}
	}()
}

// Stop stops the cleanup loop and waits for an in-flight pass to finish.
func (j *RetentionJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

// RunOnce executes a single cleanup pass using the current retention setting. A
// retention of zero disables purging entirely.
func (j *RetentionJob) RunOnce(ctx context.Context) {
	days := j.rec.Settings(ctx).RetentionDays
	if days < 1 {
		j.logger.Debug("retention disabled, skipping cleanup pass")
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := j.audits.Cleanup(ctx, cutoff, false)
	if err != nil {
		j.logger.Error("retention cleanup failed", "error", err, "cutoff", cutoff)
		return
	}

	if result.DeletedCount == 0 && result.DeletedChanges == 0 && result.DeletedSecurityEvents == 0 {
		j.logger.Debug("retention cleanup found nothing to purge", "cutoff", cutoff)
		return
	}

	telemetry.RetentionDeletedTotal.WithLabelValues("audit_logs").Add(float64(result.DeletedCount))
	telemetry.RetentionDeletedTotal.WithLabelValues("data_change_history").Add(float64(result.DeletedChanges))
	telemetry.RetentionDeletedTotal.WithLabelValues("security_events").Add(float64(result.DeletedSecurityEvents))

	j.logger.Info("retention cleanup completed",
		"cutoff", cutoff,
		"deleted_count", result.DeletedCount,
		"deleted_changes", result.DeletedChanges,
		"deleted_security_events", result.DeletedSecurityEvents,
	)

	j.rec.Record(ctx, &models.AuditLog{
		EventType:   models.EventConfigChange,
		Severity:    models.SeverityLow,
		Description: fmt.Sprintf("scheduled retention cleanup removed %d audit entries older than %d days", result.DeletedCount, days),
		Context: map[string]interface{}{
			"max_age_days":            days,
			"cutoff":                  cutoff.Format(time.RFC3339),
			"deleted_count":           result.DeletedCount,
			"deleted_changes":         result.DeletedChanges,
			"deleted_security_events": result.DeletedSecurityEvents,
			"scheduled":               true,
		},
	})
}
