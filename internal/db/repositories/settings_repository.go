// settings_repository.go implements SettingsRepository for the single-row
// audit_settings table. The row is created by migration and only ever updated.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

// SettingsRepository handles audit settings database operations
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new SettingsRepository
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves the audit settings singleton. Falls back to defaults if the row is
// missing, which only happens on a database that skipped migrations.
func (r *SettingsRepository) Get(ctx context.Context) (*models.AuditSettings, error) {
	query := `
		SELECT retention_days, email_alerts_enabled, failed_login_threshold, transaction_alert_threshold, log_api_calls, log_read_operations, updated_at
		FROM audit_settings
		WHERE id = 1
	`

	settings := &models.AuditSettings{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&settings.RetentionDays,
		&settings.EmailAlertsEnabled,
		&settings.FailedLoginThreshold,
		&settings.TransactionAlertThreshold,
		&settings.LogAPICalls,
		&settings.LogReadOperations,
		&settings.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return models.DefaultAuditSettings(), nil
	}
	if err != nil {
		return nil, err
	}

	return settings, nil
}

// Update overwrites the audit settings singleton
func (r *SettingsRepository) Update(ctx context.Context, settings *models.AuditSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	settings.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE audit_settings
		SET retention_days = $1,
		    email_alerts_enabled = $2,
		    failed_login_threshold = $3,
		    transaction_alert_threshold = $4,
		    log_api_calls = $5,
		    log_read_operations = $6,
		    updated_at = $7
		WHERE id = 1
	`

	_, err := r.db.ExecContext(ctx, query,
		settings.RetentionDays,
		settings.EmailAlertsEnabled,
		settings.FailedLoginThreshold,
		settings.TransactionAlertThreshold,
		settings.LogAPICalls,
		settings.LogReadOperations,
		settings.UpdatedAt,
	)

	return err
}
