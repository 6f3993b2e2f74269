package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

var settingsCols = []string{
	"retention_days", "email_alerts_enabled", "failed_login_threshold",
	"transaction_alert_threshold", "log_api_calls", "log_read_operations",
	"updated_at",
}

func newSettingsRepo(t *testing.T) (*SettingsRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSettingsRepository(db), mock
}

func TestSettingsGet(t *testing.T) {
	repo, mock := newSettingsRepo(t)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(sqlmock.NewRows(settingsCols).
			AddRow(90, true, 3, 5000.0, true, false, time.Now()))

	settings, err := repo.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", settings.RetentionDays)
	}
	if settings.FailedLoginThreshold != 3 {
		t.Errorf("FailedLoginThreshold = %d, want 3", settings.FailedLoginThreshold)
	}
}

func TestSettingsGet_MissingRowFallsBackToDefaults(t *testing.T) {
	repo, mock := newSettingsRepo(t)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(sqlmock.NewRows(settingsCols))

	settings, err := repo.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.RetentionDays != models.DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want default %d", settings.RetentionDays, models.DefaultRetentionDays)
	}
}

func TestSettingsUpdate(t *testing.T) {
	repo, mock := newSettingsRepo(t)
	mock.ExpectExec("UPDATE audit_settings").
		WillReturnResult(sqlmock.NewResult(0, 1))

	settings := models.DefaultAuditSettings()
	settings.RetentionDays = 180
	if err := repo.Update(context.Background(), settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestSettingsUpdate_RejectsInvalid(t *testing.T) {
	repo, _ := newSettingsRepo(t)

	settings := models.DefaultAuditSettings()
	settings.FailedLoginThreshold = 0
	if err := repo.Update(context.Background(), settings); err == nil {
		t.Error("expected validation error, got nil")
	}
}
