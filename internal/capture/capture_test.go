package capture

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/detect"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/sanitize"
)

func newHook(t *testing.T) (*Hook, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sanitizer := sanitize.New()
	rec := recorder.New(
		repositories.NewAuditRepository(db),
		repositories.NewSecurityRepository(db),
		repositories.NewSettingsRepository(db),
		sanitizer,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	hook := NewHook(NewRegistry(), rec, sanitizer, detect.NewMemoryTracker())
	return hook, mock
}

func expectAuditInsert(mock sqlmock.Sqlmock, changeRows int) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < changeRows; i++ {
		mock.ExpectExec("INSERT INTO data_change_history").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()
}

var settingsCols = []string{
	"retention_days", "email_alerts_enabled", "failed_login_threshold",
	"transaction_alert_threshold", "log_api_calls", "log_read_operations",
	"updated_at",
}

// ---------------------------------------------------------------------------
// CaptureChange
// ---------------------------------------------------------------------------

func TestCaptureChange_SingleFieldUpdate(t *testing.T) {
	hook, mock := newHook(t)
	expectAuditInsert(mock, 1)

	hook.CaptureChange(context.Background(), "account", "acct-1",
		map[string]interface{}{"rate": 5.0},
		map[string]interface{}{"rate": 6.0},
		RequestContext{})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureChange_NoOpDiffRecordsNothing(t *testing.T) {
	hook, mock := newHook(t)
	// No expectations: any database call fails the test.

	hook.CaptureChange(context.Background(), "account", "acct-1",
		map[string]interface{}{"rate": 5.0},
		map[string]interface{}{"rate": 5.0},
		RequestContext{})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureChange_ExcludedFieldsOmitted(t *testing.T) {
	hook, mock := newHook(t)
	hook.registry.Register(EntityPolicy{
		Kind:           "account",
		ExcludedFields: []string{"updated_at"},
		BaseSeverity:   models.SeverityLow,
	})
	// Only the rate change produces a row; updated_at is dropped, not masked.
	expectAuditInsert(mock, 1)

	hook.CaptureChange(context.Background(), "account", "acct-1",
		map[string]interface{}{"rate": 5.0, "updated_at": "t1"},
		map[string]interface{}{"rate": 6.0, "updated_at": "t2"},
		RequestContext{})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureChange_CreateAndDelete(t *testing.T) {
	hook, mock := newHook(t)

	expectAuditInsert(mock, 1)
	hook.CaptureChange(context.Background(), "account", "acct-1",
		nil,
		map[string]interface{}{"balance": 100},
		RequestContext{})

	expectAuditInsert(mock, 1)
	hook.CaptureChange(context.Background(), "account", "acct-1",
		map[string]interface{}{"balance": 100},
		nil,
		RequestContext{})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDiff_MasksSensitiveFieldValues(t *testing.T) {
	hook, _ := newHook(t)

	changes, _ := hook.diff(
		map[string]interface{}{"password": "old-secret", "email": "a@b.c"},
		map[string]interface{}{"password": "new-secret", "email": "x@y.z"},
	)

	require.Len(t, changes, 2)
	byField := map[string]*models.DataChangeHistory{}
	for _, c := range changes {
		byField[c.FieldName] = c
	}
	assert.Equal(t, sanitize.MaskToken, *byField["password"].OldValue)
	assert.Equal(t, sanitize.MaskToken, *byField["password"].NewValue)
	assert.Equal(t, "a@b.c", *byField["email"].OldValue)
}

func TestDiff_DeactivationDetected(t *testing.T) {
	hook, _ := newHook(t)

	changes, deactivated := hook.diff(
		map[string]interface{}{"is_active": true},
		map[string]interface{}{"is_active": false},
	)

	assert.Len(t, changes, 1)
	assert.True(t, deactivated)

	_, reactivated := hook.diff(
		map[string]interface{}{"is_active": false},
		map[string]interface{}{"is_active": true},
	)
	assert.False(t, reactivated)
}

// ---------------------------------------------------------------------------
// CaptureTransaction
// ---------------------------------------------------------------------------

func TestCaptureTransaction_BelowThreshold(t *testing.T) {
	hook, mock := newHook(t)

	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(sqlmock.NewRows(settingsCols).
			AddRow(365, true, 5, 10000.0, true, false, time.Now()))
	expectAuditInsert(mock, 0)

	ip := "1.2.3.4"
	hook.CaptureTransaction(context.Background(), models.EventDeposit, 500, "USD",
		RequestContext{IPAddress: &ip})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureTransaction_HighValueRaisesSecurityEvent(t *testing.T) {
	hook, mock := newHook(t)

	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(sqlmock.NewRows(settingsCols).
			AddRow(365, true, 5, 10000.0, true, false, time.Now()))
	// Transaction audit entry.
	expectAuditInsert(mock, 0)
	// Companion audit entry + security event.
	expectAuditInsert(mock, 0)
	mock.ExpectExec("INSERT INTO security_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ip := "1.2.3.4"
	hook.CaptureTransaction(context.Background(), models.EventWithdrawal, 15000, "USD",
		RequestContext{IPAddress: &ip})

	assert.NoError(t, mock.ExpectationsWereMet())
}

// windowRecordingTracker remembers the window each RecordAndCheck call used.
type windowRecordingTracker struct {
	windows []time.Duration
}

func (w *windowRecordingTracker) RecordAndCheck(_ context.Context, _, _ string, window time.Duration, _ int) (int, bool, error) {
	w.windows = append(w.windows, window)
	return 1, false, nil
}

func TestCaptureTransaction_ConfiguredWindowReachesTracker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sanitizer := sanitize.New()
	rec := recorder.New(
		repositories.NewAuditRepository(db),
		repositories.NewSecurityRepository(db),
		repositories.NewSettingsRepository(db),
		sanitizer,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	tracker := &windowRecordingTracker{}
	hook := NewHook(NewRegistry(), rec, sanitizer, tracker, WithTransactionWindow(30*time.Minute))

	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(sqlmock.NewRows(settingsCols).
			AddRow(365, true, 5, 10000.0, true, false, time.Now()))
	expectAuditInsert(mock, 0)
	expectAuditInsert(mock, 0)
	mock.ExpectExec("INSERT INTO security_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ip := "1.2.3.4"
	hook.CaptureTransaction(context.Background(), models.EventWithdrawal, 15000, "USD",
		RequestContext{IPAddress: &ip})

	require.Len(t, tracker.windows, 1)
	assert.Equal(t, 30*time.Minute, tracker.windows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCaptureTransaction_RepeatHighValueDeduplicated(t *testing.T) {
	hook, mock := newHook(t)

	// Settings cached after the first read; each call records one audit entry, but
	// only the first raises a security event within the dedup window.
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(sqlmock.NewRows(settingsCols).
			AddRow(365, true, 5, 10000.0, true, false, time.Now()))
	expectAuditInsert(mock, 0)
	expectAuditInsert(mock, 0)
	mock.ExpectExec("INSERT INTO security_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditInsert(mock, 0)

	ip := "1.2.3.4"
	hook.CaptureTransaction(context.Background(), models.EventWithdrawal, 15000, "USD",
		RequestContext{IPAddress: &ip})
	hook.CaptureTransaction(context.Background(), models.EventWithdrawal, 20000, "USD",
		RequestContext{IPAddress: &ip})

	assert.NoError(t, mock.ExpectationsWereMet())
}
