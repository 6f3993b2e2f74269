package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var securityCols = []string{
	"id", "kind", "ip_address", "user_agent", "actor_id", "description",
	"additional_data", "audit_log_id", "resolved", "resolved_by", "resolved_at",
	"created_at",
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newSecurityRepo(t *testing.T) (*SecurityRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSecurityRepository(db), mock
}

func unresolvedEventRow() *sqlmock.Rows {
	return sqlmock.NewRows(securityCols).
		AddRow("evt-1", "BRUTE_FORCE", "1.2.3.4", "curl/8.0", nil,
			"5 failed logins within window", []byte(`{"count":5}`), nil,
			false, nil, nil, time.Now())
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestSecurityCreate_Success(t *testing.T) {
	repo, mock := newSecurityRepo(t)
	mock.ExpectExec("INSERT INTO security_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	event := &models.SecurityEvent{
		Kind:        models.SecurityBruteForce,
		IPAddress:   "1.2.3.4",
		Description: "5 failed logins within window",
		AdditionalData: map[string]interface{}{
			"count": 5,
		},
	}
	if err := repo.Create(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.ID == "" {
		t.Error("expected ID to be assigned")
	}
}

func TestSecurityCreate_DBError(t *testing.T) {
	repo, mock := newSecurityRepo(t)
	mock.ExpectExec("INSERT INTO security_events").
		WillReturnError(errDB)

	event := &models.SecurityEvent{Kind: models.SecuritySQLInjection, IPAddress: "1.2.3.4"}
	if err := repo.Create(context.Background(), event); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestSecurityList_UnresolvedOnly(t *testing.T) {
	repo, mock := newSecurityRepo(t)
	resolved := false

	mock.ExpectQuery("SELECT COUNT.*FROM security_events.*resolved").
		WithArgs(resolved).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT id.*FROM security_events.*resolved").
		WillReturnRows(unresolvedEventRow())

	events, total, err := repo.List(context.Background(), SecurityFilters{Resolved: &resolved}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
	if events[0].Kind != models.SecurityBruteForce {
		t.Errorf("Kind = %q, want BRUTE_FORCE", events[0].Kind)
	}
	if events[0].AdditionalData["count"] != float64(5) {
		t.Errorf("AdditionalData[count] = %v, want 5", events[0].AdditionalData["count"])
	}
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolve_MarksUnresolvedEvent(t *testing.T) {
	repo, mock := newSecurityRepo(t)

	mock.ExpectExec("UPDATE security_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	resolvedAt := time.Now()
	mock.ExpectQuery("SELECT id.*FROM security_events").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows(securityCols).
			AddRow("evt-1", "BRUTE_FORCE", "1.2.3.4", nil, nil, "desc", nil, nil,
				true, "analyst-1", resolvedAt, time.Now()))

	event, err := repo.Resolve(context.Background(), "evt-1", "analyst-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !event.Resolved {
		t.Error("expected event to be resolved")
	}
	if event.ResolvedBy == nil || *event.ResolvedBy != "analyst-1" {
		t.Errorf("ResolvedBy = %v, want analyst-1", event.ResolvedBy)
	}
}

func TestResolve_AlreadyResolvedKeepsOriginalMetadata(t *testing.T) {
	repo, mock := newSecurityRepo(t)

	// The guarded UPDATE touches zero rows; the re-read returns the original
	// resolution metadata.
	mock.ExpectExec("UPDATE security_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	firstResolvedAt := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT id.*FROM security_events").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows(securityCols).
			AddRow("evt-1", "BRUTE_FORCE", "1.2.3.4", nil, nil, "desc", nil, nil,
				true, "analyst-1", firstResolvedAt, time.Now()))

	event, err := repo.Resolve(context.Background(), "evt-1", "analyst-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *event.ResolvedBy != "analyst-1" {
		t.Errorf("ResolvedBy = %q, want analyst-1 (original resolver)", *event.ResolvedBy)
	}
	if !event.ResolvedAt.Equal(firstResolvedAt) {
		t.Errorf("ResolvedAt = %v, want original %v", event.ResolvedAt, firstResolvedAt)
	}
}

func TestResolve_NotFound(t *testing.T) {
	repo, mock := newSecurityRepo(t)

	mock.ExpectExec("UPDATE security_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id.*FROM security_events").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(securityCols))

	event, err := repo.Resolve(context.Background(), "missing", "analyst-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != nil {
		t.Errorf("expected nil, got %+v", event)
	}
}

// ---------------------------------------------------------------------------
// BulkResolve
// ---------------------------------------------------------------------------

func TestBulkResolve(t *testing.T) {
	repo, mock := newSecurityRepo(t)

	mock.ExpectExec("UPDATE security_events").
		WillReturnResult(sqlmock.NewResult(0, 2))

	affected, err := repo.BulkResolve(context.Background(), []string{"evt-1", "evt-2", "evt-3"}, "analyst-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, want 2", affected)
	}
}

func TestBulkResolve_EmptySet(t *testing.T) {
	repo, _ := newSecurityRepo(t)

	affected, err := repo.BulkResolve(context.Background(), nil, "analyst-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 0 {
		t.Errorf("affected = %d, want 0", affected)
	}
}

// ---------------------------------------------------------------------------
// CountSince
// ---------------------------------------------------------------------------

func TestCountSince(t *testing.T) {
	repo, mock := newSecurityRepo(t)
	since := time.Now().Add(-15 * time.Minute)

	mock.ExpectQuery("SELECT COUNT.*FROM security_events").
		WithArgs("BRUTE_FORCE", "1.2.3.4", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountSince(context.Background(), models.SecurityBruteForce, "1.2.3.4", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
