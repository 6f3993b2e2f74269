package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
)

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newLogRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewLogHandlers(db)

	r := gin.New()
	r.GET("/logs", h.ListLogs)
	r.GET("/logs/:id", h.GetLog)
	r.GET("/changes", h.ListChanges)
	return mock, r
}

// ---------------------------------------------------------------------------
// ListLogs tests
// ---------------------------------------------------------------------------

func TestListLogs_Success(t *testing.T) {
	mock, r := newLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT id.*FROM audit_logs").
		WillReturnRows(sampleAuditRows(2))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := getJSON(t, w)
	logs, ok := resp["logs"].([]interface{})
	if !ok || len(logs) != 2 {
		t.Errorf("logs = %v, want 2 entries", resp["logs"])
	}
	pagination, _ := resp["pagination"].(map[string]interface{})
	if pagination["total"] != float64(2) {
		t.Errorf("pagination.total = %v, want 2", pagination["total"])
	}
}

func TestListLogs_FiltersArePassedThrough(t *testing.T) {
	mock, r := newLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs.*event_type.*severity").
		WithArgs("LOGIN", "HIGH").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("SELECT id.*FROM audit_logs.*event_type.*severity").
		WithArgs("LOGIN", "HIGH", 50, 0).
		WillReturnRows(sqlmock.NewRows(auditCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logs?event_type=LOGIN&severity=HIGH", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListLogs_InvalidDateRejected(t *testing.T) {
	_, r := newLogRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logs?start_date=not-a-date", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListLogs_DBError(t *testing.T) {
	mock, r := newLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.*FROM audit_logs").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logs", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetLog tests
// ---------------------------------------------------------------------------

func TestGetLog_Success(t *testing.T) {
	mock, r := newLogRouter(t)

	mock.ExpectQuery("SELECT id.*FROM audit_logs.*WHERE id").
		WithArgs("log-1").
		WillReturnRows(sampleAuditRows(1))
	mock.ExpectQuery("SELECT id, audit_log_id.*FROM data_change_history").
		WithArgs("log-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "audit_log_id", "field_name", "old_value", "new_value", "created_at"}).
			AddRow("ch-1", "log-1", "balance", "100", "200", sampleTime()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logs/log-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := getJSON(t, w)
	entry, _ := resp["log"].(map[string]interface{})
	if entry["id"] != "log-1" {
		t.Errorf("log.id = %v, want log-1", entry["id"])
	}
	changes, _ := entry["changes"].([]interface{})
	if len(changes) != 1 {
		t.Errorf("changes = %v, want 1 row", entry["changes"])
	}
	subject, _ := entry["subject"].(map[string]interface{})
	if subject["kind"] != "account" || subject["id"] != "acct-1" {
		t.Errorf("subject = %v, want account/acct-1", entry["subject"])
	}
}

func TestGetLog_NotFound(t *testing.T) {
	mock, r := newLogRouter(t)

	mock.ExpectQuery("SELECT id.*FROM audit_logs.*WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(auditCols))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/logs/missing", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListChanges tests
// ---------------------------------------------------------------------------

func TestListChanges_Success(t *testing.T) {
	mock, r := newLogRouter(t)

	mock.ExpectQuery("SELECT COUNT.*FROM data_change_history").
		WithArgs("account", "acct-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT .*FROM data_change_history").
		WithArgs("account", "acct-1", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "audit_log_id", "field_name", "old_value", "new_value", "created_at"}).
			AddRow("ch-1", "log-1", "balance", "100", "200", sampleTime()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/changes?subject_kind=account&subject_id=acct-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := getJSON(t, w)
	changes, _ := resp["changes"].([]interface{})
	if len(changes) != 1 {
		t.Errorf("changes = %v, want 1 row", resp["changes"])
	}
}
