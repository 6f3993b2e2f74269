package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

var errDB = errors.New("database unavailable")

// auditCols matches the SELECT column order of the audit_logs repository queries.
var auditCols = []string{
	"id", "event_type", "severity", "actor_id", "subject_kind", "subject_id",
	"description", "ip_address", "user_agent", "session_id", "old_values", "new_values",
	"context", "created_at",
}

// securityCols matches the SELECT column order of the security_events repository queries.
var securityCols = []string{
	"id", "kind", "ip_address", "user_agent", "actor_id", "description",
	"additional_data", "audit_log_id", "resolved", "resolved_by", "resolved_at", "created_at",
}

var settingsCols = []string{
	"retention_days", "email_alerts_enabled", "failed_login_threshold",
	"transaction_alert_threshold", "log_api_calls", "log_read_operations", "updated_at",
}

func getJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v: %s", err, w.Body.String())
	}
	return resp
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewBuffer(data)
}

func sampleTime() time.Time {
	return time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
}

func sampleAuditRows(n int) *sqlmock.Rows {
	created := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(auditCols)
	if n >= 1 {
		rows.AddRow("log-1", "UPDATE", "LOW", "user-1", "account", "acct-1",
			"Updated account", "1.2.3.4", "curl/8.0", nil,
			[]byte(`{"balance":100}`), []byte(`{"balance":200}`), []byte(`{"latency_ms":12}`), created)
	}
	if n >= 2 {
		rows.AddRow("log-2", "SECURITY_EVENT", "HIGH", nil, nil, nil,
			"GET /api/v1/items - status 403", "5.6.7.8", nil, nil, nil, nil, nil, created.Add(time.Minute))
	}
	return rows
}

func sampleSecurityRow(resolved bool) *sqlmock.Rows {
	created := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(securityCols)
	if resolved {
		resolvedAt := created.Add(time.Hour)
		rows.AddRow("evt-1", "BRUTE_FORCE", "5.6.7.8", "curl/8.0", nil,
			"6 failed logins within window", []byte(`{"count":6}`), "log-2",
			true, "admin-1", resolvedAt, created)
	} else {
		rows.AddRow("evt-1", "BRUTE_FORCE", "5.6.7.8", "curl/8.0", nil,
			"6 failed logins within window", []byte(`{"count":6}`), "log-2",
			false, nil, nil, created)
	}
	return rows
}
