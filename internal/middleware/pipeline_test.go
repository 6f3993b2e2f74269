package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/detect"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/sanitize"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newPipelineEnv builds a PipelineConfig backed by a sqlmock database, so tests can
// register exactly the writes they expect and fail on anything missing.
func newPipelineEnv(t *testing.T) (PipelineConfig, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := recorder.New(
		repositories.NewAuditRepository(db),
		repositories.NewSecurityRepository(db),
		repositories.NewSettingsRepository(db),
		sanitize.New(),
		logger,
	)

	return PipelineConfig{
		Detector:     detect.NewDetector(detect.DefaultRules()),
		Tracker:      detect.NewMemoryTracker(),
		Recorder:     rec,
		Security:     repositories.NewSecurityRepository(db),
		LoginPaths:   []string{"/api/auth/login"},
		DedupeAlerts: true,
	}, mock
}

var pipelineSettingsCols = []string{
	"retention_days", "email_alerts_enabled", "failed_login_threshold",
	"transaction_alert_threshold", "log_api_calls", "log_read_operations",
	"updated_at",
}

func settingsRows(failedLoginThreshold int, logAPICalls, logReadOperations bool) *sqlmock.Rows {
	return sqlmock.NewRows(pipelineSettingsCols).
		AddRow(365, true, failedLoginThreshold, 10000.0, logAPICalls, logReadOperations, time.Now())
}

func expectAuditWrite(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

// expectSecurityWrite matches one RecordSecurity call: the companion audit entry first,
// then the security event row.
func expectSecurityWrite(mock sqlmock.Sqlmock) {
	expectAuditWrite(mock)
	mock.ExpectExec("INSERT INTO security_events").WillReturnResult(sqlmock.NewResult(1, 1))
}

func serve(cfg PipelineConfig, method, target string, handler gin.HandlerFunc, headers map[string]string) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(AuditPipeline(cfg))
	r.Handle(method, "/api/auth/login", handler)
	r.Handle(method, "/api/v1/accounts", handler)
	r.GET("/api/v1/items", handler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Recording predicate
// ---------------------------------------------------------------------------

func TestAuditPipeline_CleanReadNotRecorded(t *testing.T) {
	cfg, mock := newPipelineEnv(t)

	// Only the settings read is registered. Reads are not logged by default, so no
	// audit insert may happen.
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(5, true, false))

	w := serve(cfg, http.MethodGet, "/api/v1/items", func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, nil)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuditPipeline_RecordsMutatingRequest(t *testing.T) {
	cfg, mock := newPipelineEnv(t)

	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(5, true, false))
	expectAuditWrite(mock)

	w := serve(cfg, http.MethodPost, "/api/v1/accounts", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	}, nil)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Threat detection
// ---------------------------------------------------------------------------

func TestAuditPipeline_FlagsSQLInjection(t *testing.T) {
	cfg, mock := newPipelineEnv(t)

	// The flagged query raises a security event before the handler runs; the GET
	// itself is still not audit-logged (read logging is off).
	expectSecurityWrite(mock)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(5, true, false))

	w := serve(cfg, http.MethodGet, "/api/v1/items?q=1'--", func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, nil)

	// Without HardBlock the request proceeds normally.
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuditPipeline_FlagsScannerUserAgent(t *testing.T) {
	cfg, mock := newPipelineEnv(t)

	expectSecurityWrite(mock)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(5, true, false))

	w := serve(cfg, http.MethodGet, "/api/v1/items", func(c *gin.Context) {
		c.Status(http.StatusOK)
	}, map[string]string{"User-Agent": "sqlmap/1.7.2#stable"})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuditPipeline_HardBlockRejectsFlaggedRequest(t *testing.T) {
	cfg, mock := newPipelineEnv(t)
	cfg.HardBlock = true

	handlerRan := false
	expectSecurityWrite(mock)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(5, true, false))
	// The 403 itself is a failed request, so it is audit-logged.
	expectAuditWrite(mock)

	w := serve(cfg, http.MethodGet, "/api/v1/items?q=%3Cscript%3Ealert(1)%3C/script%3E", func(c *gin.Context) {
		handlerRan = true
		c.Status(http.StatusOK)
	}, nil)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if handlerRan {
		t.Error("handler ran despite hard block")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Failed logins and brute force
// ---------------------------------------------------------------------------

func TestAuditPipeline_BruteForceAfterThreshold(t *testing.T) {
	cfg, mock := newPipelineEnv(t)
	cfg.BruteForceWindow = time.Minute

	// One router for all attempts so the deduper and rate tracker keep their state.
	r := gin.New()
	r.Use(AuditPipeline(cfg))
	r.POST("/api/auth/login", func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
	})
	attempt := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		return w
	}

	// Attempt 1: FAILED_LOGIN event, settings read (threshold 2, then cached),
	// tracker count 1, plus the 401 audit entry.
	expectSecurityWrite(mock)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(2, true, false))
	expectAuditWrite(mock)

	if w := attempt(); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	// Attempt 2 breaches the threshold: FAILED_LOGIN, the persisted-history dedup
	// check (empty), then BRUTE_FORCE and the 401 audit entry.
	expectSecurityWrite(mock)
	mock.ExpectQuery("SELECT COUNT.*FROM security_events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	expectSecurityWrite(mock)
	expectAuditWrite(mock)

	attempt()

	// Attempt 3 still breaches but the alert is deduplicated within the window, so
	// only the FAILED_LOGIN event and the 401 audit entry are written.
	expectSecurityWrite(mock)
	expectAuditWrite(mock)

	attempt()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAuditPipeline_PersistedBruteForceAlertSuppressesDuplicate(t *testing.T) {
	cfg, mock := newPipelineEnv(t)
	cfg.BruteForceWindow = time.Minute

	// With the repository wired, a breach consults the persisted history before
	// alerting: an event already stored within the window (another instance, or this
	// one before a restart) suppresses the duplicate.
	expectSecurityWrite(mock)
	mock.ExpectQuery("SELECT retention_days.*FROM audit_settings").
		WillReturnRows(settingsRows(1, true, false))
	mock.ExpectQuery("SELECT COUNT.*FROM security_events").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	expectAuditWrite(mock)

	w := serve(cfg, http.MethodPost, "/api/auth/login", func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad credentials"})
	}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Pure helpers
// ---------------------------------------------------------------------------

func TestResolveEventType(t *testing.T) {
	loginPaths := []string{"/api/auth/login"}
	tests := []struct {
		name   string
		path   string
		method string
		status int
		want   models.EventType
	}{
		{"failed request", "/api/v1/items", http.MethodGet, 404, models.EventSecurity},
		{"login post", "/api/auth/login", http.MethodPost, 200, models.EventLogin},
		{"logout", "/api/auth/logout", http.MethodPost, 200, models.EventLogout},
		{"password change", "/api/users/me/password", http.MethodPut, 200, models.EventPasswordChange},
		{"put", "/api/v1/accounts/42", http.MethodPut, 200, models.EventUpdate},
		{"patch", "/api/v1/accounts/42", http.MethodPatch, 200, models.EventUpdate},
		{"delete", "/api/v1/accounts/42", http.MethodDelete, 204, models.EventDelete},
		{"post fallback", "/api/v1/accounts", http.MethodPost, 201, models.EventCreate},
		{"get fallback", "/api/v1/accounts", http.MethodGet, 200, models.EventCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveEventType(tt.path, tt.method, tt.status, loginPaths)
			if got != tt.want {
				t.Errorf("resolveEventType(%s %s, %d) = %v, want %v", tt.method, tt.path, tt.status, got, tt.want)
			}
		})
	}
}

func TestResolveSeverity(t *testing.T) {
	tests := []struct {
		status  int
		latency time.Duration
		want    models.Severity
	}{
		{500, 0, models.SeverityCritical},
		{503, 0, models.SeverityCritical},
		{401, 0, models.SeverityHigh},
		{404, 0, models.SeverityHigh},
		{200, 4 * time.Second, models.SeverityMedium},
		{200, 100 * time.Millisecond, models.SeverityLow},
		{201, 0, models.SeverityLow},
	}
	for _, tt := range tests {
		if got := resolveSeverity(tt.status, tt.latency); got != tt.want {
			t.Errorf("resolveSeverity(%d, %v) = %v, want %v", tt.status, tt.latency, got, tt.want)
		}
	}
}

func TestShouldLog(t *testing.T) {
	tests := []struct {
		name              string
		method            string
		status            int
		logAPICalls       bool
		logReadOperations bool
		want              bool
	}{
		{"failure always logged", http.MethodGet, 500, false, false, true},
		{"client error always logged", http.MethodPost, 403, false, false, true},
		{"read off by default", http.MethodGet, 200, true, false, false},
		{"read on when enabled", http.MethodGet, 200, true, true, true},
		{"head follows read toggle", http.MethodHead, 200, true, false, false},
		{"write follows api toggle", http.MethodPost, 201, true, false, true},
		{"write suppressed", http.MethodDelete, 204, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := shouldLog(tt.method, tt.status, tt.logAPICalls, tt.logReadOperations)
			if got != tt.want {
				t.Errorf("shouldLog(%s, %d, %v, %v) = %v, want %v",
					tt.method, tt.status, tt.logAPICalls, tt.logReadOperations, got, tt.want)
			}
		})
	}
}

func TestIsLoginPath(t *testing.T) {
	loginPaths := []string{"/api/auth/login", "/api/auth/token"}

	if !isLoginPath("/api/auth/login", loginPaths) {
		t.Error("exact match not recognized")
	}
	if !isLoginPath("/api/auth/login/mfa", loginPaths) {
		t.Error("sub-path not recognized")
	}
	if isLoginPath("/api/auth/logins", loginPaths) {
		t.Error("prefix without separator should not match")
	}
	if isLoginPath("/api/v1/items", loginPaths) {
		t.Error("unrelated path matched")
	}
}
