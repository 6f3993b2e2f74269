// audit_settings.go defines the AuditSettings singleton: process-wide audit
// configuration stored in a single database row, read through a cache on the request
// hot path and replaced atomically on administrator update.
package models

import "time"

// Default detection thresholds, matching the shipped configuration.
const (
	DefaultRetentionDays             = 365
	DefaultFailedLoginThreshold      = 5
	DefaultTransactionAlertThreshold = 10000
)

// AuditSettings is the single live audit configuration instance. Exactly one row
// exists (id=1, enforced by the schema); updates replace the whole row.
type AuditSettings struct {
	RetentionDays             int
	EmailAlertsEnabled        bool
	FailedLoginThreshold      int
	TransactionAlertThreshold float64
	LogAPICalls               bool
	LogReadOperations         bool
	UpdatedAt                 time.Time
}

// DefaultAuditSettings returns the settings seeded at system initialization.
func DefaultAuditSettings() *AuditSettings {
	return &AuditSettings{
		RetentionDays:             DefaultRetentionDays,
		EmailAlertsEnabled:        true,
		FailedLoginThreshold:      DefaultFailedLoginThreshold,
		TransactionAlertThreshold: DefaultTransactionAlertThreshold,
		LogAPICalls:               true,
		LogReadOperations:         false,
	}
}

// Validate rejects settings that would disable required invariants.
func (s *AuditSettings) Validate() error {
	if s.RetentionDays < 0 {
		return ErrInvalidSettings("retention_days must be >= 0")
	}
	if s.FailedLoginThreshold < 1 {
		return ErrInvalidSettings("failed_login_threshold must be >= 1")
	}
	if s.TransactionAlertThreshold < 0 {
		return ErrInvalidSettings("transaction_alert_threshold must be >= 0")
	}
	return nil
}

// ErrInvalidSettings is a validation failure on an AuditSettings update.
type ErrInvalidSettings string

func (e ErrInvalidSettings) Error() string { return "invalid audit settings: " + string(e) }
