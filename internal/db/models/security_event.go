// security_event.go defines the SecurityEvent model for threat signals raised by the
// request pipeline's detectors and rate tracker. Events start unresolved and are closed
// by an operator; resolution is irreversible and idempotent.
package models

import "time"

// SecurityEventKind names the detector or heuristic that raised the event.
type SecurityEventKind string

const (
	SecurityFailedLogin        SecurityEventKind = "FAILED_LOGIN"
	SecurityBruteForce         SecurityEventKind = "BRUTE_FORCE"
	SecuritySQLInjection       SecurityEventKind = "SQL_INJECTION"
	SecurityXSSAttempt         SecurityEventKind = "XSS_ATTEMPT"
	SecuritySuspiciousActivity SecurityEventKind = "SUSPICIOUS_ACTIVITY"
	SecurityUnauthorizedAccess SecurityEventKind = "UNAUTHORIZED_ACCESS"
)

// IsValid reports whether k is a known security event kind.
func (k SecurityEventKind) IsValid() bool {
	switch k {
	case SecurityFailedLogin, SecurityBruteForce, SecuritySQLInjection,
		SecurityXSSAttempt, SecuritySuspiciousActivity, SecurityUnauthorizedAccess:
		return true
	}
	return false
}

// SecurityEvent is a threat signal awaiting operator triage. Detector false positives
// are expected; they surface here with Resolved=false rather than being suppressed.
type SecurityEvent struct {
	ID             string
	Kind           SecurityEventKind
	IPAddress      string
	UserAgent      *string
	ActorID        *string
	Description    string
	AdditionalData map[string]interface{} // JSONB, sanitized before persistence
	AuditLogID     *string                // back-link to the companion audit entry
	Resolved       bool
	ResolvedBy     *string
	ResolvedAt     *time.Time
	CreatedAt      time.Time
}
