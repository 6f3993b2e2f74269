// Package models - audit_log.go defines the AuditLog model, the append-only ledger entry
// recording who did what, when, and from where, plus the event-type and severity enums
// shared across the audit subsystem.
package models

import "time"

// EventType classifies an auditable occurrence.
type EventType string

const (
	EventLogin            EventType = "LOGIN"
	EventLogout           EventType = "LOGOUT"
	EventCreate           EventType = "CREATE"
	EventUpdate           EventType = "UPDATE"
	EventDelete           EventType = "DELETE"
	EventPasswordChange   EventType = "PASSWORD_CHANGE"
	EventPermissionChange EventType = "PERMISSION_CHANGE"
	EventDeposit          EventType = "DEPOSIT"
	EventWithdrawal       EventType = "WITHDRAWAL"
	EventInvestment       EventType = "INVESTMENT"
	EventPayment          EventType = "PAYMENT"
	EventConfigChange     EventType = "CONFIG_CHANGE"
	EventSecurity         EventType = "SECURITY_EVENT"
	EventNotification     EventType = "NOTIFICATION"
	EventReferral         EventType = "REFERRAL"
)

// ValidEventTypes lists every accepted event type, used for report-filter validation.
var ValidEventTypes = []EventType{
	EventLogin, EventLogout, EventCreate, EventUpdate, EventDelete,
	EventPasswordChange, EventPermissionChange, EventDeposit, EventWithdrawal,
	EventInvestment, EventPayment, EventConfigChange, EventSecurity,
	EventNotification, EventReferral,
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	for _, v := range ValidEventTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Severity grades how security-relevant an audit entry is.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SubjectRef is a polymorphic reference to the business entity an audit entry is about:
// an entity kind registered with the capture registry plus that entity's opaque id.
// The zero value means "no subject" (e.g. anonymous request logging).
type SubjectRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// IsZero reports whether the reference points at nothing.
func (r SubjectRef) IsZero() bool { return r.Kind == "" && r.ID == "" }

// String renders the reference as "kind:id", empty when zero.
func (r SubjectRef) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Kind + ":" + r.ID
}

// AuditLog is one row of the audit trail. Rows are immutable once written; the only
// delete path is bulk retention cleanup.
type AuditLog struct {
	ID          string
	EventType   EventType
	Severity    Severity
	ActorID     *string // nil for anonymous or system events
	SubjectKind *string // polymorphic subject, both nil when absent
	SubjectID   *string
	Description string
	IPAddress   *string
	UserAgent   *string
	SessionID   *string
	OldValues   map[string]interface{} // JSONB, sanitized before persistence
	NewValues   map[string]interface{} // JSONB, sanitized before persistence
	Context     map[string]interface{} // JSONB, sanitized before persistence
	CreatedAt   time.Time

	// Changes is populated on detail reads; it is never written through this struct.
	Changes []*DataChangeHistory
}

// Subject returns the polymorphic subject reference, zero when absent.
func (l *AuditLog) Subject() SubjectRef {
	if l.SubjectKind == nil || l.SubjectID == nil {
		return SubjectRef{}
	}
	return SubjectRef{Kind: *l.SubjectKind, ID: *l.SubjectID}
}

// SetSubject stores a non-zero subject reference on the entry.
func (l *AuditLog) SetSubject(ref SubjectRef) {
	if ref.IsZero() {
		return
	}
	l.SubjectKind = &ref.Kind
	l.SubjectID = &ref.ID
}
