// Package capture is the change-capture hook the business layer calls when it mutates
// an audited entity. It diffs old/new field snapshots against a per-entity-kind
// policy, masks sensitive fields, and hands the recorder one audit entry with its
// change rows as a single logical unit. It also classifies financial transactions and
// flags high-value ones through the rate tracker.
package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/detect"
	"github.com/finvest-platform/audit-service/internal/recorder"
	"github.com/finvest-platform/audit-service/internal/sanitize"
)

// EntityPolicy controls how one entity kind is captured.
type EntityPolicy struct {
	Kind string
	// TrackedFields restricts diffing to these fields; empty tracks everything.
	TrackedFields []string
	// ExcludedFields are omitted from snapshots and change rows entirely, not masked.
	// Use for noise like updated_at counters.
	ExcludedFields []string
	// BaseSeverity is the severity of a plain update to this kind.
	BaseSeverity models.Severity
}

// Registry holds capture policies by entity kind.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]EntityPolicy
}

// NewRegistry creates an empty policy registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]EntityPolicy)}
}

// Register adds or replaces the policy for a kind.
func (r *Registry) Register(p EntityPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Kind] = p
}

// Lookup returns the policy for a kind. Unregistered kinds get a permissive default:
// every field tracked, severity LOW.
func (r *Registry) Lookup(kind string) EntityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[kind]; ok {
		return p
	}
	return EntityPolicy{Kind: kind, BaseSeverity: models.SeverityLow}
}

// DefaultRegistry returns the built-in policies for the platform's audited entity
// kinds. Tracked fields are the ones worth a change row; everything else on those
// entities is churn. Callers can Register over these to adjust per deployment.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(EntityPolicy{
		Kind:          "user",
		TrackedFields: []string{"password", "email", "is_active", "is_staff", "is_superuser"},
		BaseSeverity:  models.SeverityHigh,
	})
	r.Register(EntityPolicy{
		Kind:          "investment",
		TrackedFields: []string{"amount", "status", "plan"},
		BaseSeverity:  models.SeverityHigh,
	})
	r.Register(EntityPolicy{
		Kind:          "investment_plan",
		TrackedFields: []string{"name", "min_amount", "max_amount", "daily_return_rate", "is_active"},
		BaseSeverity:  models.SeverityHigh,
	})
	r.Register(EntityPolicy{
		Kind:          "deposit",
		TrackedFields: []string{"amount", "status", "method"},
		BaseSeverity:  models.SeverityHigh,
	})
	r.Register(EntityPolicy{
		Kind:          "withdrawal",
		TrackedFields: []string{"amount", "status", "wallet_address"},
		BaseSeverity:  models.SeverityHigh,
	})
	r.Register(EntityPolicy{
		Kind:          "earning_record",
		TrackedFields: []string{"amount", "investment"},
		BaseSeverity:  models.SeverityMedium,
	})
	r.Register(EntityPolicy{
		Kind:          "payment_record",
		TrackedFields: []string{"amount", "status", "payment_type"},
		BaseSeverity:  models.SeverityHigh,
	})
	r.Register(EntityPolicy{
		Kind:          "referral_bonus",
		TrackedFields: []string{"amount", "status"},
		BaseSeverity:  models.SeverityMedium,
	})
	return r
}

// RequestContext carries the request attribution the business layer forwards into
// the hook.
type RequestContext struct {
	ActorID   *string
	IPAddress *string
	UserAgent *string
	SessionID *string
}

// Hook captures entity mutations and transactions into the audit trail.
type Hook struct {
	registry  *Registry
	recorder  *recorder.Recorder
	sanitizer *sanitize.Sanitizer
	tracker   detect.Tracker
	deduper   *detect.Deduper
	txWindow  time.Duration
}

// Option customizes a Hook.
type Option func(*Hook)

// WithTransactionWindow overrides the sliding window used for high-value
// transaction counting and alert dedup.
func WithTransactionWindow(w time.Duration) Option {
	return func(h *Hook) {
		if w > 0 {
			h.txWindow = w
		}
	}
}

// NewHook creates a change-capture hook.
func NewHook(registry *Registry, rec *recorder.Recorder, sanitizer *sanitize.Sanitizer, tracker detect.Tracker, opts ...Option) *Hook {
	h := &Hook{
		registry:  registry,
		recorder:  rec,
		sanitizer: sanitizer,
		tracker:   tracker,
		deduper:   detect.NewDeduper(),
		txWindow:  detect.DefaultTransactionWindow,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CaptureChange diffs the old and new snapshots of one entity and records the result.
// An empty old snapshot is a creation, an empty new snapshot a deletion. A no-op diff
// on an update records nothing.
func (h *Hook) CaptureChange(ctx context.Context, kind, id string, oldSnapshot, newSnapshot map[string]interface{}, reqCtx RequestContext) {
	policy := h.registry.Lookup(kind)

	oldSnapshot = filterFields(oldSnapshot, policy)
	newSnapshot = filterFields(newSnapshot, policy)

	eventType := models.EventUpdate
	switch {
	case len(oldSnapshot) == 0 && len(newSnapshot) > 0:
		eventType = models.EventCreate
	case len(oldSnapshot) > 0 && len(newSnapshot) == 0:
		eventType = models.EventDelete
	}

	changes, deactivated := h.diff(oldSnapshot, newSnapshot)
	if eventType == models.EventUpdate && len(changes) == 0 {
		return
	}

	severity := policy.BaseSeverity
	if severity == "" {
		severity = models.SeverityLow
	}
	if eventType == models.EventDelete || deactivated {
		severity = models.SeverityCritical
	}

	log := &models.AuditLog{
		EventType:   eventType,
		Severity:    severity,
		ActorID:     reqCtx.ActorID,
		Description: fmt.Sprintf("%s %s %s", eventType, kind, id),
		IPAddress:   reqCtx.IPAddress,
		UserAgent:   reqCtx.UserAgent,
		SessionID:   reqCtx.SessionID,
		OldValues:   oldSnapshot,
		NewValues:   newSnapshot,
		Changes:     changes,
	}
	log.SetSubject(models.SubjectRef{Kind: kind, ID: id})

	h.recorder.Record(ctx, log)
}

// CaptureTransaction records a financial transaction. Transactions at or above the
// configured alert threshold also feed the rate tracker under the HIGH_VALUE_TX kind
// and raise a SUSPICIOUS_ACTIVITY security event, deduplicated per IP and window.
func (h *Hook) CaptureTransaction(ctx context.Context, eventType models.EventType, amount float64, currency string, reqCtx RequestContext) {
	settings := h.recorder.Settings(ctx)

	highValue := amount >= settings.TransactionAlertThreshold

	log := &models.AuditLog{
		EventType:   eventType,
		Severity:    models.SeverityLow,
		ActorID:     reqCtx.ActorID,
		Description: fmt.Sprintf("%s of %.2f %s", eventType, amount, currency),
		IPAddress:   reqCtx.IPAddress,
		UserAgent:   reqCtx.UserAgent,
		SessionID:   reqCtx.SessionID,
		Context: map[string]interface{}{
			"amount":     amount,
			"currency":   currency,
			"high_value": highValue,
		},
	}
	if highValue {
		log.Severity = models.SeverityHigh
	}
	h.recorder.Record(ctx, log)

	if !highValue || reqCtx.IPAddress == nil {
		return
	}

	ip := *reqCtx.IPAddress
	count, _, err := h.tracker.RecordAndCheck(ctx, ip, detect.KindHighValueTx, h.txWindow, 1)
	if err != nil {
		count = 1
	}

	if !h.deduper.TryAcquire(detect.KindHighValueTx+"|"+ip, h.txWindow) {
		return
	}

	h.recorder.RecordSecurity(ctx, &models.SecurityEvent{
		Kind:        models.SecuritySuspiciousActivity,
		IPAddress:   ip,
		UserAgent:   reqCtx.UserAgent,
		ActorID:     reqCtx.ActorID,
		Description: fmt.Sprintf("high-value %s of %.2f %s at or above threshold %.2f", eventType, amount, currency, settings.TransactionAlertThreshold),
		AdditionalData: map[string]interface{}{
			"amount":    amount,
			"currency":  currency,
			"threshold": settings.TransactionAlertThreshold,
			"count":     count,
			"window":    h.txWindow.String(),
		},
	})
}

// diff produces one change row per field whose value differs between the snapshots.
// Sensitive field values are masked in the rows. The second return reports whether an
// is_active flag flipped from true to false, which escalates severity.
func (h *Hook) diff(oldSnapshot, newSnapshot map[string]interface{}) ([]*models.DataChangeHistory, bool) {
	fields := make(map[string]struct{}, len(oldSnapshot)+len(newSnapshot))
	for k := range oldSnapshot {
		fields[k] = struct{}{}
	}
	for k := range newSnapshot {
		fields[k] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []*models.DataChangeHistory
	deactivated := false

	for _, field := range names {
		oldVal, hadOld := oldSnapshot[field]
		newVal, hasNew := newSnapshot[field]
		if hadOld && hasNew && stringify(oldVal) == stringify(newVal) {
			continue
		}

		if field == "is_active" && hadOld && hasNew {
			if oldActive, ok := oldVal.(bool); ok && oldActive {
				if newActive, ok := newVal.(bool); ok && !newActive {
					deactivated = true
				}
			}
		}

		change := &models.DataChangeHistory{FieldName: field}
		if hadOld {
			change.OldValue = h.renderValue(field, oldVal)
		}
		if hasNew {
			change.NewValue = h.renderValue(field, newVal)
		}
		changes = append(changes, change)
	}

	return changes, deactivated
}

func (h *Hook) renderValue(field string, value interface{}) *string {
	var s string
	if h.sanitizer.Sensitive(field) {
		s = sanitize.MaskToken
	} else {
		s = stringify(value)
	}
	return &s
}

func stringify(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func filterFields(snapshot map[string]interface{}, policy EntityPolicy) map[string]interface{} {
	if snapshot == nil {
		return nil
	}

	tracked := make(map[string]struct{}, len(policy.TrackedFields))
	for _, f := range policy.TrackedFields {
		tracked[f] = struct{}{}
	}
	excluded := make(map[string]struct{}, len(policy.ExcludedFields))
	for _, f := range policy.ExcludedFields {
		excluded[f] = struct{}{}
	}

	out := make(map[string]interface{}, len(snapshot))
	for k, v := range snapshot {
		if _, skip := excluded[k]; skip {
			continue
		}
		if len(tracked) > 0 {
			if _, ok := tracked[k]; !ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}
