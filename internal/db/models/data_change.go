// data_change.go defines the DataChangeHistory model: one row per changed field per
// tracked entity mutation, written in the same transaction as the parent AuditLog and
// removed only by cascade when the parent is purged.
package models

import "time"

// DataChangeHistory records a single field-level diff. Values arrive already sanitized;
// fields on an entity kind's exclusion list are never written here at all.
type DataChangeHistory struct {
	ID         string
	AuditLogID string
	FieldName  string
	OldValue   *string // nil when the field had no previous value
	NewValue   *string // nil when the field was cleared
	CreatedAt  time.Time
}
