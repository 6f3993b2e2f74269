// responses.go maps the persistence models onto the JSON shapes the admin API serves.
// Models stay free of transport tags; the wire format is decided here.
package admin

import (
	"time"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

type auditLogResponse struct {
	ID          string                 `json:"id"`
	EventType   models.EventType       `json:"event_type"`
	Severity    models.Severity        `json:"severity"`
	ActorID     *string                `json:"actor_id"`
	Subject     *models.SubjectRef     `json:"subject,omitempty"`
	Description string                 `json:"description"`
	IPAddress   *string                `json:"ip_address"`
	UserAgent   *string                `json:"user_agent"`
	SessionID   *string                `json:"session_id"`
	OldValues   map[string]interface{} `json:"old_values,omitempty"`
	NewValues   map[string]interface{} `json:"new_values,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Changes     []changeResponse       `json:"changes,omitempty"`
}

type changeResponse struct {
	ID         string    `json:"id"`
	AuditLogID string    `json:"audit_log_id"`
	FieldName  string    `json:"field_name"`
	OldValue   *string   `json:"old_value"`
	NewValue   *string   `json:"new_value"`
	CreatedAt  time.Time `json:"created_at"`
}

type securityEventResponse struct {
	ID             string                   `json:"id"`
	Kind           models.SecurityEventKind `json:"kind"`
	IPAddress      string                   `json:"ip_address"`
	UserAgent      *string                  `json:"user_agent"`
	ActorID        *string                  `json:"actor_id"`
	Description    string                   `json:"description"`
	AdditionalData map[string]interface{}   `json:"additional_data,omitempty"`
	AuditLogID     *string                  `json:"audit_log_id"`
	Resolved       bool                     `json:"resolved"`
	ResolvedBy     *string                  `json:"resolved_by"`
	ResolvedAt     *time.Time               `json:"resolved_at"`
	CreatedAt      time.Time                `json:"created_at"`
}

type settingsResponse struct {
	RetentionDays             int       `json:"retention_days"`
	EmailAlertsEnabled        bool      `json:"email_alerts_enabled"`
	FailedLoginThreshold      int       `json:"failed_login_threshold"`
	TransactionAlertThreshold float64   `json:"transaction_alert_threshold"`
	LogAPICalls               bool      `json:"log_api_calls"`
	LogReadOperations         bool      `json:"log_read_operations"`
	UpdatedAt                 time.Time `json:"updated_at"`
}

func toAuditLogResponse(l *models.AuditLog) auditLogResponse {
	resp := auditLogResponse{
		ID:          l.ID,
		EventType:   l.EventType,
		Severity:    l.Severity,
		ActorID:     l.ActorID,
		Description: l.Description,
		IPAddress:   l.IPAddress,
		UserAgent:   l.UserAgent,
		SessionID:   l.SessionID,
		OldValues:   l.OldValues,
		NewValues:   l.NewValues,
		Context:     l.Context,
		CreatedAt:   l.CreatedAt,
	}
	if subject := l.Subject(); !subject.IsZero() {
		resp.Subject = &subject
	}
	for _, ch := range l.Changes {
		resp.Changes = append(resp.Changes, toChangeResponse(ch))
	}
	return resp
}

func toAuditLogList(logs []*models.AuditLog) []auditLogResponse {
	out := make([]auditLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, toAuditLogResponse(l))
	}
	return out
}

func toChangeResponse(ch *models.DataChangeHistory) changeResponse {
	return changeResponse{
		ID:         ch.ID,
		AuditLogID: ch.AuditLogID,
		FieldName:  ch.FieldName,
		OldValue:   ch.OldValue,
		NewValue:   ch.NewValue,
		CreatedAt:  ch.CreatedAt,
	}
}

func toChangeList(changes []*models.DataChangeHistory) []changeResponse {
	out := make([]changeResponse, 0, len(changes))
	for _, ch := range changes {
		out = append(out, toChangeResponse(ch))
	}
	return out
}

func toSecurityEventResponse(e *models.SecurityEvent) securityEventResponse {
	return securityEventResponse{
		ID:             e.ID,
		Kind:           e.Kind,
		IPAddress:      e.IPAddress,
		UserAgent:      e.UserAgent,
		ActorID:        e.ActorID,
		Description:    e.Description,
		AdditionalData: e.AdditionalData,
		AuditLogID:     e.AuditLogID,
		Resolved:       e.Resolved,
		ResolvedBy:     e.ResolvedBy,
		ResolvedAt:     e.ResolvedAt,
		CreatedAt:      e.CreatedAt,
	}
}

func toSecurityEventList(events []*models.SecurityEvent) []securityEventResponse {
	out := make([]securityEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toSecurityEventResponse(e))
	}
	return out
}

func toSettingsResponse(s *models.AuditSettings) settingsResponse {
	return settingsResponse{
		RetentionDays:             s.RetentionDays,
		EmailAlertsEnabled:        s.EmailAlertsEnabled,
		FailedLoginThreshold:      s.FailedLoginThreshold,
		TransactionAlertThreshold: s.TransactionAlertThreshold,
		LogAPICalls:               s.LogAPICalls,
		LogReadOperations:         s.LogReadOperations,
		UpdatedAt:                 s.UpdatedAt,
	}
}
