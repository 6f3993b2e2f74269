// audit_repository.go implements AuditRepository, the write and query side of the
// audit trail: transactional inserts of audit entries with their per-field change
// rows, filtered listing, aggregate reporting queries, and retention cleanup.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	EventType   *string
	Severity    *string
	ActorID     *string
	SubjectKind *string
	SubjectID   *string
	IPAddress   *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// ChangeFilters contains filters for querying field-level change history
type ChangeFilters struct {
	SubjectKind *string
	SubjectID   *string
	FieldName   *string
	StartDate   *time.Time
	EndDate     *time.Time
}

// Create inserts an audit log entry and its per-field change rows in one
// transaction. Either the entry and all of its changes become visible together or
// nothing does; readers never observe an entry with a partial change set.
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	oldJSON, err := marshalJSONB(log.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalJSONB(log.NewValues)
	if err != nil {
		return err
	}
	contextJSON, err := marshalJSONB(log.Context)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO audit_logs (id, event_type, severity, actor_id, subject_kind, subject_id, description, ip_address, user_agent, session_id, old_values, new_values, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = tx.ExecContext(ctx, query,
		log.ID,
		string(log.EventType),
		string(log.Severity),
		log.ActorID,
		log.SubjectKind,
		log.SubjectID,
		log.Description,
		log.IPAddress,
		log.UserAgent,
		log.SessionID,
		oldJSON,
		newJSON,
		contextJSON,
		log.CreatedAt,
	)
	if err != nil {
		return err
	}

	changeQuery := `
		INSERT INTO data_change_history (id, audit_log_id, field_name, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, change := range log.Changes {
		if change.ID == "" {
			change.ID = uuid.New().String()
		}
		change.AuditLogID = log.ID
		change.CreatedAt = log.CreatedAt

		_, err = tx.ExecContext(ctx, changeQuery,
			change.ID,
			change.AuditLogID,
			change.FieldName,
			change.OldValue,
			change.NewValue,
			change.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List retrieves audit logs with optional filters and pagination
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, event_type, severity, actor_id, subject_kind, subject_id, description, ip_address, user_agent, session_id, old_values, new_values, context, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(column string, value interface{}) {
		clause := fmt.Sprintf(` AND %s = $%d`, column, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, value)
		paramIndex++
	}

	if filters.EventType != nil {
		addFilter("event_type", *filters.EventType)
	}
	if filters.Severity != nil {
		addFilter("severity", *filters.Severity)
	}
	if filters.ActorID != nil {
		addFilter("actor_id", *filters.ActorID)
	}
	if filters.SubjectKind != nil {
		addFilter("subject_kind", *filters.SubjectKind)
	}
	if filters.SubjectID != nil {
		addFilter("subject_id", *filters.SubjectID)
	}
	if filters.IPAddress != nil {
		addFilter("ip_address", *filters.IPAddress)
	}

	if filters.StartDate != nil {
		clause := fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.StartDate)
		paramIndex++
	}
	if filters.EndDate != nil {
		clause := fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

// Get retrieves a single audit log entry by ID, including its change rows.
// Returns nil if no entry exists.
func (r *AuditRepository) Get(ctx context.Context, logID string) (*models.AuditLog, error) {
	query := `
		SELECT id, event_type, severity, actor_id, subject_kind, subject_id, description, ip_address, user_agent, session_id, old_values, new_values, context, created_at
		FROM audit_logs
		WHERE id = $1
	`

	row := r.db.QueryRowContext(ctx, query, logID)
	log, err := scanAuditLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	changeQuery := `
		SELECT id, audit_log_id, field_name, old_value, new_value, created_at
		FROM data_change_history
		WHERE audit_log_id = $1
		ORDER BY field_name
	`
	rows, err := r.db.QueryContext(ctx, changeQuery, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		change := &models.DataChangeHistory{}
		err := rows.Scan(
			&change.ID,
			&change.AuditLogID,
			&change.FieldName,
			&change.OldValue,
			&change.NewValue,
			&change.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		log.Changes = append(log.Changes, change)
	}

	return log, rows.Err()
}

// ListChanges retrieves field-level change history rows with optional filters
func (r *AuditRepository) ListChanges(ctx context.Context, filters ChangeFilters, limit, offset int) ([]*models.DataChangeHistory, int, error) {
	countQuery := `
		SELECT COUNT(*)
		FROM data_change_history c
		JOIN audit_logs l ON l.id = c.audit_log_id
		WHERE 1=1
	`
	query := `
		SELECT c.id, c.audit_log_id, c.field_name, c.old_value, c.new_value, c.created_at
		FROM data_change_history c
		JOIN audit_logs l ON l.id = c.audit_log_id
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(column string, value interface{}) {
		clause := fmt.Sprintf(` AND %s = $%d`, column, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, value)
		paramIndex++
	}

	if filters.SubjectKind != nil {
		addFilter("l.subject_kind", *filters.SubjectKind)
	}
	if filters.SubjectID != nil {
		addFilter("l.subject_id", *filters.SubjectID)
	}
	if filters.FieldName != nil {
		addFilter("c.field_name", *filters.FieldName)
	}
	if filters.StartDate != nil {
		clause := fmt.Sprintf(` AND c.created_at >= $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.StartDate)
		paramIndex++
	}
	if filters.EndDate != nil {
		clause := fmt.Sprintf(` AND c.created_at <= $%d`, paramIndex)
		countQuery += clause
		query += clause
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY c.created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	changes := make([]*models.DataChangeHistory, 0)
	for rows.Next() {
		change := &models.DataChangeHistory{}
		err := rows.Scan(
			&change.ID,
			&change.AuditLogID,
			&change.FieldName,
			&change.OldValue,
			&change.NewValue,
			&change.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		changes = append(changes, change)
	}

	return changes, total, rows.Err()
}

// Stats holds event counts aggregated over a reporting window
type Stats struct {
	TotalEvents      int            `json:"total_events"`
	ByEventType      map[string]int `json:"by_event_type"`
	BySeverity       map[string]int `json:"by_severity"`
	SecurityEvents   int            `json:"security_events"`
	UnresolvedEvents int            `json:"unresolved_events"`
}

// GetStats aggregates audit log counts by event type and severity since the given time
func (r *AuditRepository) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{
		ByEventType: make(map[string]int),
		BySeverity:  make(map[string]int),
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY event_type
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.ByEventType[eventType] = count
		stats.TotalEvents += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sevRows, err := r.db.QueryContext(ctx, `
		SELECT severity, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY severity
	`, since)
	if err != nil {
		return nil, err
	}
	defer sevRows.Close()

	for sevRows.Next() {
		var severity string
		var count int
		if err := sevRows.Scan(&severity, &count); err != nil {
			return nil, err
		}
		stats.BySeverity[severity] = count
	}
	if err := sevRows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE resolved = FALSE)
		FROM security_events
		WHERE created_at >= $1
	`, since).Scan(&stats.SecurityEvents, &stats.UnresolvedEvents)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// ActorCount is one row of a top-actors ranking.
type ActorCount struct {
	ActorID string `json:"actor_id"`
	Count   int    `json:"count"`
}

// IPCount is one row of a top-IPs ranking.
type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int    `json:"count"`
}

// TopActors returns the most active actors since the given time, busiest first
func (r *AuditRepository) TopActors(ctx context.Context, since time.Time, limit int) ([]ActorCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT actor_id, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND actor_id IS NOT NULL
		GROUP BY actor_id
		ORDER BY COUNT(*) DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []ActorCount
	for rows.Next() {
		var ac ActorCount
		if err := rows.Scan(&ac.ActorID, &ac.Count); err != nil {
			return nil, err
		}
		top = append(top, ac)
	}
	return top, rows.Err()
}

// TopIPs returns the most active source addresses since the given time
func (r *AuditRepository) TopIPs(ctx context.Context, since time.Time, limit int) ([]IPCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ip_address, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND ip_address IS NOT NULL
		GROUP BY ip_address
		ORDER BY COUNT(*) DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var top []IPCount
	for rows.Next() {
		var ic IPCount
		if err := rows.Scan(&ic.IPAddress, &ic.Count); err != nil {
			return nil, err
		}
		top = append(top, ic)
	}
	return top, rows.Err()
}

// RecentCritical returns the most recent CRITICAL entries since the given time
func (r *AuditRepository) RecentCritical(ctx context.Context, since time.Time, limit int) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, severity, actor_id, subject_kind, subject_id, description, ip_address, user_agent, session_id, old_values, new_values, context, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND severity = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, since, models.SeverityCritical, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// UserActivity summarizes one user's footprint over a reporting window
type UserActivity struct {
	ActorID            string         `json:"actor_id"`
	EventCount         int            `json:"event_count"`
	LastSeen           *time.Time     `json:"last_seen"`
	DistinctIPs        int            `json:"distinct_ips"`
	SecurityEventCount int            `json:"security_event_count"`
	ByEventType        map[string]int `json:"by_event_type"`
}

// GetUserActivity aggregates a single actor's audit activity since the given time
func (r *AuditRepository) GetUserActivity(ctx context.Context, actorID string, since time.Time) (*UserActivity, error) {
	activity := &UserActivity{
		ActorID:     actorID,
		ByEventType: make(map[string]int),
	}

	var lastSeen sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created_at), COUNT(DISTINCT ip_address)
		FROM audit_logs
		WHERE actor_id = $1 AND created_at >= $2
	`, actorID, since).Scan(&activity.EventCount, &lastSeen, &activity.DistinctIPs)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		activity.LastSeen = &lastSeen.Time
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM security_events
		WHERE actor_id = $1 AND created_at >= $2
	`, actorID, since).Scan(&activity.SecurityEventCount)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM audit_logs
		WHERE actor_id = $1 AND created_at >= $2
		GROUP BY event_type
	`, actorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		activity.ByEventType[eventType] = count
	}

	return activity, rows.Err()
}

// SystemHealth is an operator-facing snapshot of audit-pipeline condition
type SystemHealth struct {
	CriticalCount            int      `json:"critical_count"`
	HighCount                int      `json:"high_count"`
	UnresolvedSecurityEvents int      `json:"unresolved_security_events"`
	AvgLatencyMs             *float64 `json:"avg_latency_ms"`
	TotalEvents              int      `json:"total_events"`
}

// GetSystemHealth aggregates severity counts, unresolved security events and average
// request latency since the given time. Latency comes from the latency_ms value the
// pipeline stores in each API_CALL entry's context.
func (r *AuditRepository) GetSystemHealth(ctx context.Context, since time.Time) (*SystemHealth, error) {
	health := &SystemHealth{}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE severity = 'CRITICAL'),
			COUNT(*) FILTER (WHERE severity = 'HIGH')
		FROM audit_logs
		WHERE created_at >= $1
	`, since).Scan(&health.TotalEvents, &health.CriticalCount, &health.HighCount)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM security_events
		WHERE resolved = FALSE AND created_at >= $1
	`, since).Scan(&health.UnresolvedSecurityEvents)
	if err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = r.db.QueryRowContext(ctx, `
		SELECT AVG((context->>'latency_ms')::numeric)
		FROM audit_logs
		WHERE created_at >= $1 AND context ? 'latency_ms'
	`, since).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		health.AvgLatencyMs = &avg.Float64
	}

	return health, nil
}

// CleanupResult reports what a retention pass deleted (or would delete)
type CleanupResult struct {
	DeletedCount          int  `json:"deleted_count"`
	DeletedChanges        int  `json:"deleted_changes"`
	DeletedSecurityEvents int  `json:"deleted_security_events"`
	DryRun                bool `json:"dry_run"`
}

// Cleanup deletes audit data older than the cutoff. Change history goes first, then
// audit logs, then security events, all in one transaction. With dryRun set it only
// counts the rows that would go and performs no deletes.
func (r *AuditRepository) Cleanup(ctx context.Context, olderThan time.Time, dryRun bool) (*CleanupResult, error) {
	result := &CleanupResult{DryRun: dryRun}

	if dryRun {
		err := r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM data_change_history WHERE created_at < $1
		`, olderThan).Scan(&result.DeletedChanges)
		if err != nil {
			return nil, err
		}
		err = r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM audit_logs WHERE created_at < $1
		`, olderThan).Scan(&result.DeletedCount)
		if err != nil {
			return nil, err
		}
		err = r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM security_events WHERE created_at < $1
		`, olderThan).Scan(&result.DeletedSecurityEvents)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM data_change_history WHERE created_at < $1`, olderThan)
	if err != nil {
		return nil, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	result.DeletedChanges = int(deleted)

	res, err = tx.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, olderThan)
	if err != nil {
		return nil, err
	}
	deleted, err = res.RowsAffected()
	if err != nil {
		return nil, err
	}
	result.DeletedCount = int(deleted)

	res, err = tx.ExecContext(ctx, `DELETE FROM security_events WHERE created_at < $1`, olderThan)
	if err != nil {
		return nil, err
	}
	deleted, err = res.RowsAffected()
	if err != nil {
		return nil, err
	}
	result.DeletedSecurityEvents = int(deleted)

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// auditRowScanner abstracts *sql.Row and *sql.Rows for scanAuditLog
type auditRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditLog(row auditRowScanner) (*models.AuditLog, error) {
	log := &models.AuditLog{}
	var eventType, severity string
	var oldJSON, newJSON, contextJSON []byte

	err := row.Scan(
		&log.ID,
		&eventType,
		&severity,
		&log.ActorID,
		&log.SubjectKind,
		&log.SubjectID,
		&log.Description,
		&log.IPAddress,
		&log.UserAgent,
		&log.SessionID,
		&oldJSON,
		&newJSON,
		&contextJSON,
		&log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	log.EventType = models.EventType(eventType)
	log.Severity = models.Severity(severity)

	if oldJSON != nil {
		if err := json.Unmarshal(oldJSON, &log.OldValues); err != nil {
			return nil, err
		}
	}
	if newJSON != nil {
		if err := json.Unmarshal(newJSON, &log.NewValues); err != nil {
			return nil, err
		}
	}
	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &log.Context); err != nil {
			return nil, err
		}
	}

	return log, nil
}

func marshalJSONB(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}
