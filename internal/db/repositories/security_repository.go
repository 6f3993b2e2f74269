// security_repository.go implements SecurityRepository, providing database queries
// for writing, listing and resolving security events raised by the detection pipeline.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

// SecurityRepository handles security event database operations
type SecurityRepository struct {
	db *sql.DB
}

// NewSecurityRepository creates a new SecurityRepository
func NewSecurityRepository(db *sql.DB) *SecurityRepository {
	return &SecurityRepository{db: db}
}

// SecurityFilters contains filters for querying security events
type SecurityFilters struct {
	Kind      *string
	IPAddress *string
	ActorID   *string
	Resolved  *bool
	StartDate *time.Time
	EndDate   *time.Time
}

// Create inserts a new security event
func (r *SecurityRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	dataJSON, err := marshalJSONB(event.AdditionalData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO security_events (id, kind, ip_address, user_agent, actor_id, description, additional_data, audit_log_id, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		string(event.Kind),
		event.IPAddress,
		event.UserAgent,
		event.ActorID,
		event.Description,
		dataJSON,
		event.AuditLogID,
		event.Resolved,
		event.CreatedAt,
	)

	return err
}

// List retrieves security events with optional filters and pagination
func (r *SecurityRepository) List(ctx context.Context, filters SecurityFilters, limit, offset int) ([]*models.SecurityEvent, int, error) {
	countQuery := `SELECT COUNT(*) FROM security_events WHERE 1=1`
	query := `
		SELECT id, kind, ip_address, user_agent, actor_id, description, additional_data, audit_log_id, resolved, resolved_by, resolved_at, created_at
		FROM security_events
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

	if filters.Kind != nil {
		addFilter("kind", *filters.Kind)
	}
	if filters.IPAddress != nil {
		addFilter("ip_address", *filters.IPAddress)
	}
	if filters.ActorID != nil {
		addFilter("actor_id", *filters.ActorID)
	}
	if filters.Resolved != nil {
		addFilter("resolved", *filters.Resolved)
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

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, total, rows.Err()
}

// Get retrieves a single security event by ID. Returns nil if no event exists.
func (r *SecurityRepository) Get(ctx context.Context, eventID string) (*models.SecurityEvent, error) {
	query := `
		SELECT id, kind, ip_address, user_agent, actor_id, description, additional_data, audit_log_id, resolved, resolved_by, resolved_at, created_at
		FROM security_events
		WHERE id = $1
	`

	event, err := scanSecurityEvent(r.db.QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return event, nil
}

// Resolve marks a security event as resolved. Resolving an already-resolved event is
// idempotent: the original resolution metadata is kept and returned, not overwritten.
// Returns nil if no event with the given ID exists.
func (r *SecurityRepository) Resolve(ctx context.Context, eventID, resolvedBy string) (*models.SecurityEvent, error) {
	now := time.Now().UTC()

	query := `
		UPDATE security_events
		SET resolved = TRUE, resolved_by = $2, resolved_at = $3
		WHERE id = $1 AND resolved = FALSE
	`

	if _, err := r.db.ExecContext(ctx, query, eventID, resolvedBy, now); err != nil {
		return nil, err
	}

	// Re-read so a repeat resolution returns the stored metadata from the first one.
	return r.Get(ctx, eventID)
}

// BulkResolve resolves every unresolved event in the given ID set and returns how
// many rows it actually changed. Already-resolved and unknown IDs are skipped.
func (r *SecurityRepository) BulkResolve(ctx context.Context, eventIDs []string, resolvedBy string) (int, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()

	query := `
		UPDATE security_events
		SET resolved = TRUE, resolved_by = $2, resolved_at = $3
		WHERE id = ANY($1) AND resolved = FALSE
	`

	res, err := r.db.ExecContext(ctx, query, pq.Array(eventIDs), resolvedBy, now)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

// CountSince counts events of one kind from one IP since the given time. Used by the
// pipeline to decide whether a fresh brute-force event is a duplicate.
func (r *SecurityRepository) CountSince(ctx context.Context, kind models.SecurityEventKind, ipAddress string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM security_events
		WHERE kind = $1 AND ip_address = $2 AND created_at >= $3
	`, string(kind), ipAddress, since).Scan(&count)
	return count, err
}

func scanSecurityEvent(row auditRowScanner) (*models.SecurityEvent, error) {
	event := &models.SecurityEvent{}
	var kind string
	var dataJSON []byte

	err := row.Scan(
		&event.ID,
		&kind,
		&event.IPAddress,
		&event.UserAgent,
		&event.ActorID,
		&event.Description,
		&dataJSON,
		&event.AuditLogID,
		&event.Resolved,
		&event.ResolvedBy,
		&event.ResolvedAt,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	event.Kind = models.SecurityEventKind(kind)

	if dataJSON != nil {
		if err := json.Unmarshal(dataJSON, &event.AdditionalData); err != nil {
			return nil, err
		}
	}

	return event, nil
}
