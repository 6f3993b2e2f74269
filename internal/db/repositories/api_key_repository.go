// api_key_repository.go implements APIKeyRepository, providing database queries for
// API key lookup by prefix, creation, revocation, and last-used timestamp updates.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Create creates a new API key
func (r *APIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO api_keys (id, name, key_prefix, key_hash, created_by, last_used_at, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.Name,
		apiKey.KeyPrefix,
		apiKey.KeyHash,
		apiKey.CreatedBy,
		apiKey.LastUsedAt,
		apiKey.ExpiresAt,
		apiKey.Revoked,
		apiKey.CreatedAt,
	)

	return err
}

// GetByPrefix retrieves active API keys matching a prefix (for authentication).
// Multiple keys can share a prefix; the caller compares the bcrypt hash of each.
func (r *APIKeyRepository) GetByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error) {
	query := `
		SELECT id, name, key_prefix, key_hash, created_by, last_used_at, expires_at, revoked, created_at
		FROM api_keys
		WHERE key_prefix = $1 AND revoked = FALSE
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, keyPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k := &models.APIKey{}
		err := rows.Scan(
			&k.ID,
			&k.Name,
			&k.KeyPrefix,
			&k.KeyHash,
			&k.CreatedBy,
			&k.LastUsedAt,
			&k.ExpiresAt,
			&k.Revoked,
			&k.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// GetByID retrieves an API key by ID. Returns nil if no key exists.
func (r *APIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `
		SELECT id, name, key_prefix, key_hash, created_by, last_used_at, expires_at, revoked, created_at
		FROM api_keys
		WHERE id = $1
	`

	k := &models.APIKey{}
	err := r.db.QueryRowContext(ctx, query, keyID).Scan(
		&k.ID,
		&k.Name,
		&k.KeyPrefix,
		&k.KeyHash,
		&k.CreatedBy,
		&k.LastUsedAt,
		&k.ExpiresAt,
		&k.Revoked,
		&k.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return k, nil
}

// List retrieves all API keys
func (r *APIKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	query := `
		SELECT id, name, key_prefix, key_hash, created_by, last_used_at, expires_at, revoked, created_at
		FROM api_keys
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		k := &models.APIKey{}
		err := rows.Scan(
			&k.ID,
			&k.Name,
			&k.KeyPrefix,
			&k.KeyHash,
			&k.CreatedBy,
			&k.LastUsedAt,
			&k.ExpiresAt,
			&k.Revoked,
			&k.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func (r *APIKeyRepository) UpdateLastUsed(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID, time.Now().UTC())
	return err
}

// Revoke marks an API key as revoked. The row is kept for the audit trail.
func (r *APIKeyRepository) Revoke(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET revoked = TRUE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, keyID)
	return err
}
