package models

import "time"

// APIKey grants scripted access to the reporting API. Only the bcrypt hash of the key
// is persisted; the plaintext is returned once at creation time.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	KeyHash    string     `json:"-" db:"key_hash"`
	CreatedBy  *string    `json:"created_by" db:"created_by"`
	LastUsedAt *time.Time `json:"last_used_at" db:"last_used_at"`
	ExpiresAt  *time.Time `json:"expires_at" db:"expires_at"`
	Revoked    bool       `json:"revoked" db:"revoked"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the key is past its expiry, if one is set.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
