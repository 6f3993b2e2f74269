// apikey.go handles API key generation and verification. Keys are random, carry a
// fixed prefix for cheap database lookup, and only their bcrypt hash is stored.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// apiKeyLength is the length of the random part of the API key in bytes.
	apiKeyLength = 32

	// bcryptCost is the cost factor for bcrypt hashing.
	bcryptCost = 12
)

// GenerateAPIKey creates a new random API key with the given prefix.
// Returns the full key (shown once to the caller) and the bcrypt hash to store.
func GenerateAPIKey(prefix string) (key string, hash string, err error) {
	randomBytes := make([]byte, apiKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := prefix + base64.RawURLEncoding.EncodeToString(randomBytes)

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcryptCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return fullKey, string(hashBytes), nil
}

// VerifyAPIKey compares a presented key against a stored bcrypt hash.
func VerifyAPIKey(presented, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(presented)) == nil
}

// HasPrefix reports whether a presented key carries the expected key prefix.
func HasPrefix(presented, prefix string) bool {
	return prefix != "" && strings.HasPrefix(presented, prefix)
}
