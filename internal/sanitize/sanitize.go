// Package sanitize masks sensitive values in structured payloads before they are
// persisted to the audit trail or included in reports. Masking is irreversible: a value
// reachable under a sensitive key is replaced by a fixed token, never truncated or
// hashed, so nothing about the original (including its length) leaks into storage.
//
// Sanitization runs on every old_values/new_values/additional_data/context payload the
// recorder writes. It is deterministic, never mutates its input, and never fails —
// malformed or partially-typed payloads are stringified defensively.
package sanitize

import (
	"fmt"
	"strings"
)

// MaskToken replaces every sensitive value. Kept identical across the codebase so
// downstream consumers (SIEM rules, report diffing) can rely on it.
const MaskToken = "***MASKED***"

// DefaultSensitiveKeys is the built-in pattern set. Matching is case-insensitive
// substring, so "api_key", "Authorization" and "cardNumber" are all caught.
var DefaultSensitiveKeys = []string{
	"password", "passwd", "secret", "token", "key",
	"authorization", "credential", "card", "cvv", "ssn", "private",
}

// Sanitizer masks values stored under sensitive keys. The zero value is not usable;
// construct with New.
type Sanitizer struct {
	patterns []string // lower-cased
}

// New builds a Sanitizer matching the given key patterns. Empty input falls back to
// DefaultSensitiveKeys.
func New(patterns ...string) *Sanitizer {
	if len(patterns) == 0 {
		patterns = DefaultSensitiveKeys
	}
	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}
	return &Sanitizer{patterns: lowered}
}

// Sensitive reports whether the key matches any sensitive pattern.
func (s *Sanitizer) Sensitive(key string) bool {
	k := strings.ToLower(key)
	for _, p := range s.patterns {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// Map returns a sanitized copy of payload. Nested maps and slices are walked
// recursively; map keys of non-string type are stringified before matching. The input
// is never modified. A nil payload sanitizes to nil.
func (s *Sanitizer) Map(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if s.Sensitive(k) {
			out[k] = MaskToken
			continue
		}
		out[k] = s.value(v)
	}
	return out
}

// Value sanitizes an arbitrary value: containers recursively, scalars unchanged.
func (s *Sanitizer) Value(v interface{}) interface{} { return s.value(v) }

func (s *Sanitizer) value(v interface{}) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		return s.Map(t)
	case map[interface{}]interface{}:
		// YAML decoders produce this shape; normalize keys to strings.
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			ks := fmt.Sprintf("%v", k)
			if s.Sensitive(ks) {
				out[ks] = MaskToken
			} else {
				out[ks] = s.value(vv)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = s.value(vv)
		}
		return out
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	default:
		// Unknown types (time.Time, decimals, arbitrary structs) are stringified so the
		// result is always JSON-serializable and masking decisions stay key-based.
		return fmt.Sprintf("%v", t)
	}
}
