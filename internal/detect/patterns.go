// patterns.go implements the stateless signature classifiers: SQL injection, XSS,
// scanner user-agents, and cross-origin referrers. All four run synchronously on every
// inbound request, so matching is plain substring search over a lower-cased surface —
// no regexes, no allocation beyond the initial ToLower.
package detect

import (
	"net/url"
	"strings"
	"sync"
)

// Detector classifies request surfaces against the active rule sets. Rules can be
// swapped at runtime (hot reload); reads take an RLock so concurrent requests never
// observe a partially-updated set.
type Detector struct {
	mu    sync.RWMutex
	rules Rules
}

// NewDetector builds a Detector from the given rules, falling back to the built-in
// defaults when r is empty.
func NewDetector(r Rules) *Detector {
	if r.empty() {
		r = DefaultRules()
	}
	return &Detector{rules: r.normalize()}
}

// Reload atomically replaces the active rule sets.
func (d *Detector) Reload(r Rules) {
	r = r.normalize()
	d.mu.Lock()
	d.rules = r
	d.mu.Unlock()
}

// SQLInjection reports whether text contains a known injection signature.
func (d *Detector) SQLInjection(text string) bool {
	d.mu.RLock()
	sigs := d.rules.SQLInjection
	d.mu.RUnlock()
	return matchAny(text, sigs)
}

// XSS reports whether text contains a known cross-site-scripting signature,
// including URL-encoded variants present in the rule set.
func (d *Detector) XSS(text string) bool {
	d.mu.RLock()
	sigs := d.rules.XSS
	d.mu.RUnlock()
	return matchAny(text, sigs)
}

// MaliciousAgent reports whether the User-Agent string matches a known scanner or
// attack-tool fingerprint.
func (d *Detector) MaliciousAgent(userAgent string) bool {
	d.mu.RLock()
	sigs := d.rules.MaliciousAgents
	d.mu.RUnlock()
	return matchAny(userAgent, sigs)
}

// SuspiciousReferrer reports whether a present Referer header names an origin outside
// the expected set (a CSRF heuristic for state-changing requests). An absent or
// unparseable referrer is not suspicious; neither is an empty expected set.
func (d *Detector) SuspiciousReferrer(referrer string, expectedOrigins []string) bool {
	if referrer == "" || len(expectedOrigins) == 0 {
		return false
	}
	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, origin := range expectedOrigins {
		if host == strings.ToLower(origin) {
			return false
		}
		// Accept full origins ("https://app.example.com") in config too.
		if ou, err := url.Parse(origin); err == nil && ou.Host != "" && host == strings.ToLower(ou.Host) {
			return false
		}
	}
	return true
}

func matchAny(text string, signatures []string) bool {
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, sig := range signatures {
		if strings.Contains(lowered, sig) {
			return true
		}
	}
	return false
}
