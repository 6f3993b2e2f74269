// Package detect implements the stateless attack-signature classifiers and the
// stateful sliding-window rate tracker used on the request hot path.
//
// Signature sets are data, not code: the detector ships with built-in defaults and can
// load a YAML rules file, which is watched with fsnotify so operators can push new
// signatures without redeploying the service.
package detect

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/finvest-platform/audit-service/internal/safego"
)

// Rules holds the signature sets consumed by the Detector. All entries are matched as
// lower-cased substrings of the normalized request surface.
type Rules struct {
	SQLInjection    []string `yaml:"sql_injection"`
	XSS             []string `yaml:"xss"`
	MaliciousAgents []string `yaml:"malicious_agents"`
}

// DefaultRules returns the built-in signature sets. These are deliberately
// over-inclusive; false positives surface as unresolved security events for triage.
func DefaultRules() Rules {
	return Rules{
		SQLInjection: []string{
			"union select", "drop table", "insert into", "update set",
			"delete from", "create table", "alter table",
			"' or '1'='1", "\" or \"1\"=\"1", "--", ";--",
			"exec(", "execute(", "sp_", "xp_",
		},
		XSS: []string{
			"<script", "%3cscript", "javascript:", "onerror=", "onload=",
			"onmouseover=", "onfocus=", "onblur=", "onchange=", "onsubmit=",
			"eval(", "alert(", "confirm(", "prompt(",
		},
		MaliciousAgents: []string{
			"sqlmap", "nikto", "burp", "zap", "nessus", "nmap",
			"masscan", "dirbuster", "hydra",
		},
	}
}

// normalize lower-cases every signature so matching stays case-insensitive even when a
// rules file ships mixed-case entries.
func (r Rules) normalize() Rules {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, strings.ToLower(s))
			}
		}
		return out
	}
	return Rules{
		SQLInjection:    lower(r.SQLInjection),
		XSS:             lower(r.XSS),
		MaliciousAgents: lower(r.MaliciousAgents),
	}
}

// empty reports whether no signature set has entries.
func (r Rules) empty() bool {
	return len(r.SQLInjection) == 0 && len(r.XSS) == 0 && len(r.MaliciousAgents) == 0
}

// LoadRules reads a YAML rules file. Missing sections fall back to the built-in
// defaults so a partial file only overrides what it names.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules file: %w", err)
	}

	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules file: %w", err)
	}

	defaults := DefaultRules()
	if len(r.SQLInjection) == 0 {
		r.SQLInjection = defaults.SQLInjection
	}
	if len(r.XSS) == 0 {
		r.XSS = defaults.XSS
	}
	if len(r.MaliciousAgents) == 0 {
		r.MaliciousAgents = defaults.MaliciousAgents
	}
	return r.normalize(), nil
}

// WatchRules watches the rules file and calls onReload with the freshly parsed rules
// whenever it changes. Editors and config-management tools often replace files via
// rename, so the watch is placed on the parent directory and filtered by name.
// The returned stop function closes the watcher.
func WatchRules(path string, onReload func(Rules)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create rules watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	safego.Go(func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				rules, err := LoadRules(path)
				if err != nil {
					slog.Error("failed to reload detection rules", "path", path, "error", err)
					continue
				}
				onReload(rules)
				slog.Info("detection rules reloaded", "path", path,
					"sql_signatures", len(rules.SQLInjection),
					"xss_signatures", len(rules.XSS),
					"agent_signatures", len(rules.MaliciousAgents))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("rules watcher error", "error", err)
			}
		}
	})

	return func() { watcher.Close() }, nil
}
