// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and logged
// rather than crashing the process. Every fire-and-forget goroutine in the service
// (async audit-write retries, rules-file watching, retention job ticks) goes through
// here so a panic can never silently kill the audit pipeline's background half.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
