// ratetracker.go implements the sliding-window event counter behind brute-force and
// anomalous-transaction detection. The in-memory tracker is the default; a Redis-backed
// variant (ratetracker_redis.go) serves multi-instance deployments.
package detect

import (
	"context"
	"sync"
	"time"
)

// Tracker counts events per (source IP, event kind) over a sliding window.
//
// RecordAndCheck atomically records one occurrence and returns the in-window count and
// whether it reached the threshold. Counting must be exact or conservative: a lost
// increment could hide an attack, while overcounting merely raises a false alert for
// operator triage.
type Tracker interface {
	RecordAndCheck(ctx context.Context, ip, kind string, window time.Duration, threshold int) (count int, breached bool, err error)
}

// Event kinds tracked per source IP.
const (
	KindFailedLogin = "FAILED_LOGIN"
	KindHighValueTx = "HIGH_VALUE_TX"
)

// Default sliding windows for the two tracked kinds, used when configuration does not
// override them.
const (
	DefaultBruteForceWindow  = 15 * time.Minute
	DefaultTransactionWindow = time.Hour
)

// sweepEvery bounds how many accesses may pass between full stale-key sweeps; the
// sweep is amortized on access rather than running on its own timer.
const sweepEvery = 4096

type windowEntry struct {
	mu sync.Mutex
	// window is the sliding window of the kind tracked under this key, remembered so
	// the sweep judges staleness against the key's own window rather than whichever
	// window the sweeping call happened to carry.
	window time.Duration
	events []time.Time
}

// MemoryTracker is an exact in-process sliding-window Tracker. Each key holds its own
// mutex so concurrent requests for different sources never contend; same-key
// increments serialize, guaranteeing no lost updates.
type MemoryTracker struct {
	mu       sync.RWMutex
	entries  map[string]*windowEntry
	accesses int

	now func() time.Time // injectable for tests
}

// NewMemoryTracker builds an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// RecordAndCheck implements Tracker. Eviction of out-of-window timestamps happens here,
// amortized on access.
func (t *MemoryTracker) RecordAndCheck(_ context.Context, ip, kind string, window time.Duration, threshold int) (int, bool, error) {
	key := ip + "|" + kind
	now := t.now()

	entry := t.entry(key)
	entry.mu.Lock()
	entry.window = window
	cutoff := now.Add(-window)
	kept := entry.events[:0]
	for _, ts := range entry.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	entry.events = append(kept, now)
	count := len(entry.events)
	entry.mu.Unlock()

	t.maybeSweep(now)

	return count, threshold > 0 && count >= threshold, nil
}

func (t *MemoryTracker) entry(key string) *windowEntry {
	t.mu.RLock()
	e, ok := t.entries[key]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[key]; ok {
		return e
	}
	e = &windowEntry{}
	t.entries[key] = e
	return e
}

// maybeSweep drops keys whose newest event fell out of their own window, keeping the
// map from growing without bound under churning source IPs. Each key is judged against
// the window it was last recorded with, so a short-window kind never evicts history
// still live under a longer-window kind.
func (t *MemoryTracker) maybeSweep(now time.Time) {
	t.mu.Lock()
	t.accesses++
	if t.accesses < sweepEvery {
		t.mu.Unlock()
		return
	}
	t.accesses = 0
	for key, e := range t.entries {
		e.mu.Lock()
		cutoff := now.Add(-e.window)
		stale := len(e.events) == 0 || !e.events[len(e.events)-1].After(cutoff)
		e.mu.Unlock()
		if stale {
			delete(t.entries, key)
		}
	}
	t.mu.Unlock()
}

// Deduper suppresses repeat alerts for the same key within a window, so one
// breach-window produces one security event rather than one per request.
type Deduper struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewDeduper builds an empty alert deduper.
func NewDeduper() *Deduper {
	return &Deduper{expires: make(map[string]time.Time), now: time.Now}
}

// TryAcquire returns true the first time a key is seen within its window; subsequent
// calls return false until the window lapses. Expired entries are evicted on access.
func (d *Deduper) TryAcquire(key string, window time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if until, ok := d.expires[key]; ok && now.Before(until) {
		return false
	}
	for k, until := range d.expires {
		if !now.Before(until) {
			delete(d.expires, k)
		}
	}
	d.expires[key] = now.Add(window)
	return true
}
