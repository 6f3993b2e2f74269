package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndCheck_ThresholdReached(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		count, breached, err := tr.RecordAndCheck(ctx, "10.0.0.1", "FAILED_LOGIN", 15*time.Minute, 5)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.False(t, breached, "call %d should not breach", i)
	}

	count, breached, err := tr.RecordAndCheck(ctx, "10.0.0.1", "FAILED_LOGIN", 15*time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.True(t, breached, "5th failed login within the window must breach")
}

func TestRecordAndCheck_KeysAreIndependent(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	_, _, _ = tr.RecordAndCheck(ctx, "10.0.0.1", "FAILED_LOGIN", time.Minute, 5)
	count, _, err := tr.RecordAndCheck(ctx, "10.0.0.2", "FAILED_LOGIN", time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "different IPs must not share a window")

	count, _, err = tr.RecordAndCheck(ctx, "10.0.0.1", "HIGH_VALUE_TX", time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "different kinds must not share a window")
}

func TestRecordAndCheck_WindowEviction(t *testing.T) {
	tr := NewMemoryTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, _ = tr.RecordAndCheck(ctx, "10.0.0.9", "FAILED_LOGIN", 15*time.Minute, 5)
	}

	// Step past the window; the old attempts must be evicted on the next access.
	now = now.Add(16 * time.Minute)
	count, breached, err := tr.RecordAndCheck(ctx, "10.0.0.9", "FAILED_LOGIN", 15*time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, breached)
}

func TestRecordAndCheck_SweepKeepsLongerWindowHistory(t *testing.T) {
	tr := NewMemoryTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	count, _, err := tr.RecordAndCheck(ctx, "10.0.0.7", "HIGH_VALUE_TX", time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 20 minutes later the transaction is outside the 15m brute-force window but
	// still inside its own hour. Drive enough short-window traffic to force a sweep;
	// it must not take the transaction history with it.
	now = now.Add(20 * time.Minute)
	for i := 0; i <= sweepEvery; i++ {
		_, _, _ = tr.RecordAndCheck(ctx, "10.0.0.8", "FAILED_LOGIN", 15*time.Minute, 5)
	}

	count, _, err = tr.RecordAndCheck(ctx, "10.0.0.7", "HIGH_VALUE_TX", time.Hour, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "in-window history must survive a shorter-window sweep")
}

func TestRecordAndCheck_SweepDropsStaleKeys(t *testing.T) {
	tr := NewMemoryTracker()
	now := time.Now()
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	_, _, _ = tr.RecordAndCheck(ctx, "10.0.0.7", "HIGH_VALUE_TX", time.Hour, 3)

	now = now.Add(2 * time.Hour)
	for i := 0; i <= sweepEvery; i++ {
		_, _, _ = tr.RecordAndCheck(ctx, "10.0.0.8", "FAILED_LOGIN", 15*time.Minute, 5)
	}

	tr.mu.RLock()
	_, kept := tr.entries["10.0.0.7|HIGH_VALUE_TX"]
	tr.mu.RUnlock()
	assert.False(t, kept, "key whose newest event left its own window must be swept")
}

func TestRecordAndCheck_ConcurrentIncrementsAreExact(t *testing.T) {
	tr := NewMemoryTracker()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, _, _ = tr.RecordAndCheck(ctx, "10.1.1.1", "FAILED_LOGIN", time.Hour, 1000)
		}()
	}
	wg.Wait()

	count, _, err := tr.RecordAndCheck(ctx, "10.1.1.1", "FAILED_LOGIN", time.Hour, 1000)
	require.NoError(t, err)
	assert.Equal(t, goroutines+1, count, "no increment may be lost under concurrency")
}

func TestDeduper_OneAlertPerWindow(t *testing.T) {
	d := NewDeduper()
	now := time.Now()
	d.now = func() time.Time { return now }

	assert.True(t, d.TryAcquire("10.0.0.1|BRUTE_FORCE", 15*time.Minute))
	assert.False(t, d.TryAcquire("10.0.0.1|BRUTE_FORCE", 15*time.Minute), "repeat within window is suppressed")
	assert.True(t, d.TryAcquire("10.0.0.2|BRUTE_FORCE", 15*time.Minute), "other keys unaffected")

	now = now.Add(16 * time.Minute)
	assert.True(t, d.TryAcquire("10.0.0.1|BRUTE_FORCE", 15*time.Minute), "acquirable again after window lapses")
}
