// ratetracker_redis.go implements Tracker on Redis for deployments running multiple
// service instances behind one load balancer, where brute-force attempts are spread
// across processes and an in-memory window would undercount.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RedisTracker counts events with redis_rate's GCRA limiter. GCRA approximates the
// sliding window conservatively: it may report a breach slightly early under bursts,
// which is acceptable (false alert, operator triage) where undercounting is not.
type RedisTracker struct {
	limiter *redis_rate.Limiter
}

// NewRedisTracker builds a Tracker over an existing Redis client.
func NewRedisTracker(client *redis.Client) *RedisTracker {
	return &RedisTracker{limiter: redis_rate.NewLimiter(client)}
}

// RecordAndCheck implements Tracker. The key is shared by every service instance, so
// counts aggregate across the whole deployment.
func (t *RedisTracker) RecordAndCheck(ctx context.Context, ip, kind string, window time.Duration, threshold int) (int, bool, error) {
	key := fmt.Sprintf("audit:rate:%s:%s", kind, ip)
	limit := redis_rate.Limit{Rate: threshold, Burst: threshold, Period: window}

	res, err := t.limiter.Allow(ctx, key, limit)
	if err != nil {
		return 0, false, fmt.Errorf("redis rate check failed: %w", err)
	}

	used := threshold - res.Remaining
	if used < 1 {
		used = 1
	}
	// Remaining==0 means this call consumed the last slot in the window: the
	// threshold-th event. Allowed==0 means the window was already exhausted.
	breached := res.Remaining == 0 || res.Allowed == 0
	return used, breached, nil
}
