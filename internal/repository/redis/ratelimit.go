package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "secassist:ratelimit:"

// RateLimiter caps model-bound requests (chat messages, fix runs) per client
// in fixed one-minute windows. The budget is requestsPerMinute plus burst.
type RateLimiter struct {
	client *Client
	budget int64
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client: client,
		budget: int64(requestsPerMinute + burst),
		window: time.Minute,
		now:    time.Now,
	}
}

func (r *RateLimiter) windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, start.Unix())
}

// Allow counts one request for key and reports whether it fits the current
// window, how many remain and when the window resets.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	start := r.now().Truncate(r.window)
	k := r.windowKey(key, start)

	var incr *redis.IntCmd
	_, err := r.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	count := incr.Val()
	remaining := max(r.budget-count, 0)
	return count <= r.budget, int(remaining), start.Add(r.window), nil
}

// Reset clears the current window for key
func (r *RateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.rdb.Del(ctx, r.windowKey(key, r.now().Truncate(r.window))).Err()
}
