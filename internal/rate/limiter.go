package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window counts hits per key over a fixed window.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	length time.Duration
}

// NewWindow creates a counter whose keys live under prefix and expire
// length after their first hit.
func NewWindow(redisClient redis.UniversalClient, prefix string, length time.Duration) *Window {
	return &Window{
		redis:  redisClient,
		prefix: prefix,
		length: length,
	}
}

// Length reports the window duration.
func (w *Window) Length() time.Duration { return w.length }

// Incr records one hit and returns the count within the current window.
func (w *Window) Incr(ctx context.Context, key string) (int64, error) {
	k := w.key(key)
	count, err := w.redis.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := w.redis.Expire(ctx, k, w.length).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

// Count returns the current count. Missing keys count as zero.
func (w *Window) Count(ctx context.Context, key string) (int64, error) {
	count, err := w.redis.Get(ctx, w.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}

// Counts returns the counts for keys in one round trip.
func (w *Window) Counts(ctx context.Context, keys ...string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = w.key(k)
	}

	vals, err := w.redis.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]int64, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			out[i] = n
		}
	}
	return out, nil
}

// Reset clears the counters for keys.
func (w *Window) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = w.key(k)
	}
	if err := w.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w *Window) key(k string) string {
	if w.prefix == "" {
		return k
	}
	return w.prefix + ":" + k
}
