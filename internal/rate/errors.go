package rate

import "errors"

var (
	// ErrRedisUnavailable wraps any Redis failure from a counter operation.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
