package rate

import "errors"

var (
	// ErrRedisUnavailable wraps backend failures of the Redis-backed limiters.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrInvalidLimit rejects a configured rate outside 0..MaxRPM.
	ErrInvalidLimit = errors.New("invalid rate limit")
)
