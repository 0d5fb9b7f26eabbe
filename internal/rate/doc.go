// Package rate provides admission control for goAccess.
//
// # Sliding window
//
// [Window] (process memory) and [RedisWindow] (sorted set per key) admit at
// most limit requests in any trailing window. A limit <= 0 is an explicit
// unlimited path. Both return a [Decision] carrying the numbers clients see
// in X-RateLimit-* headers.
//
// # What this package must NOT do
//
//   - Look up a key's configured rate. Callers resolve it before calling
//     Allow so no external lookup runs inside the critical section.
//   - Be imported outside the goAccess module.
package rate
