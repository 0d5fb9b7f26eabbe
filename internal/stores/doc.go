// Package stores provides the Redis-backed records behind the OAuth flow:
// authorization codes, access tokens and pending consent requests.
//
// # Design
//
// Each store persists a versioned, binary-encoded record keyed by the
// SHA-256 of the secret it describes, so raw codes and token ids never reach
// Redis. Mutations (Consume, Revoke) run inside WATCH/MULTI optimistic
// transactions with retry on contention. Codes and tokens are never deleted
// when they expire or are used: the record is flipped to its terminal state
// and left in place until Sweep removes it, which keeps "already used"
// distinguishable from "unknown".
//
// Lifecycle states and legal moves between them live in state.go.
//
// # What this package must NOT do
//
//   - Import goAccess or any sibling internal package other than internal.
//   - Log or expose plaintext codes or token ids.
//   - Delete a record that a concurrent Consume or Revoke is inspecting.
package stores
