// Package permission holds the pure authorization primitives used by goAccess.
//
// # Admin grants
//
// A [Grant] is a (type, value, level) tuple held by an admin. [Allows] is
// the single resolution function for every resource type: a grant matches
// when it is (*, *), (type, *) or (type, value), and the match allows when
// the grant level implies the requested level. [Level] is ordered so that
// Write implies Read through a plain comparison.
//
// # API-key permissions
//
// API keys carry permission names ("events.register", "users.read").
// [Registry] assigns each name a bit in a [Mask128] so the any-of check in
// the API-key gate is a mask intersection. The optional [Wildcard] occupies
// the reserved root bit.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Decide who the system admin is; callers resolve that before calling [Allows].
//   - Import goAccess or any store package.
package permission
