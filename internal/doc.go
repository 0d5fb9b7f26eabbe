// Package internal contains helpers private to goAccess: secret generation
// and the hashing that turns secrets into storage keys.
//
// # Sub-packages
//
//   - stores: Redis records for authorization codes, access tokens and pending consents
//   - rate: sliding-window admission control for API keys
//
// # What this package must NOT do
//
//   - Export types that appear in the public goAccess API.
//   - Be imported by any package outside the goAccess module.
package internal
