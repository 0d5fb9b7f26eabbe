// Package goAccess is the access-control core of a web backend: an OAuth 2.0
// authorization server for the authorization-code grant, a permission
// resolver over admin grants, and an API-key gate with sliding-window rate
// limiting.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build].
//
// # Architecture boundaries
//
// goAccess is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([ClientRegistry], [AdminStore], [GrantStore],
// [APIKeyStore]) and value types. Redis record encoding and the limiter
// implementations live under internal/.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its public API.
//   - Store a plaintext authorization code, client secret or API key.
//   - Allow a request when a lookup fails or times out.
//   - Import any sub-package that re-imports goAccess.
//
// # Consume-once
//
// An authorization code is redeemed inside a Redis optimistic transaction.
// Concurrent exchanges of one code yield exactly one token.
package goAccess
