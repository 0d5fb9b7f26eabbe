// Package middleware adapts goAccess.Engine checks to net/http handlers.
//
// # Guards
//
//   - [APIKeyGate] / [RequireAPIKey]: API-key gate with per-key rate limit
//     headers. Responses use the {success, error} JSON envelope.
//   - [RequireAccessToken]: OAuth access-token check with optional scopes.
//     Errors use the OAuth {error, error_description} envelope.
//   - [ClientContext]: attaches caller IP and User-Agent for the engine's
//     usage logs and audit events.
//
// Admitted requests carry the engine result in their context, see
// [GateResultFromContext] and [TokenInfoFromContext].
//
// # What this package must NOT do
//
//   - Hash, look up or rate-limit keys itself (delegates to the Engine).
//   - Access Redis or any collaborator store.
//   - Decide anything beyond mapping Engine errors to status codes.
package middleware
