// Package jwt signs and parses OAuth access tokens.
//
// Tokens carry the client id, the granted scope and a token id (jti). The
// signature only proves origin; revocation and expiry state live in the
// access-token store keyed by the jti hash, so a valid signature alone never
// authorizes a request.
package jwt
