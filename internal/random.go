package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

const (
	// OpaqueSecretSize is the number of random bytes behind codes, consent
	// ids and API keys.
	OpaqueSecretSize = 32
	maxOpaqueBytes   = 512
)

// NewOpaqueSecret returns a URL-safe random string carrying n bytes of
// entropy.
func NewOpaqueSecret(n int) (string, error) {
	if n < 16 || n > maxOpaqueBytes {
		return "", errors.New("invalid secret size")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewAuthorizationCode returns a fresh authorization code.
func NewAuthorizationCode() (string, error) {
	return NewOpaqueSecret(OpaqueSecretSize)
}

// NewConsentID returns an identifier for a pending consent request.
func NewConsentID() (string, error) {
	return NewOpaqueSecret(24)
}

// NewAPIKey returns prefix followed by a fresh random secret.
func NewAPIKey(prefix string) (string, error) {
	secret, err := NewOpaqueSecret(OpaqueSecretSize)
	if err != nil {
		return "", err
	}
	return prefix + secret, nil
}

// NewClientSecret returns a fresh OAuth client secret.
func NewClientSecret() (string, error) {
	return NewOpaqueSecret(OpaqueSecretSize)
}

// HashSecret is the storage key derivation for codes and token ids. Raw
// secrets never reach Redis.
func HashSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// HashSecretHex is HashSecret rendered as lowercase hex, the form stored by
// record stores for API keys.
func HashSecretHex(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// KeyFragment renders a hash for use in Redis keys.
func KeyFragment(hash [32]byte) string {
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
