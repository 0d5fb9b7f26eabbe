package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minSecretBytes        = 16
	algorithmID           = "argon2id"

	// DefaultMaxSecretBytes bounds the input accepted by Hash and Verify when
	// Config.MaxSecretBytes is zero.
	DefaultMaxSecretBytes = 1024
)

var (
	// ErrSecretTooShort is returned by Hash for secrets under the minimum length.
	ErrSecretTooShort = errors.New("client secret must be at least 16 bytes")
	// ErrSecretTooLong is returned by Hash and Verify for oversized input.
	ErrSecretTooLong = errors.New("client secret exceeds maximum length")
)

// Config holds the Argon2id cost parameters used for client secrets.
type Config struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MaxSecretBytes int
}

// Argon2 hashes and verifies OAuth client secrets as PHC strings.
type Argon2 struct {
	config Config
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.MaxSecretBytes == 0 {
		cfg.MaxSecretBytes = DefaultMaxSecretBytes
	}

	return &Argon2{config: cfg}, nil
}

// Hash derives a PHC-encoded argon2id hash for secret. Secret bytes are used
// exactly as provided.
func (a *Argon2) Hash(secret string) (string, error) {
	if len(secret) < minSecretBytes {
		return "", ErrSecretTooShort
	}
	if len(secret) > a.config.MaxSecretBytes {
		return "", ErrSecretTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(secret),
		salt,
		a.config.Time,
		a.config.Memory,
		a.config.Parallelism,
		a.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether secret matches encodedHash. The comparison is
// constant time; a malformed hash is an error, a mismatch is not.
func (a *Argon2) Verify(secret string, encodedHash string) (bool, error) {
	if len(secret) > a.config.MaxSecretBytes {
		return false, ErrSecretTooLong
	}

	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	switch {
	case a.config.Memory > parsed.memory,
		a.config.Time > parsed.time,
		a.config.Parallelism > parsed.parallelism,
		a.config.KeyLength != parsed.keyLength:
		return true, nil
	}

	return false, nil
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return nil, errors.New("missing argon2 version")
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return nil, errors.New("invalid argon2 version")
	}
	if v != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	params, err := parseParams(parts[3])
	if err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid salt encoding")
	}
	if len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt length")
	}

	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid hash encoding")
	}
	if len(hash) == 0 {
		return nil, errors.New("invalid hash length")
	}

	return &parsedPHC{
		memory:      params.memory,
		time:        params.time,
		parallelism: params.parallelism,
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}

type parsedParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parseParams(part string) (*parsedParams, error) {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}

	var (
		seen   = make(map[string]bool, 3)
		params parsedParams
	)

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}

		switch key {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return nil, errors.New("invalid memory parameter")
			}
			params.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return nil, errors.New("invalid time parameter")
			}
			params.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return nil, errors.New("invalid parallelism parameter")
			}
			params.parallelism = uint8(v)
		default:
			return nil, errors.New("unsupported parameter")
		}
		seen[key] = true
	}

	if !seen["m"] || !seen["t"] || !seen["p"] {
		return nil, errors.New("missing parameters")
	}

	return &params, nil
}

func validateConfig(cfg Config) error {
	switch {
	case cfg.Memory < minMemoryKB:
		return errors.New("argon2 memory must be >= 8192 KB")
	case cfg.Time < minTimeCost:
		return errors.New("argon2 time must be >= 1")
	case cfg.Parallelism < minParallelism:
		return errors.New("argon2 parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return errors.New("argon2 salt length must be >= 16")
	case cfg.KeyLength < minKeyLength:
		return errors.New("argon2 key length must be >= 16")
	case cfg.MaxSecretBytes < 0:
		return errors.New("max secret bytes must be >= 0")
	}

	return nil
}
