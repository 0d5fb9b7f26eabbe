package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

const clientSecret = "s3cr3t-client-value-0123456789"

func TestHashAndVerify(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash(clientSecret)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := hasher.Verify(clientSecret, hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected secret verification to succeed")
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash(clientSecret)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := hasher.Verify("a-different-secret-value", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong secret verification to fail")
	}
}

func TestNeedsUpgrade(t *testing.T) {
	oldHasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2(old) error: %v", err)
	}
	hash, err := oldHasher.Hash(clientSecret)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := testConfig()
	stronger.Time = 2
	newHasher, err := NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2(new) error: %v", err)
	}

	needsUpgrade, err := newHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !needsUpgrade {
		t.Fatal("expected NeedsUpgrade for weaker parameters")
	}

	same, err := oldHasher.NeedsUpgrade(hash)
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if same {
		t.Fatal("expected no upgrade for current parameters")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	for _, encoded := range []string{
		"not-a-phc-hash",
		"$bcrypt$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		if _, err := hasher.Verify(clientSecret, encoded); err == nil {
			t.Fatalf("expected malformed hash %q to fail", encoded)
		}
	}
}

func TestVerifyWrongVersion(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := hasher.Hash(clientSecret)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	wrongVersion := strings.Replace(hash, "$v=19$", "$v=18$", 1)
	if _, err := hasher.Verify(clientSecret, wrongVersion); err == nil {
		t.Fatal("expected unsupported version verification to fail")
	}
}

func TestHashLengthBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSecretBytes = 64
	hasher, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Hash("short"); !errors.Is(err, ErrSecretTooShort) {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
	if _, err := hasher.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrSecretTooLong) {
		t.Fatalf("expected ErrSecretTooLong, got %v", err)
	}

	exact := strings.Repeat("b", 64)
	hash, err := hasher.Hash(exact)
	if err != nil {
		t.Fatalf("expected exactly-max secret to be accepted: %v", err)
	}
	if _, err := hasher.Verify(strings.Repeat("c", 65), hash); !errors.Is(err, ErrSecretTooLong) {
		t.Fatalf("expected Verify to reject oversized input, got %v", err)
	}
}

func TestDefaultMaxSecretBytesApplied(t *testing.T) {
	hasher, err := NewArgon2(testConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Hash(strings.Repeat("d", DefaultMaxSecretBytes+1)); err == nil {
		t.Fatalf("expected secret > %d bytes to be rejected", DefaultMaxSecretBytes)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Memory = 1024
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected weak memory parameter to be rejected")
	}
}
