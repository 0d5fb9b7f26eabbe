package goAccess

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goAccess/internal/rate"
	"github.com/MrEthical07/goAccess/permission"
)

// Config holds every tunable of the engine. Start from DefaultConfig and
// override fields; Builder.Build validates the result.
type Config struct {
	OAuth      OAuthConfig
	JWT        JWTConfig
	RateLimit  RateLimitConfig
	APIKey     APIKeyConfig
	Permission PermissionConfig
	Lookup     LookupConfig
	Sweep      SweepConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Password   PasswordConfig
	Security   SecurityConfig
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig tunes the authorization-code flow.
type OAuthConfig struct {
	CodeTTL        time.Duration
	AccessTokenTTL time.Duration
	ConsentTTL     time.Duration
	// DefaultScope applies when an authorize request omits scope.
	DefaultScope []string
	RedisPrefix  string
	// RecordRetention is how long used or expired records outlive their
	// expiry in Redis when no sweep runs.
	RecordRetention time.Duration
	// LoginURL receives unauthenticated authorize requests, with the
	// original request URL in the "next" query parameter.
	LoginURL string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitBackend selects the sliding-window implementation.
type RateLimitBackend string

const (
	RateLimitMemory RateLimitBackend = "memory"
	RateLimitRedis  RateLimitBackend = "redis"
)

// RateLimitConfig tunes API-key admission control.
type RateLimitConfig struct {
	Backend RateLimitBackend
	Window  time.Duration
	// FallbackRPM applies when a key's configured rate cannot be read.
	FallbackRPM int
	// DefaultRPM is assigned to keys created without an explicit rate.
	DefaultRPM  int
	RedisPrefix string
}

/*
====================================
API KEY CONFIG
====================================
*/

// APIKeyConfig configures issued API keys.
type APIKeyConfig struct {
	Prefix string
	// Permissions is the catalogue a key may hold.
	Permissions   []string
	AllowWildcard bool
}

// PermissionConfig names the page grants that gate administrative actions.
type PermissionConfig struct {
	AdminsPage string
	KeysPage   string
	AppsPage   string
}

/*
====================================
RUNTIME CONFIG
====================================
*/

// LookupConfig bounds every collaborator call.
type LookupConfig struct {
	Timeout time.Duration
}

// SweepConfig drives Engine.RunSweeper.
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int64
}

// AuditConfig controls the asynchronous audit queue. DropIfFull applies to
// high-volume events only; admin decisions always wait for room.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	// SinkTimeout bounds each AuditSink.Emit call. Zero means no deadline.
	SinkTimeout time.Duration
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// PasswordConfig holds argon2id parameters for client secrets.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// SecurityConfig holds deployment posture switches.
type SecurityConfig struct {
	// ProductionMode forbids hs256 and requires an issuer.
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the settings the engine was designed around.
func DefaultConfig() Config {
	return Config{
		OAuth: OAuthConfig{
			CodeTTL:         10 * time.Minute,
			AccessTokenTTL:  time.Hour,
			ConsentTTL:      10 * time.Minute,
			DefaultScope:    []string{"profile", "email"},
			RedisPrefix:     "goaccess",
			RecordRetention: time.Hour,
			LoginURL:        "/login",
		},
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Issuer:        "goaccess",
			Leeway:        30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Backend:     RateLimitMemory,
			Window:      rate.DefaultWindow,
			FallbackRPM: 60,
			DefaultRPM:  60,
			RedisPrefix: "arl",
		},
		APIKey: APIKeyConfig{
			Prefix:        "gak_",
			Permissions:   []string{"events.register", "users.read", "oauth", "discord.manage"},
			AllowWildcard: true,
		},
		Permission: PermissionConfig{
			AdminsPage: "admins",
			KeysPage:   "keys",
			AppsPage:   "apps",
		},
		Lookup: LookupConfig{
			Timeout: 2 * time.Second,
		},
		Sweep: SweepConfig{
			Interval:  5 * time.Minute,
			BatchSize: 500,
		},
		Audit: AuditConfig{
			Enabled:     false,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.OAuth.DefaultScope = slices.Clone(cfg.OAuth.DefaultScope)
	out.APIKey.Permissions = slices.Clone(cfg.APIKey.Permissions)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// OAuth
	if c.OAuth.CodeTTL <= 0 {
		return errors.New("OAuth CodeTTL must be > 0")
	}
	if c.OAuth.CodeTTL > 10*time.Minute {
		return errors.New("OAuth CodeTTL must be <= 10m")
	}
	if c.OAuth.AccessTokenTTL <= 0 {
		return errors.New("OAuth AccessTokenTTL must be > 0")
	}
	if c.OAuth.ConsentTTL <= 0 {
		return errors.New("OAuth ConsentTTL must be > 0")
	}
	if len(c.OAuth.DefaultScope) == 0 {
		return errors.New("OAuth DefaultScope must not be empty")
	}
	if c.OAuth.RedisPrefix == "" {
		return errors.New("OAuth RedisPrefix must not be empty")
	}
	if c.OAuth.RecordRetention < 0 {
		return errors.New("OAuth RecordRetention must be >= 0")
	}

	// JWT
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Rate limit
	switch c.RateLimit.Backend {
	case RateLimitMemory, RateLimitRedis:
	default:
		return fmt.Errorf("unsupported RateLimit Backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("RateLimit Window must be > 0")
	}
	// The fallback guards against lookup failure; unlimited would fail open.
	if c.RateLimit.FallbackRPM <= 0 || c.RateLimit.FallbackRPM > rate.MaxRPM {
		return errors.New("RateLimit FallbackRPM must be between 1 and MaxRPM")
	}
	if err := rate.ValidateRPM(c.RateLimit.DefaultRPM); err != nil {
		return errors.New("RateLimit DefaultRPM must be between 0 and MaxRPM")
	}

	// API keys
	if len(c.APIKey.Permissions) == 0 {
		return errors.New("APIKey Permissions must not be empty")
	}
	for _, p := range c.APIKey.Permissions {
		if p == "" || p == permission.Wildcard || strings.ContainsAny(p, " \t\n") {
			return fmt.Errorf("APIKey permission %q is invalid", p)
		}
	}
	if c.Permission.AdminsPage == "" || c.Permission.KeysPage == "" || c.Permission.AppsPage == "" {
		return errors.New("Permission pages must not be empty")
	}

	// Runtime
	if c.Lookup.Timeout <= 0 {
		return errors.New("Lookup Timeout must be > 0")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("Sweep Interval must be > 0")
	}
	if c.Sweep.BatchSize <= 0 {
		return errors.New("Sweep BatchSize must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Security
	if c.Security.ProductionMode {
		if c.JWT.SigningMethod != "ed25519" {
			return errors.New("ProductionMode requires ed25519 signing")
		}
		if c.JWT.Issuer == "" {
			return errors.New("ProductionMode requires JWT Issuer")
		}
	}

	return nil
}
