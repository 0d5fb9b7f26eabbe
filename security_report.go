package goAccess

import "time"

// SecurityReport summarizes the security-relevant configuration of an
// engine. accessd logs it at startup.
type SecurityReport struct {
	ProductionMode    bool
	SigningAlgorithm  string
	Issuer            string
	CodeTTL           time.Duration
	AccessTokenTTL    time.Duration
	ConsentTTL        time.Duration
	Argon2            PasswordConfigReport
	RateLimitBackend  RateLimitBackend
	FallbackRPM       int
	WildcardAPIKeys   bool
	APIKeyPermissions int
	AuditEnabled      bool
	SweepInterval     time.Duration
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode:   e.config.Security.ProductionMode,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		Issuer:           e.config.JWT.Issuer,
		CodeTTL:          e.config.OAuth.CodeTTL,
		AccessTokenTTL:   e.config.OAuth.AccessTokenTTL,
		ConsentTTL:       e.config.OAuth.ConsentTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		RateLimitBackend:  e.config.RateLimit.Backend,
		FallbackRPM:       e.config.RateLimit.FallbackRPM,
		WildcardAPIKeys:   e.config.APIKey.AllowWildcard,
		APIKeyPermissions: e.registry.Count(),
		AuditEnabled:      e.config.Audit.Enabled,
		SweepInterval:     e.config.Sweep.Interval,
	}
}
