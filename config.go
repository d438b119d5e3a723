package authcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/templeworks/authcore/password"
)

// Development fallback secrets. Validate rejects them in production mode;
// in development they let the engine start with an empty config.
const (
	devAccessSecret    = "dev-secret-access-not-for-production-use"
	devRefreshSecret   = "dev-secret-refresh-not-for-production-use"
	devTwoFactorSecret = "dev-secret-twofactor-not-for-production"

	minSecretLength = 32
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override what you need; Build validates the result.
type Config struct {
	// ProductionMode hardens validation: weak or placeholder secrets
	// become fatal configuration errors instead of dev fallbacks.
	ProductionMode bool

	Secrets   SecretsConfig
	Password  password.Config
	Lockout   LockoutConfig
	Session   SessionConfig
	OTP       OTPConfig
	TwoFactor TwoFactorConfig
	Account   AccountConfig
	Audit     AuditConfig
}

// SecretsConfig carries the three key materials the engine needs. Access
// and refresh secrets sign the JWT pair; the two-factor key encrypts TOTP
// secrets at rest.
type SecretsConfig struct {
	AccessToken  string
	RefreshToken string
	TwoFactorKey string
}

// LockoutConfig tunes the brute-force guard.
type LockoutConfig struct {
	MaxFailedAttempts int
	LockDuration      time.Duration
}

// SessionConfig tunes token issuance. Timeouts overrides the built-in
// per-role timeout table; roles absent from the map keep their defaults.
type SessionConfig struct {
	Issuer   string
	Leeway   time.Duration
	Timeouts map[Role]SessionTimeouts
}

// OTPConfig tunes the emailed one-time-code mechanism.
type OTPConfig struct {
	Digits               int
	CodeTTL              time.Duration
	VerificationTokenTTL time.Duration
	MaxRequestsPerWindow int
	RequestWindow        time.Duration
	MaxVerifyAttempts    int
	VerifyLockDuration   time.Duration
	CleanupInterval      time.Duration
}

// TwoFactorConfig tunes TOTP enrollment and validation.
type TwoFactorConfig struct {
	// Issuer is the name shown in authenticator apps.
	Issuer            string
	RecoveryCodeCount int
	// Skew is how many 30-second steps either side of now still verify.
	Skew uint
}

// AccountConfig carries account-level policy.
type AccountConfig struct {
	// SuperAdminEmail is the reserved address of the seeded super-admin.
	// No flow may register or create an account with it. Empty disables
	// the email reservation (the role restrictions still apply).
	SuperAdminEmail string
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	BufferSize int
}

// DefaultConfig returns the documented defaults: 5 failures lock for 15
// minutes, 6-digit codes valid 5 minutes, 5 requests per rolling hour,
// 3-minute verification tokens, 8 recovery codes.
func DefaultConfig() Config {
	return Config{
		Secrets:  SecretsConfig{},
		Password: password.DefaultConfig(),
		Lockout: LockoutConfig{
			MaxFailedAttempts: 5,
			LockDuration:      15 * time.Minute,
		},
		Session: SessionConfig{
			Issuer: "authcore",
			Leeway: 30 * time.Second,
		},
		OTP: OTPConfig{
			Digits:               6,
			CodeTTL:              5 * time.Minute,
			VerificationTokenTTL: 3 * time.Minute,
			MaxRequestsPerWindow: 5,
			RequestWindow:        time.Hour,
			MaxVerifyAttempts:    5,
			VerifyLockDuration:   15 * time.Minute,
			CleanupInterval:      time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:            "authcore",
			RecoveryCodeCount: 8,
			Skew:              1,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
	}
}

// Validate checks the configuration and returns ErrConfiguration on the
// first violation. In production mode every secret must be present,
// non-placeholder, and at least 32 bytes.
func (c *Config) Validate() error {
	if c.ProductionMode {
		for _, secret := range []struct {
			name  string
			value string
		}{
			{"access token secret", c.Secrets.AccessToken},
			{"refresh token secret", c.Secrets.RefreshToken},
			{"two-factor encryption key", c.Secrets.TwoFactorKey},
		} {
			if secret.value == "" {
				return fmt.Errorf("%w: %s is required in production", ErrConfiguration, secret.name)
			}
			if strings.Contains(secret.value, "dev-secret") {
				return fmt.Errorf("%w: %s is a development placeholder", ErrConfiguration, secret.name)
			}
			if len(secret.value) < minSecretLength {
				return fmt.Errorf("%w: %s shorter than %d bytes", ErrConfiguration, secret.name, minSecretLength)
			}
		}
	}

	if c.Secrets.AccessToken != "" && c.Secrets.AccessToken == c.Secrets.RefreshToken {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfiguration)
	}

	if c.Lockout.MaxFailedAttempts < 1 {
		return fmt.Errorf("%w: lockout threshold must be at least 1", ErrConfiguration)
	}
	if c.Lockout.LockDuration <= 0 {
		return fmt.Errorf("%w: lockout duration must be positive", ErrConfiguration)
	}

	if c.OTP.Digits < 4 || c.OTP.Digits > 8 {
		return fmt.Errorf("%w: otp digits must be between 4 and 8", ErrConfiguration)
	}
	if c.OTP.CodeTTL <= 0 || c.OTP.VerificationTokenTTL <= 0 {
		return fmt.Errorf("%w: otp lifetimes must be positive", ErrConfiguration)
	}
	if c.OTP.MaxRequestsPerWindow < 1 || c.OTP.RequestWindow <= 0 {
		return fmt.Errorf("%w: otp request window misconfigured", ErrConfiguration)
	}
	if c.OTP.MaxVerifyAttempts < 1 || c.OTP.VerifyLockDuration <= 0 {
		return fmt.Errorf("%w: otp verify lock misconfigured", ErrConfiguration)
	}
	if c.OTP.CleanupInterval <= 0 {
		return fmt.Errorf("%w: otp cleanup interval must be positive", ErrConfiguration)
	}

	if c.TwoFactor.Issuer == "" {
		return fmt.Errorf("%w: two-factor issuer is required", ErrConfiguration)
	}
	if c.TwoFactor.RecoveryCodeCount < 1 {
		return fmt.Errorf("%w: recovery code count must be at least 1", ErrConfiguration)
	}

	for role := range c.Session.Timeouts {
		if !role.Valid() {
			return fmt.Errorf("%w: session timeout override for unknown role %q", ErrConfiguration, role)
		}
	}

	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("%w: audit buffer size must be at least 1", ErrConfiguration)
	}

	return nil
}

// applyDevelopmentFallbacks substitutes the documented dev secrets for
// any missing secret. Only called outside production mode.
func (c *Config) applyDevelopmentFallbacks() {
	if c.Secrets.AccessToken == "" {
		c.Secrets.AccessToken = devAccessSecret
	}
	if c.Secrets.RefreshToken == "" {
		c.Secrets.RefreshToken = devRefreshSecret
	}
	if c.Secrets.TwoFactorKey == "" {
		c.Secrets.TwoFactorKey = devTwoFactorSecret
	}
}
