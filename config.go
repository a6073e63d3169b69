package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
)

// Config holds every tunable of an Engine. Start from DefaultConfig and
// override fields; Build calls Validate.
type Config struct {
	JWT           JWTConfig
	Refresh       RefreshConfig
	Revocation    RevocationConfig
	TwoFactor     TwoFactorConfig
	Lockout       LockoutConfig
	Password      PasswordConfig
	Registration  RegistrationConfig
	PasswordReset PasswordResetConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Cleanup       CleanupConfig
	// KeyPrefix namespaces every Redis key written by the engine. It is
	// wrapped in a hash tag, so all keys share one cluster slot.
	KeyPrefix string
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing (HS256).
type JWTConfig struct {
	// Secret must be at least 32 bytes.
	Secret    []byte
	Issuer    string
	Audience  string
	AccessTTL time.Duration
	Leeway    time.Duration
	// KeyID is written to the kid header. VerifyKeys maps kid to secret
	// and lets tokens signed with a previous secret validate during a
	// rotation.
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig configures the refresh-token store.
type RefreshConfig struct {
	TTL              time.Duration
	MaxActivePerUser int
	// CreatePerHour bounds token creation per user in a rolling hour.
	CreatePerHour int
	ReuseGrace    time.Duration
	Retention     time.Duration
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig configures the access-token blacklist.
type RevocationConfig struct {
	// RevokePerHour bounds single revocations per user in a rolling hour.
	RevokePerHour  int
	RetentionSlack time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig configures TOTP two-factor authentication.
type TwoFactorConfig struct {
	Issuer           string
	BackupCodeCount  int
	ReplayProtection bool
	// MaxFailedAttempts per FailedAttemptWindow. Zero disables the limit.
	MaxFailedAttempts   int
	FailedAttemptWindow time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the failed-login lock.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id costs and the strength policy.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	Policy      password.Policy
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig controls account creation and email verification.
type RegistrationConfig struct {
	RequireEmailVerification bool
	VerificationTTL          time.Duration
	DefaultRole              string
	SendWelcomeEmail         bool
	// ResendPerHour bounds verification resends per account.
	ResendPerHour int
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig controls the reset flow.
type PasswordResetConfig struct {
	Enabled bool
	TTL     time.Duration
	// RequestsPerHour bounds reset requests per account.
	RequestsPerHour int
}

/*
====================================
AUDIT / METRICS / CLEANUP
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// CleanupConfig controls the maintenance tasks returned by CleanupTasks.
type CleanupConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultConfig returns production defaults. JWT.Secret must still be set.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Leeway:    30 * time.Second,
		},
		Refresh: RefreshConfig{
			TTL:              7 * 24 * time.Hour,
			MaxActivePerUser: 10,
			CreatePerHour:    20,
			ReuseGrace:       5 * time.Second,
			Retention:        7 * 24 * time.Hour,
		},
		Revocation: RevocationConfig{
			RevokePerHour:  100,
			RetentionSlack: time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:              "authcore",
			BackupCodeCount:     10,
			ReplayProtection:    true,
			MaxFailedAttempts:   5,
			FailedAttemptWindow: 5 * time.Minute,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
			Policy:      password.DefaultPolicy(),
		},
		Registration: RegistrationConfig{
			RequireEmailVerification: true,
			VerificationTTL:          24 * time.Hour,
			DefaultRole:              "USER",
			SendWelcomeEmail:         true,
			ResendPerHour:            3,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:         true,
			TTL:             15 * time.Minute,
			RequestsPerHour: 3,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cleanup: CleanupConfig{
			Interval: time.Hour,
			Timeout:  5 * time.Minute,
		},
		KeyPrefix: "ac",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = append([]byte(nil), cfg.JWT.Secret...)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = append([]byte(nil), key...)
		}
	}
	return out
}

// Validate reports every invalid field, joined with errors.Join.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(len(c.JWT.Secret) >= jwt.MinSecretLength, "JWT.Secret must be at least %d bytes", jwt.MinSecretLength)
	check(c.JWT.AccessTTL > 0 && c.JWT.AccessTTL <= 24*time.Hour, "JWT.AccessTTL must be in (0, 24h]")
	check(c.JWT.Leeway >= 0 && c.JWT.Leeway <= 2*time.Minute, "JWT.Leeway must be in [0, 2m]")

	check(c.Refresh.TTL > c.JWT.AccessTTL, "Refresh.TTL must exceed JWT.AccessTTL")
	check(c.Refresh.MaxActivePerUser >= 0, "Refresh.MaxActivePerUser must be >= 0")
	check(c.Refresh.CreatePerHour >= 0, "Refresh.CreatePerHour must be >= 0")
	check(c.Refresh.ReuseGrace >= 0 && c.Refresh.ReuseGrace <= time.Minute, "Refresh.ReuseGrace must be in [0, 1m]")
	check(c.Refresh.Retention >= 0, "Refresh.Retention must be >= 0")

	check(c.Revocation.RevokePerHour >= 0, "Revocation.RevokePerHour must be >= 0")
	check(c.Revocation.RetentionSlack >= 0, "Revocation.RetentionSlack must be >= 0")

	check(strings.TrimSpace(c.TwoFactor.Issuer) != "", "TwoFactor.Issuer must be set")
	check(c.TwoFactor.BackupCodeCount >= 1 && c.TwoFactor.BackupCodeCount <= 50, "TwoFactor.BackupCodeCount must be in [1, 50]")
	check(c.TwoFactor.MaxFailedAttempts >= 0, "TwoFactor.MaxFailedAttempts must be >= 0")
	check(c.TwoFactor.MaxFailedAttempts == 0 || c.TwoFactor.FailedAttemptWindow > 0, "TwoFactor.FailedAttemptWindow must be > 0 when attempts are limited")

	check(c.Lockout.Threshold > 0, "Lockout.Threshold must be > 0")
	check(c.Lockout.Duration >= 0, "Lockout.Duration must be >= 0")

	check(c.Password.Policy.MinLength >= 8, "Password.Policy.MinLength must be >= 8")
	check(c.Password.Policy.MaxLength == 0 || c.Password.Policy.MaxLength >= c.Password.Policy.MinLength, "Password.Policy.MaxLength must be >= MinLength")

	check(c.Registration.VerificationTTL > 0, "Registration.VerificationTTL must be > 0")
	check(strings.TrimSpace(c.Registration.DefaultRole) != "", "Registration.DefaultRole must be set")
	check(c.Registration.ResendPerHour >= 0, "Registration.ResendPerHour must be >= 0")

	if c.PasswordReset.Enabled {
		check(c.PasswordReset.TTL > 0 && c.PasswordReset.TTL <= 24*time.Hour, "PasswordReset.TTL must be in (0, 24h]")
		check(c.PasswordReset.RequestsPerHour >= 0, "PasswordReset.RequestsPerHour must be >= 0")
	}

	if c.Audit.Enabled {
		check(c.Audit.BufferSize > 0, "Audit.BufferSize must be > 0")
	}

	check(c.Cleanup.Interval > 0, "Cleanup.Interval must be > 0")
	check(c.Cleanup.Timeout >= 0, "Cleanup.Timeout must be >= 0")
	check(strings.TrimSpace(c.KeyPrefix) != "", "KeyPrefix must be set")

	return errors.Join(errs...)
}
