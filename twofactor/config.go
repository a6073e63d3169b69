package twofactor

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/rate"
)

// Config configures an Engine.
type Config struct {
	Issuer           string
	Period           time.Duration
	Skew             int
	BackupCodeCount  int
	BackupCodeLength int
	ReplayProtection bool
	// FailedAttempts bounds failed verifications per user. A zero
	// window disables the limit.
	FailedAttempts rate.Window
}

// DefaultConfig returns RFC 6238 defaults with 10 backup codes.
func DefaultConfig() Config {
	return Config{
		Issuer:           "authcore",
		Period:           30 * time.Second,
		Skew:             1,
		BackupCodeCount:  10,
		BackupCodeLength: 10,
		ReplayProtection: true,
		FailedAttempts:   rate.Window{Limit: 5, Period: 5 * time.Minute},
	}
}

func (c Config) validate() error {
	switch {
	case c.Issuer == "":
		return errors.New("twofactor: issuer must be set")
	case c.Period < time.Second:
		return errors.New("twofactor: period must be >= 1s")
	case c.Skew < 0 || c.Skew > 3:
		return errors.New("twofactor: skew must be in [0, 3]")
	case c.BackupCodeCount < 1 || c.BackupCodeCount > 50:
		return errors.New("twofactor: backup code count must be in [1, 50]")
	case c.BackupCodeLength < 8 || c.BackupCodeLength > 32:
		return errors.New("twofactor: backup code length must be in [8, 32]")
	}
	return nil
}
