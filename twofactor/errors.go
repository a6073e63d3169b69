package twofactor

import "github.com/MrEthical07/authcore/autherr"

var (
	// ErrInvalidCode is the single generic verification failure.
	ErrInvalidCode = autherr.New(autherr.ErrUnauthorized, "invalid two-factor code")
	// ErrCodeAlreadyUsed is returned when a backup code was consumed before.
	ErrCodeAlreadyUsed = autherr.New(autherr.ErrAlreadyUsed, "backup code already used")
	// ErrAlreadyEnabled is returned by Setup and Enable on an enabled config.
	ErrAlreadyEnabled = autherr.New(autherr.ErrConflict, "two-factor authentication already enabled")
	// ErrNotConfigured is returned by Enable without a pending secret.
	ErrNotConfigured = autherr.New(autherr.ErrNotFound, "two-factor authentication not configured")
	// ErrNotEnabled is returned by Disable and RegenerateBackupCodes when 2FA is off.
	ErrNotEnabled = autherr.New(autherr.ErrConflict, "two-factor authentication not enabled")
	// ErrTooManyAttempts is returned while the failed-attempt window is full.
	ErrTooManyAttempts = autherr.New(autherr.ErrRateLimited, "too many two-factor attempts")
)
