package authcore

import (
	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/twofactor"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	ErrValidation   = autherr.ErrValidation
	ErrNotFound     = autherr.ErrNotFound
	ErrUnauthorized = autherr.ErrUnauthorized
	ErrExpired      = autherr.ErrExpired
	ErrAlreadyUsed  = autherr.ErrAlreadyUsed
	ErrRateLimited  = autherr.ErrRateLimited
	ErrConflict     = autherr.ErrConflict
	ErrInternal     = autherr.ErrInternal
)

var (
	// ErrInvalidCredentials is returned for an unknown identifier and for a
	// wrong password alike.
	ErrInvalidCredentials = autherr.New(autherr.ErrUnauthorized, "invalid credentials")
	ErrEmailNotVerified   = autherr.New(autherr.ErrUnauthorized, "email not verified")
	// ErrAccountLocked is matched by the *lockout.LockedError Login returns.
	ErrAccountLocked = lockout.ErrAccountLocked
	ErrAccountExists = credential.ErrDuplicate
	ErrUserNotFound  = credential.ErrNotFound

	ErrPasswordReuse = autherr.New(autherr.ErrValidation, "new password must differ from the current password")

	ErrTwoFactorRequired       = autherr.New(autherr.ErrUnauthorized, "two-factor code required")
	ErrInvalidTwoFactorCode    = twofactor.ErrInvalidCode
	ErrBackupCodeUsed          = twofactor.ErrCodeAlreadyUsed
	ErrTwoFactorRateLimited    = twofactor.ErrTooManyAttempts
	ErrTwoFactorAlreadyEnabled = twofactor.ErrAlreadyEnabled
	ErrTwoFactorNotConfigured  = twofactor.ErrNotConfigured
	ErrTwoFactorNotEnabled     = twofactor.ErrNotEnabled

	ErrTokenMalformed    = jwt.ErrMalformed
	ErrTokenBadSignature = jwt.ErrBadSignature
	ErrTokenExpired      = jwt.ErrExpired
	ErrTokenInvalid      = jwt.ErrInvalidClaims
	ErrTokenRevoked      = autherr.New(autherr.ErrUnauthorized, "token revoked")

	ErrRefreshInvalid     = refresh.ErrTokenInvalid
	ErrRefreshExpired     = refresh.ErrTokenExpired
	ErrRefreshReuse       = refresh.ErrTokenReuse
	ErrRefreshRateLimited = refresh.ErrRateLimited

	ErrRevocationRateLimited = revocation.ErrRateLimited

	ErrVerificationInvalid     = autherr.New(autherr.ErrUnauthorized, "invalid email verification token")
	ErrVerificationExpired     = autherr.New(autherr.ErrExpired, "email verification token expired")
	ErrVerificationRateLimited = autherr.New(autherr.ErrRateLimited, "too many verification requests")

	ErrPasswordResetDisabled    = autherr.New(autherr.ErrValidation, "password reset is disabled")
	ErrPasswordResetInvalid     = autherr.New(autherr.ErrUnauthorized, "invalid password reset token")
	ErrPasswordResetExpired     = autherr.New(autherr.ErrExpired, "password reset token expired")
	ErrPasswordResetRateLimited = autherr.New(autherr.ErrRateLimited, "too many password reset requests")

	ErrEngineNotReady = autherr.New(autherr.ErrInternal, "engine not initialized")
)

// ErrorKind returns the taxonomy kind of err, or nil.
func ErrorKind(err error) error {
	return autherr.KindOf(err)
}
