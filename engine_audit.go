package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/internal/stores"
)

const (
	auditEventLoginSuccess           = "login_success"
	auditEventLoginFailure           = "login_failure"
	auditEventLoginLocked            = "login_locked"
	auditEventAccountLocked          = "account_locked"
	auditEventTwoFactorRequired      = "two_factor_required"
	auditEventTwoFactorFailure       = "two_factor_failure"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventTwoFactorSetup         = "two_factor_setup"
	auditEventTwoFactorEnabled       = "two_factor_enabled"
	auditEventTwoFactorDisabled      = "two_factor_disabled"
	auditEventBackupCodesRegenerated = "backup_codes_regenerated"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshFailure         = "refresh_failure"
	auditEventRefreshReuse           = "refresh_reuse_detected"
	auditEventTokenRevoked           = "token_revoked"
	auditEventLogout                 = "logout"
	auditEventLogoutAll              = "logout_all"
	auditEventAdminRevoke            = "admin_revoke"
	auditEventRegistrationSuccess    = "registration_success"
	auditEventRegistrationFailure    = "registration_failure"
	auditEventEmailVerification      = "email_verification"
	auditEventVerificationResent     = "email_verification_resent"
	auditEventPasswordChange         = "password_change"
	auditEventPasswordResetRequest   = "password_reset_request"
	auditEventPasswordResetConfirm   = "password_reset_confirm"
)

// AuditErrorCode is the stable error label written to AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrBackupCodeUsed     AuditErrorCode = "backup_code_used"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrExpired            AuditErrorCode = "expired"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	identifier string,
	jti string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		UserID:     userID,
		Identifier: identifier,
		JTI:        jti,
		IP:         clientIPFromContext(ctx),
		DeviceInfo: userAgentFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrBackupCodeUsed):
		return auditErrBackupCodeUsed
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenBadSignature),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrVerificationInvalid),
		errors.Is(err, ErrPasswordResetInvalid),
		errors.Is(err, stores.ErrChallengeInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrExpired):
		return auditErrExpired
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	default:
		return auditErrInternal
	}
}
