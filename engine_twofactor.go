package authcore

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
)

// SetupTwoFactor starts enrollment for userID and returns the secret, the
// otpauth provisioning URI and the backup codes. 2FA stays disabled until
// EnableTwoFactor confirms a code. Fails with ErrTwoFactorAlreadyEnabled
// when 2FA is already on.
func (e *Engine) SetupTwoFactor(ctx context.Context, userID int64) (*TwoFactorEnrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	cred, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, autherr.Internal("two_factor.lookup", err)
	}

	enrollment, err := e.twoFactor.Setup(ctx, userID, cred.Username)
	if err != nil {
		e.emitAudit(ctx, auditEventTwoFactorSetup, false, userID, "", "", err, nil)
		return nil, err
	}
	e.emitAudit(ctx, auditEventTwoFactorSetup, true, userID, "", "", nil, nil)
	return enrollment, nil
}

// EnableTwoFactor confirms enrollment with a TOTP code.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID int64, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.twoFactor.Enable(ctx, userID, code); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorEnabled, false, userID, "", "", err, nil)
		return err
	}
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", "", nil, nil)
	return nil
}

// DisableTwoFactor turns 2FA off after a valid TOTP or unused backup code.
// The secret and backup codes are deleted; turning 2FA back on needs a
// new SetupTwoFactor.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID int64, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.twoFactor.Disable(ctx, userID, code); err != nil {
		e.emitAudit(ctx, auditEventTwoFactorDisabled, false, userID, "", "", err, nil)
		return err
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code after a valid TOTP
// code. Previously issued codes, used or not, stop working.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID int64, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	codes, err := e.twoFactor.RegenerateBackupCodes(ctx, userID, code)
	if err != nil {
		e.emitAudit(ctx, auditEventBackupCodesRegenerated, false, userID, "", "", err, nil)
		return nil, err
	}
	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, userID, "", "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

func (e *Engine) TwoFactorStatus(ctx context.Context, userID int64) (TwoFactorStatus, error) {
	if e == nil {
		return TwoFactorStatus{}, ErrEngineNotReady
	}
	return e.twoFactor.Status(ctx, userID)
}
