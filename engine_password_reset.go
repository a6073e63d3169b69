package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
)

// RequestPasswordReset mails a single-use reset token to the account
// matching identifier.
//
// The result does not reveal whether the account exists: unknown
// identifiers succeed without sending anything. Requests are limited per
// account to Config.PasswordReset.RequestsPerHour.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return autherr.Invalid("identifier", "must not be empty")
	}

	e.metricInc(MetricPasswordResetRequest)

	cred, found, err := e.lookupIdentifier(ctx, identifier, "password_reset.lookup")
	if err != nil {
		return err
	}

	window := rate.Window{Limit: e.config.PasswordReset.RequestsPerHour, Period: time.Hour}
	if err := e.allow(ctx, limitKey("reset", cred.ID, identifier), window, ErrPasswordResetRateLimited); err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, cred.ID, identifier, "", err, nil)
		return err
	}
	if !found {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, 0, identifier, "", ErrUserNotFound, nil)
		return nil
	}

	token, err := e.challenges.Issue(ctx, stores.PurposePasswordReset, cred.ID, e.config.PasswordReset.TTL)
	if err != nil {
		return err
	}
	if err := e.email.SendPasswordReset(ctx, recipientOf(cred), token); err != nil {
		e.logger.WarnContext(ctx, "send password reset", slog.Int64("user_id", cred.ID), slog.Any("error", err))
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, cred.ID, identifier, "", nil, nil)
	return nil
}

// ResetPassword consumes a reset token and sets newPassword. Like
// ChangePassword it revokes every session and clears the lockout, so a
// reset also unlocks a locked account.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.PasswordReset.Enabled {
		return ErrPasswordResetDisabled
	}
	// A rejected password must not consume the token.
	if err := e.config.Password.Policy.Check(newPassword); err != nil {
		return err
	}

	userID, err := e.challenges.Consume(ctx, stores.PurposePasswordReset, token)
	if err != nil {
		mapped := mapChallengeError(err, ErrPasswordResetInvalid, ErrPasswordResetExpired)
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, 0, "", "", mapped, nil)
		return mapped
	}

	cred, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		if errors.Is(err, credential.ErrNotFound) {
			return ErrPasswordResetInvalid
		}
		return autherr.Internal("password_reset.lookup", err)
	}

	counts, err := e.replacePassword(ctx, cred, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, userID, "", "", nil, counts.metadata)
	return nil
}
