package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
)

// Register creates an account.
//
// The username and email must both be unused (ErrAccountExists). The
// password must satisfy Config.Password.Policy. With email verification
// enabled the account starts unverified and a verification token is
// mailed; otherwise it starts verified and, if configured, a welcome
// email is sent. Email delivery is best-effort and never undoes the
// registration.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*Account, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	// Format checks run before any lookup or hashing.
	username, err := credential.NormalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := credential.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := e.config.Password.Policy.Check(in.Password); err != nil {
		e.emitAudit(ctx, auditEventRegistrationFailure, false, 0, username, "", err, nil)
		return nil, err
	}

	if err := e.ensureAvailable(ctx, username, email); err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegistrationConflict)
			e.emitAudit(ctx, auditEventRegistrationFailure, false, 0, username, "", err, nil)
		}
		return nil, err
	}

	hash, err := e.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	role := strings.TrimSpace(in.Role)
	if role == "" {
		role = e.config.Registration.DefaultRole
	}
	cred, err := credential.New(credential.Params{
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		Role:          role,
		EmailVerified: !e.config.Registration.RequireEmailVerification,
	})
	if err != nil {
		return nil, err
	}

	cred, err = e.credentials.Create(ctx, cred)
	if errors.Is(err, credential.ErrDuplicate) {
		e.metricInc(MetricRegistrationConflict)
		e.emitAudit(ctx, auditEventRegistrationFailure, false, 0, username, "", err, nil)
		return nil, ErrAccountExists
	}
	if err != nil {
		return nil, autherr.Internal("register.create", err)
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistrationSuccess, true, cred.ID, cred.Username, "", nil, nil)

	if e.config.Registration.RequireEmailVerification {
		e.sendVerification(ctx, cred)
	} else if e.config.Registration.SendWelcomeEmail {
		e.sendWelcome(ctx, cred)
	}

	return accountOf(cred), nil
}

func (e *Engine) ensureAvailable(ctx context.Context, username, email string) error {
	taken, err := e.credentials.ExistsByUsername(ctx, username)
	if err != nil {
		return autherr.Internal("register.exists", err)
	}
	if taken {
		return ErrAccountExists
	}
	taken, err = e.credentials.ExistsByEmail(ctx, email)
	if err != nil {
		return autherr.Internal("register.exists", err)
	}
	if taken {
		return ErrAccountExists
	}
	return nil
}

func (e *Engine) hashPassword(plain string) (string, error) {
	hash, err := e.hasher.Hash(plain)
	if errors.Is(err, password.ErrInputTooLong) {
		return "", autherr.Invalid("password", "too long")
	}
	if err != nil {
		return "", autherr.Internal("password.hash", err)
	}
	return hash, nil
}

/*
====================================
PASSWORD CHANGE
====================================
*/

// ChangePassword replaces the password of userID after checking the
// current one. On success every refresh token and every outstanding
// access token of the user is revoked and the lockout counter is reset.
//
// A wrong current password fails with ErrInvalidCredentials; reusing the
// current password fails with ErrPasswordReuse.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	cred, err := e.credentials.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrUserNotFound
		}
		return autherr.Internal("password_change.lookup", err)
	}

	ok, err := e.hasher.Verify(oldPassword, cred.PasswordHash)
	if err != nil {
		return autherr.Internal("password_change.verify", err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.config.Password.Policy.Check(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}
	if same, err := e.hasher.Verify(newPassword, cred.PasswordHash); err == nil && same {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, userID, "", "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	counts, err := e.replacePassword(ctx, cred, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, userID, "", "", nil, counts.metadata)
	return nil
}

// replacePassword stores a new hash and invalidates every session. Each
// step fails closed.
func (e *Engine) replacePassword(ctx context.Context, cred credential.Credential, newPassword string) (RevokedCounts, error) {
	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return RevokedCounts{}, err
	}
	if err := e.credentials.UpdatePasswordHash(ctx, cred.ID, hash); err != nil {
		return RevokedCounts{}, autherr.Internal("password.update", err)
	}

	counts, err := e.revokeEverything(ctx, cred.ID, ReasonPasswordChange)
	if err != nil {
		return counts, err
	}
	if err := e.guard.RecordSuccess(ctx, cred); err != nil {
		return counts, err
	}
	if err := e.challenges.Revoke(ctx, stores.PurposePasswordReset, cred.ID); err != nil {
		e.logger.WarnContext(ctx, "revoke pending password reset", slog.Int64("user_id", cred.ID), slog.Any("error", err))
	}
	return counts, nil
}

/*
====================================
EMAIL
====================================
*/

func (e *Engine) sendVerification(ctx context.Context, cred credential.Credential) {
	token, err := e.challenges.Issue(ctx, stores.PurposeEmailVerification, cred.ID, e.config.Registration.VerificationTTL)
	if err != nil {
		e.logger.ErrorContext(ctx, "issue email verification", slog.Int64("user_id", cred.ID), slog.Any("error", err))
		return
	}
	if err := e.email.SendEmailVerification(ctx, recipientOf(cred), token); err != nil {
		e.logger.WarnContext(ctx, "send email verification", slog.Int64("user_id", cred.ID), slog.Any("error", err))
	}
}

func (e *Engine) sendWelcome(ctx context.Context, cred credential.Credential) {
	if err := e.email.SendWelcomeEmail(ctx, recipientOf(cred)); err != nil {
		e.logger.WarnContext(ctx, "send welcome email", slog.Int64("user_id", cred.ID), slog.Any("error", err))
	}
}

func recipientOf(c credential.Credential) Recipient {
	return Recipient{UserID: c.ID, Username: c.Username, Email: c.Email}
}
