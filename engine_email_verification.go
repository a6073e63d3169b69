package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
)

// VerifyEmail consumes a verification token and marks its account
// verified. A token works once; a second use fails with
// ErrVerificationInvalid.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	userID, err := e.challenges.Consume(ctx, stores.PurposeEmailVerification, token)
	if err != nil {
		mapped := mapChallengeError(err, ErrVerificationInvalid, ErrVerificationExpired)
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerification, false, 0, "", "", mapped, nil)
		return mapped
	}

	if err := e.credentials.MarkEmailVerified(ctx, userID); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return ErrVerificationInvalid
		}
		return autherr.Internal("verify_email.mark", err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerification, true, userID, "", "", nil, nil)

	if e.config.Registration.SendWelcomeEmail {
		if cred, err := e.credentials.FindByID(ctx, userID); err == nil {
			e.sendWelcome(ctx, cred)
		}
	}
	return nil
}

// ResendVerification mails a fresh verification token, superseding any
// earlier one. Unknown and already verified identifiers succeed silently.
// Requests are limited per account to Config.Registration.ResendPerHour;
// unknown identifiers are limited by their lowercased form.
func (e *Engine) ResendVerification(ctx context.Context, identifier string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return autherr.Invalid("identifier", "must not be empty")
	}

	cred, found, err := e.lookupIdentifier(ctx, identifier, "verify_email.lookup")
	if err != nil {
		return err
	}

	window := rate.Window{Limit: e.config.Registration.ResendPerHour, Period: time.Hour}
	if err := e.allow(ctx, limitKey("verify", cred.ID, identifier), window, ErrVerificationRateLimited); err != nil {
		e.emitAudit(ctx, auditEventVerificationResent, false, cred.ID, identifier, "", err, nil)
		return err
	}
	if !found || cred.EmailVerified {
		return nil
	}

	e.sendVerification(ctx, cred)
	e.emitAudit(ctx, auditEventVerificationResent, true, cred.ID, identifier, "", nil, nil)
	return nil
}

// lookupIdentifier resolves a username or email. A missing account is
// not an error; cred is then the zero value.
func (e *Engine) lookupIdentifier(ctx context.Context, identifier, op string) (credential.Credential, bool, error) {
	cred, err := e.credentials.FindByUsernameOrEmail(ctx, identifier)
	if errors.Is(err, credential.ErrNotFound) {
		return credential.Credential{}, false, nil
	}
	if err != nil {
		return credential.Credential{}, false, autherr.Internal(op, err)
	}
	return cred, true, nil
}

// limitKey names a per-account rate window. Known accounts share one
// window whichever identifier was used.
func limitKey(purpose string, userID int64, identifier string) string {
	if userID != 0 {
		return purpose + ":user:" + strconv.FormatInt(userID, 10)
	}
	return purpose + ":id:" + strings.ToLower(identifier)
}

// allow applies a rolling window and returns limited when it is full.
func (e *Engine) allow(ctx context.Context, key string, w rate.Window, limited error) error {
	if !w.Enabled() {
		return nil
	}
	d, err := e.limiter.Allow(ctx, key, w)
	if err != nil {
		return autherr.Internal("rate.allow", err)
	}
	if !d.Allowed {
		return limited
	}
	return nil
}

func mapChallengeError(err, invalid, expired error) error {
	switch {
	case errors.Is(err, stores.ErrChallengeExpired):
		return expired
	case errors.Is(err, stores.ErrChallengeInvalid):
		return invalid
	default:
		return err
	}
}
