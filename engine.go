package authcore

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/twofactor"
	"github.com/redis/go-redis/v9"
)

// Engine orchestrates registration, login, token refresh, logout and
// credential changes on top of the signer, the lockout guard, the 2FA
// engine, the refresh-token store and the revocation registry.
//
// An Engine is safe for concurrent use. It holds no authoritative state
// in memory; every counter and token lives in Redis or in the
// credential store.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time
	redis  redis.UniversalClient

	credentials credential.Store
	email       EmailSender

	signer      *jwt.Signer
	hasher      *password.Argon2
	guard       *lockout.Guard
	twoFactor   *twofactor.Engine
	revocations *revocation.Registry
	refresh     *refresh.Store
	challenges  *stores.ChallengeStore
	limiter     *rate.Limiter

	audit   *audit.Dispatcher
	metrics *metrics.Metrics
}

// Close flushes and stops the audit dispatcher. The Redis client and the
// credential store belong to the caller and stay open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were dropped because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates in.Identifier with in.Password and returns a token
// pair.
//
// Unknown identifiers and wrong passwords both fail with
// ErrInvalidCredentials. A wrong password counts toward the lockout
// threshold; a locked account fails with a *lockout.LockedError that
// matches ErrAccountLocked. When the account has 2FA enabled, a missing
// code fails with ErrTwoFactorRequired and a bad one with
// ErrInvalidTwoFactorCode or ErrBackupCodeUsed.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = withRequestMeta(ctx, in.IP, in.DeviceInfo)

	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" {
		return nil, autherr.Invalid("identifier", "must not be empty")
	}
	if in.Password == "" {
		return nil, autherr.Invalid("password", "must not be empty")
	}

	cred, err := e.credentials.FindByUsernameOrEmail(ctx, identifier)
	if errors.Is(err, credential.ErrNotFound) {
		// Same cost as a real verification.
		e.hasher.VerifyDummy(in.Password)
		e.loginFailed(ctx, 0, identifier, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, autherr.Internal("login.lookup", err)
	}

	if err := e.guard.CheckAccess(ctx, cred); err != nil {
		if errors.Is(err, ErrAccountLocked) {
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, cred.ID, identifier, "", err, nil)
			return nil, err
		}
		return nil, err
	}

	ok, err := e.hasher.Verify(in.Password, cred.PasswordHash)
	if err != nil {
		return nil, autherr.Internal("login.verify", err)
	}
	if !ok {
		state, ferr := e.guard.RecordFailure(ctx, cred)
		if ferr != nil {
			return nil, ferr
		}
		// Only the failure that crosses the threshold reports the lock.
		if state.Locked && state.FailedAttempts == e.guard.Threshold() {
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, false, cred.ID, identifier, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{"failed_attempts": strconv.Itoa(state.FailedAttempts)}
			})
		}
		e.loginFailed(ctx, cred.ID, identifier, ErrInvalidCredentials)
		return nil, ErrInvalidCredentials
	}

	if e.config.Registration.RequireEmailVerification && !cred.EmailVerified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, auditEventLoginFailure, false, cred.ID, identifier, "", ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	if err := e.guard.RecordSuccess(ctx, cred); err != nil {
		return nil, err
	}
	e.maybeRehash(ctx, cred, in.Password)

	method, err := e.checkSecondFactor(ctx, cred, identifier, in.TwoFactorCode)
	if err != nil {
		return nil, err
	}

	pair, err := e.issuePair(ctx, cred)
	if err != nil {
		e.loginFailed(ctx, cred.ID, identifier, err)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, cred.ID, identifier, pair.AccessJTI, nil, func() map[string]string {
		return map[string]string{"second_factor": method.String()}
	})

	return &LoginResult{
		TokenPair:       *pair,
		UserID:          cred.ID,
		Role:            cred.Role,
		TwoFactorMethod: method,
	}, nil
}

func (e *Engine) loginFailed(ctx context.Context, userID int64, identifier string, err error) {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, identifier, "", err, nil)
}

func (e *Engine) checkSecondFactor(ctx context.Context, cred credential.Credential, identifier, code string) (TwoFactorMethod, error) {
	enabled, err := e.twoFactor.IsEnabled(ctx, cred.ID)
	if err != nil {
		return twofactor.MethodNone, err
	}
	if !enabled {
		return twofactor.MethodNone, nil
	}

	if strings.TrimSpace(code) == "" {
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventTwoFactorRequired, false, cred.ID, identifier, "", ErrTwoFactorRequired, nil)
		return twofactor.MethodNone, ErrTwoFactorRequired
	}

	method, err := e.twoFactor.Verify(ctx, cred.ID, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrTwoFactorRateLimited):
			e.metricInc(MetricTwoFactorRateLimited)
		case errors.Is(err, ErrInvalidTwoFactorCode), errors.Is(err, ErrBackupCodeUsed):
			e.metricInc(MetricTwoFactorFailure)
		}
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, cred.ID, identifier, "", err, nil)
		return twofactor.MethodNone, err
	}

	e.metricInc(MetricTwoFactorSuccess)
	if method == twofactor.MethodBackupCode {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, cred.ID, identifier, "", nil, nil)
	}
	return method, nil
}

// maybeRehash upgrades a hash produced with weaker parameters. Failures
// are logged; the login proceeds.
func (e *Engine) maybeRehash(ctx context.Context, cred credential.Credential, plain string) {
	stale, err := e.hasher.NeedsRehash(cred.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(plain)
	if err == nil {
		err = e.credentials.UpdatePasswordHash(ctx, cred.ID, hash)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", slog.Int64("user_id", cred.ID), slog.Any("error", err))
	}
}

func (e *Engine) issuePair(ctx context.Context, cred credential.Credential) (*TokenPair, error) {
	access, err := e.issueAccess(ctx, cred)
	if err != nil {
		return nil, err
	}

	rt, err := e.refresh.Create(ctx, cred.ID, userAgentFromContext(ctx), clientIPFromContext(ctx))
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access.Value,
		AccessJTI:        access.JTI,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     rt.Value,
		RefreshExpiresAt: rt.ExpiresAt,
	}, nil
}

// issueAccess signs an access token and records its jti so that bulk
// revocation can reach it.
func (e *Engine) issueAccess(ctx context.Context, cred credential.Credential) (refresh.AccessToken, error) {
	issued, err := e.signer.Issue(strconv.FormatInt(cred.ID, 10), jwt.Claims{Role: cred.Role}, 0)
	if err != nil {
		return refresh.AccessToken{}, autherr.Internal("token.issue", err)
	}
	if err := e.revocations.Track(ctx, issued.JTI, cred.ID, issued.ExpiresAt); err != nil {
		return refresh.AccessToken{}, err
	}
	return refresh.AccessToken{Value: issued.Token, JTI: issued.JTI, ExpiresAt: issued.ExpiresAt}, nil
}

// accessIssuer lets the refresh store mint access tokens during Rotate.
// The account is reloaded so a locked account cannot refresh.
type accessIssuer struct {
	engine *Engine
}

func (a accessIssuer) IssueAccess(ctx context.Context, userID int64) (refresh.AccessToken, error) {
	cred, err := a.engine.credentials.FindByID(ctx, userID)
	if errors.Is(err, credential.ErrNotFound) {
		return refresh.AccessToken{}, ErrRefreshInvalid
	}
	if err != nil {
		return refresh.AccessToken{}, autherr.Internal("refresh.lookup", err)
	}
	if cred.LockActive(a.engine.now()) {
		return refresh.AccessToken{}, &lockout.LockedError{Until: cred.LockedUntil}
	}
	return a.engine.issueAccess(ctx, cred)
}

/*
====================================
REFRESH
====================================
*/

// Refresh rotates refreshToken and returns a new token pair. Presenting a
// token that was already rotated revokes its whole lineage and every
// outstanding access token of the owner, and fails with a
// *refresh.ReuseError matching ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken, deviceInfo, ip string) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = withRequestMeta(ctx, ip, deviceInfo)

	rot, err := e.refresh.Rotate(ctx, refreshToken, userAgentFromContext(ctx), clientIPFromContext(ctx))
	if err != nil {
		var reuse *refresh.ReuseError
		if errors.As(err, &reuse) {
			revoked, rerr := e.revocations.RevokeAllForUser(ctx, reuse.UserID, ReasonSecurityViolation)
			if rerr != nil {
				e.logger.ErrorContext(ctx, "revoke access tokens after refresh reuse", slog.Int64("user_id", reuse.UserID), slog.Any("error", rerr))
			}
			e.emitAudit(ctx, auditEventRefreshReuse, false, reuse.UserID, "", "", err, func() map[string]string {
				return map[string]string{
					"lineage":         reuse.Lineage,
					"refresh_revoked": strconv.Itoa(reuse.Revoked),
					"access_revoked":  strconv.Itoa(revoked),
				}
			})
			return nil, err
		}
		e.emitAudit(ctx, auditEventRefreshFailure, false, 0, "", "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, auditEventRefreshSuccess, true, rot.Refresh.UserID, "", rot.Access.JTI, nil, nil)
	return &TokenPair{
		AccessToken:      rot.Access.Value,
		AccessJTI:        rot.Access.JTI,
		AccessExpiresAt:  rot.Access.ExpiresAt,
		RefreshToken:     rot.Refresh.Value,
		RefreshExpiresAt: rot.Refresh.ExpiresAt,
	}, nil
}

/*
====================================
ACCESS TOKENS
====================================
*/

// Authenticate validates an access token and checks it against the
// revocation registry. It is the per-request path: one signature check
// and one Redis read. A registry outage is treated as not revoked.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	claims, err := e.signer.Validate(accessToken)
	e.metrics.Observe(MetricValidateLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricAccessRejected)
		return nil, err
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		e.metricInc(MetricAccessRejected)
		return nil, ErrTokenInvalid
	}

	if e.revocations.IsRevoked(ctx, claims.ID) {
		e.metricInc(MetricAccessRevoked)
		return nil, ErrTokenRevoked
	}

	p := &Principal{
		UserID: userID,
		Role:   claims.Role,
		JTI:    claims.ID,
		Attrs:  claims.Attrs,
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// RevokeAccessToken blacklists accessToken until its own expiry. The
// token may already be expired but must carry a valid signature. It
// reports whether a new entry was created.
func (e *Engine) RevokeAccessToken(ctx context.Context, accessToken string, reason RevocationReason) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	jti, err := e.signer.ExtractJTI(accessToken)
	if err != nil {
		return false, err
	}
	subject, err := e.signer.ExtractSubject(accessToken)
	if err != nil {
		return false, err
	}
	expiresAt, err := e.signer.ExtractExpiry(accessToken)
	if err != nil {
		return false, err
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return false, ErrTokenInvalid
	}

	created, err := e.revocations.Revoke(ctx, revocation.Entry{
		JTI:       jti,
		UserID:    userID,
		Reason:    reason,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return false, err
	}
	if created {
		e.emitAudit(ctx, auditEventTokenRevoked, true, userID, "", jti, nil, func() map[string]string {
			return map[string]string{"reason": string(reason)}
		})
	}
	return created, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes refreshToken and the jti of accessToken. Either may be
// empty. Tokens that are already invalid, revoked or expired are
// ignored, so Logout reports success for them. Storage failures and the
// revocation rate limit are returned.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	var userID int64
	if refreshToken != "" {
		if uid, found, err := e.refresh.UserOf(ctx, refreshToken); err != nil {
			return err
		} else if found {
			userID = uid
		}
		if _, err := e.refresh.Revoke(ctx, refreshToken); err != nil {
			return err
		}
	}

	var jti string
	if accessToken != "" {
		if id, err := e.signer.ExtractJTI(accessToken); err == nil {
			jti = id
			if _, err := e.RevokeAccessToken(ctx, accessToken, ReasonLogout); err != nil && !errors.Is(err, ErrValidation) {
				return err
			}
			if userID == 0 {
				if sub, err := e.signer.ExtractSubject(accessToken); err == nil {
					userID, _ = strconv.ParseInt(sub, 10, 64)
				}
			}
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, "", jti, nil, nil)
	return nil
}

// LogoutAll revokes every refresh token and every outstanding access
// token of userID.
func (e *Engine) LogoutAll(ctx context.Context, userID int64) (RevokedCounts, error) {
	if e == nil {
		return RevokedCounts{}, ErrEngineNotReady
	}
	counts, err := e.revokeEverything(ctx, userID, ReasonLogoutAll)
	if err != nil {
		return counts, err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", "", nil, counts.metadata)
	return counts, nil
}

// AdminRevokeUser is LogoutAll on behalf of an operator; entries are
// recorded with ReasonAdminRevoke.
func (e *Engine) AdminRevokeUser(ctx context.Context, userID int64) (RevokedCounts, error) {
	if e == nil {
		return RevokedCounts{}, ErrEngineNotReady
	}
	counts, err := e.revokeEverything(ctx, userID, ReasonAdminRevoke)
	if err != nil {
		return counts, err
	}
	e.emitAudit(ctx, auditEventAdminRevoke, true, userID, "", "", nil, counts.metadata)
	return counts, nil
}

func (e *Engine) revokeEverything(ctx context.Context, userID int64, reason RevocationReason) (RevokedCounts, error) {
	if userID <= 0 {
		return RevokedCounts{}, autherr.Invalid("userID", "must be positive")
	}

	var counts RevokedCounts
	n, err := e.refresh.RevokeAllForUser(ctx, userID)
	if err != nil {
		return counts, err
	}
	counts.RefreshTokens = n

	n, err = e.revocations.RevokeAllForUser(ctx, userID, reason)
	if err != nil {
		return counts, err
	}
	counts.AccessTokens = n
	return counts, nil
}

func (c RevokedCounts) metadata() map[string]string {
	return map[string]string{
		"refresh_revoked": strconv.Itoa(c.RefreshTokens),
		"access_revoked":  strconv.Itoa(c.AccessTokens),
	}
}

// ListSessions returns the active refresh tokens of userID, soonest
// expiry first, which is also oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID int64) ([]Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.refresh.ListActive(ctx, userID)
}

func withRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	if ip != "" {
		ctx = WithClientIP(ctx, ip)
	}
	if userAgent != "" {
		ctx = WithUserAgent(ctx, userAgent)
	}
	return ctx
}
