package twofactor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
)

// Method identifies how a verification succeeded.
type Method int

const (
	MethodNone Method = iota
	MethodTOTP
	MethodBackupCode
)

func (m Method) String() string {
	switch m {
	case MethodTOTP:
		return "totp"
	case MethodBackupCode:
		return "backup_code"
	default:
		return "none"
	}
}

// Enrollment is returned once by Setup. Codes are never retrievable again.
type Enrollment struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// Status summarizes a user's 2FA configuration.
type Status struct {
	Configured           bool
	Enabled              bool
	EnabledAt            time.Time
	LastUsed             time.Time
	BackupCodesRemaining int
	BackupCodesUsed      int
}

// Engine runs the 2FA state machine.
type Engine struct {
	store   Store
	limiter *rate.Limiter
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics counts replayed TOTP codes and rejected backup codes.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an Engine. limiter may be nil to disable attempt limiting.
func New(store Store, limiter *rate.Limiter, cfg Config, now func() time.Time, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("twofactor: store is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	e := &Engine{store: store, limiter: limiter, cfg: cfg, now: now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Setup creates a pending configuration with a fresh secret and backup
// codes. Any disabled configuration is replaced.
func (e *Engine) Setup(ctx context.Context, userID int64, account string) (*Enrollment, error) {
	if account == "" {
		account = strconv.FormatInt(userID, 10)
	}

	secret, err := GenerateSecret(e.cfg.Issuer, account)
	if err != nil {
		return nil, autherr.Internal("twofactor.setup", err)
	}
	codes, hashes, err := generateBackupCodes(userID, e.cfg.BackupCodeCount, e.cfg.BackupCodeLength)
	if err != nil {
		return nil, autherr.Internal("twofactor.setup", err)
	}

	saved, err := e.store.SavePending(ctx, userID, secret, hashes, e.now())
	if err != nil {
		return nil, autherr.Internal("twofactor.setup", err)
	}
	if !saved {
		return nil, ErrAlreadyEnabled
	}

	return &Enrollment{
		Secret:      secret,
		URI:         ProvisioningURI(e.cfg.Issuer, account, secret),
		BackupCodes: codes,
	}, nil
}

// Enable activates a pending configuration after proving possession of
// the secret with a current TOTP code.
func (e *Engine) Enable(ctx context.Context, userID int64, code string) error {
	rec, err := e.load(ctx, userID, "twofactor.enable")
	if err != nil {
		return err
	}
	if rec.Enabled {
		return ErrAlreadyEnabled
	}
	if rec.Secret == "" {
		return ErrNotConfigured
	}

	counter, ok := VerifyCode(rec.Secret, code, e.now(), e.cfg.Period, e.cfg.Skew)
	if !ok {
		return ErrInvalidCode
	}

	res, err := e.store.MarkEnabled(ctx, userID, rec.Secret, counter, e.now())
	if err != nil {
		return autherr.Internal("twofactor.enable", err)
	}
	switch res {
	case EnableApplied:
		return nil
	case EnableAlreadyEnabled:
		return ErrAlreadyEnabled
	case EnableNotConfigured:
		return ErrNotConfigured
	default:
		// A concurrent Setup replaced the secret the code was checked against.
		return ErrInvalidCode
	}
}

// Disable turns 2FA off after a valid TOTP or unused backup code. The
// secret and all backup codes are purged.
func (e *Engine) Disable(ctx context.Context, userID int64, code string) error {
	rec, err := e.load(ctx, userID, "twofactor.disable")
	if errors.Is(err, ErrNotConfigured) {
		return ErrNotEnabled
	}
	if err != nil {
		return err
	}
	if !rec.Enabled {
		return ErrNotEnabled
	}

	if _, err := e.verifyEnabled(ctx, rec, code, true); err != nil {
		return err
	}

	disabled, err := e.store.Disable(ctx, userID)
	if err != nil {
		return autherr.Internal("twofactor.disable", err)
	}
	if !disabled {
		return ErrNotEnabled
	}
	return nil
}

// Verify checks a login code. Users without enabled 2FA pass with
// MethodNone.
func (e *Engine) Verify(ctx context.Context, userID int64, code string) (Method, error) {
	rec, err := e.load(ctx, userID, "twofactor.verify")
	if errors.Is(err, ErrNotConfigured) {
		return MethodNone, nil
	}
	if err != nil {
		return MethodNone, err
	}
	if !rec.Enabled {
		return MethodNone, nil
	}
	return e.verifyEnabled(ctx, rec, code, true)
}

// RegenerateBackupCodes replaces all backup codes after a valid TOTP code.
// The secret is kept so enrolled authenticators stay in sync.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID int64, code string) ([]string, error) {
	rec, err := e.load(ctx, userID, "twofactor.regenerate")
	if errors.Is(err, ErrNotConfigured) {
		return nil, ErrNotEnabled
	}
	if err != nil {
		return nil, err
	}
	if !rec.Enabled {
		return nil, ErrNotEnabled
	}

	if _, err := e.verifyEnabled(ctx, rec, code, false); err != nil {
		return nil, err
	}

	codes, hashes, err := generateBackupCodes(userID, e.cfg.BackupCodeCount, e.cfg.BackupCodeLength)
	if err != nil {
		return nil, autherr.Internal("twofactor.regenerate", err)
	}
	replaced, err := e.store.ReplaceBackupCodes(ctx, userID, hashes)
	if err != nil {
		return nil, autherr.Internal("twofactor.regenerate", err)
	}
	if !replaced {
		return nil, ErrNotEnabled
	}
	return codes, nil
}

// Status reports the configuration of userID.
func (e *Engine) Status(ctx context.Context, userID int64) (Status, error) {
	rec, err := e.load(ctx, userID, "twofactor.status")
	if errors.Is(err, ErrNotConfigured) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Configured: rec.Secret != "",
		Enabled:    rec.Enabled,
		EnabledAt:  rec.EnabledAt,
		LastUsed:   rec.LastUsed,
	}
	st.BackupCodesRemaining, st.BackupCodesUsed, err = e.store.BackupCodeCounts(ctx, userID)
	if err != nil {
		return Status{}, autherr.Internal("twofactor.status", err)
	}
	return st, nil
}

// IsEnabled reports whether userID must present a second factor.
func (e *Engine) IsEnabled(ctx context.Context, userID int64) (bool, error) {
	rec, err := e.load(ctx, userID, "twofactor.status")
	if errors.Is(err, ErrNotConfigured) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Enabled, nil
}

// verifyEnabled charges one attempt before looking at the code and
// refunds it on success, so concurrent guesses cannot overrun the window.
func (e *Engine) verifyEnabled(ctx context.Context, rec Record, code string, allowBackup bool) (Method, error) {
	slot, err := e.reserveAttempt(ctx, rec.UserID)
	if err != nil {
		return MethodNone, err
	}

	method, err := e.checkCode(ctx, rec, code, allowBackup)
	if err == nil {
		e.refundAttempt(ctx, rec.UserID, slot)
	}
	return method, err
}

func (e *Engine) checkCode(ctx context.Context, rec Record, code string, allowBackup bool) (Method, error) {
	now := e.now()
	if counter, ok := VerifyCode(rec.Secret, code, now, e.cfg.Period, e.cfg.Skew); ok {
		if !e.cfg.ReplayProtection {
			return MethodTOTP, nil
		}
		advanced, err := e.store.AdvanceCounter(ctx, rec.UserID, counter, now)
		if err != nil {
			return MethodNone, autherr.Internal("twofactor.verify", err)
		}
		if advanced {
			return MethodTOTP, nil
		}
		e.metrics.Inc(metrics.TwoFactorReplay)
		return MethodNone, ErrInvalidCode
	}

	if allowBackup {
		if canonical, ok := canonicalBackupCode(code, e.cfg.BackupCodeLength); ok {
			res, err := e.store.ConsumeBackupCode(ctx, rec.UserID, backupCodeHash(rec.UserID, canonical), now)
			if err != nil {
				return MethodNone, autherr.Internal("twofactor.verify", err)
			}
			switch res {
			case CodeConsumed:
				return MethodBackupCode, nil
			case CodeAlreadyUsed:
				e.metrics.Inc(metrics.BackupCodeRejected)
				return MethodNone, ErrCodeAlreadyUsed
			}
		}
	}

	return MethodNone, ErrInvalidCode
}

func (e *Engine) load(ctx context.Context, userID int64, op string) (Record, error) {
	rec, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrNotConfigured) {
		return Record{}, ErrNotConfigured
	}
	if err != nil {
		return Record{}, autherr.Internal(op, err)
	}
	return rec, nil
}

func (e *Engine) reserveAttempt(ctx context.Context, userID int64) (string, error) {
	if e.limiter == nil || !e.cfg.FailedAttempts.Enabled() {
		return "", nil
	}
	d, slot, err := e.limiter.Reserve(ctx, attemptKey(userID), e.cfg.FailedAttempts)
	if err != nil {
		return "", autherr.Internal("twofactor.limit", err)
	}
	if !d.Allowed {
		return "", ErrTooManyAttempts
	}
	return slot, nil
}

// refundAttempt is best-effort: a slot that cannot be released only
// expires with the window.
func (e *Engine) refundAttempt(ctx context.Context, userID int64, slot string) {
	if e.limiter == nil {
		return
	}
	_ = e.limiter.Release(ctx, attemptKey(userID), slot)
}

func attemptKey(userID int64) string {
	return "2fa:" + strconv.FormatInt(userID, 10)
}
