// Package lockout implements the failed-login state machine:
//
//	Active --(Threshold failures)--> Locked(until) --(until elapsed, on next check)--> Active
//
// The Guard keeps no state of its own. Counters and lock fields live on
// the credential and change only through credential.AttemptStore, whose
// methods are single atomic updates.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
)

// ErrAccountLocked is returned by CheckAccess while a lock is active.
var ErrAccountLocked = autherr.New(autherr.ErrUnauthorized, "account locked")

// LockedError carries the lock expiry. A zero Until means the lock does
// not elapse on its own.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	if e.Until.IsZero() {
		return ErrAccountLocked.Error()
	}
	return fmt.Sprintf("%s until %s", ErrAccountLocked.Error(), e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked || target == autherr.ErrUnauthorized
}

// Config holds the lockout policy.
type Config struct {
	Threshold int
	Duration  time.Duration
}

// DefaultConfig locks after 5 consecutive failures for 15 minutes.
func DefaultConfig() Config {
	return Config{Threshold: 5, Duration: 15 * time.Minute}
}

// Guard applies the lockout policy to credentials.
type Guard struct {
	store  credential.AttemptStore
	config Config
	now    func() time.Time
}

// NewGuard returns a Guard. A nil now uses time.Now.
func NewGuard(store credential.AttemptStore, cfg Config, now func() time.Time) (*Guard, error) {
	if store == nil {
		return nil, errors.New("lockout: nil attempt store")
	}
	if cfg.Threshold <= 0 {
		return nil, errors.New("lockout: threshold must be > 0")
	}
	if cfg.Duration <= 0 {
		return nil, errors.New("lockout: duration must be > 0")
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, config: cfg, now: now}, nil
}

// RecordFailure increments the failure counter of c. The returned state
// reports whether this failure locked the account.
func (g *Guard) RecordFailure(ctx context.Context, c credential.Credential) (credential.AttemptState, error) {
	state, err := g.store.RecordFailedAttempt(ctx, c.ID, g.config.Threshold, g.now().Add(g.config.Duration))
	if err != nil {
		return credential.AttemptState{}, fmt.Errorf("record login failure: %w", err)
	}
	return state, nil
}

// RecordSuccess zeroes the counter and clears any lock on c.
func (g *Guard) RecordSuccess(ctx context.Context, c credential.Credential) error {
	if err := g.store.ResetAttempts(ctx, c.ID); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

// CheckAccess rejects a locked credential with a *LockedError. A lock
// whose expiry has passed is cleared as a side effect and the call
// succeeds.
func (g *Guard) CheckAccess(ctx context.Context, c credential.Credential) error {
	if !c.AccountLocked {
		return nil
	}

	now := g.now()
	if c.LockActive(now) {
		return &LockedError{Until: c.LockedUntil}
	}

	// A false result means another request already cleared the lock.
	if _, err := g.store.UnlockIfExpired(ctx, c.ID, now); err != nil {
		return fmt.Errorf("auto-unlock: %w", err)
	}
	return nil
}

// Threshold returns the configured failure threshold.
func (g *Guard) Threshold() int {
	return g.config.Threshold
}
