// Package credential defines the account record the authentication
// core reads, and the repository interface through which every read and
// write of that record goes.
//
// Credential values are immutable snapshots. Counter and lock fields are
// changed only by the atomic operations of AttemptStore, never by
// read-modify-write in application code.
package credential

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/autherr"
)

// DefaultRole is assigned when Params.Role is empty.
const DefaultRole = "USER"

var (
	// ErrNotFound is returned when no credential matches.
	ErrNotFound = autherr.New(autherr.ErrNotFound, "credential not found")
	// ErrDuplicate is returned when a username or email is already taken.
	ErrDuplicate = autherr.New(autherr.ErrConflict, "username or email already registered")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)

// Credential is an account as seen by the authentication core.
type Credential struct {
	ID                  int64
	Username            string
	Email               string
	PasswordHash        string
	Role                string
	EmailVerified       bool
	FailedLoginAttempts int
	AccountLocked       bool
	LockedUntil         time.Time
	CreatedAt           time.Time
}

// LockActive reports whether the credential is locked at now. A lock
// with a zero LockedUntil never elapses.
func (c Credential) LockActive(now time.Time) bool {
	if !c.AccountLocked {
		return false
	}
	return c.LockedUntil.IsZero() || c.LockedUntil.After(now)
}

// Params are the inputs to New.
type Params struct {
	Username      string
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
}

// New validates p and returns a Credential without an ID. Usernames are
// trimmed; emails are trimmed and lower-cased.
func New(p Params) (Credential, error) {
	username, err := NormalizeUsername(p.Username)
	if err != nil {
		return Credential{}, err
	}

	email, err := NormalizeEmail(p.Email)
	if err != nil {
		return Credential{}, err
	}

	if p.PasswordHash == "" {
		return Credential{}, autherr.Invalid("password", "missing hash")
	}

	role := strings.TrimSpace(p.Role)
	if role == "" {
		role = DefaultRole
	}

	return Credential{
		Username:      username,
		Email:         email,
		PasswordHash:  p.PasswordHash,
		Role:          role,
		EmailVerified: p.EmailVerified,
	}, nil
}

// NormalizeUsername trims raw and checks it against the username format.
func NormalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if !usernamePattern.MatchString(username) {
		return "", autherr.Invalid("username", "must be 3-50 characters of letters, digits, '.', '_' or '-'")
	}
	return username, nil
}

// NormalizeEmail validates a bare address and lower-cases it.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if len(email) > 254 {
		return "", autherr.Invalid("email", "too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", autherr.Invalid("email", "malformed address")
	}
	return email, nil
}

// AttemptState is the counter and lock window after an atomic update.
type AttemptState struct {
	FailedAttempts int
	Locked         bool
	LockedUntil    time.Time
}

// AttemptStore changes the failed-login counter and lock fields. Each
// method must be a single conditional update on the store.
type AttemptStore interface {
	// RecordFailedAttempt increments the counter; once it reaches
	// threshold the credential becomes locked until lockUntil.
	RecordFailedAttempt(ctx context.Context, id int64, threshold int, lockUntil time.Time) (AttemptState, error)
	// ResetAttempts zeroes the counter and clears the lock.
	ResetAttempts(ctx context.Context, id int64) error
	// UnlockIfExpired clears a lock whose LockedUntil is not after now
	// and zeroes the counter. It reports whether a lock was cleared.
	UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error)
}

// Store is the external credential repository.
type Store interface {
	AttemptStore

	FindByUsernameOrEmail(ctx context.Context, identifier string) (Credential, error)
	FindByID(ctx context.Context, id int64) (Credential, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// Create persists c and returns it with ID and CreatedAt set. A
	// unique violation returns ErrDuplicate.
	Create(ctx context.Context, c Credential) (Credential, error)
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	MarkEmailVerified(ctx context.Context, id int64) error
}
