// Package memstore is an in-process credential.Store. Every method runs
// under one mutex, which gives the same atomicity as the conditional
// updates of the SQL store. It is meant for tests and single-process use.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/credential"
)

type Store struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]credential.Credential
	now    func() time.Time
}

var _ credential.Store = (*Store)(nil)

func New() *Store {
	return &Store{byID: make(map[int64]credential.Credential), now: time.Now}
}

func (s *Store) FindByUsernameOrEmail(_ context.Context, identifier string) (credential.Credential, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if strings.ToLower(c.Username) == identifier || c.Email == identifier {
			return c, nil
		}
	}
	return credential.Credential{}, credential.ErrNotFound
}

func (s *Store) FindByID(_ context.Context, id int64) (credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return credential.Credential{}, credential.ErrNotFound
	}
	return c, nil
}

func (s *Store) ExistsByUsername(_ context.Context, username string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if strings.ToLower(c.Username) == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ExistsByEmail(_ context.Context, email string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) Create(_ context.Context, c credential.Credential) (credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if strings.EqualFold(existing.Username, c.Username) || existing.Email == c.Email {
			return credential.Credential{}, credential.ErrDuplicate
		}
	}
	s.nextID++
	c.ID = s.nextID
	c.CreatedAt = s.now()
	s.byID[c.ID] = c
	return c, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	return s.update(id, func(c *credential.Credential) { c.PasswordHash = hash })
}

func (s *Store) MarkEmailVerified(_ context.Context, id int64) error {
	return s.update(id, func(c *credential.Credential) { c.EmailVerified = true })
}

func (s *Store) RecordFailedAttempt(_ context.Context, id int64, threshold int, lockUntil time.Time) (credential.AttemptState, error) {
	var state credential.AttemptState
	err := s.update(id, func(c *credential.Credential) {
		c.FailedLoginAttempts++
		if c.FailedLoginAttempts >= threshold {
			c.AccountLocked = true
			c.LockedUntil = lockUntil
		}
		state = credential.AttemptState{
			FailedAttempts: c.FailedLoginAttempts,
			Locked:         c.AccountLocked,
			LockedUntil:    c.LockedUntil,
		}
	})
	return state, err
}

func (s *Store) ResetAttempts(_ context.Context, id int64) error {
	return s.update(id, func(c *credential.Credential) {
		c.FailedLoginAttempts = 0
		c.AccountLocked = false
		c.LockedUntil = time.Time{}
	})
}

func (s *Store) UnlockIfExpired(_ context.Context, id int64, now time.Time) (bool, error) {
	unlocked := false
	err := s.update(id, func(c *credential.Credential) {
		if c.AccountLocked && !c.LockedUntil.IsZero() && !c.LockedUntil.After(now) {
			c.FailedLoginAttempts = 0
			c.AccountLocked = false
			c.LockedUntil = time.Time{}
			unlocked = true
		}
	})
	return unlocked, err
}

// Lock sets a lock directly, as an administrator would. A zero until
// locks indefinitely.
func (s *Store) Lock(id int64, until time.Time) error {
	return s.update(id, func(c *credential.Credential) {
		c.AccountLocked = true
		c.LockedUntil = until
	})
}

func (s *Store) update(id int64, fn func(*credential.Credential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return credential.ErrNotFound
	}
	fn(&c)
	s.byID[id] = c
	return nil
}
