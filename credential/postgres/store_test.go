package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
)

var credentialColumns = []string{
	"id", "username", "email", "password_hash", "role", "email_verified",
	"failed_login_attempts", "account_locked", "locked_until", "created_at",
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewStore(db), mock
}

func TestStore_FindByUsernameOrEmail(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	until := created.Add(15 * time.Minute)

	mock.ExpectQuery(`FROM credentials\s+WHERE lower\(username\) = lower\(\$1\) OR email = lower\(\$1\)`).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(credentialColumns).
			AddRow(int64(1), "alice", "alice@example.com", "hash", "USER", true, 5, true, until, created))

	c, err := s.FindByUsernameOrEmail(context.Background(), " alice@example.com ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, "alice", c.Username)
	assert.True(t, c.AccountLocked)
	assert.Equal(t, 5, c.FailedLoginAttempts)
	assert.True(t, c.LockedUntil.Equal(until))
}

func TestStore_FindByIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM credentials WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.ErrorIs(t, err, autherr.ErrNotFound)
}

func TestStore_Exists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM credentials WHERE lower\(username\) = lower\(\$1\)\)`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM credentials WHERE email = lower\(\$1\)\)`).
		WithArgs("bob@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	found, err := s.ExistsByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.ExistsByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_Create(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "success"},
		{name: "duplicate", err: &pgconn.PgError{Code: "23505"}, wantErr: credential.ErrDuplicate},
		{name: "storage failure", err: errors.New("connection reset"), wantErr: autherr.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			in := credential.Credential{Username: "alice", Email: "alice@example.com", PasswordHash: "h", Role: "USER"}
			expect := mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO credentials (username, email, password_hash, role, email_verified)`)).
				WithArgs("alice", "alice@example.com", "h", "USER", false)
			if tt.err != nil {
				expect.WillReturnError(tt.err)
			} else {
				expect.WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
			}

			out, err := s.Create(context.Background(), in)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(7), out.ID)
		})
	}
}

func TestStore_RecordFailedAttemptLocksAtThreshold(t *testing.T) {
	s, mock := newMockStore(t)
	until := time.Date(2025, 1, 1, 12, 15, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE credentials\s+SET failed_login_attempts = failed_login_attempts \+ 1`).
		WithArgs(int64(1), 5, until).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "account_locked", "locked_until"}).
			AddRow(5, true, until))

	state, err := s.RecordFailedAttempt(context.Background(), 1, 5, until)
	require.NoError(t, err)
	assert.Equal(t, 5, state.FailedAttempts)
	assert.True(t, state.Locked)
	assert.True(t, state.LockedUntil.Equal(until))
}

func TestStore_RecordFailedAttemptBelowThreshold(t *testing.T) {
	s, mock := newMockStore(t)
	until := time.Date(2025, 1, 1, 12, 15, 0, 0, time.UTC)

	mock.ExpectQuery(`UPDATE credentials`).
		WithArgs(int64(1), 5, until).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "account_locked", "locked_until"}).
			AddRow(2, false, nil))

	state, err := s.RecordFailedAttempt(context.Background(), 1, 5, until)
	require.NoError(t, err)
	assert.Equal(t, 2, state.FailedAttempts)
	assert.False(t, state.Locked)
	assert.True(t, state.LockedUntil.IsZero())
}

func TestStore_ResetAttempts(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`SET failed_login_attempts = 0, account_locked = FALSE, locked_until = NULL`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET failed_login_attempts = 0, account_locked = FALSE, locked_until = NULL`).
		WithArgs(int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.ResetAttempts(context.Background(), 1))
	assert.ErrorIs(t, s.ResetAttempts(context.Background(), 2), credential.ErrNotFound)
}

func TestStore_UnlockIfExpired(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 1, 1, 13, 0, 0, 0, time.UTC)

	mock.ExpectExec(`AND locked_until <= \$2`).
		WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`AND locked_until <= \$2`).
		WithArgs(int64(1), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	unlocked, err := s.UnlockIfExpired(context.Background(), 1, now)
	require.NoError(t, err)
	assert.True(t, unlocked)

	unlocked, err = s.UnlockIfExpired(context.Background(), 1, now)
	require.NoError(t, err)
	assert.False(t, unlocked)
}

func TestStore_MarkEmailVerifiedAndPassword(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`SET email_verified = TRUE`).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET password_hash = \$2`).WithArgs(int64(3), "new-hash").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkEmailVerified(context.Background(), 3))
	require.NoError(t, s.UpdatePasswordHash(context.Background(), 3, "new-hash"))
}
