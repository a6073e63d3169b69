// Package postgres implements credential.Store on PostgreSQL through
// database/sql and the pgx driver.
//
// Failed-attempt and lock changes are single UPDATE statements whose
// SET clauses read the pre-update row, so concurrent failures on one
// account never lose increments.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/credential"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

const selectColumns = `id, username, email, password_hash, role, email_verified,
	failed_login_attempts, account_locked, locked_until, created_at`

// Open connects to dsn with the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Store is a credential.Store backed by the credentials table.
type Store struct {
	db *sql.DB
}

var _ credential.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindByUsernameOrEmail(ctx context.Context, identifier string) (credential.Credential, error) {
	identifier = strings.TrimSpace(identifier)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM credentials
		WHERE lower(username) = lower($1) OR email = lower($1)
		LIMIT 1
	`, identifier)
	return scanCredential(row)
}

func (s *Store) FindByID(ctx context.Context, id int64) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM credentials WHERE id = $1`, id)
	return scanCredential(row)
}

func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM credentials WHERE lower(username) = lower($1))`, strings.TrimSpace(username))
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM credentials WHERE email = lower($1))`, strings.TrimSpace(email))
}

func (s *Store) exists(ctx context.Context, query, arg string) (bool, error) {
	var found bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, autherr.Internal("check credential exists", err)
	}
	return found, nil
}

func (s *Store) Create(ctx context.Context, c credential.Credential) (credential.Credential, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO credentials (username, email, password_hash, role, email_verified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, c.Username, c.Email, c.PasswordHash, c.Role, c.EmailVerified).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return credential.Credential{}, credential.ErrDuplicate
		}
		return credential.Credential{}, autherr.Internal("create credential", err)
	}
	return c, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	return s.execOne(ctx, "update password hash", `
		UPDATE credentials SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id, hash)
}

func (s *Store) MarkEmailVerified(ctx context.Context, id int64) error {
	return s.execOne(ctx, "mark email verified", `
		UPDATE credentials SET email_verified = TRUE, updated_at = NOW() WHERE id = $1
	`, id)
}

func (s *Store) RecordFailedAttempt(ctx context.Context, id int64, threshold int, lockUntil time.Time) (credential.AttemptState, error) {
	var (
		state       credential.AttemptState
		lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE credentials
		SET failed_login_attempts = failed_login_attempts + 1,
		    account_locked = CASE WHEN failed_login_attempts + 1 >= $2 THEN TRUE ELSE account_locked END,
		    locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, account_locked, locked_until
	`, id, threshold, lockUntil.UTC()).Scan(&state.FailedAttempts, &state.Locked, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.AttemptState{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.AttemptState{}, autherr.Internal("record failed attempt", err)
	}
	if lockedUntil.Valid {
		state.LockedUntil = lockedUntil.Time
	}
	return state, nil
}

func (s *Store) ResetAttempts(ctx context.Context, id int64) error {
	return s.execOne(ctx, "reset attempts", `
		UPDATE credentials
		SET failed_login_attempts = 0, account_locked = FALSE, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
}

func (s *Store) UnlockIfExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET failed_login_attempts = 0, account_locked = FALSE, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND account_locked AND locked_until IS NOT NULL AND locked_until <= $2
	`, id, now.UTC())
	if err != nil {
		return false, autherr.Internal("unlock credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, autherr.Internal("unlock credential", err)
	}
	return n > 0, nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return autherr.Internal(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return autherr.Internal(op, err)
	}
	if n == 0 {
		return credential.ErrNotFound
	}
	return nil
}

func scanCredential(row *sql.Row) (credential.Credential, error) {
	var (
		c           credential.Credential
		lockedUntil sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.Username,
		&c.Email,
		&c.PasswordHash,
		&c.Role,
		&c.EmailVerified,
		&c.FailedLoginAttempts,
		&c.AccountLocked,
		&lockedUntil,
		&c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, credential.ErrNotFound
	}
	if err != nil {
		return credential.Credential{}, autherr.Internal("load credential", err)
	}
	if lockedUntil.Valid {
		c.LockedUntil = lockedUntil.Time
	}
	return c, nil
}
