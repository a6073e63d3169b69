// Package autherr defines the error taxonomy shared by every authcore
// package.
//
// Each package declares its own sentinel errors with New so that callers
// can match either the precise failure (jwt.ErrExpired) or its broad
// kind (autherr.ErrExpired) with errors.Is.
package autherr

import "errors"

var (
	// ErrValidation marks input that failed validation.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks bad credentials or a bad signature.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrExpired marks an expired token or challenge.
	ErrExpired = errors.New("expired")
	// ErrAlreadyUsed marks a consumed backup code or a rotated/revoked token.
	ErrAlreadyUsed = errors.New("already used")
	// ErrRateLimited marks a rejected request that exceeded a rolling window.
	ErrRateLimited = errors.New("rate limited")
	// ErrConflict marks a duplicate account or already-enabled 2FA.
	ErrConflict = errors.New("conflict")
	// ErrInternal marks a storage or dependency failure.
	ErrInternal = errors.New("internal error")
)

// Error is a sentinel error bound to a taxonomy kind.
type Error struct {
	kind error
	msg  string
}

// New returns a sentinel error with message msg that also matches kind.
func New(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Is reports whether target is the kind this error belongs to.
func (e *Error) Is(target error) bool {
	return target == e.kind
}

// Kind returns the taxonomy kind of e.
func (e *Error) Kind() error { return e.kind }

// Internal wraps a storage or dependency failure so that it matches
// ErrInternal while keeping cause in the chain.
func Internal(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &internalError{op: op, cause: cause}
}

type internalError struct {
	op    string
	cause error
}

func (e *internalError) Error() string { return e.op + ": " + e.cause.Error() }

func (e *internalError) Unwrap() []error { return []error{ErrInternal, e.cause} }

// ValidationError reports which field of an input was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return "validation failed: " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid returns a ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// KindOf returns the taxonomy kind err belongs to, or nil if none matches.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrNotFound,
		ErrUnauthorized,
		ErrExpired,
		ErrAlreadyUsed,
		ErrRateLimited,
		ErrConflict,
		ErrInternal,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
