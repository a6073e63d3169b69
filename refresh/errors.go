package refresh

import (
	"fmt"

	"github.com/MrEthical07/authcore/autherr"
)

var (
	// ErrTokenInvalid covers unknown, revoked and already-rotated tokens.
	ErrTokenInvalid = autherr.New(autherr.ErrUnauthorized, "invalid refresh token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = autherr.New(autherr.ErrExpired, "refresh token expired")
	// ErrTokenReuse is returned when a rotated token is presented again.
	ErrTokenReuse = autherr.New(autherr.ErrAlreadyUsed, "refresh token reuse detected")
	// ErrRateLimited is returned when a user creates tokens too quickly.
	ErrRateLimited = autherr.New(autherr.ErrRateLimited, "too many refresh tokens created")
)

// ReuseError reports a detected reuse and the lineage it revoked.
type ReuseError struct {
	UserID  int64
	Lineage string
	Revoked int
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%s: user %d, %d tokens revoked", ErrTokenReuse.Error(), e.UserID, e.Revoked)
}

func (e *ReuseError) Is(target error) bool {
	return target == ErrTokenReuse || target == autherr.ErrAlreadyUsed
}
