package rate

import (
	"errors"

	"github.com/MrEthical07/authcore/autherr"
)

var (
	// ErrRateLimited is returned when a rolling window is full.
	ErrRateLimited = autherr.New(autherr.ErrRateLimited, "rate limited")
	// ErrRedisUnavailable wraps storage failures of the limiter.
	ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
)
