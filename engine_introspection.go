package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/revocation"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// RevocationStats reports revocations per reason since since, the number
// of blacklist entries whose token has not yet expired, and up to recent
// of the latest entries.
func (e *Engine) RevocationStats(ctx context.Context, since time.Time, recent int) (*RevocationStats, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	stats := &RevocationStats{
		Since:    since,
		ByReason: make(map[RevocationReason]int64),
	}
	for _, reason := range revocation.Reasons {
		n, err := e.revocations.CountByReason(ctx, reason, since)
		if err != nil {
			return nil, err
		}
		stats.ByReason[reason] = n
	}

	active, err := e.revocations.ActiveCount(ctx, e.now())
	if err != nil {
		return nil, err
	}
	stats.Active = active

	if recent > 0 {
		stats.Recent, err = e.revocations.Recent(ctx, recent)
		if err != nil {
			return nil, err
		}
	}
	return stats, nil
}

// IsRevoked reports whether jti is blacklisted. Like Authenticate it
// fails open.
func (e *Engine) IsRevoked(ctx context.Context, jti string) bool {
	if e == nil {
		return false
	}
	return e.revocations.IsRevoked(ctx, jti)
}

// LookupRevocation returns the blacklist entry of jti, if any.
func (e *Engine) LookupRevocation(ctx context.Context, jti string) (RevokedEntry, bool, error) {
	if e == nil {
		return RevokedEntry{}, false, ErrEngineNotReady
	}
	return e.revocations.Get(ctx, jti)
}

// Health pings Redis.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.redis == nil {
		return HealthStatus{}
	}

	start := time.Now()
	err := e.redis.Ping(ctx).Err()
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   time.Since(start),
	}
}
