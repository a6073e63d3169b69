package revocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
)

// Reason records why a token was revoked.
type Reason string

const (
	ReasonLogout            Reason = "LOGOUT"
	ReasonPasswordChange    Reason = "PASSWORD_CHANGE"
	ReasonAdminRevoke       Reason = "ADMIN_REVOKE"
	ReasonSecurityViolation Reason = "SECURITY_VIOLATION"
	ReasonLogoutAll         Reason = "LOGOUT_ALL"
)

// Reasons lists every valid reason.
var Reasons = []Reason{ReasonLogout, ReasonPasswordChange, ReasonAdminRevoke, ReasonSecurityViolation, ReasonLogoutAll}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	for _, known := range Reasons {
		if r == known {
			return true
		}
	}
	return false
}

// ErrRateLimited is returned when a user exceeds the revocation window.
var ErrRateLimited = autherr.New(autherr.ErrRateLimited, "too many revocation requests")

// Entry is one revoked token.
type Entry struct {
	JTI       string
	UserID    int64
	Reason    Reason
	RevokedAt time.Time
	ExpiresAt time.Time
}

// Config configures a Registry.
type Config struct {
	// Prefix is shared by every key one script touches. Keep it a hash
	// tag such as "{rvk}" on Redis Cluster.
	Prefix string
	// RevokeLimit bounds Revoke calls per user.
	RevokeLimit rate.Window
	// RetentionSlack keeps entries in Redis past their expiry as a safety
	// net when Cleanup does not run.
	RetentionSlack time.Duration
	CleanupBatch   int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Prefix:         "{rvk}",
		RevokeLimit:    rate.Window{Limit: 100, Period: time.Hour},
		RetentionSlack: time.Hour,
		CleanupBatch:   500,
	}
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLimiter enables the per-user revocation window.
func WithLimiter(l *rate.Limiter) Option { return func(r *Registry) { r.limiter = l } }

// WithLogger sets the logger used for fail-open reports.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithMetrics sets the counters collector.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// Registry stores revoked identifiers in Redis.
//
// Keys under the prefix:
//
//	{p}:jti:{jti}        hash, one entry
//	{p}:exp              zset jti -> expiresAt ms
//	{p}:log              zset jti -> revokedAt ms
//	{p}:reason:{reason}  zset jti -> revokedAt ms
//	{p}:user:{id}        zset of issued, not yet revoked jti -> expiresAt ms
type Registry struct {
	redis   redis.UniversalClient
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(client redis.UniversalClient, cfg Config, opts ...Option) (*Registry, error) {
	if client == nil {
		return nil, errors.New("revocation: redis client is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "{rvk}"
	}
	if cfg.CleanupBatch <= 0 {
		cfg.CleanupBatch = 500
	}
	if cfg.RetentionSlack < 0 {
		return nil, errors.New("revocation: retention slack must be >= 0")
	}

	r := &Registry{redis: client, cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// KEYS: entry, exp, log, reason, user tracking.
// ARGV: jti, user id, reason, revoked at ms, expires at ms, pexpireat ms.
var revokeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], "user_id", ARGV[2], "reason", ARGV[3], "revoked_at", ARGV[4], "expires_at", ARGV[5])
redis.call("PEXPIREAT", KEYS[1], ARGV[6])
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[1])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[1])
redis.call("ZREM", KEYS[5], ARGV[1])
return 1
`)

// KEYS: user tracking, exp, log, reason.
// ARGV: user id, reason, now ms, entry key prefix, retention slack ms.
var revokeAllScript = redis.NewScript(`
local now = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now)
local items = redis.call("ZRANGE", KEYS[1], 0, -1, "WITHSCORES")
local n = 0
for i = 1, #items, 2 do
	local jti = items[i]
	local exp = items[i + 1]
	local key = ARGV[4] .. jti
	if redis.call("EXISTS", key) == 0 then
		redis.call("HSET", key, "user_id", ARGV[1], "reason", ARGV[2], "revoked_at", ARGV[3], "expires_at", exp)
		redis.call("PEXPIREAT", key, tonumber(exp) + tonumber(ARGV[5]))
		redis.call("ZADD", KEYS[2], exp, jti)
		redis.call("ZADD", KEYS[3], ARGV[3], jti)
		redis.call("ZADD", KEYS[4], ARGV[3], jti)
		n = n + 1
	end
end
redis.call("DEL", KEYS[1])
return n
`)

// KEYS: user tracking. ARGV: jti, expires at ms, now ms.
var trackScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
redis.call("ZADD", KEYS[1], ARGV[2], ARGV[1])
local ttl = tonumber(ARGV[2]) - tonumber(ARGV[3])
if redis.call("PTTL", KEYS[1]) < ttl then
	redis.call("PEXPIRE", KEYS[1], ttl)
end
return 1
`)

// KEYS: exp, log. ARGV: now ms, batch, entry key prefix, reason key prefix, reasons...
var cleanupScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, jti in ipairs(expired) do
	redis.call("DEL", ARGV[3] .. jti)
	redis.call("ZREM", KEYS[1], jti)
	redis.call("ZREM", KEYS[2], jti)
	for i = 5, #ARGV do
		redis.call("ZREM", ARGV[4] .. ARGV[i], jti)
	end
end
return #expired
`)

// IsRevoked reports whether jti is blacklisted. Storage errors report false.
func (r *Registry) IsRevoked(ctx context.Context, jti string) bool {
	if jti == "" {
		return false
	}
	n, err := r.redis.Exists(ctx, r.entryKey(jti)).Result()
	if err != nil {
		r.metrics.Inc(metrics.RevocationFailOpen)
		r.logger.WarnContext(ctx, "revocation lookup failed open", slog.String("jti", jti), slog.Any("error", err))
		return false
	}
	return n == 1
}

// Revoke blacklists e.JTI until e.ExpiresAt. Revoking an already
// revoked identifier is a no-op that reports false.
func (r *Registry) Revoke(ctx context.Context, e Entry) (bool, error) {
	if e.JTI == "" {
		return false, autherr.Invalid("jti", "must not be empty")
	}
	if !e.Reason.Valid() {
		return false, autherr.Invalid("reason", "unknown revocation reason")
	}
	now := r.now()
	if e.RevokedAt.IsZero() {
		e.RevokedAt = now
	}
	if e.ExpiresAt.IsZero() {
		return false, autherr.Invalid("expiresAt", "must be set")
	}

	// Repeats never reach the limiter.
	exists, err := r.redis.Exists(ctx, r.entryKey(e.JTI)).Result()
	if err != nil {
		return false, autherr.Internal("revocation.revoke", err)
	}
	if exists == 1 {
		return false, nil
	}

	limitKey := "revoke:" + strconv.FormatInt(e.UserID, 10)
	var slot string
	if r.limiter != nil {
		d, member, err := r.limiter.Reserve(ctx, limitKey, r.cfg.RevokeLimit)
		if err != nil {
			return false, autherr.Internal("revocation.revoke", err)
		}
		if !d.Allowed {
			r.metrics.Inc(metrics.RevocationRateLimited)
			return false, ErrRateLimited
		}
		slot = member
	}

	created, err := revokeScript.Run(ctx, r.redis,
		[]string{r.entryKey(e.JTI), r.expKey(), r.logKey(), r.reasonKey(e.Reason), r.userKey(e.UserID)},
		e.JTI, e.UserID, string(e.Reason), e.RevokedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
		e.ExpiresAt.Add(r.cfg.RetentionSlack).UnixMilli(),
	).Int()
	if err != nil {
		return false, autherr.Internal("revocation.revoke", err)
	}
	if created == 0 && r.limiter != nil {
		// Lost a race with a concurrent revoke of the same jti.
		if err := r.limiter.Release(ctx, limitKey, slot); err != nil {
			r.logger.WarnContext(ctx, "release revoke slot", slog.String("jti", e.JTI), slog.Any("error", err))
		}
	}
	if created == 1 {
		r.metrics.Inc(metrics.TokenRevoked)
	}
	return created == 1, nil
}

// Track records an issued identifier so RevokeAllForUser can reach it.
func (r *Registry) Track(ctx context.Context, jti string, userID int64, expiresAt time.Time) error {
	now := r.now()
	if !expiresAt.After(now) {
		return nil
	}
	err := trackScript.Run(ctx, r.redis, []string{r.userKey(userID)},
		jti, expiresAt.UnixMilli(), now.UnixMilli(),
	).Err()
	if err != nil {
		return autherr.Internal("revocation.track", err)
	}
	return nil
}

// RevokeAllForUser revokes every tracked, unexpired identifier of userID
// and returns how many entries were added.
func (r *Registry) RevokeAllForUser(ctx context.Context, userID int64, reason Reason) (int, error) {
	if !reason.Valid() {
		return 0, autherr.Invalid("reason", "unknown revocation reason")
	}
	n, err := revokeAllScript.Run(ctx, r.redis,
		[]string{r.userKey(userID), r.expKey(), r.logKey(), r.reasonKey(reason)},
		userID, string(reason), r.now().UnixMilli(), r.entryKey(""), r.cfg.RetentionSlack.Milliseconds(),
	).Int()
	if err != nil {
		return 0, autherr.Internal("revocation.revoke_all", err)
	}
	r.metrics.Add(metrics.TokenRevoked, uint64(n))
	return n, nil
}

// Cleanup deletes entries whose expiry is before now. It is idempotent
// and safe to run alongside live traffic.
func (r *Registry) Cleanup(ctx context.Context, now time.Time) (int, error) {
	args := []interface{}{now.UnixMilli(), r.cfg.CleanupBatch, r.entryKey(""), r.reasonKey("")}
	for _, reason := range Reasons {
		args = append(args, string(reason))
	}

	total := 0
	for {
		n, err := cleanupScript.Run(ctx, r.redis, []string{r.expKey(), r.logKey()}, args...).Int()
		if err != nil {
			return total, autherr.Internal("revocation.cleanup", err)
		}
		total += n
		if n < r.cfg.CleanupBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// CountByReason returns how many entries with reason were revoked at or after since.
func (r *Registry) CountByReason(ctx context.Context, reason Reason, since time.Time) (int64, error) {
	n, err := r.redis.ZCount(ctx, r.reasonKey(reason), strconv.FormatInt(since.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, autherr.Internal("revocation.count", err)
	}
	return n, nil
}

// Recent returns up to limit entries, newest first.
func (r *Registry) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	jtis, err := r.redis.ZRevRange(ctx, r.logKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, autherr.Internal("revocation.recent", err)
	}
	if len(jtis) == 0 {
		return nil, nil
	}

	pipe := r.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(jtis))
	for i, jti := range jtis {
		cmds[i] = pipe.HGetAll(ctx, r.entryKey(jti))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, autherr.Internal("revocation.recent", err)
	}

	out := make([]Entry, 0, len(jtis))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, decodeEntry(jtis[i], fields))
	}
	return out, nil
}

// ActiveCount returns the number of entries whose token has not expired.
func (r *Registry) ActiveCount(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.redis.ZCount(ctx, r.expKey(), "("+strconv.FormatInt(now.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, autherr.Internal("revocation.active", err)
	}
	return n, nil
}

// Get returns the entry for jti.
func (r *Registry) Get(ctx context.Context, jti string) (Entry, bool, error) {
	fields, err := r.redis.HGetAll(ctx, r.entryKey(jti)).Result()
	if err != nil {
		return Entry{}, false, autherr.Internal("revocation.get", err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	return decodeEntry(jti, fields), true, nil
}

func decodeEntry(jti string, fields map[string]string) Entry {
	uid, _ := strconv.ParseInt(fields["user_id"], 10, 64)
	revoked, _ := strconv.ParseInt(fields["revoked_at"], 10, 64)
	expires, _ := strconv.ParseInt(fields["expires_at"], 10, 64)
	return Entry{
		JTI:       jti,
		UserID:    uid,
		Reason:    Reason(fields["reason"]),
		RevokedAt: time.UnixMilli(revoked),
		ExpiresAt: time.UnixMilli(expires),
	}
}

func (r *Registry) entryKey(jti string) string { return r.cfg.Prefix + ":jti:" + jti }

func (r *Registry) expKey() string { return r.cfg.Prefix + ":exp" }

func (r *Registry) logKey() string { return r.cfg.Prefix + ":log" }

func (r *Registry) reasonKey(reason Reason) string { return r.cfg.Prefix + ":reason:" + string(reason) }

func (r *Registry) userKey(userID int64) string {
	return fmt.Sprintf("%s:user:%d", r.cfg.Prefix, userID)
}
