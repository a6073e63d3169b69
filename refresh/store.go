package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/autherr"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
)

// AccessToken is a signed access token issued alongside a rotation.
type AccessToken struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// AccessIssuer mints the access token returned by Rotate.
type AccessIssuer interface {
	IssueAccess(ctx context.Context, userID int64) (AccessToken, error)
}

// Token is a freshly created refresh token. Value is shown once.
type Token struct {
	Value     string
	ID        string
	UserID    int64
	Lineage   string
	ExpiresAt time.Time
}

// Rotation is the result of a successful Rotate.
type Rotation struct {
	Access  AccessToken
	Refresh Token
}

// Session describes one active refresh token.
type Session struct {
	ID         string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastUsed   time.Time
	DeviceInfo string
	IP         string
}

// Config configures a Store.
type Config struct {
	// Prefix is shared by every key one script touches. Keep it a hash
	// tag such as "{rft}" on Redis Cluster.
	Prefix    string
	TTL       time.Duration
	MaxActive int
	// CreateLimit bounds Create calls per user.
	CreateLimit rate.Window
	// ReuseGrace is how long after rotation a repeat presentation is
	// treated as a benign race rather than theft.
	ReuseGrace time.Duration
	// Retention keeps revoked tokens for reuse detection.
	Retention    time.Duration
	CleanupBatch int
}

// DefaultConfig returns a 7 day TTL, 10 active tokens per user and 20
// creations per rolling hour.
func DefaultConfig() Config {
	return Config{
		Prefix:       "{rft}",
		TTL:          7 * 24 * time.Hour,
		MaxActive:    10,
		CreateLimit:  rate.Window{Limit: 20, Period: time.Hour},
		ReuseGrace:   5 * time.Second,
		Retention:    7 * 24 * time.Hour,
		CleanupBatch: 500,
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithAccessIssuer sets the issuer used by Rotate.
func WithAccessIssuer(issuer AccessIssuer) Option { return func(s *Store) { s.issuer = issuer } }

// WithLimiter enables the creation rate limit.
func WithLimiter(l *rate.Limiter) Option { return func(s *Store) { s.limiter = l } }

// WithMetrics sets the counters collector.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// Store keeps refresh tokens in Redis.
//
// Keys under the prefix:
//
//	{p}:tok:{sha256}   hash, one token
//	{p}:user:{id}      zset of active token digests -> expiresAt ms
//	{p}:lin:{lineage}  set of token digests sharing a lineage
//	{p}:exp            zset digest -> expiresAt ms
//	{p}:rvk            zset digest -> revokedAt ms
type Store struct {
	redis   redis.UniversalClient
	cfg     Config
	issuer  AccessIssuer
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a Store.
func NewStore(client redis.UniversalClient, cfg Config, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("refresh: redis client is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("refresh: ttl must be > 0")
	}
	if cfg.MaxActive < 0 || cfg.ReuseGrace < 0 || cfg.Retention < 0 {
		return nil, errors.New("refresh: negative limits are invalid")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "{rft}"
	}
	if cfg.CleanupBatch <= 0 {
		cfg.CleanupBatch = 500
	}

	s := &Store{redis: client, cfg: cfg, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of new tokens.
func (s *Store) TTL() time.Duration {
	return s.cfg.TTL
}

// Create issues a token for userID in a new lineage.
func (s *Store) Create(ctx context.Context, userID int64, deviceInfo, ip string) (*Token, error) {
	if userID <= 0 {
		return nil, autherr.Invalid("userID", "must be positive")
	}

	if s.limiter != nil {
		d, err := s.limiter.Allow(ctx, "refresh:create:"+strconv.FormatInt(userID, 10), s.cfg.CreateLimit)
		if err != nil {
			return nil, autherr.Internal("refresh.create", err)
		}
		if !d.Allowed {
			s.metrics.Inc(metrics.RefreshRateLimited)
			return nil, ErrRateLimited
		}
	}

	value, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, autherr.Internal("refresh.create", err)
	}
	now := s.now()
	tok := &Token{
		Value:     value,
		ID:        uuid.NewString(),
		UserID:    userID,
		Lineage:   uuid.NewString(),
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	evicted, err := createScript.Run(ctx, s.redis,
		[]string{s.userKey(userID), s.expKey(), s.revokedKey()},
		internal.HashToken(value), tok.ID, userID, tok.Lineage,
		now.UnixMilli(), tok.ExpiresAt.UnixMilli(), deviceInfo, ip,
		s.cfg.MaxActive, s.tokenKey(""), s.lineageKey(""), s.keyTTL().Milliseconds(),
	).Int()
	if err != nil {
		return nil, autherr.Internal("refresh.create", err)
	}

	s.metrics.Inc(metrics.RefreshIssued)
	if evicted > 0 {
		s.metrics.Add(metrics.RefreshEvicted, uint64(evicted))
		s.logger.InfoContext(ctx, "refresh tokens evicted", slog.Int64("user_id", userID), slog.Int("count", evicted))
	}
	return tok, nil
}

// Rotate exchanges an active token for a new access token and a new
// refresh token in the same lineage. The old token is revoked in the
// same atomic step that creates the replacement.
func (s *Store) Rotate(ctx context.Context, value, deviceInfo, ip string) (*Rotation, error) {
	if s.issuer == nil {
		return nil, autherr.Internal("refresh.rotate", errors.New("no access issuer configured"))
	}
	if !internal.ValidOpaqueToken(value) {
		s.metrics.Inc(metrics.RefreshFailure)
		return nil, ErrTokenInvalid
	}

	next, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, autherr.Internal("refresh.rotate", err)
	}
	now := s.now()
	oldHash := internal.HashToken(value)
	nextHash := internal.HashToken(next)
	nextID := uuid.NewString()
	expiresAt := now.Add(s.cfg.TTL)

	res, err := rotateScript.Run(ctx, s.redis,
		[]string{s.tokenKey(oldHash), s.expKey(), s.revokedKey()},
		oldHash, nextHash, nextID, now.UnixMilli(), expiresAt.UnixMilli(), deviceInfo, ip,
		s.tokenKey(""), s.userPrefix(), s.lineageKey(""), s.cfg.ReuseGrace.Milliseconds(), s.keyTTL().Milliseconds(),
	).Slice()
	if err != nil {
		return nil, autherr.Internal("refresh.rotate", err)
	}
	if len(res) == 0 {
		return nil, autherr.Internal("refresh.rotate", errors.New("empty script result"))
	}

	switch toInt64(res[0]) {
	case rotateOK:
	case rotateExpired:
		s.metrics.Inc(metrics.RefreshFailure)
		return nil, ErrTokenExpired
	case rotateReuse:
		reuse := &ReuseError{Lineage: toString(res[2]), Revoked: int(toInt64(res[3]))}
		reuse.UserID, _ = strconv.ParseInt(toString(res[1]), 10, 64)
		s.metrics.Inc(metrics.RefreshReuseDetected)
		s.logger.WarnContext(ctx, "refresh token reuse detected",
			slog.Int64("user_id", reuse.UserID),
			slog.String("lineage", reuse.Lineage),
			slog.Int("revoked", reuse.Revoked),
		)
		return nil, reuse
	default:
		s.metrics.Inc(metrics.RefreshFailure)
		return nil, ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(toString(res[1]), 10, 64)
	if err != nil {
		return nil, autherr.Internal("refresh.rotate", fmt.Errorf("corrupt user id: %w", err))
	}

	access, err := s.issuer.IssueAccess(ctx, userID)
	if err != nil {
		// The replacement is unusable without its access token.
		if _, rerr := s.Revoke(ctx, next); rerr != nil {
			s.logger.ErrorContext(ctx, "revoke orphaned refresh token", slog.Any("error", rerr))
		}
		return nil, err
	}

	s.metrics.Inc(metrics.RefreshSuccess)
	return &Rotation{
		Access: access,
		Refresh: Token{
			Value:     next,
			ID:        nextID,
			UserID:    userID,
			Lineage:   toString(res[2]),
			ExpiresAt: expiresAt,
		},
	}, nil
}

// Revoke marks value revoked and reports whether it was found. Revoking
// an already revoked token reports true and changes nothing.
func (s *Store) Revoke(ctx context.Context, value string) (bool, error) {
	if !internal.ValidOpaqueToken(value) {
		return false, nil
	}
	hash := internal.HashToken(value)
	found, err := revokeScript.Run(ctx, s.redis,
		[]string{s.tokenKey(hash), s.revokedKey()},
		hash, s.now().UnixMilli(), s.userPrefix(),
	).Int()
	if err != nil {
		return false, autherr.Internal("refresh.revoke", err)
	}
	return found == 1, nil
}

// UserOf returns the owner of value without changing it.
func (s *Store) UserOf(ctx context.Context, value string) (int64, bool, error) {
	if !internal.ValidOpaqueToken(value) {
		return 0, false, nil
	}
	v, err := s.redis.HGet(ctx, s.tokenKey(internal.HashToken(value)), "user_id").Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, autherr.Internal("refresh.lookup", err)
	}
	uid, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, autherr.Internal("refresh.lookup", err)
	}
	return uid, true, nil
}

// RevokeAllForUser revokes every active token of userID.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) (int, error) {
	n, err := revokeAllScript.Run(ctx, s.redis,
		[]string{s.userKey(userID), s.revokedKey()},
		s.now().UnixMilli(), s.tokenKey(""),
	).Int()
	if err != nil {
		return 0, autherr.Internal("refresh.revoke_all", err)
	}
	return n, nil
}

// Cleanup deletes expired tokens and revoked tokens older than the
// retention window.
func (s *Store) Cleanup(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.Retention)
	total := 0
	for {
		n, err := cleanupScript.Run(ctx, s.redis,
			[]string{s.expKey(), s.revokedKey()},
			now.UnixMilli(), cutoff.UnixMilli(), s.cfg.CleanupBatch,
			s.tokenKey(""), s.userPrefix(), s.lineageKey(""),
		).Int()
		if err != nil {
			return total, autherr.Internal("refresh.cleanup", err)
		}
		total += n
		if n == 0 {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// ListActive returns the unexpired, unrevoked tokens of userID, soonest
// expiry first. Tokens share one TTL, so that is also oldest first.
func (s *Store) ListActive(ctx context.Context, userID int64) ([]Session, error) {
	now := s.now()
	hashes, err := s.redis.ZRangeByScore(ctx, s.userKey(userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, autherr.Internal("refresh.list", err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.HGetAll(ctx, s.tokenKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, autherr.Internal("refresh.list", err)
	}

	out := make([]Session, 0, len(hashes))
	for _, cmd := range cmds {
		f := cmd.Val()
		if len(f) == 0 || f["revoked"] != "0" {
			continue
		}
		out = append(out, Session{
			ID:         f["id"],
			CreatedAt:  millis(f["created_at"]),
			ExpiresAt:  millis(f["expires_at"]),
			LastUsed:   millis(f["last_used"]),
			DeviceInfo: f["device"],
			IP:         f["ip"],
		})
	}
	return out, nil
}

// keyTTL bounds how long Redis keeps a token after creation.
func (s *Store) keyTTL() time.Duration {
	return s.cfg.TTL + s.cfg.Retention
}

func (s *Store) tokenKey(hash string) string { return s.cfg.Prefix + ":tok:" + hash }

func (s *Store) lineageKey(id string) string { return s.cfg.Prefix + ":lin:" + id }

// userPrefix is the user index prefix scripts append an id to.
func (s *Store) userPrefix() string { return s.cfg.Prefix + ":user:" }

func (s *Store) userKey(userID int64) string { return s.userPrefix() + strconv.FormatInt(userID, 10) }

func (s *Store) expKey() string { return s.cfg.Prefix + ":exp" }

func (s *Store) revokedKey() string { return s.cfg.Prefix + ":rvk" }

func millis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return -1
	}
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return ""
	}
}
