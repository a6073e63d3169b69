package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/lockout"
	"github.com/MrEthical07/authcore/notify"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/twofactor"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder is single-use: the second call
// to Build fails.
type Builder struct {
	config      Config
	redis       redis.UniversalClient
	credentials CredentialStore
	email       EmailSender
	auditSink   AuditSink
	logger      *slog.Logger
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// The config is copied; later changes to cfg do not affect the Builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing refresh tokens, revocations, 2FA
// state, challenges and rate windows. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the account repository. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithEmailSender sets the email collaborator. Defaults to a sender that
// drops every message.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.email = sender
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// Events are delivered asynchronously according to Config.Audit.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs an Engine.
//
// Build fails when the JWT secret is shorter than 32 bytes, when a
// required dependency is missing or when any section of Config is
// invalid. The returned Engine must be closed with Close.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store is required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	email := b.email
	if email == nil {
		email = notify.NoopSender{}
	}

	m := metrics.New(cfg.Metrics.Enabled, cfg.Metrics.EnableLatencyHistograms)
	// Lua scripts touch several keys per call, so every key carries the
	// same hash tag and lands in one Redis Cluster slot.
	keyspace := "{" + cfg.KeyPrefix + "}"
	limiter := rate.New(b.redis, keyspace+":rl", now)

	signer, err := jwt.NewSigner(jwt.Config{
		Secret:     cfg.JWT.Secret,
		DefaultTTL: cfg.JWT.AccessTTL,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: %w", err)
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}

	guard, err := lockout.NewGuard(b.credentials, lockout.Config{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("lockout: %w", err)
	}

	tfCfg := twofactor.DefaultConfig()
	tfCfg.Issuer = cfg.TwoFactor.Issuer
	tfCfg.BackupCodeCount = cfg.TwoFactor.BackupCodeCount
	tfCfg.ReplayProtection = cfg.TwoFactor.ReplayProtection
	tfCfg.FailedAttempts = rate.Window{Limit: cfg.TwoFactor.MaxFailedAttempts, Period: cfg.TwoFactor.FailedAttemptWindow}
	tf, err := twofactor.New(
		twofactor.NewRedisStore(b.redis, keyspace+":2fa"),
		limiter, tfCfg, now,
		twofactor.WithMetrics(m),
	)
	if err != nil {
		return nil, err
	}

	revCfg := revocation.DefaultConfig()
	revCfg.Prefix = keyspace + ":rvk"
	revCfg.RevokeLimit = rate.Window{Limit: cfg.Revocation.RevokePerHour, Period: time.Hour}
	revCfg.RetentionSlack = cfg.Revocation.RetentionSlack
	registry, err := revocation.NewRegistry(b.redis, revCfg,
		revocation.WithLimiter(limiter),
		revocation.WithLogger(logger),
		revocation.WithMetrics(m),
		revocation.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:      cfg,
		logger:      logger,
		now:         now,
		redis:       b.redis,
		credentials: b.credentials,
		email:       email,
		signer:      signer,
		hasher:      hasher,
		guard:       guard,
		twoFactor:   tf,
		revocations: registry,
		challenges:  stores.NewChallengeStore(b.redis, keyspace+":chl", now),
		limiter:     limiter,
		metrics:     m,
	}

	refreshCfg := refresh.DefaultConfig()
	refreshCfg.Prefix = keyspace + ":rft"
	refreshCfg.TTL = cfg.Refresh.TTL
	refreshCfg.MaxActive = cfg.Refresh.MaxActivePerUser
	refreshCfg.CreateLimit = rate.Window{Limit: cfg.Refresh.CreatePerHour, Period: time.Hour}
	refreshCfg.ReuseGrace = cfg.Refresh.ReuseGrace
	refreshCfg.Retention = cfg.Refresh.Retention
	e.refresh, err = refresh.NewStore(b.redis, refreshCfg,
		refresh.WithAccessIssuer(accessIssuer{engine: e}),
		refresh.WithLimiter(limiter),
		refresh.WithMetrics(m),
		refresh.WithLogger(logger),
		refresh.WithClock(now),
	)
	if err != nil {
		return nil, err
	}

	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink, logger)

	b.built = true
	return e, nil
}
