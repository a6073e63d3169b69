package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/credential/memstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
		wantField string
	}{
		{name: "defaults with secret", mutate: func(c *Config) {}, wantValid: true},
		{
			name:      "short secret",
			mutate:    func(c *Config) { c.JWT.Secret = []byte("too-short") },
			wantField: "JWT.Secret",
		},
		{
			name:      "leeway too large",
			mutate:    func(c *Config) { c.JWT.Leeway = 3 * time.Minute },
			wantField: "JWT.Leeway",
		},
		{
			name:      "refresh shorter than access",
			mutate:    func(c *Config) { c.Refresh.TTL = 10 * time.Minute },
			wantField: "Refresh.TTL",
		},
		{
			name:      "reuse grace too long",
			mutate:    func(c *Config) { c.Refresh.ReuseGrace = 2 * time.Minute },
			wantField: "Refresh.ReuseGrace",
		},
		{
			name:      "no backup codes",
			mutate:    func(c *Config) { c.TwoFactor.BackupCodeCount = 0 },
			wantField: "TwoFactor.BackupCodeCount",
		},
		{
			name:      "attempt limit without window",
			mutate:    func(c *Config) { c.TwoFactor.FailedAttemptWindow = 0 },
			wantField: "TwoFactor.FailedAttemptWindow",
		},
		{
			name:      "zero lockout threshold",
			mutate:    func(c *Config) { c.Lockout.Threshold = 0 },
			wantField: "Lockout.Threshold",
		},
		{
			name:      "weak policy",
			mutate:    func(c *Config) { c.Password.Policy.MinLength = 4 },
			wantField: "Password.Policy.MinLength",
		},
		{
			name:      "reset ttl too long",
			mutate:    func(c *Config) { c.PasswordReset.TTL = 48 * time.Hour },
			wantField: "PasswordReset.TTL",
		},
		{
			name:      "disabled reset ignores ttl",
			mutate:    func(c *Config) { c.PasswordReset.Enabled = false; c.PasswordReset.TTL = 0 },
			wantValid: true,
		},
		{
			name:      "audit without buffer",
			mutate:    func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
			wantField: "Audit.BufferSize",
		},
		{
			name:      "blank key prefix",
			mutate:    func(c *Config) { c.KeyPrefix = "  " },
			wantField: "KeyPrefix",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantField) {
				t.Fatalf("error %q does not name %s", err, tc.wantField)
			}
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = nil
	cfg.Lockout.Threshold = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT.Secret") || !strings.Contains(err.Error(), "Lockout.Threshold") {
		t.Fatalf("Validate = %v", err)
	}
}

func TestWithConfigCopiesSecrets(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte(testSecret)}
	b := New().WithConfig(cfg)

	cfg.JWT.Secret[0] = 'X'
	cfg.JWT.VerifyKeys["k1"][0] = 'X'

	if b.config.JWT.Secret[0] != testSecret[0] || b.config.JWT.VerifyKeys["k1"][0] != testSecret[0] {
		t.Fatal("builder config shares memory with caller")
	}
}

func TestBuildRequiresDependencies(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	if _, err := New().WithConfig(testConfig()).WithCredentialStore(memstore.New()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without credential store")
	}
	if _, err := New().WithRedis(rdb).WithCredentialStore(memstore.New()).Build(); err == nil {
		t.Fatal("expected error without JWT secret")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithCredentialStore(memstore.New())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), LoginInput{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Login on nil engine = %v", err)
	}
	if e.IsRevoked(context.Background(), "x") {
		t.Fatal("nil engine reported a revocation")
	}
	e.Close()
}
