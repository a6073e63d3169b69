package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/credential/memstore"
	"github.com/MrEthical07/authcore/twofactor"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testPassword = "Str0ng!Pass"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
	mr  *miniredis.Miniredis
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.mr.SetTime(now)
}

type mailbox struct {
	mu           sync.Mutex
	verification map[string]string
	reset        map[string]string
	welcome      []string
}

func newMailbox() *mailbox {
	return &mailbox{verification: map[string]string{}, reset: map[string]string{}}
}

func (m *mailbox) SendEmailVerification(_ context.Context, to Recipient, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification[to.Email] = token
	return nil
}

func (m *mailbox) SendPasswordReset(_ context.Context, to Recipient, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[to.Email] = token
	return nil
}

func (m *mailbox) SendWelcomeEmail(_ context.Context, to Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcome = append(m.welcome, to.Email)
	return nil
}

func (m *mailbox) verificationToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verification[email]
}

func (m *mailbox) resetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset[email]
}

type testEnv struct {
	engine *Engine
	clock  *testClock
	mail   *mailbox
	creds  *memstore.Store
	mr     *miniredis.Miniredis
	rdb    *redis.Client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte(testSecret)
	cfg.JWT.Issuer = "authcore-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	clock := &testClock{now: time.Unix(1_700_000_010, 0), mr: mr}
	mr.SetTime(clock.now)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{clock: clock, mail: newMailbox(), creds: memstore.New(), mr: mr, rdb: rdb}
	env.engine, err = New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(env.creds).
		WithEmailSender(env.mail).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(env.engine.Close)
	return env
}

// registerVerified registers username and confirms its email.
func (env *testEnv) registerVerified(t *testing.T, username string) *Account {
	t.Helper()
	ctx := context.Background()
	email := username + "@example.com"

	acct, err := env.engine.Register(ctx, RegisterInput{Username: username, Email: email, Password: testPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !acct.EmailVerified {
		if err := env.engine.VerifyEmail(ctx, env.mail.verificationToken(email)); err != nil {
			t.Fatalf("VerifyEmail failed: %v", err)
		}
		acct.EmailVerified = true
	}
	return acct
}

func (env *testEnv) login(t *testing.T, identifier string) *LoginResult {
	t.Helper()
	res, err := env.engine.Login(context.Background(), LoginInput{Identifier: identifier, Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func (env *testEnv) totp(t *testing.T, secret string) string {
	t.Helper()
	code, err := twofactor.CodeAt(secret, env.clock.Now(), 30*time.Second)
	if err != nil {
		t.Fatalf("CodeAt failed: %v", err)
	}
	return code
}

func (env *testEnv) counter(id MetricID) uint64 {
	return env.engine.MetricsSnapshot().Counters[id]
}
