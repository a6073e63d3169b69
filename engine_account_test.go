package authcore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/credential/memstore"
)

func TestRegisterStartsUnverifiedAndLoginFails(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	acct, err := env.engine.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if acct.EmailVerified {
		t.Fatal("expected unverified account")
	}
	if acct.Role != "USER" {
		t.Fatalf("role = %q", acct.Role)
	}
	if env.mail.verificationToken("alice@example.com") == "" {
		t.Fatal("expected a verification email")
	}

	_, err = env.engine.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	if !errors.Is(err, ErrEmailNotVerified) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized email-not-verified, got %v", err)
	}
	if err.Error() != "email not verified" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestRegisterWithoutVerificationStartsVerified(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Registration.RequireEmailVerification = false
	})

	acct, err := env.engine.Register(context.Background(), RegisterInput{Username: "bob", Email: "Bob@Example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !acct.EmailVerified || acct.Email != "bob@example.com" {
		t.Fatalf("account = %+v", acct)
	}
	if len(env.mail.welcome) != 1 {
		t.Fatalf("expected a welcome email, got %v", env.mail.welcome)
	}
	env.login(t, "bob@example.com")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "alice")
	ctx := context.Background()

	_, err := env.engine.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountExists) || !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate username: %v", err)
	}
	_, err = env.engine.Register(ctx, RegisterInput{Username: "alice2", Email: "alice@example.com", Password: testPassword})
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate email: %v", err)
	}
	if got := env.counter(MetricRegistrationConflict); got != 2 {
		t.Fatalf("conflict counter = %d", got)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	cases := []RegisterInput{
		{Username: "carol", Email: "carol@example.com", Password: "weak"},
		{Username: "carol", Email: "not-an-email", Password: testPassword},
		{Username: "c", Email: "carol@example.com", Password: testPassword},
	}
	for _, in := range cases {
		if _, err := env.engine.Register(ctx, in); !errors.Is(err, ErrValidation) {
			t.Fatalf("Register(%+v) = %v, want validation error", in, err)
		}
	}
}

type lookupCountingStore struct {
	*memstore.Store
	lookups atomic.Int32
}

func (s *lookupCountingStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	s.lookups.Add(1)
	return s.Store.ExistsByUsername(ctx, username)
}

func (s *lookupCountingStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	s.lookups.Add(1)
	return s.Store.ExistsByEmail(ctx, email)
}

func TestRegisterRejectsMalformedUsernameBeforeLookup(t *testing.T) {
	env := newTestEnv(t, nil)
	store := &lookupCountingStore{Store: memstore.New()}
	engine, err := New().
		WithConfig(testConfig()).
		WithRedis(env.rdb).
		WithCredentialStore(store).
		WithEmailSender(env.mail).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	for _, username := range []string{"", "c", "has space", "bad/char"} {
		_, err := engine.Register(context.Background(), RegisterInput{Username: username, Email: "carol@example.com", Password: testPassword})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("Register(%q) = %v, want validation error", username, err)
		}
	}
	if n := store.lookups.Load(); n != 0 {
		t.Fatalf("malformed usernames reached the store %d times", n)
	}
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	token := env.mail.verificationToken("dave@example.com")

	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("second VerifyEmail = %v", err)
	}
	env.login(t, "dave")
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Registration.ResendPerHour = 2
	})
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, RegisterInput{Username: "erin", Email: "erin@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	first := env.mail.verificationToken("erin@example.com")

	if err := env.engine.ResendVerification(ctx, "erin"); err != nil {
		t.Fatalf("ResendVerification failed: %v", err)
	}
	second := env.mail.verificationToken("erin@example.com")
	if second == first {
		t.Fatal("expected a fresh token")
	}
	if err := env.engine.VerifyEmail(ctx, first); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("superseded token = %v", err)
	}

	if err := env.engine.ResendVerification(ctx, "nobody"); err != nil {
		t.Fatalf("unknown identifier = %v", err)
	}
	// Username and email draw on the same per-account window.
	if err := env.engine.ResendVerification(ctx, "erin@example.com"); err != nil {
		t.Fatalf("second resend failed: %v", err)
	}
	if err := env.engine.ResendVerification(ctx, "ERIN"); !errors.Is(err, ErrVerificationRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if err := env.engine.ResendVerification(ctx, "erin@example.com"); !errors.Is(err, ErrVerificationRateLimited) {
		t.Fatalf("expected rate limit by email, got %v", err)
	}

	env.clock.Advance(time.Hour + time.Second)
	if err := env.engine.ResendVerification(ctx, "erin"); err != nil {
		t.Fatalf("expected window to reopen, got %v", err)
	}
}

func TestChangePasswordInvalidatesSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	acct := env.registerVerified(t, "frank")
	res := env.login(t, "frank")
	ctx := context.Background()

	if err := env.engine.ChangePassword(ctx, acct.ID, "Wr0ng!Pass", "N3w!Passw0rd"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong old password = %v", err)
	}
	if err := env.engine.ChangePassword(ctx, acct.ID, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("reuse = %v", err)
	}
	if err := env.engine.ChangePassword(ctx, acct.ID, testPassword, "N3w!Passw0rd"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := env.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("old access token = %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken, "", ""); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("old refresh token = %v", err)
	}
	entry, found, err := env.engine.LookupRevocation(ctx, res.AccessJTI)
	if err != nil || !found || entry.Reason != ReasonPasswordChange {
		t.Fatalf("revocation entry = %+v, %v, %v", entry, found, err)
	}

	if _, err := env.engine.Login(ctx, LoginInput{Identifier: "frank", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password login = %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginInput{Identifier: "frank", Password: "N3w!Passw0rd"}); err != nil {
		t.Fatalf("new password login = %v", err)
	}
}
