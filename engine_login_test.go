package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLoginUnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "alice")
	ctx := context.Background()

	_, errUnknown := env.engine.Login(ctx, LoginInput{Identifier: "mallory", Password: testPassword})
	_, errWrong := env.engine.Login(ctx, LoginInput{Identifier: "alice", Password: "Wr0ng!Pass"})

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("errors = %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("messages differ: %q vs %q", errUnknown, errWrong)
	}
	if got := env.counter(MetricLoginFailure); got != 2 {
		t.Fatalf("failure counter = %d", got)
	}
}

func TestLoginIssuesUsableTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	acct := env.registerVerified(t, "alice")
	ctx := context.Background()

	res, err := env.engine.Login(ctx, LoginInput{Identifier: "alice@example.com", Password: testPassword, DeviceInfo: "cli/1.0", IP: "198.51.100.4"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.UserID != acct.ID || res.Role != "USER" {
		t.Fatalf("result = %+v", res)
	}
	if want := env.clock.Now().Add(15 * time.Minute); !res.AccessExpiresAt.Equal(want) {
		t.Fatalf("access expiry = %v, want %v", res.AccessExpiresAt, want)
	}

	p, err := env.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if p.UserID != acct.ID || p.JTI != res.AccessJTI || p.Role != "USER" {
		t.Fatalf("principal = %+v", p)
	}

	sessions, err := env.engine.ListSessions(ctx, acct.ID)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("ListSessions = %v, %v", sessions, err)
	}
	if sessions[0].DeviceInfo != "cli/1.0" || sessions[0].IP != "198.51.100.4" {
		t.Fatalf("session = %+v", sessions[0])
	}
	if got := env.counter(MetricLoginSuccess); got != 1 {
		t.Fatalf("success counter = %d", got)
	}
}

func TestLoginLocksAfterFiveFailuresThenAutoUnlocks(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "alice")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.engine.Login(ctx, LoginInput{Identifier: "alice", Password: "Wr0ng!Pass"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	_, err := env.engine.Login(ctx, LoginInput{Identifier: "alice", Password: testPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	if got := env.counter(MetricAccountLocked); got != 1 {
		t.Fatalf("account locked counter = %d", got)
	}

	env.clock.Advance(15*time.Minute + time.Second)
	env.login(t, "alice")

	cred, err := env.creds.FindByUsernameOrEmail(ctx, "alice")
	if err != nil {
		t.Fatalf("FindByUsernameOrEmail failed: %v", err)
	}
	if cred.FailedLoginAttempts != 0 || cred.AccountLocked {
		t.Fatalf("lock state not reset: %+v", cred)
	}
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "alice")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		env.engine.Login(ctx, LoginInput{Identifier: "alice", Password: "Wr0ng!Pass"})
	}
	env.login(t, "alice")
	for i := 0; i < 4; i++ {
		env.engine.Login(ctx, LoginInput{Identifier: "alice", Password: "Wr0ng!Pass"})
	}
	env.login(t, "alice")
}

func TestLoginRejectsEmptyInput(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.engine.Login(ctx, LoginInput{Password: testPassword}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty identifier = %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginInput{Identifier: "alice"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty password = %v", err)
	}
}

func TestLoginWithTwoFactor(t *testing.T) {
	env := newTestEnv(t, nil)
	acct := env.registerVerified(t, "alice")
	ctx := context.Background()

	enr, err := env.engine.SetupTwoFactor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	if len(enr.BackupCodes) != 10 {
		t.Fatalf("backup codes = %d", len(enr.BackupCodes))
	}
	if err := env.engine.EnableTwoFactor(ctx, acct.ID, env.totp(t, enr.Secret)); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	if err := env.engine.EnableTwoFactor(ctx, acct.ID, "000000"); !errors.Is(err, ErrConflict) {
		t.Fatalf("second enable = %v", err)
	}
	env.clock.Advance(30 * time.Second)

	in := LoginInput{Identifier: "alice", Password: testPassword}
	if _, err := env.engine.Login(ctx, in); !errors.Is(err, ErrTwoFactorRequired) {
		t.Fatalf("login without code = %v", err)
	}

	in.TwoFactorCode = "000000"
	if _, err := env.engine.Login(ctx, in); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("login with bad code = %v", err)
	}

	in.TwoFactorCode = env.totp(t, enr.Secret)
	res, err := env.engine.Login(ctx, in)
	if err != nil {
		t.Fatalf("login with TOTP failed: %v", err)
	}
	if res.TwoFactorMethod.String() != "totp" {
		t.Fatalf("method = %v", res.TwoFactorMethod)
	}

	in.TwoFactorCode = enr.BackupCodes[0]
	if _, err := env.engine.Login(ctx, in); err != nil {
		t.Fatalf("login with backup code failed: %v", err)
	}
	if _, err := env.engine.Login(ctx, in); !errors.Is(err, ErrBackupCodeUsed) || !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("backup code reuse = %v", err)
	}

	status, err := env.engine.TwoFactorStatus(ctx, acct.ID)
	if err != nil {
		t.Fatalf("TwoFactorStatus failed: %v", err)
	}
	if !status.Enabled || status.BackupCodesUsed != 1 || status.BackupCodesRemaining != 9 {
		t.Fatalf("status = %+v", status)
	}
	if got := env.counter(MetricBackupCodeUsed); got != 1 {
		t.Fatalf("backup code counter = %d", got)
	}
}

func TestDisableTwoFactorRestoresPasswordOnlyLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	acct := env.registerVerified(t, "alice")
	ctx := context.Background()

	enr, err := env.engine.SetupTwoFactor(ctx, acct.ID)
	if err != nil {
		t.Fatalf("SetupTwoFactor failed: %v", err)
	}
	if err := env.engine.EnableTwoFactor(ctx, acct.ID, env.totp(t, enr.Secret)); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	if err := env.engine.DisableTwoFactor(ctx, acct.ID, enr.BackupCodes[3]); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}

	env.login(t, "alice")
	status, err := env.engine.TwoFactorStatus(ctx, acct.ID)
	if err != nil || status.Configured || status.Enabled {
		t.Fatalf("status after disable = %+v, %v", status, err)
	}
}

func TestRegenerateBackupCodesViaEngine(t *testing.T) {
	env := newTestEnv(t, nil)
	acct := env.registerVerified(t, "alice")
	ctx := context.Background()

	enr, _ := env.engine.SetupTwoFactor(ctx, acct.ID)
	if err := env.engine.EnableTwoFactor(ctx, acct.ID, env.totp(t, enr.Secret)); err != nil {
		t.Fatalf("EnableTwoFactor failed: %v", err)
	}
	env.clock.Advance(30 * time.Second)

	codes, err := env.engine.RegenerateBackupCodes(ctx, acct.ID, env.totp(t, enr.Secret))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(codes) != 10 {
		t.Fatalf("codes = %d", len(codes))
	}

	in := LoginInput{Identifier: "alice", Password: testPassword, TwoFactorCode: enr.BackupCodes[0]}
	if _, err := env.engine.Login(ctx, in); !errors.Is(err, ErrInvalidTwoFactorCode) {
		t.Fatalf("old backup code = %v", err)
	}
	in.TwoFactorCode = codes[0]
	if _, err := env.engine.Login(ctx, in); err != nil {
		t.Fatalf("new backup code = %v", err)
	}
}
