package authcore

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/credential/memstore"
	"github.com/redis/go-redis/v9"
)

func TestRevocationStats(t *testing.T) {
	env := newTestEnv(t, nil)
	acct := env.registerVerified(t, "alice")
	ctx := context.Background()
	since := env.clock.Now()

	a := env.login(t, "alice")
	env.login(t, "alice")
	if err := env.engine.Logout(ctx, a.AccessToken, a.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	env.clock.Advance(time.Second)
	if _, err := env.engine.AdminRevokeUser(ctx, acct.ID); err != nil {
		t.Fatalf("AdminRevokeUser failed: %v", err)
	}

	stats, err := env.engine.RevocationStats(ctx, since, 10)
	if err != nil {
		t.Fatalf("RevocationStats failed: %v", err)
	}
	if stats.ByReason[ReasonLogout] != 1 || stats.ByReason[ReasonAdminRevoke] != 1 {
		t.Fatalf("by reason = %v", stats.ByReason)
	}
	if stats.Active != 2 {
		t.Fatalf("active = %d", stats.Active)
	}
	if len(stats.Recent) != 2 || stats.Recent[0].Reason != ReasonAdminRevoke {
		t.Fatalf("recent = %+v", stats.Recent)
	}

	later, err := env.engine.RevocationStats(ctx, env.clock.Now().Add(time.Second), 0)
	if err != nil {
		t.Fatalf("RevocationStats failed: %v", err)
	}
	if later.ByReason[ReasonLogout] != 0 || later.Recent != nil {
		t.Fatalf("later = %+v", later)
	}
}

func TestCleanupTasksPurgeExpiredState(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registerVerified(t, "alice")
	res := env.login(t, "alice")
	ctx := context.Background()

	if err := env.engine.Logout(ctx, res.AccessToken, ""); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	tasks := env.engine.CleanupTasks()
	if len(tasks) != 2 || tasks[0].Name != CleanupTaskRefresh || tasks[1].Name != CleanupTaskRevocation {
		t.Fatalf("tasks = %+v", tasks)
	}
	for _, task := range tasks {
		if err := task.Run(ctx); err != nil {
			t.Fatalf("%s failed: %v", task.Name, err)
		}
	}
	if got := env.counter(MetricCleanupRemoved); got != 0 {
		t.Fatalf("nothing should expire yet, removed %d", got)
	}

	env.clock.Advance(8 * 24 * time.Hour)
	for _, task := range tasks {
		if err := task.Run(ctx); err != nil {
			t.Fatalf("%s failed: %v", task.Name, err)
		}
	}
	if got := env.counter(MetricCleanupRemoved); got < 2 {
		t.Fatalf("removed = %d, want at least 2", got)
	}
	if _, found, _ := env.engine.LookupRevocation(ctx, res.AccessJTI); found {
		t.Fatal("expired revocation entry survived cleanup")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	if h := env.engine.Health(context.Background()); !h.RedisAvailable {
		t.Fatalf("health = %+v", h)
	}
}

func TestAuditEventsReachSink(t *testing.T) {
	env := newTestEnv(t, nil)
	sink := NewChannelSink(64)

	cfg := testConfig()
	cfg.Audit.Enabled = true
	rdb := redis.NewClient(&redis.Options{Addr: env.mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memstore.New()).
		WithEmailSender(env.mail).
		WithAuditSink(sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := WithClientIP(context.Background(), "192.0.2.10")
	if _, err := engine.Register(ctx, RegisterInput{Username: "bob", Email: "bob@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	engine.Login(ctx, LoginInput{Identifier: "bob", Password: "Wr0ng!Pass"})
	engine.Close()

	var got []AuditEvent
	for len(sink.Events()) > 0 {
		got = append(got, <-sink.Events())
	}
	if len(got) != 2 {
		t.Fatalf("events = %+v", got)
	}
	if got[0].EventType != "registration_success" || !got[0].Success || got[0].IP != "192.0.2.10" {
		t.Fatalf("first event = %+v", got[0])
	}
	if got[1].EventType != "login_failure" || got[1].Success || got[1].Error != "invalid_credentials" {
		t.Fatalf("second event = %+v", got[1])
	}
	if engine.AuditDropped() != 0 {
		t.Fatalf("dropped = %d", engine.AuditDropped())
	}
}
