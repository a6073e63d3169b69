package password

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore/autherr"
)

func testConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t, testConfig())

	encoded, err := h.Hash("Str0ng!Pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", encoded)
	}

	ok, err := h.Verify("Str0ng!Pass", encoded)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v", ok, err)
	}
	ok, err = h.Verify("Str0ng!Pasz", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v, %v", ok, err)
	}
}

func TestHashUsesFreshSalt(t *testing.T) {
	h := newTestHasher(t, testConfig())
	a, _ := h.Hash("Str0ng!Pass")
	b, _ := h.Hash("Str0ng!Pass")
	if a == b {
		t.Fatal("expected distinct hashes for the same password")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t, testConfig())
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=1,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5",
	} {
		if _, err := h.Verify("x", encoded); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("%q: expected ErrInvalidHash, got %v", encoded, err)
		}
	}
}

func TestNeedsRehash(t *testing.T) {
	weak := newTestHasher(t, testConfig())
	encoded, err := weak.Hash("Str0ng!Pass")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if needs, err := weak.NeedsRehash(encoded); err != nil || needs {
		t.Fatalf("same config: NeedsRehash = %v, %v", needs, err)
	}

	stronger := testConfig()
	stronger.Time = 2
	if needs, err := newTestHasher(t, stronger).NeedsRehash(encoded); err != nil || !needs {
		t.Fatalf("stronger config: NeedsRehash = %v, %v", needs, err)
	}
}

func TestHashRejectsOversizedInput(t *testing.T) {
	h := newTestHasher(t, testConfig())
	if _, err := h.Hash(strings.Repeat("a", maxInputBytes+1)); !errors.Is(err, ErrInputTooLong) {
		t.Fatalf("expected ErrInputTooLong, got %v", err)
	}
}

func TestNewArgon2RejectsWeakConfig(t *testing.T) {
	cfg := testConfig()
	cfg.SaltLength = 8
	if _, err := NewArgon2(cfg); err == nil {
		t.Fatal("expected short salt to be rejected")
	}
}

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()
	cases := map[string]bool{
		"Str0ng!Pass": true,
		"short1!A":    true,
		"Sh0rt!":      false,
		"alllower1!":  false,
		"ALLUPPER1!":  false,
		"NoDigits!!":  false,
		"NoSpecial11": false,
	}
	for pw, want := range cases {
		err := p.Check(pw)
		if (err == nil) != want {
			t.Fatalf("%q: Check = %v, want ok=%v", pw, err, want)
		}
		if err != nil && !errors.Is(err, autherr.ErrValidation) {
			t.Fatalf("%q: expected validation kind, got %v", pw, err)
		}
	}
}
