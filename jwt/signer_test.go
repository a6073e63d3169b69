package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/authcore/autherr"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestSigner(t *testing.T, clock *fakeClock) *Signer {
	t.Helper()
	s, err := NewSigner(Config{
		Secret:     testSecret,
		DefaultTTL: 15 * time.Minute,
		Issuer:     "authcore",
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	return s
}

func TestNewSignerRejectsShortSecret(t *testing.T) {
	_, err := NewSigner(Config{Secret: []byte("too-short"), DefaultTTL: time.Minute})
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
	if !errors.Is(err, autherr.ErrValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := newTestSigner(t, clock)

	issued, err := s.Issue("42", Claims{Role: "ADMIN"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if parts := strings.Split(issued.Token, "."); len(parts) != 3 {
		t.Fatalf("expected three-part token, got %d parts", len(parts))
	}

	claims, err := s.Validate(issued.Token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "42" || claims.Role != "ADMIN" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID != issued.JTI {
		t.Fatalf("jti mismatch: %q vs %q", claims.ID, issued.JTI)
	}
	if !claims.ExpiresAt.Time.Equal(clock.t.Add(time.Minute)) {
		t.Fatalf("unexpected exp %v", claims.ExpiresAt.Time)
	}

	jti, err := s.ExtractJTI(issued.Token)
	if err != nil || jti != issued.JTI {
		t.Fatalf("ExtractJTI = %q, %v", jti, err)
	}
}

func TestIssueGeneratesUniqueJTI(t *testing.T) {
	s := newTestSigner(t, &fakeClock{t: time.Now()})
	seen := make(map[string]struct{}, 256)
	for i := 0; i < 256; i++ {
		issued, err := s.Issue("1", Claims{}, 0)
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if _, dup := seen[issued.JTI]; dup {
			t.Fatalf("duplicate jti %q", issued.JTI)
		}
		seen[issued.JTI] = struct{}{}
	}
}

func TestValidateExpiredButExtractable(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := newTestSigner(t, clock)

	issued, err := s.Issue("7", Claims{Role: "USER"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	clock.t = clock.t.Add(2 * time.Minute)

	if _, err := s.Validate(issued.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	jti, err := s.ExtractJTI(issued.Token)
	if err != nil || jti != issued.JTI {
		t.Fatalf("ExtractJTI on expired token = %q, %v", jti, err)
	}
	sub, err := s.ExtractSubject(issued.Token)
	if err != nil || sub != "7" {
		t.Fatalf("ExtractSubject on expired token = %q, %v", sub, err)
	}
	exp, err := s.ExtractExpiry(issued.Token)
	if err != nil || !exp.Equal(issued.ExpiresAt) {
		t.Fatalf("ExtractExpiry on expired token = %v, %v", exp, err)
	}
}

func TestValidateRejectsBadSignature(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestSigner(t, clock)
	other, err := NewSigner(Config{
		Secret:     []byte("ffffffffffffffffffffffffffffffff"),
		DefaultTTL: time.Minute,
		Issuer:     "authcore",
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	issued, err := other.Issue("1", Claims{}, time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := s.Validate(issued.Token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := s.ExtractJTI(issued.Token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ExtractJTI to reject bad signature, got %v", err)
	}
}

func TestValidateRejectsWrongAlgorithm(t *testing.T) {
	s := newTestSigner(t, &fakeClock{t: time.Now()})

	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "1",
		ID:        "jti-1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS512, claims)
	signed, err := tok.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := s.Validate(signed); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected wrong algorithm to be rejected as bad signature, got %v", err)
	}
}

func TestValidateRejectsMalformed(t *testing.T) {
	s := newTestSigner(t, &fakeClock{t: time.Now()})

	for _, token := range []string{"", "abc", "a.b.c", "eyJhbGciOiJIUzI1NiJ9..sig"} {
		if _, err := s.Validate(token); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ErrMalformed, got %v", token, err)
		}
		if _, err := s.ExtractJTI(token); !errors.Is(err, ErrMalformed) {
			t.Fatalf("token %q: expected ExtractJTI ErrMalformed, got %v", token, err)
		}
	}
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s := newTestSigner(t, clock)
	foreign, err := NewSigner(Config{Secret: testSecret, DefaultTTL: time.Minute, Issuer: "someone-else", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	issued, err := foreign.Issue("1", Claims{}, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := s.Validate(issued.Token); !errors.Is(err, ErrInvalidClaims) {
		t.Fatalf("expected ErrInvalidClaims, got %v", err)
	}
}

func TestKeyRotationAcceptsPreviousSecret(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	previous := []byte("previous-secret-previous-secret!")
	oldSigner, err := NewSigner(Config{Secret: previous, DefaultTTL: time.Minute, KeyID: "k1", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	newSigner, err := NewSigner(Config{
		Secret:     testSecret,
		DefaultTTL: time.Minute,
		KeyID:      "k2",
		VerifyKeys: map[string][]byte{"k1": previous, "k2": testSecret},
		Now:        clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	old, err := oldSigner.Issue("9", Claims{}, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := newSigner.Validate(old.Token); err != nil {
		t.Fatalf("expected token signed with previous key to validate: %v", err)
	}
}

func FuzzValidate(f *testing.F) {
	s, err := NewSigner(Config{Secret: testSecret, DefaultTTL: time.Minute})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := s.Issue("1", Claims{Role: "USER"}, 0)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid.Token)
	f.Add("")
	f.Add("a.b.c")
	f.Add(valid.Token + "x")

	f.Fuzz(func(t *testing.T, token string) {
		claims, err := s.Validate(token)
		if err == nil && claims == nil {
			t.Fatal("nil claims without error")
		}
		if err != nil && autherr.KindOf(err) == nil {
			t.Fatalf("error outside taxonomy: %v", err)
		}
	})
}
