package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum HS256 secret size in bytes.
const MinSecretLength = 32

// Config configures a Signer.
type Config struct {
	Secret       []byte
	DefaultTTL   time.Duration
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration

	// KeyID is written to the kid header when set. VerifyKeys, when
	// non-empty, maps kid to secret and allows verification of tokens
	// signed with previous secrets during rotation.
	KeyID      string
	VerifyKeys map[string][]byte

	Now func() time.Time
}

// Claims are the caller-supplied claims embedded in an access token.
type Claims struct {
	Role  string
	Attrs map[string]string
}

// AccessClaims is the decoded payload of an access token.
type AccessClaims struct {
	Role  string            `json:"role,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	jwt.RegisteredClaims
}

// Issued is the result of Issue.
type Issued struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer is the sole signer and verifier of access tokens.
type Signer struct {
	config Config
	now    func() time.Time
}

// NewSigner validates cfg and returns a Signer. A secret shorter than
// MinSecretLength fails with ErrWeakSecret.
func NewSigner(cfg Config) (*Signer, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if cfg.DefaultTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	for kid, key := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		if len(key) < MinSecretLength {
			return nil, fmt.Errorf("verify key %q: %w", kid, ErrWeakSecret)
		}
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Signer{config: cfg, now: now}, nil
}

// DefaultTTL returns the configured access-token lifetime.
func (s *Signer) DefaultTTL() time.Duration {
	return s.config.DefaultTTL
}

// Issue signs a new token for subject. A non-positive ttl uses DefaultTTL.
func (s *Signer) Issue(subject string, claims Claims, ttl time.Duration) (Issued, error) {
	if strings.TrimSpace(subject) == "" {
		return Issued{}, errors.New("empty subject")
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	now := s.now().Truncate(time.Second)
	jti := uuid.NewString()
	payload := AccessClaims{
		Role:  claims.Role,
		Attrs: claims.Attrs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    s.config.Issuer,
		},
	}
	if s.config.Audience != "" {
		payload.Audience = jwt.ClaimStrings{s.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}

	signed, err := token.SignedString(s.config.Secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign access token: %w", err)
	}

	return Issued{
		Token:     signed,
		JTI:       jti,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// Validate verifies signature and time claims and returns the payload.
func (s *Signer) Validate(token string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.config.Leeway))
	}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		options = append(options, jwt.WithAudience(s.config.Audience))
	}

	claims, err := s.parse(token, options)
	if err != nil {
		return nil, err
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(s.now().Add(s.config.MaxFutureIAT)) {
		return nil, ErrInvalidClaims
	}

	return claims, nil
}

// ExtractJTI returns the jti of a correctly signed token, expired or not.
func (s *Signer) ExtractJTI(token string) (string, error) {
	claims, err := s.parseUnchecked(token)
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", ErrMalformed
	}
	return claims.ID, nil
}

// ExtractSubject returns the sub of a correctly signed token, expired or not.
func (s *Signer) ExtractSubject(token string) (string, error) {
	claims, err := s.parseUnchecked(token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrMalformed
	}
	return claims.Subject, nil
}

// ExtractExpiry returns the exp of a correctly signed token, expired or not.
func (s *Signer) ExtractExpiry(token string) (time.Time, error) {
	claims, err := s.parseUnchecked(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrMalformed
	}
	return claims.ExpiresAt.Time, nil
}

func (s *Signer) parseUnchecked(token string) (*AccessClaims, error) {
	return s.parse(token, []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	})
}

func (s *Signer) parse(token string, options []jwt.ParserOption) (*AccessClaims, error) {
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &AccessClaims{}, s.keyFunc)
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

func (s *Signer) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(s.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := s.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}

	if s.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != s.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return s.config.Secret, nil
}

// classify maps parser errors onto the package sentinels. Order matters:
// a token with a bad signature is never reported as expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return ErrMalformed
	default:
		return ErrInvalidClaims
	}
}
