package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	phcAlgorithm          = "argon2id"
	maxInputBytes         = 1024
)

var (
	// ErrInvalidHash is returned when a stored hash is not a valid argon2id PHC string.
	ErrInvalidHash = errors.New("invalid password hash")
	// ErrInputTooLong is returned for passwords above the hashing input limit.
	ErrInputTooLong = errors.New("password exceeds maximum length")
)

// Config holds Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns the recommended interactive-login parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 is a password hasher. It is safe for concurrent use.
type Argon2 struct {
	config Config
	dummy  string
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	a := &Argon2{config: cfg}
	dummy, err := a.Hash("dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	a.dummy = dummy
	return a, nil
}

// Hash derives a PHC-encoded hash of password with a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if len(password) > maxInputBytes {
		return "", ErrInputTooLong
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcAlgorithm,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	if len(password) > maxInputBytes {
		return false, ErrInputTooLong
	}
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(key, parsed.key) == 1, nil
}

// VerifyDummy burns the same work as Verify against an internal hash.
// Login calls it when no account matches so that response time does not
// reveal whether the identifier exists.
func (a *Argon2) VerifyDummy(password string) {
	_, _ = a.Verify(password, a.dummy)
}

// NeedsRehash reports whether encoded was produced with weaker parameters
// than the current configuration.
func (a *Argon2) NeedsRehash(encoded string) (bool, error) {
	parsed, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}

	return parsed.memory < a.config.Memory ||
		parsed.time < a.config.Time ||
		parsed.parallelism < a.config.Parallelism ||
		uint32(len(parsed.key)) != a.config.KeyLength, nil
}

func decodePHC(encoded string) (*phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithm {
		return nil, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: unsupported version", ErrInvalidHash)
	}

	var out phc
	seen := 0
	for _, pair := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, ErrInvalidHash
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return nil, fmt.Errorf("%w: memory", ErrInvalidHash)
			}
			out.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(value, 10, 32)
			if err != nil || uint32(v) < minTimeCost {
				return nil, fmt.Errorf("%w: time", ErrInvalidHash)
			}
			out.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(value, 10, 8)
			if err != nil || uint8(v) < minParallelism {
				return nil, fmt.Errorf("%w: parallelism", ErrInvalidHash)
			}
			out.parallelism = uint8(v)
		default:
			return nil, fmt.Errorf("%w: unknown parameter %q", ErrInvalidHash, name)
		}
		seen++
	}
	if seen != 3 {
		return nil, fmt.Errorf("%w: missing parameters", ErrInvalidHash)
	}

	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || uint32(len(out.salt)) < minSaltLength {
		return nil, fmt.Errorf("%w: salt", ErrInvalidHash)
	}
	if out.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || uint32(len(out.key)) < minKeyLength {
		return nil, fmt.Errorf("%w: key", ErrInvalidHash)
	}

	return &out, nil
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return errors.New("password memory must be >= 8192 KB")
	case c.Time < minTimeCost:
		return errors.New("password time must be >= 1")
	case c.Parallelism < minParallelism:
		return errors.New("password parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return errors.New("password salt length must be >= 16")
	case c.KeyLength < minKeyLength:
		return errors.New("password key length must be >= 16")
	}
	return nil
}
