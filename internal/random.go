package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// OpaqueTokenBytes is the entropy of refresh and challenge tokens (256 bits).
const OpaqueTokenBytes = 32

// NewOpaqueToken returns a base64url (no padding) encoding of 32 random bytes.
func NewOpaqueToken() (string, error) {
	var raw [OpaqueTokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidOpaqueToken reports whether token decodes to exactly OpaqueTokenBytes.
func ValidOpaqueToken(token string) bool {
	if len(token) != base64.RawURLEncoding.EncodedLen(OpaqueTokenBytes) {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	return err == nil && len(raw) == OpaqueTokenBytes
}

// HashToken returns the hex SHA-256 of token. Stores key records by this
// digest so a leaked keyspace does not leak usable tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RandomString returns n characters drawn uniformly from alphabet.
func RandomString(alphabet string, n int) (string, error) {
	if len(alphabet) == 0 || len(alphabet) > 256 {
		return "", errors.New("invalid alphabet")
	}

	// Rejection sampling keeps the distribution uniform.
	limit := 256 - (256 % len(alphabet))
	var b strings.Builder
	b.Grow(n)
	buf := make([]byte, n*2)
	for b.Len() < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, c := range buf {
			if int(c) >= limit {
				continue
			}
			b.WriteByte(alphabet[int(c)%len(alphabet)])
			if b.Len() == n {
				break
			}
		}
	}
	return b.String(), nil
}
