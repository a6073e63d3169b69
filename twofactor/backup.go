package twofactor

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/internal"
)

const backupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateBackupCodes returns display codes (XXXXX-XXXXX) and their digests.
func generateBackupCodes(userID int64, count, length int) ([]string, []string, error) {
	codes := make([]string, 0, count)
	hashes := make([]string, 0, count)
	seen := make(map[string]struct{}, count)
	for len(codes) < count {
		raw, err := internal.RandomString(backupAlphabet, length)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, formatBackupCode(raw))
		hashes = append(hashes, backupCodeHash(userID, raw))
	}
	return codes, hashes, nil
}

func formatBackupCode(raw string) string {
	half := len(raw) / 2
	return raw[:half] + "-" + raw[half:]
}

// canonicalBackupCode strips separators and upper-cases. ok is false when
// the result cannot be a backup code.
func canonicalBackupCode(code string, length int) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if r == '-' || r == ' ' {
			continue
		}
		if !strings.ContainsRune(backupAlphabet, r) {
			return "", false
		}
		b.WriteRune(r)
	}
	if b.Len() != length {
		return "", false
	}
	return b.String(), true
}

// backupCodeHash binds the digest to the user so equal codes of two
// users never collide in storage.
func backupCodeHash(userID int64, canonical string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(userID, 10) + ":" + canonical))
	return hex.EncodeToString(sum[:])
}
