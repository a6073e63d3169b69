package twofactor

import (
	"crypto/subtle"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	secretSize = 20
	codeDigits = otp.DigitsSix
)

// GenerateSecret returns a random 160-bit base32 secret (no padding).
func GenerateSecret(issuer, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		SecretSize:  secretSize,
		Digits:      codeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return key.Secret(), nil
}

// ProvisioningURI formats the otpauth URI consumed by authenticator apps.
func ProvisioningURI(issuer, account, secret string) string {
	return "otpauth://totp/" + url.PathEscape(issuer) + ":" + url.PathEscape(account) +
		"?secret=" + secret + "&issuer=" + url.QueryEscape(issuer)
}

// CodeAt returns the code for the time step containing t.
func CodeAt(secret string, t time.Time, period time.Duration) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    uint(period / time.Second),
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// VerifyCode checks code against the steps now-skew..now+skew and
// returns the matching time-step counter.
func VerifyCode(secret, code string, now time.Time, period time.Duration, skew int) (int64, bool) {
	code = strings.TrimSpace(code)
	if len(code) != codeDigits.Length() || secret == "" {
		return 0, false
	}

	matched := int64(-1)
	for step := -skew; step <= skew; step++ {
		at := now.Add(time.Duration(step) * period)
		expected, err := CodeAt(secret, at, period)
		if err != nil {
			return 0, false
		}
		// Every step is compared so timing does not reveal which one matched.
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 && matched < 0 {
			matched = at.Unix() / int64(period/time.Second)
		}
	}
	if matched < 0 {
		return 0, false
	}
	return matched, true
}
