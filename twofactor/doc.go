// Package twofactor implements TOTP two-factor authentication with
// single-use backup codes.
//
// State machine per user:
//
//	NotConfigured --Setup--> Configured(disabled) --Enable--> Enabled
//	Enabled --Disable--> Configured(disabled, secret purged)
//
// Codes are RFC 6238 (HMAC-SHA1, 30 second steps, 6 digits) accepted at
// steps -1, 0 and +1. With replay protection on, a time step is accepted
// at most once per user. Backup codes are stored as salted SHA-256
// digests and are consumed atomically.
package twofactor
