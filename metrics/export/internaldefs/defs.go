package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Failed logins, including unknown identifiers."},
	{ID: authcore.MetricLoginLocked, Name: "authcore_login_locked_total", Help: "Logins refused because the account was locked."},
	{ID: authcore.MetricLoginUnverified, Name: "authcore_login_unverified_total", Help: "Logins refused because the email was not verified."},
	{ID: authcore.MetricAccountLocked, Name: "authcore_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: authcore.MetricTwoFactorRequired, Name: "authcore_two_factor_required_total", Help: "Logins that stopped for a missing two-factor code."},
	{ID: authcore.MetricTwoFactorSuccess, Name: "authcore_two_factor_success_total", Help: "Accepted two-factor codes."},
	{ID: authcore.MetricTwoFactorFailure, Name: "authcore_two_factor_failure_total", Help: "Rejected two-factor codes."},
	{ID: authcore.MetricTwoFactorReplay, Name: "authcore_two_factor_replay_total", Help: "Rejected replays of an already used TOTP step."},
	{ID: authcore.MetricTwoFactorRateLimited, Name: "authcore_two_factor_rate_limited_total", Help: "Two-factor checks refused by the attempt limit."},
	{ID: authcore.MetricBackupCodeUsed, Name: "authcore_backup_code_used_total", Help: "Logins completed with a backup code."},
	{ID: authcore.MetricBackupCodeRejected, Name: "authcore_backup_code_rejected_total", Help: "Attempts to reuse a consumed backup code."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Two-factor enablements."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Two-factor disablements."},
	{ID: authcore.MetricBackupCodesRegenerated, Name: "authcore_backup_codes_regenerated_total", Help: "Backup code regenerations."},
	{ID: authcore.MetricRefreshIssued, Name: "authcore_refresh_issued_total", Help: "Refresh tokens issued at login."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refresh token creations refused by the hourly limit."},
	{ID: authcore.MetricRefreshEvicted, Name: "authcore_refresh_evicted_total", Help: "Refresh tokens evicted by the per-user cap."},
	{ID: authcore.MetricTokenRevoked, Name: "authcore_token_revoked_total", Help: "Access tokens added to the revocation registry."},
	{ID: authcore.MetricRevocationRateLimited, Name: "authcore_revocation_rate_limited_total", Help: "Revocations refused by the hourly limit."},
	{ID: authcore.MetricRevocationFailOpen, Name: "authcore_revocation_fail_open_total", Help: "Revocation lookups that failed open."},
	{ID: authcore.MetricAccessRejected, Name: "authcore_access_rejected_total", Help: "Access tokens rejected by signature or claims checks."},
	{ID: authcore.MetricAccessRevoked, Name: "authcore_access_revoked_total", Help: "Access tokens rejected as revoked."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Single-session logouts."},
	{ID: authcore.MetricLogoutAll, Name: "authcore_logout_all_total", Help: "Logout-all operations."},
	{ID: authcore.MetricRegistrationSuccess, Name: "authcore_registration_success_total", Help: "Accounts registered."},
	{ID: authcore.MetricRegistrationConflict, Name: "authcore_registration_conflict_total", Help: "Registrations rejected as duplicate."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeFailure, Name: "authcore_password_change_failure_total", Help: "Failed password changes."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetSuccess, Name: "authcore_password_reset_success_total", Help: "Completed password resets."},
	{ID: authcore.MetricPasswordResetFailure, Name: "authcore_password_reset_failure_total", Help: "Failed password reset confirmations."},
	{ID: authcore.MetricEmailVerificationSuccess, Name: "authcore_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authcore.MetricEmailVerificationFailure, Name: "authcore_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authcore.MetricCleanupRemoved, Name: "authcore_cleanup_removed_total", Help: "Expired records purged by cleanup tasks."},
	{ID: authcore.MetricCleanupFailure, Name: "authcore_cleanup_failure_total", Help: "Cleanup task runs that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricValidateLatency, Name: "authcore_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds of the engine latency buckets, in
// seconds.
var HistogramBounds = []string{
	"0.001",
	"0.002",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds in a form usable in instrument
// names.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array. Missing buckets are zero.
func NormalizeBuckets(raw []uint64) [authcore.MetricHistogramBuckets]uint64 {
	var out [authcore.MetricHistogramBuckets]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [authcore.MetricHistogramBuckets]uint64) [authcore.MetricHistogramBuckets]uint64 {
	var out [authcore.MetricHistogramBuckets]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
