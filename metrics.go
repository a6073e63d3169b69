package authcore

import "github.com/MrEthical07/authcore/internal/metrics"

// MetricID identifies one engine counter.
type MetricID = metrics.ID

// MetricsSnapshot is a point-in-time copy of every counter. Histograms
// holds per-bucket counts for MetricValidateLatency when latency
// histograms are enabled.
type MetricsSnapshot = metrics.Snapshot

// MetricCount is the number of defined MetricIDs.
const MetricCount = metrics.Count

// MetricHistogramBuckets is the number of latency buckets.
const MetricHistogramBuckets = metrics.HistogramBuckets

const (
	MetricLoginSuccess             = metrics.LoginSuccess
	MetricLoginFailure             = metrics.LoginFailure
	MetricLoginLocked              = metrics.LoginLocked
	MetricLoginUnverified          = metrics.LoginUnverified
	MetricAccountLocked            = metrics.AccountLocked
	MetricTwoFactorRequired        = metrics.TwoFactorRequired
	MetricTwoFactorSuccess         = metrics.TwoFactorSuccess
	MetricTwoFactorFailure         = metrics.TwoFactorFailure
	MetricTwoFactorReplay          = metrics.TwoFactorReplay
	MetricTwoFactorRateLimited     = metrics.TwoFactorRateLimited
	MetricBackupCodeUsed           = metrics.BackupCodeUsed
	MetricBackupCodeRejected       = metrics.BackupCodeRejected
	MetricTwoFactorEnabled         = metrics.TwoFactorEnabled
	MetricTwoFactorDisabled        = metrics.TwoFactorDisabled
	MetricBackupCodesRegenerated   = metrics.BackupCodesRegenerated
	MetricRefreshIssued            = metrics.RefreshIssued
	MetricRefreshSuccess           = metrics.RefreshSuccess
	MetricRefreshFailure           = metrics.RefreshFailure
	MetricRefreshReuseDetected     = metrics.RefreshReuseDetected
	MetricRefreshRateLimited       = metrics.RefreshRateLimited
	MetricRefreshEvicted           = metrics.RefreshEvicted
	MetricTokenRevoked             = metrics.TokenRevoked
	MetricRevocationRateLimited    = metrics.RevocationRateLimited
	MetricRevocationFailOpen       = metrics.RevocationFailOpen
	MetricAccessRejected           = metrics.AccessRejected
	MetricAccessRevoked            = metrics.AccessRevoked
	MetricLogout                   = metrics.Logout
	MetricLogoutAll                = metrics.LogoutAll
	MetricRegistrationSuccess      = metrics.RegistrationSuccess
	MetricRegistrationConflict     = metrics.RegistrationConflict
	MetricPasswordChangeSuccess    = metrics.PasswordChangeSuccess
	MetricPasswordChangeFailure    = metrics.PasswordChangeFailure
	MetricPasswordResetRequest     = metrics.PasswordResetRequest
	MetricPasswordResetSuccess     = metrics.PasswordResetSuccess
	MetricPasswordResetFailure     = metrics.PasswordResetFailure
	MetricEmailVerificationSuccess = metrics.EmailVerificationSuccess
	MetricEmailVerificationFailure = metrics.EmailVerificationFailure
	MetricCleanupRemoved           = metrics.CleanupRemoved
	MetricCleanupFailure           = metrics.CleanupFailure
	MetricValidateLatency          = metrics.ValidateLatency
)
