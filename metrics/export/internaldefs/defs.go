// Package internaldefs holds the shared metric name table for the
// exporter packages. It is internal to metrics/export; the stable surface
// is the exporters themselves.
package internaldefs

import (
	"github.com/credlock/credlock"
)

// CounterDef binds one engine counter to its exported name.
type CounterDef struct {
	ID   credlock.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in export order. Exporters
// iterate this table so both backends expose the same names.
var CounterDefs = []CounterDef{
	{ID: credlock.MetricLoginSuccess, Name: "credlock_login_success_total", Help: "Successful login attempts."},
	{ID: credlock.MetricLoginFailure, Name: "credlock_login_failure_total", Help: "Failed login attempts."},
	{ID: credlock.MetricRegisterSuccess, Name: "credlock_register_success_total", Help: "Successful registrations."},
	{ID: credlock.MetricRegisterDuplicate, Name: "credlock_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: credlock.MetricRateLimitHit, Name: "credlock_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: credlock.MetricSessionCreated, Name: "credlock_session_created_total", Help: "Created sessions."},
	{ID: credlock.MetricSessionRenewed, Name: "credlock_session_renewed_total", Help: "Sessions renewed by the sliding window."},
	{ID: credlock.MetricSessionExpired, Name: "credlock_session_expired_total", Help: "Sessions deleted on read after expiry."},
	{ID: credlock.MetricSessionInvalidated, Name: "credlock_session_invalidated_total", Help: "Explicitly invalidated sessions."},
	{ID: credlock.MetricPasswordResetRequest, Name: "credlock_password_reset_request_total", Help: "Password reset flows opened."},
	{ID: credlock.MetricPasswordResetComplete, Name: "credlock_password_reset_complete_total", Help: "Completed password resets."},
	{ID: credlock.MetricPasswordResetFailure, Name: "credlock_password_reset_failure_total", Help: "Failed password reset steps."},
	{ID: credlock.MetricEmailVerificationRequest, Name: "credlock_email_verification_request_total", Help: "Email verification requests issued."},
	{ID: credlock.MetricEmailVerificationSuccess, Name: "credlock_email_verification_success_total", Help: "Successful email verifications."},
	{ID: credlock.MetricEmailVerificationResent, Name: "credlock_email_verification_resent_total", Help: "Codes reissued for expired requests."},
	{ID: credlock.MetricEmailVerificationFailure, Name: "credlock_email_verification_failure_total", Help: "Failed email verification submissions."},
	{ID: credlock.MetricTOTPSuccess, Name: "credlock_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: credlock.MetricTOTPFailure, Name: "credlock_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: credlock.MetricRecoveryResetSuccess, Name: "credlock_recovery_reset_success_total", Help: "Successful recovery-code 2FA resets."},
	{ID: credlock.MetricRecoveryResetFailure, Name: "credlock_recovery_reset_failure_total", Help: "Failed recovery-code 2FA resets."},
}
