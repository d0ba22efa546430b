package internaldefs

import (
	goAccounts "github.com/MrEthical07/goAccounts"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goAccounts.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goAccounts.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for events the audit dispatcher dropped.
const AuditDroppedName = "goaccounts_audit_dropped_total"

// AuditDroppedHelp describes [AuditDroppedName].
const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goAccounts.MetricLoginSuccess, Name: "goaccounts_login_success_total", Help: "Sessions opened by a login."},
	{ID: goAccounts.MetricLoginFailure, Name: "goaccounts_login_failure_total", Help: "Rejected login attempts."},
	{ID: goAccounts.MetricRefreshSuccess, Name: "goaccounts_refresh_success_total", Help: "Token pairs re-issued by refresh."},
	{ID: goAccounts.MetricRefreshFailure, Name: "goaccounts_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: goAccounts.MetricSessionCreated, Name: "goaccounts_session_created_total", Help: "Stored sessions."},
	{ID: goAccounts.MetricSessionInvalidated, Name: "goaccounts_session_invalidated_total", Help: "Single-session invalidations."},
	{ID: goAccounts.MetricLogout, Name: "goaccounts_logout_total", Help: "Logouts that invalidated a session."},
	{ID: goAccounts.MetricLogoutAll, Name: "goaccounts_logout_all_total", Help: "Invalidate-all-sessions calls."},
	{ID: goAccounts.MetricImpersonationSuccess, Name: "goaccounts_impersonation_success_total", Help: "Authorized impersonations."},
	{ID: goAccounts.MetricImpersonationDenied, Name: "goaccounts_impersonation_denied_total", Help: "Impersonations refused by the authorizer."},
	{ID: goAccounts.MetricCreateUserSuccess, Name: "goaccounts_create_user_success_total", Help: "Created users."},
	{ID: goAccounts.MetricCreateUserDuplicate, Name: "goaccounts_create_user_duplicate_total", Help: "Sign-ups rejected for a taken username or email."},
	{ID: goAccounts.MetricCreateUserFailure, Name: "goaccounts_create_user_failure_total", Help: "Sign-ups rejected by validation or storage."},
	{ID: goAccounts.MetricPasswordChangeSuccess, Name: "goaccounts_password_change_success_total", Help: "Password changes by the owner."},
	{ID: goAccounts.MetricPasswordResetRequest, Name: "goaccounts_password_reset_request_total", Help: "Reset and enrollment mails sent."},
	{ID: goAccounts.MetricPasswordResetSuccess, Name: "goaccounts_password_reset_success_total", Help: "Redeemed reset and enrollment tokens."},
	{ID: goAccounts.MetricPasswordResetFailure, Name: "goaccounts_password_reset_failure_total", Help: "Rejected reset tokens."},
	{ID: goAccounts.MetricEmailVerificationRequest, Name: "goaccounts_email_verification_request_total", Help: "Verification mails sent."},
	{ID: goAccounts.MetricEmailVerificationSuccess, Name: "goaccounts_email_verification_success_total", Help: "Redeemed verification tokens."},
	{ID: goAccounts.MetricEmailVerificationFailure, Name: "goaccounts_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: goAccounts.MetricMailSendFailure, Name: "goaccounts_mail_send_failure_total", Help: "Mailer errors."},
	{ID: goAccounts.MetricRateLimitHit, Name: "goaccounts_rate_limit_hit_total", Help: "Login attempts refused by the throttle."},
	{ID: goAccounts.MetricUserDeactivated, Name: "goaccounts_user_deactivated_total", Help: "Deactivated users."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAccounts.MetricResumeLatency, Name: "goaccounts_resume_latency_seconds", Help: "ResumeSession latency."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters
// without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
