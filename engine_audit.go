package goAccounts

import (
	"context"
	"time"
)

// Audit and notification event types.
const (
	EventLoginSuccess            = "login_success"
	EventLoginFailure            = "login_failure"
	EventRefreshSuccess          = "refresh_success"
	EventRefreshFailure          = "refresh_failure"
	EventSessionInvalidated      = "session_invalidated"
	EventLogout                  = "logout"
	EventLogoutAll               = "logout_all"
	EventImpersonationSuccess    = "impersonation_success"
	EventImpersonationDenied     = "impersonation_denied"
	EventResumeFailure           = "resume_failure"
	EventUserDeactivated         = "user_deactivated"
	EventUserActivated           = "user_activated"
	EventCreateUserSuccess       = "create_user_success"
	EventCreateUserFailure       = "create_user_failure"
	EventPasswordChanged         = "password_changed"
	EventPasswordReset           = "password_reset"
	EventPasswordResetFailure    = "password_reset_failure"
	EventResetPasswordRequested  = "reset_password_requested"
	EventEnrollmentRequested     = "enrollment_requested"
	EventVerificationRequested   = "verification_requested"
	EventEmailVerified           = "email_verified"
	EventEmailVerificationFailed = "email_verification_failure"
	EventLoginRateLimited        = "login_rate_limited"
)

// Notification is a fire-and-forget event raised by an authentication
// service. It is counted under Metric and delivered through the audit
// dispatcher without blocking the caller.
type Notification struct {
	Event     string
	Metric    MetricID
	Success   bool
	UserID    string
	SessionID string
	ErrCode   string
	Metadata  map[string]string
}

// Notify records and dispatches n asynchronously.
func (e *Engine) Notify(ctx context.Context, n Notification) {
	if e == nil {
		return
	}
	e.metricInc(n.Metric)
	metadata := n.Metadata
	e.emitAudit(ctx, n.Event, n.Success, n.UserID, n.SessionID, n.ErrCode, func() map[string]string {
		return metadata
	})
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	errCode string,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	info := ConnectionInfoFromContext(ctx)
	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        info.IP,
		UserAgent: info.UserAgent,
		Success:   success,
		Error:     errCode,
		Metadata:  metadata,
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) observe(id MetricID, start time.Time) {
	if e == nil || e.metrics == nil || !e.metrics.LatencyEnabled() {
		return
	}
	e.metrics.Observe(id, e.now().Sub(start))
}
