package goAccounts

import "context"

type connectionInfoContextKey struct{}
type userContextKey struct{}
type sessionContextKey struct{}

// WithConnectionInfo attaches the caller's IP and user agent to ctx. Audit
// events pick them up and HTTP adapters use it to pass them to services.
func WithConnectionInfo(ctx context.Context, info ConnectionInfo) context.Context {
	return context.WithValue(ctx, connectionInfoContextKey{}, info)
}

// ConnectionInfoFromContext returns the info stored by [WithConnectionInfo].
func ConnectionInfoFromContext(ctx context.Context) ConnectionInfo {
	if ctx == nil {
		return ConnectionInfo{}
	}
	info, _ := ctx.Value(connectionInfoContextKey{}).(ConnectionInfo)
	return info
}

// WithUser attaches an authenticated, sanitized user to ctx.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by [WithUser], or nil.
func UserFromContext(ctx context.Context) *User {
	if ctx == nil {
		return nil
	}
	user, _ := ctx.Value(userContextKey{}).(*User)
	return user
}

// WithSessionID attaches the id of the session that authenticated the request.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionIDFromContext returns the id stored by [WithSessionID].
func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	sid, _ := ctx.Value(sessionContextKey{}).(string)
	return sid
}
