package goAccounts

import "context"

// UserStore is the user half of the storage contract.
//
// Lookups return (nil, nil) when nothing matches. Mutations addressed at a
// missing user return [ErrUserNotFound]. Uniqueness violations return
// [ErrEmailTaken] or [ErrUsernameTaken]. Emails are compared after
// [NormalizeEmail].
type UserStore interface {
	FindUserByID(ctx context.Context, userID string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	FindUserByServiceID(ctx context.Context, service, serviceID string) (*User, error)
	FindUserByEmailVerificationToken(ctx context.Context, token string) (*User, error)
	FindUserByResetPasswordToken(ctx context.Context, token string) (*User, error)
	// FindPasswordHash returns "" when the user has no password set.
	FindPasswordHash(ctx context.Context, userID string) (string, error)

	// CreateUser assigns the id and timestamps and returns the new id.
	CreateUser(ctx context.Context, input CreateUserInput) (string, error)
	SetUsername(ctx context.Context, userID, username string) error
	SetPassword(ctx context.Context, userID, passwordHash string) error
	// SetResetPassword stores the new hash and drops every reset token of the
	// user, but only while token is still present. A token that is already
	// gone yields [ErrTokenConsumed] and changes nothing.
	SetResetPassword(ctx context.Context, userID, email, passwordHash, token string) error
	AddEmail(ctx context.Context, userID, email string, verified bool) error
	RemoveEmail(ctx context.Context, userID, email string) error
	// VerifyEmail marks the address verified and drops every verification
	// token bound to it in the same write. A non-empty token must still be
	// present on the user, otherwise [ErrTokenConsumed] is returned and
	// nothing changes. An empty token verifies unconditionally.
	VerifyEmail(ctx context.Context, userID, email, token string) error
	AddEmailVerificationToken(ctx context.Context, userID string, record TokenRecord) error
	AddResetPasswordToken(ctx context.Context, userID string, record TokenRecord) error
	RemoveAllResetPasswordTokens(ctx context.Context, userID string) error
	SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error
	// SetTwoFactorSecret stores the TOTP secret; "" disables two-factor.
	SetTwoFactorSecret(ctx context.Context, userID, secret string) error
	LinkService(ctx context.Context, userID, service, serviceID string) error
}

// SessionStore is the session half of the storage contract.
//
// Invalidation is conditional: only a valid session is changed, and no
// operation sets Valid back to true.
type SessionStore interface {
	FindSessionByID(ctx context.Context, sessionID string) (*Session, error)
	FindSessionByToken(ctx context.Context, token string) (*Session, error)
	// CreateSession stores a valid session and returns its id. Token must be
	// unique across all sessions.
	CreateSession(ctx context.Context, userID, token string, info ConnectionInfo, extra map[string]any) (string, error)
	UpdateSession(ctx context.Context, sessionID string, info ConnectionInfo) error
	// InvalidateSession is idempotent; unknown ids are not an error.
	InvalidateSession(ctx context.Context, sessionID string) error
	InvalidateAllSessions(ctx context.Context, userID string, excludedSessionIDs ...string) error
}

// DatabaseInterface is the full storage contract consumed by the engine and
// its authentication services.
type DatabaseInterface interface {
	UserStore
	SessionStore
}
