package client

import goAccounts "github.com/MrEthical07/goAccounts"

var (
	// ErrNoTokensProvided is returned when a refresh is requested with no cached pair.
	ErrNoTokensProvided = goAccounts.NewCodedError("NoTokensProvided", "no tokens provided")
	// ErrRefreshTokenExpired is returned when the cached refresh token is past
	// its expiry. Local state is cleared before it is returned.
	ErrRefreshTokenExpired = goAccounts.NewCodedError("RefreshTokenExpired", "refresh token expired")
	// ErrUsernameRequired is returned by Impersonate for an empty target.
	ErrUsernameRequired = goAccounts.NewCodedError("UsernameRequired", "username is required")
	// ErrNoAccessToken is returned by Impersonate when there is no current pair.
	ErrNoAccessToken = goAccounts.NewCodedError("NoAccessToken", "no access token")
	// ErrPasswordServiceMissing is returned by LocalTransport password
	// operations when no password service was wired.
	ErrPasswordServiceMissing = goAccounts.NewCodedError("PasswordServiceMissing", "password service not configured")

	// ErrAlreadyImpersonating is returned when impersonation is already active.
	ErrAlreadyImpersonating = goAccounts.ErrAlreadyImpersonating
	// ErrImpersonationUnauthorized is returned when the server refuses the impersonation.
	ErrImpersonationUnauthorized = goAccounts.ErrImpersonationUnauthorized
)
