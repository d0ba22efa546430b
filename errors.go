package goAccounts

import "errors"

var (
	// ErrUserNotFound is returned when an identity or id resolves to no user.
	// Storage mutations on a missing user return it as well.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials replaces user-not-found and wrong-password errors
	// in ambiguous mode.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserDeactivated is returned when a deactivated user tries to log in.
	ErrUserDeactivated = errors.New("user deactivated")
	// ErrServiceNotFound is returned by LoginWithService for an unregistered service name.
	ErrServiceNotFound = errors.New("authentication service not found")

	// ErrSessionNotFound is returned when a token resolves to no stored session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInvalid is returned when the resolved session has been invalidated.
	ErrSessionInvalid = errors.New("session is no longer valid")
	// ErrTokensNotValid is returned when an access/refresh token fails verification
	// or the pair does not point at the same session.
	ErrTokensNotValid = errors.New("tokens are not valid")
	// ErrAlreadyImpersonating is returned when an impersonated access token is
	// used to start another impersonation.
	ErrAlreadyImpersonating = errors.New("already impersonating")
	// ErrImpersonationUnauthorized is returned when the authorizer rejects an
	// impersonation request. Impersonate reports it through ImpersonationResult.
	ErrImpersonationUnauthorized = errors.New("impersonation not authorized")

	// ErrEmailTaken is returned by storage when an address is already owned by a user.
	ErrEmailTaken = errors.New("email already taken")
	// ErrUsernameTaken is returned by storage when a username is already in use.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrTokenConsumed is returned by storage when a reset token was redeemed
	// concurrently and is no longer present.
	ErrTokenConsumed = errors.New("token already consumed")

	// ErrEngineNotReady is returned when a nil or partially built engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Stable error codes for transports.
const (
	CodeUserNotFound              = "UserNotFound"
	CodeInvalidCredentials        = "InvalidCredentials"
	CodeUserDeactivated           = "UserDeactivated"
	CodeServiceNotFound           = "ServiceNotFound"
	CodeSessionNotFound           = "SessionNotFound"
	CodeSessionInvalid            = "SessionInvalid"
	CodeTokensNotValid            = "TokensNotValid"
	CodeAlreadyImpersonating      = "AlreadyImpersonating"
	CodeImpersonationUnauthorized = "ImpersonationUnauthorized"
	CodeEmailTaken                = "EmailAlreadyExists"
	CodeUsernameTaken             = "UsernameAlreadyExists"
	CodeTokenConsumed             = "TokenConsumed"
	CodeEngineNotReady            = "EngineNotReady"
	CodeInternal                  = "InternalError"
)

// CodedError is a sentinel error that carries its own transport code.
// Authentication services declare their errors with [NewCodedError] so
// [ErrorCode] can report them without knowing the service.
type CodedError struct {
	code string
	msg  string
}

// NewCodedError returns a sentinel with the given code and message.
func NewCodedError(code, msg string) *CodedError {
	return &CodedError{code: code, msg: msg}
}

func (e *CodedError) Error() string { return e.msg }

// Code returns the stable transport code.
func (e *CodedError) Code() string { return e.code }

// ErrorCode maps sentinel errors to a stable string code. Nil maps to "",
// unknown errors map to [CodeInternal].
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.code
	}

	switch {
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrUserDeactivated):
		return CodeUserDeactivated
	case errors.Is(err, ErrServiceNotFound):
		return CodeServiceNotFound
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrSessionInvalid):
		return CodeSessionInvalid
	case errors.Is(err, ErrTokensNotValid):
		return CodeTokensNotValid
	case errors.Is(err, ErrAlreadyImpersonating):
		return CodeAlreadyImpersonating
	case errors.Is(err, ErrImpersonationUnauthorized):
		return CodeImpersonationUnauthorized
	case errors.Is(err, ErrEmailTaken):
		return CodeEmailTaken
	case errors.Is(err, ErrUsernameTaken):
		return CodeUsernameTaken
	case errors.Is(err, ErrTokenConsumed):
		return CodeTokenConsumed
	case errors.Is(err, ErrEngineNotReady):
		return CodeEngineNotReady
	default:
		return CodeInternal
	}
}
