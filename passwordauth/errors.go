package passwordauth

import goAccounts "github.com/MrEthical07/goAccounts"

var (
	// ErrUnrecognizedOptionsForLogin is returned when identity or password is missing.
	ErrUnrecognizedOptionsForLogin = goAccounts.NewCodedError("UnrecognizedOptionsForLogin", "unrecognized options for login request")
	// ErrMatchFailed is returned when login params have an unexpected shape.
	ErrMatchFailed = goAccounts.NewCodedError("MatchFailed", "match failed")
	// ErrNoPasswordSet is returned when the user has no password hash.
	ErrNoPasswordSet = goAccounts.NewCodedError("NoPasswordSet", "user has no password set")
	// ErrIncorrectPassword is returned when the password does not verify.
	ErrIncorrectPassword = goAccounts.NewCodedError("IncorrectPassword", "incorrect password")
	// ErrEmailNotVerified is returned when RequireEmailVerification is on and no address is verified.
	ErrEmailNotVerified = goAccounts.NewCodedError("EmailNotVerified", "email not verified")
	// ErrTooManyAttempts is returned when the login throttle window is exhausted.
	ErrTooManyAttempts = goAccounts.NewCodedError("TooManyAttempts", "too many login attempts")

	// ErrUsernameOrEmailRequired is returned by CreateUser without username and email.
	ErrUsernameOrEmailRequired = goAccounts.NewCodedError("UsernameOrEmailRequired", "username or email is required")
	// ErrInvalidUsername is returned when the username predicate rejects the value.
	ErrInvalidUsername = goAccounts.NewCodedError("InvalidUsername", "invalid username")
	// ErrInvalidEmail is returned when the email predicate rejects the value.
	ErrInvalidEmail = goAccounts.NewCodedError("InvalidEmail", "invalid email")
	// ErrInvalidPassword is returned when the password predicate rejects the value.
	ErrInvalidPassword = goAccounts.NewCodedError("InvalidPassword", "invalid password")
	// ErrUsernameAlreadyExists is returned when the username belongs to another user.
	ErrUsernameAlreadyExists = goAccounts.NewCodedError(goAccounts.CodeUsernameTaken, "username already exists")
	// ErrEmailAlreadyExists is returned when the address belongs to another user.
	ErrEmailAlreadyExists = goAccounts.NewCodedError(goAccounts.CodeEmailTaken, "email already exists")

	// ErrInvalidToken is returned for an empty token.
	ErrInvalidToken = goAccounts.NewCodedError("InvalidToken", "invalid token")
	// ErrVerifyEmailLinkExpired is returned for an unknown or expired verification token.
	ErrVerifyEmailLinkExpired = goAccounts.NewCodedError("VerifyEmailLinkExpired", "verify email link expired")
	// ErrVerifyEmailLinkUnknownAddress is returned when the token's address is no longer owned.
	ErrVerifyEmailLinkUnknownAddress = goAccounts.NewCodedError("VerifyEmailLinkUnknownAddress", "verify email link is for unknown address")
	// ErrInvalidNewPassword is returned when the replacement password is empty or invalid.
	ErrInvalidNewPassword = goAccounts.NewCodedError("InvalidNewPassword", "invalid new password")
	// ErrResetPasswordLinkExpired is returned for an unknown, expired or already redeemed reset token.
	ErrResetPasswordLinkExpired = goAccounts.NewCodedError("ResetPasswordLinkExpired", "reset password link expired")
	// ErrResetPasswordLinkUnknownAddress is returned when the token's address is no longer owned.
	ErrResetPasswordLinkUnknownAddress = goAccounts.NewCodedError("ResetPasswordLinkUnknownAddress", "reset password link is for unknown address")
)
