package passwordauth

import (
	"context"
	"errors"
	"strings"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/password"
)

// Config controls the password service. Start from [DefaultConfig].
type Config struct {
	// Digest is applied to plaintext passwords before hashing and verifying.
	Digest password.Digest

	VerifyEmailTokenExpiration    time.Duration
	PasswordResetTokenExpiration  time.Duration
	PasswordEnrollTokenExpiration time.Duration

	RequireEmailVerification         bool
	SendVerificationEmailAfterSignup bool

	InvalidateAllSessionsAfterPasswordReset          bool
	InvalidateAllSessionsAfterPasswordChanged        bool
	RemoveAllResetPasswordTokensAfterPasswordChanged bool
	NotifyUserAfterPasswordChanged                   bool
	ReturnTokensAfterResetPassword                   bool

	MinPasswordLength int

	LoginThrottle ThrottleConfig
}

// ThrottleConfig bounds failed logins per identity and optionally per client
// IP. It needs a Redis client passed through [WithLoginThrottle].
type ThrottleConfig struct {
	Enabled          bool
	MaxAttempts      int
	Cooldown         time.Duration
	EnableIPThrottle bool
	Prefix           string
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		VerifyEmailTokenExpiration:              3 * 24 * time.Hour,
		PasswordResetTokenExpiration:            3 * 24 * time.Hour,
		PasswordEnrollTokenExpiration:           30 * 24 * time.Hour,
		InvalidateAllSessionsAfterPasswordReset: true,
		NotifyUserAfterPasswordChanged:          true,
		MinPasswordLength:                       1,
		LoginThrottle: ThrottleConfig{
			MaxAttempts: 5,
			Cooldown:    15 * time.Minute,
			Prefix:      "accounts",
		},
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if _, err := password.ParseDigest(string(c.Digest)); err != nil {
		return err
	}
	if c.VerifyEmailTokenExpiration <= 0 {
		return errors.New("VerifyEmailTokenExpiration must be > 0")
	}
	if c.PasswordResetTokenExpiration <= 0 {
		return errors.New("PasswordResetTokenExpiration must be > 0")
	}
	if c.PasswordEnrollTokenExpiration <= 0 {
		return errors.New("PasswordEnrollTokenExpiration must be > 0")
	}
	if c.MinPasswordLength < 1 {
		return errors.New("MinPasswordLength must be >= 1")
	}
	if c.LoginThrottle.Enabled {
		if c.LoginThrottle.MaxAttempts <= 0 {
			return errors.New("LoginThrottle MaxAttempts must be > 0")
		}
		if c.LoginThrottle.Cooldown <= 0 {
			return errors.New("LoginThrottle Cooldown must be > 0")
		}
	}
	return nil
}

// CreateUserParams is the payload of [Service.CreateUser].
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	Profile  map[string]any
}

// ValidateNewUserFunc decides which fields of a new user are persisted. The
// returned params replace the input. The default keeps username, email and
// password and drops Profile.
type ValidateNewUserFunc func(ctx context.Context, params CreateUserParams) (CreateUserParams, error)

func defaultValidateNewUser(_ context.Context, p CreateUserParams) (CreateUserParams, error) {
	return CreateUserParams{Username: p.Username, Email: p.Email, Password: p.Password}, nil
}

func defaultValidateUsername(username string) bool {
	return strings.TrimSpace(username) != ""
}

func defaultValidateEmail(email string) bool {
	return goAccounts.LooksLikeEmail(email)
}
