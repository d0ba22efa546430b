package twofactor

import (
	"context"
	"errors"
	"strings"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
)

var (
	// ErrCodeRequired is returned when the user has two-factor enabled and no code was sent.
	ErrCodeRequired = goAccounts.NewCodedError("CodeRequired", "two-factor code required")
	// ErrCodeDidNotMatch is returned when the code does not verify.
	ErrCodeDidNotMatch = goAccounts.NewCodedError("CodeDidNotMatch", "two-factor code did not match")
	// ErrNotSet is returned by Unset for a user without a secret.
	ErrNotSet = goAccounts.NewCodedError("UserTwoFactorNotSet", "two-factor not set")
	// ErrAlreadySet is returned by Set for a user that already has a secret.
	ErrAlreadySet = goAccounts.NewCodedError("UserTwoFactorAlreadySet", "two-factor already set")
	// ErrInvalidSecret is returned for a secret that is not valid base32.
	ErrInvalidSecret = goAccounts.NewCodedError("InvalidSecret", "invalid two-factor secret")
)

// Config controls code generation and the accepted clock drift.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
}

// DefaultConfig returns six digit SHA1 codes with a 30s period and one step
// of drift either way.
func DefaultConfig() Config {
	return Config{
		Issuer:    "goAccounts",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("twofactor Issuer must not be empty")
	}
	if c.Digits != 6 && c.Digits != 8 {
		return errors.New("twofactor Digits must be 6 or 8")
	}
	if c.Period <= 0 {
		return errors.New("twofactor Period must be > 0")
	}
	if c.Skew < 0 || c.Skew > 2 {
		return errors.New("twofactor Skew must be between 0 and 2")
	}
	if _, err := hmacFunc(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// Store is the storage the service needs.
type Store interface {
	FindUserByID(ctx context.Context, userID string) (*goAccounts.User, error)
	SetTwoFactorSecret(ctx context.Context, userID, secret string) error
}

// Service binds TOTP verification to user records.
type Service struct {
	cfg Config
	db  Store
	now func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a service backed by db.
func New(db Store, cfg Config, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("twofactor store required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authenticate checks code against the user's stored secret. A user without
// a secret always passes.
func (s *Service) Authenticate(user *goAccounts.User, code string) error {
	if user == nil {
		return goAccounts.ErrUserNotFound
	}
	stored := user.Services.TwoFactor.Secret
	if stored == "" {
		return nil
	}
	if strings.TrimSpace(code) == "" {
		return ErrCodeRequired
	}
	secret, err := DecodeSecret(stored)
	if err != nil {
		return err
	}
	ok, _, err := s.VerifyCode(secret, code, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeDidNotMatch
	}
	return nil
}

// Set enables two-factor for userID. code must verify against secretBase32 so
// the user proves the authenticator is configured.
func (s *Service) Set(ctx context.Context, userID, secretBase32, code string) error {
	user, err := s.db.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return goAccounts.ErrUserNotFound
	}
	if user.Services.TwoFactor.Secret != "" {
		return ErrAlreadySet
	}
	secret, err := DecodeSecret(secretBase32)
	if err != nil {
		return err
	}
	if strings.TrimSpace(code) == "" {
		return ErrCodeRequired
	}
	ok, _, err := s.VerifyCode(secret, code, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeDidNotMatch
	}
	return s.db.SetTwoFactorSecret(ctx, userID, secretEncoding.EncodeToString(secret))
}

// Unset disables two-factor for userID after verifying a current code.
func (s *Service) Unset(ctx context.Context, userID, code string) error {
	user, err := s.db.FindUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return goAccounts.ErrUserNotFound
	}
	if user.Services.TwoFactor.Secret == "" {
		return ErrNotSet
	}
	if err := s.Authenticate(user, code); err != nil {
		return err
	}
	return s.db.SetTwoFactorSecret(ctx, userID, "")
}
