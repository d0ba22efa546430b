package passwordauth

import (
	"context"
	"errors"
	"unicode/utf8"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/rate"
	"github.com/MrEthical07/goAccounts/password"
	"github.com/MrEthical07/goAccounts/twofactor"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ServiceName is the name the service registers under.
const ServiceName = "password"

// LoginParams are the params [Service.Authenticate] accepts. Identity wins
// over User when both are set; User is parsed with [goAccounts.ParseIdentity].
type LoginParams struct {
	Identity goAccounts.Identity
	User     string
	Password string
	Code     string
}

// Service implements [goAccounts.AuthenticationService] for passwords.
type Service struct {
	engine *goAccounts.Engine
	db     goAccounts.DatabaseInterface
	cfg    Config
	logger *zap.Logger

	hasher    password.Hasher
	twoFactor *twofactor.Service
	limiter   *rate.Limiter

	validateNewUser  ValidateNewUserFunc
	validateUsername func(string) bool
	validateEmail    func(string) bool
	validatePassword func(string) bool
}

var _ goAccounts.AuthenticationService = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithHasher replaces the default bcrypt hasher.
func WithHasher(h password.Hasher) Option {
	return func(s *Service) { s.hasher = h }
}

// WithTwoFactor sets the second factor checked for users with a stored
// secret. Without it a service with [twofactor.DefaultConfig] is used.
func WithTwoFactor(tf *twofactor.Service) Option {
	return func(s *Service) { s.twoFactor = tf }
}

// WithLoginThrottle backs Config.LoginThrottle with client.
func WithLoginThrottle(client redis.UniversalClient) Option {
	return func(s *Service) {
		if client == nil || !s.cfg.LoginThrottle.Enabled {
			return
		}
		s.limiter = rate.New(client, rate.Config{
			Prefix:           s.cfg.LoginThrottle.Prefix,
			EnableIPThrottle: s.cfg.LoginThrottle.EnableIPThrottle,
			MaxAttempts:      s.cfg.LoginThrottle.MaxAttempts,
			Cooldown:         s.cfg.LoginThrottle.Cooldown,
		})
	}
}

// WithValidateNewUser sets the field allowlist hook for CreateUser.
func WithValidateNewUser(fn ValidateNewUserFunc) Option {
	return func(s *Service) { s.validateNewUser = fn }
}

// WithValidateUsername replaces the username predicate.
func WithValidateUsername(fn func(string) bool) Option {
	return func(s *Service) { s.validateUsername = fn }
}

// WithValidateEmail replaces the email predicate.
func WithValidateEmail(fn func(string) bool) Option {
	return func(s *Service) { s.validateEmail = fn }
}

// WithValidatePassword replaces the password predicate. The default accepts
// any password of at least MinPasswordLength runes.
func WithValidatePassword(fn func(string) bool) Option {
	return func(s *Service) { s.validatePassword = fn }
}

// New returns a password service bound to engine.
func New(engine *goAccounts.Engine, cfg Config, opts ...Option) (*Service, error) {
	if engine == nil || engine.Database() == nil {
		return nil, goAccounts.ErrEngineNotReady
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		engine:           engine,
		db:               engine.Database(),
		cfg:              cfg,
		logger:           engine.Logger().Named("passwordauth"),
		validateNewUser:  defaultValidateNewUser,
		validateUsername: defaultValidateUsername,
		validateEmail:    defaultValidateEmail,
	}
	s.validatePassword = func(p string) bool {
		return utf8.RuneCountInString(p) >= s.cfg.MinPasswordLength
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.hasher == nil {
		b, err := password.NewBcrypt(password.DefaultBcryptCost)
		if err != nil {
			return nil, err
		}
		s.hasher = b
	}
	if s.twoFactor == nil {
		tf, err := twofactor.New(s.db, twofactor.DefaultConfig(), twofactor.WithClock(engine.Now))
		if err != nil {
			return nil, err
		}
		s.twoFactor = tf
	}
	if cfg.LoginThrottle.Enabled && s.limiter == nil {
		return nil, errors.New("LoginThrottle enabled without a Redis client")
	}
	return s, nil
}

// ServiceName implements [goAccounts.AuthenticationService].
func (s *Service) ServiceName() string { return ServiceName }

// Authenticate implements [goAccounts.AuthenticationService]. params must be
// a [LoginParams] or *LoginParams.
func (s *Service) Authenticate(ctx context.Context, params any) (*goAccounts.User, error) {
	var p LoginParams
	switch v := params.(type) {
	case LoginParams:
		p = v
	case *LoginParams:
		if v == nil {
			return nil, ErrMatchFailed
		}
		p = *v
	default:
		return nil, ErrMatchFailed
	}

	id := p.Identity
	if id.IsZero() {
		id = goAccounts.ParseIdentity(p.User)
	}
	if id.IsZero() || p.Password == "" {
		return nil, ErrUnrecognizedOptionsForLogin
	}
	if id.Kind > goAccounts.IdentityKindEmail {
		return nil, ErrMatchFailed
	}

	ip := goAccounts.ConnectionInfoFromContext(ctx).IP
	if s.limiter != nil {
		if err := s.limiter.CheckLogin(ctx, id.String(), ip); err != nil {
			return nil, s.throttleError(ctx, err)
		}
	}

	user, err := s.authenticate(ctx, id, p.Password, p.Code)
	if err != nil {
		if s.limiter != nil && isCredentialFailure(err) {
			if lerr := s.limiter.IncrementLogin(ctx, id.String(), ip); lerr != nil && !errors.Is(lerr, rate.ErrRateLimited) {
				s.logger.Warn("login throttle update failed", zap.Error(lerr))
			}
		}
		return nil, err
	}

	if s.limiter != nil {
		if err := s.limiter.ResetLogin(ctx, id.String()); err != nil {
			s.logger.Warn("login throttle reset failed", zap.Error(err))
		}
	}
	return user, nil
}

func (s *Service) authenticate(ctx context.Context, id goAccounts.Identity, plain, code string) (*goAccounts.User, error) {
	user, err := s.passwordAuthenticator(ctx, id, plain)
	if err != nil {
		return nil, err
	}

	if s.cfg.RequireEmailVerification && !user.HasVerifiedEmail() {
		return nil, ErrEmailNotVerified
	}

	if user.Services.TwoFactor.Secret != "" {
		if err := s.twoFactor.Authenticate(user, code); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// passwordAuthenticator resolves the identity and checks the password.
func (s *Service) passwordAuthenticator(ctx context.Context, id goAccounts.Identity, plain string) (*goAccounts.User, error) {
	user, err := goAccounts.FindUserByIdentity(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, s.ambiguous(goAccounts.ErrUserNotFound)
	}

	hash, err := s.db.FindPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, s.ambiguous(ErrNoPasswordSet)
	}

	ok, err := s.hasher.Verify(s.cfg.Digest.Apply(plain), hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.ambiguous(ErrIncorrectPassword)
	}
	return user, nil
}

func (s *Service) ambiguous(err error) error {
	if s.engine.AmbiguousErrorMessages() {
		return goAccounts.ErrInvalidCredentials
	}
	return err
}

func (s *Service) throttleError(ctx context.Context, err error) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		return err
	}
	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventLoginRateLimited,
		Metric:  goAccounts.MetricRateLimitHit,
		ErrCode: ErrTooManyAttempts.Code(),
	})
	return ErrTooManyAttempts
}

func (s *Service) hashPassword(plain string) (string, error) {
	return s.hasher.Hash(s.cfg.Digest.Apply(plain))
}

func isCredentialFailure(err error) bool {
	return errors.Is(err, goAccounts.ErrUserNotFound) ||
		errors.Is(err, goAccounts.ErrInvalidCredentials) ||
		errors.Is(err, ErrNoPasswordSet) ||
		errors.Is(err, ErrIncorrectPassword) ||
		errors.Is(err, twofactor.ErrCodeDidNotMatch)
}
