package client

import (
	"context"
	"errors"
	"sync"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/jwt"
	"github.com/MrEthical07/goAccounts/passwordauth"
	"go.uber.org/zap"
)

const (
	keyAccessToken          = "accessToken"
	keyRefreshToken         = "refreshToken"
	keyOriginalAccessToken  = "originalAccessToken"
	keyOriginalRefreshToken = "originalRefreshToken"
)

// Client caches the token pair of one logical principal.
type Client struct {
	transport            Transport
	storage              TokenStorage
	prefix               string
	persistImpersonation bool
	logger               *zap.Logger
	now                  func() time.Time

	mu             sync.Mutex
	loaded         bool
	tokens         *goAccounts.Tokens
	originalTokens *goAccounts.Tokens
	impersonated   bool
	user           *goAccounts.User
}

// Option configures a Client.
type Option func(*Client)

// WithStorage sets where tokens are persisted. Defaults to a [MemoryStorage].
func WithStorage(s TokenStorage) Option {
	return func(c *Client) {
		if s != nil {
			c.storage = s
		}
	}
}

// WithTokenStoragePrefix sets the storage key prefix. Defaults to "accounts".
func WithTokenStoragePrefix(prefix string) Option {
	return func(c *Client) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithPersistImpersonation writes the impersonated and original pairs to
// storage so an impersonation survives a restart. Off by default.
func WithPersistImpersonation(enabled bool) Option {
	return func(c *Client) {
		c.persistImpersonation = enabled
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a Client talking to transport.
func New(transport Transport, opts ...Option) (*Client, error) {
	if transport == nil {
		return nil, errors.New("client: transport required")
	}
	c := &Client{
		transport: transport,
		storage:   NewMemoryStorage(),
		prefix:    "accounts",
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) key(name string) string {
	return c.prefix + ":" + name
}

/*
====================================
TOKEN STATE
====================================
*/

// Tokens returns the current pair, restoring it from storage on first use.
// It returns (nil, nil) when the client holds no tokens.
func (c *Client) Tokens(ctx context.Context) (*goAccounts.Tokens, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.restoreLocked(ctx); err != nil {
		return nil, err
	}
	return copyTokens(c.tokens), nil
}

// IsImpersonated reports whether the current pair belongs to an
// impersonation.
func (c *Client) IsImpersonated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.impersonated
}

// ClearTokens forgets every pair and the cached user, in memory and in storage.
func (c *Client) ClearTokens(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearLocked(ctx)
}

func (c *Client) restoreLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	current, err := c.readPair(ctx, keyAccessToken, keyRefreshToken)
	if err != nil {
		return err
	}
	original, err := c.readPair(ctx, keyOriginalAccessToken, keyOriginalRefreshToken)
	if err != nil {
		return err
	}
	c.tokens = current
	if current != nil && original != nil {
		c.originalTokens = original
		c.impersonated = true
	}
	c.loaded = true
	return nil
}

func (c *Client) readPair(ctx context.Context, accessKey, refreshKey string) (*goAccounts.Tokens, error) {
	access, err := c.storage.GetItem(ctx, c.key(accessKey))
	if err != nil {
		return nil, err
	}
	refresh, err := c.storage.GetItem(ctx, c.key(refreshKey))
	if err != nil {
		return nil, err
	}
	if access == "" || refresh == "" {
		return nil, nil
	}
	return &goAccounts.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (c *Client) writePair(ctx context.Context, accessKey, refreshKey string, pair goAccounts.Tokens) error {
	if err := c.storage.SetItem(ctx, c.key(accessKey), pair.AccessToken); err != nil {
		return err
	}
	return c.storage.SetItem(ctx, c.key(refreshKey), pair.RefreshToken)
}

func (c *Client) removePair(ctx context.Context, accessKey, refreshKey string) error {
	return errors.Join(
		c.storage.RemoveItem(ctx, c.key(accessKey)),
		c.storage.RemoveItem(ctx, c.key(refreshKey)),
	)
}

// setTokensLocked swaps in pair as the current tokens. The pair reaches
// storage unless it is an impersonated pair and persistence is off.
func (c *Client) setTokensLocked(ctx context.Context, pair goAccounts.Tokens) error {
	c.tokens = &pair
	c.loaded = true
	if c.impersonated && !c.persistImpersonation {
		return nil
	}
	return c.writePair(ctx, keyAccessToken, keyRefreshToken, pair)
}

func (c *Client) clearLocked(ctx context.Context) error {
	c.tokens = nil
	c.originalTokens = nil
	c.impersonated = false
	c.user = nil
	c.loaded = true
	return errors.Join(
		c.removePair(ctx, keyAccessToken, keyRefreshToken),
		c.removePair(ctx, keyOriginalAccessToken, keyOriginalRefreshToken),
	)
}

func copyTokens(t *goAccounts.Tokens) *goAccounts.Tokens {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

/*
====================================
LOGIN / REFRESH / LOGOUT
====================================
*/

// LoginWithService logs in through the named service and stores the pair.
// On failure the cached state is left as it was.
func (c *Client) LoginWithService(ctx context.Context, service string, params any) (*goAccounts.LoginResult, error) {
	res, err := c.transport.LoginWithService(ctx, service, params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.impersonated = false
	c.originalTokens = nil
	c.user = res.User
	if err := c.removePair(ctx, keyOriginalAccessToken, keyOriginalRefreshToken); err != nil {
		return nil, err
	}
	if err := c.setTokensLocked(ctx, res.Tokens); err != nil {
		return nil, err
	}
	return res, nil
}

// LoginWithPassword logs in with the password service. user is an email or
// a username.
func (c *Client) LoginWithPassword(ctx context.Context, user, password, code string) (*goAccounts.LoginResult, error) {
	return c.LoginWithService(ctx, passwordauth.ServiceName, passwordauth.LoginParams{
		User:     user,
		Password: password,
		Code:     code,
	})
}

// RefreshSession returns a usable pair. While the access token is unexpired
// and force is false the cached pair is returned without a server call. A
// failed server refresh clears local state.
func (c *Client) RefreshSession(ctx context.Context, force bool) (*goAccounts.Tokens, error) {
	c.mu.Lock()
	if err := c.restoreLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	current := copyTokens(c.tokens)
	c.mu.Unlock()

	if current == nil {
		return nil, ErrNoTokensProvided
	}

	now := c.now()
	if !force {
		if exp, err := jwt.UnverifiedExpiry(current.AccessToken); err == nil && now.Before(exp) {
			return current, nil
		}
	}

	refreshExp, err := jwt.UnverifiedExpiry(current.RefreshToken)
	if err != nil || !now.Before(refreshExp) {
		c.clear(ctx)
		return nil, ErrRefreshTokenExpired
	}

	res, err := c.transport.RefreshTokens(ctx, current.AccessToken, current.RefreshToken)
	if err != nil {
		c.clear(ctx)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.setTokensLocked(ctx, res.Tokens); err != nil {
		return nil, err
	}
	if res.User != nil {
		c.user = res.User
	}
	return copyTokens(c.tokens), nil
}

// clear drops state after a failed refresh. A storage error here is logged
// because the refresh failure is what the caller needs to see.
func (c *Client) clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.clearLocked(ctx); err != nil {
		c.logger.Warn("client: clearing token storage failed", zap.Error(err))
	}
}

// Logout asks the server to end the session, then clears local state even
// if that call fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	if err := c.restoreLocked(ctx); err != nil {
		c.logger.Warn("client: restoring tokens before logout failed", zap.Error(err))
	}
	current := copyTokens(c.tokens)
	c.mu.Unlock()

	if current != nil {
		if err := c.transport.Logout(ctx, current.AccessToken); err != nil {
			c.logger.Warn("client: server logout failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearLocked(ctx)
}

/*
====================================
IMPERSONATION
====================================
*/

// Impersonate switches to a pair issued for target. Impersonation does not
// nest. The original pair is kept so [Client.StopImpersonation] can return
// to it.
func (c *Client) Impersonate(ctx context.Context, target string) (*goAccounts.ImpersonationResult, error) {
	if target == "" {
		return nil, ErrUsernameRequired
	}

	c.mu.Lock()
	if err := c.restoreLocked(ctx); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if c.impersonated {
		c.mu.Unlock()
		return nil, ErrAlreadyImpersonating
	}
	current := copyTokens(c.tokens)
	c.mu.Unlock()

	if current == nil {
		return nil, ErrNoAccessToken
	}

	res, err := c.transport.Impersonate(ctx, current.AccessToken, target)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Authorized || res.Tokens == nil {
		return res, ErrImpersonationUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.originalTokens = current
	c.impersonated = true
	c.user = res.User
	if c.persistImpersonation {
		if err := c.writePair(ctx, keyOriginalAccessToken, keyOriginalRefreshToken, *current); err != nil {
			return nil, err
		}
	}
	if err := c.setTokensLocked(ctx, *res.Tokens); err != nil {
		return nil, err
	}
	return res, nil
}

// StopImpersonation restores the original pair and refreshes it if needed.
// It is a no-op when not impersonating.
func (c *Client) StopImpersonation(ctx context.Context) error {
	c.mu.Lock()
	if err := c.restoreLocked(ctx); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.impersonated {
		c.mu.Unlock()
		return nil
	}
	original := c.originalTokens
	c.originalTokens = nil
	c.impersonated = false
	c.user = nil
	err := errors.Join(
		c.removePair(ctx, keyOriginalAccessToken, keyOriginalRefreshToken),
		c.setTokensLocked(ctx, *original),
	)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	_, err = c.RefreshSession(ctx, false)
	return err
}

/*
====================================
ACCOUNT OPERATIONS
====================================
*/

// GetUser refreshes if needed and returns the user behind the current pair.
func (c *Client) GetUser(ctx context.Context) (*goAccounts.User, error) {
	tokens, err := c.RefreshSession(ctx, false)
	if err != nil {
		return nil, err
	}
	user, err := c.transport.GetUser(ctx, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	return user, nil
}

// User returns the last user seen by the client without a server call.
func (c *Client) User() *goAccounts.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// CreateUser signs up a new password user and returns its id. The id is ""
// when the server hides duplicates.
func (c *Client) CreateUser(ctx context.Context, params passwordauth.CreateUserParams) (string, error) {
	return c.transport.CreateUser(ctx, params)
}

// VerifyEmail redeems the token from a verification mail.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.transport.VerifyEmail(ctx, token)
}

// SendVerificationEmail asks the server to mail a verification link to email.
func (c *Client) SendVerificationEmail(ctx context.Context, email string) error {
	return c.transport.SendVerificationEmail(ctx, email)
}

// SendResetPasswordEmail asks the server to mail a reset link to email.
func (c *Client) SendResetPasswordEmail(ctx context.Context, email string) error {
	return c.transport.SendResetPasswordEmail(ctx, email)
}

// ResetPassword redeems a reset or enrollment token. When the server logs the
// user in as part of the reset, the returned pair becomes current and any
// impersonation state is dropped.
func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (*goAccounts.LoginResult, error) {
	res, err := c.transport.ResetPassword(ctx, token, newPassword)
	if err != nil || res == nil {
		return res, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impersonated = false
	c.originalTokens = nil
	c.user = res.User
	if err := c.removePair(ctx, keyOriginalAccessToken, keyOriginalRefreshToken); err != nil {
		return nil, err
	}
	if err := c.setTokensLocked(ctx, res.Tokens); err != nil {
		return nil, err
	}
	return res, nil
}

// ChangePassword changes the password of the user behind the current pair.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	tokens, err := c.RefreshSession(ctx, false)
	if err != nil {
		return err
	}
	return c.transport.ChangePassword(ctx, tokens.AccessToken, oldPassword, newPassword)
}
