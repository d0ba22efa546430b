package goAccounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	"github.com/MrEthical07/goAccounts/jwt"
	"go.uber.org/zap"
)

// AuthenticationService verifies credentials of one kind and returns the
// user they belong to. Params is service specific.
type AuthenticationService interface {
	ServiceName() string
	Authenticate(ctx context.Context, params any) (*User, error)
}

// ImpersonationAuthorizer decides whether impersonator may act as target.
type ImpersonationAuthorizer func(ctx context.Context, impersonator, target *User) bool

// ResumeSessionValidator runs after a session resumes successfully. A non-nil
// error rejects the request.
type ResumeSessionValidator func(ctx context.Context, user *User, session *Session) error

// UserSanitizer transforms a user, already stripped of credentials, before it
// is returned.
type UserSanitizer func(user *User) *User

// Engine is the session and token lifecycle server.
//
// Engine is safe for concurrent use after [Builder.Build].
type Engine struct {
	config     Config
	db         DatabaseInterface
	jwtManager *jwt.Manager
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	mailer     Mailer

	authorizeImpersonation ImpersonationAuthorizer
	resumeValidator        ResumeSessionValidator
	userSanitizer          UserSanitizer
	now                    func() time.Time

	mu       sync.RWMutex
	services map[string]AuthenticationService
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Database returns the storage backend. Authentication services use it to
// read and write their own service entries.
func (e *Engine) Database() DatabaseInterface {
	return e.db
}

// Logger returns the engine logger.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// AmbiguousErrorMessages reports whether enumeration-resistant errors are on.
func (e *Engine) AmbiguousErrorMessages() bool {
	return e.config.Security.AmbiguousErrorMessages
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.now()
}

// RegisterService makes svc available to [Engine.LoginWithService] under its
// ServiceName. Names are unique.
func (e *Engine) RegisterService(svc AuthenticationService) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if svc == nil {
		return errors.New("nil authentication service")
	}
	name := strings.TrimSpace(svc.ServiceName())
	if name == "" {
		return errors.New("authentication service name is empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.services[name]; exists {
		return fmt.Errorf("authentication service %q already registered", name)
	}
	e.services[name] = svc
	return nil
}

// Service returns a registered service by name.
func (e *Engine) Service(name string) (AuthenticationService, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	svc, ok := e.services[name]
	return svc, ok
}

// LoginWithService authenticates params with the named service and opens a
// session for the returned user.
func (e *Engine) LoginWithService(ctx context.Context, serviceName string, params any, info ConnectionInfo) (*LoginResult, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	svc, ok := e.Service(serviceName)
	if !ok {
		return nil, ErrServiceNotFound
	}

	ctx = withConnectionInfoFallback(ctx, info)
	user, err := svc.Authenticate(ctx, params)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, false, "", "", ErrorCode(err), func() map[string]string {
			return map[string]string{"service": serviceName}
		})
		return nil, err
	}
	if user == nil {
		e.metricInc(MetricLoginFailure)
		return nil, ErrUserNotFound
	}
	if user.Deactivated {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, false, user.ID, "", CodeUserDeactivated, func() map[string]string {
			return map[string]string{"service": serviceName}
		})
		return nil, ErrUserDeactivated
	}

	return e.LoginWithUser(ctx, user, info)
}

// LoginWithUser opens a session for an already authenticated user and returns
// a fresh token pair.
func (e *Engine) LoginWithUser(ctx context.Context, user *User, info ConnectionInfo) (*LoginResult, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	if user == nil || user.ID == "" {
		return nil, ErrUserNotFound
	}

	token, err := tokens.Generate(e.config.Session.TokenBytes)
	if err != nil {
		return nil, err
	}
	sessionID, err := e.CreateSession(ctx, user.ID, token, info, nil)
	if err != nil {
		return nil, err
	}

	pair, err := e.createTokens(sessionID, user.ID, token, false)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(withConnectionInfoFallback(ctx, info), EventLoginSuccess, true, user.ID, sessionID, "", nil)

	return &LoginResult{
		SessionID: sessionID,
		User:      e.SanitizeUser(user),
		Tokens:    pair,
	}, nil
}

// FindUserByID returns the sanitized user or [ErrUserNotFound].
func (e *Engine) FindUserByID(ctx context.Context, userID string) (*User, error) {
	if e == nil || e.db == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.db.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return e.SanitizeUser(user), nil
}

// DeactivateUser marks the user deactivated and invalidates every session.
func (e *Engine) DeactivateUser(ctx context.Context, userID string) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	if err := e.db.SetUserDeactivated(ctx, userID, true); err != nil {
		return err
	}
	if err := e.db.InvalidateAllSessions(ctx, userID); err != nil {
		return err
	}
	e.metricInc(MetricUserDeactivated)
	e.emitAudit(ctx, EventUserDeactivated, true, userID, "", "", nil)
	return nil
}

// ActivateUser clears the deactivated flag. Previously invalidated sessions
// stay invalid.
func (e *Engine) ActivateUser(ctx context.Context, userID string) error {
	if e == nil || e.db == nil {
		return ErrEngineNotReady
	}
	if err := e.db.SetUserDeactivated(ctx, userID, false); err != nil {
		return err
	}
	e.emitAudit(ctx, EventUserActivated, true, userID, "", "", nil)
	return nil
}

// SanitizeUser strips credentials and applies the configured sanitizer.
func (e *Engine) SanitizeUser(user *User) *User {
	out := SanitizeUser(user)
	if out == nil || e == nil || e.userSanitizer == nil {
		return out
	}
	return e.userSanitizer(out)
}

func (e *Engine) createTokens(sessionID, userID, sessionToken string, impersonated bool) (Tokens, error) {
	access, refresh, err := e.jwtManager.CreatePair(sessionID, userID, sessionToken, impersonated)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func withConnectionInfoFallback(ctx context.Context, info ConnectionInfo) context.Context {
	if info == (ConnectionInfo{}) {
		return ctx
	}
	if ConnectionInfoFromContext(ctx) == info {
		return ctx
	}
	return WithConnectionInfo(ctx, info)
}
