package client

import (
	"context"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/passwordauth"
)

// Transport is the server surface the client talks to. HTTP or RPC adapters
// implement it; [LocalTransport] calls an in-process engine directly.
type Transport interface {
	LoginWithService(ctx context.Context, service string, params any) (*goAccounts.LoginResult, error)
	RefreshTokens(ctx context.Context, accessToken, refreshToken string) (*goAccounts.LoginResult, error)
	Impersonate(ctx context.Context, accessToken, target string) (*goAccounts.ImpersonationResult, error)
	Logout(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*goAccounts.User, error)

	CreateUser(ctx context.Context, params passwordauth.CreateUserParams) (string, error)
	VerifyEmail(ctx context.Context, token string) error
	SendVerificationEmail(ctx context.Context, email string) error
	SendResetPasswordEmail(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) (*goAccounts.LoginResult, error)
	ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error
}

// LocalTransport serves a Client from an engine in the same process.
// Info is recorded as the connection info of every session it opens.
type LocalTransport struct {
	Engine    *goAccounts.Engine
	Passwords *passwordauth.Service
	Info      goAccounts.ConnectionInfo
}

var _ Transport = (*LocalTransport)(nil)

func (t *LocalTransport) LoginWithService(ctx context.Context, service string, params any) (*goAccounts.LoginResult, error) {
	return t.Engine.LoginWithService(ctx, service, params, t.Info)
}

func (t *LocalTransport) RefreshTokens(ctx context.Context, accessToken, refreshToken string) (*goAccounts.LoginResult, error) {
	return t.Engine.RefreshTokens(ctx, accessToken, refreshToken, t.Info)
}

// Impersonate resolves target the way login strings are resolved: an
// email-shaped value is an email, anything else a username.
func (t *LocalTransport) Impersonate(ctx context.Context, accessToken, target string) (*goAccounts.ImpersonationResult, error) {
	return t.Engine.Impersonate(ctx, accessToken, goAccounts.ParseIdentity(target), t.Info)
}

func (t *LocalTransport) Logout(ctx context.Context, accessToken string) error {
	return t.Engine.Logout(ctx, accessToken)
}

func (t *LocalTransport) GetUser(ctx context.Context, accessToken string) (*goAccounts.User, error) {
	return t.Engine.ResumeSession(ctx, accessToken)
}

func (t *LocalTransport) CreateUser(ctx context.Context, params passwordauth.CreateUserParams) (string, error) {
	if t.Passwords == nil {
		return "", ErrPasswordServiceMissing
	}
	return t.Passwords.CreateUser(ctx, params)
}

func (t *LocalTransport) VerifyEmail(ctx context.Context, token string) error {
	if t.Passwords == nil {
		return ErrPasswordServiceMissing
	}
	return t.Passwords.VerifyEmail(ctx, token)
}

func (t *LocalTransport) SendVerificationEmail(ctx context.Context, email string) error {
	if t.Passwords == nil {
		return ErrPasswordServiceMissing
	}
	return t.Passwords.SendVerificationEmail(ctx, email)
}

func (t *LocalTransport) SendResetPasswordEmail(ctx context.Context, email string) error {
	if t.Passwords == nil {
		return ErrPasswordServiceMissing
	}
	return t.Passwords.SendResetPasswordEmail(ctx, email)
}

func (t *LocalTransport) ResetPassword(ctx context.Context, token, newPassword string) (*goAccounts.LoginResult, error) {
	if t.Passwords == nil {
		return nil, ErrPasswordServiceMissing
	}
	return t.Passwords.ResetPassword(ctx, token, newPassword, t.Info)
}

func (t *LocalTransport) ChangePassword(ctx context.Context, accessToken, oldPassword, newPassword string) error {
	if t.Passwords == nil {
		return ErrPasswordServiceMissing
	}
	user, err := t.Engine.ResumeSession(ctx, accessToken)
	if err != nil {
		return err
	}
	return t.Passwords.ChangePassword(ctx, user.ID, oldPassword, newPassword)
}
