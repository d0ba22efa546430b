package passwordauth

import (
	"context"
	"errors"
	"strings"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
	"go.uber.org/zap"
)

// VerifyEmail redeems a verification token and marks its address verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}

	user, err := s.db.FindUserByEmailVerificationToken(ctx, token)
	if err != nil {
		return err
	}
	if user == nil {
		return s.verifyFailed(ctx, "", ErrVerifyEmailLinkExpired)
	}
	record, ok := findRecord(user.Services.Email.VerificationTokens, token)
	if !ok || record.Expired(s.engine.Now(), s.cfg.VerifyEmailTokenExpiration) {
		return s.verifyFailed(ctx, user.ID, ErrVerifyEmailLinkExpired)
	}
	if !user.HasEmail(record.Address) {
		return s.verifyFailed(ctx, user.ID, ErrVerifyEmailLinkUnknownAddress)
	}

	if err := s.db.VerifyEmail(ctx, user.ID, record.Address, token); err != nil {
		if errors.Is(err, goAccounts.ErrTokenConsumed) {
			return s.verifyFailed(ctx, user.ID, ErrVerifyEmailLinkExpired)
		}
		return err
	}
	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventEmailVerified,
		Metric:  goAccounts.MetricEmailVerificationSuccess,
		Success: true,
		UserID:  user.ID,
	})
	return nil
}

func (s *Service) verifyFailed(ctx context.Context, userID string, err *goAccounts.CodedError) error {
	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventEmailVerificationFailed,
		Metric:  goAccounts.MetricEmailVerificationFailure,
		UserID:  userID,
		ErrCode: err.Code(),
	})
	return err
}

// ResetPassword redeems a reset or enrollment token and sets newPassword.
//
// It returns a login result for a new session when
// ReturnTokensAfterResetPassword is set, and (nil, nil) otherwise.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string, info goAccounts.ConnectionInfo) (*goAccounts.LoginResult, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}
	if newPassword == "" || !s.validatePassword(newPassword) {
		return nil, ErrInvalidNewPassword
	}
	if info != (goAccounts.ConnectionInfo{}) {
		ctx = goAccounts.WithConnectionInfo(ctx, info)
	}

	user, err := s.db.FindUserByResetPasswordToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, s.resetFailed(ctx, "", ErrResetPasswordLinkExpired)
	}
	record, ok := findRecord(user.Services.Password.Reset, token)
	if !ok || record.Expired(s.engine.Now(), s.resetTTL(record.Reason)) {
		return nil, s.resetFailed(ctx, user.ID, ErrResetPasswordLinkExpired)
	}
	if !user.HasEmail(record.Address) {
		return nil, s.resetFailed(ctx, user.ID, ErrResetPasswordLinkUnknownAddress)
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	if err := s.db.SetResetPassword(ctx, user.ID, record.Address, hash, token); err != nil {
		if errors.Is(err, goAccounts.ErrTokenConsumed) {
			return nil, s.resetFailed(ctx, user.ID, ErrResetPasswordLinkExpired)
		}
		return nil, err
	}

	if record.Reason == goAccounts.ReasonEnroll {
		if err := s.db.VerifyEmail(ctx, user.ID, record.Address, ""); err != nil {
			return nil, err
		}
	}

	if s.cfg.InvalidateAllSessionsAfterPasswordReset {
		if err := s.engine.InvalidateAllSessions(ctx, user.ID); err != nil {
			s.logger.Warn("session invalidation after password reset failed",
				zap.String("user_id", user.ID),
				zap.Error(err),
			)
			return nil, err
		}
	}

	s.engine.Notify(ctx, goAccounts.Notification{
		Event:    goAccounts.EventPasswordReset,
		Metric:   goAccounts.MetricPasswordResetSuccess,
		Success:  true,
		UserID:   user.ID,
		Metadata: map[string]string{"reason": record.Reason},
	})

	if s.cfg.NotifyUserAfterPasswordChanged {
		mail := s.engine.PrepareMail(record.Address, goAccounts.TemplatePasswordChanged, "", user)
		if err := s.engine.SendMail(ctx, mail); err != nil {
			return nil, err
		}
	}

	if !s.cfg.ReturnTokensAfterResetPassword {
		return nil, nil
	}
	return s.engine.LoginWithUser(ctx, user, info)
}

func (s *Service) resetTTL(reason string) time.Duration {
	if reason == goAccounts.ReasonEnroll {
		return s.cfg.PasswordEnrollTokenExpiration
	}
	return s.cfg.PasswordResetTokenExpiration
}

func (s *Service) resetFailed(ctx context.Context, userID string, err *goAccounts.CodedError) error {
	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventPasswordResetFailure,
		Metric:  goAccounts.MetricPasswordResetFailure,
		UserID:  userID,
		ErrCode: err.Code(),
	})
	return err
}

// SendVerificationEmail stores a verification token for address and mails
// the link. An address that is already verified is a silent no-op.
func (s *Service) SendVerificationEmail(ctx context.Context, address string) error {
	user, address, err := s.mailTarget(ctx, address)
	if err != nil || user == nil {
		return err
	}
	if rec, _ := user.Email(address); rec.Verified {
		return nil
	}

	token, err := tokens.NewToken()
	if err != nil {
		return err
	}
	if err := s.db.AddEmailVerificationToken(ctx, user.ID, goAccounts.TokenRecord{
		Token:   token,
		Address: address,
		When:    s.engine.Now().UTC(),
	}); err != nil {
		return err
	}

	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventVerificationRequested,
		Metric:  goAccounts.MetricEmailVerificationRequest,
		Success: true,
		UserID:  user.ID,
	})
	return s.engine.SendMail(ctx, s.engine.PrepareMail(address, goAccounts.TemplateVerifyEmail, token, user))
}

// SendResetPasswordEmail stores a reset token for address and mails the link.
func (s *Service) SendResetPasswordEmail(ctx context.Context, address string) error {
	return s.sendResetToken(ctx, address, goAccounts.ReasonReset, goAccounts.TemplateResetPassword, goAccounts.EventResetPasswordRequested)
}

// SendEnrollmentEmail stores an enrollment token for address and mails the
// link. Redeeming it also verifies the address.
func (s *Service) SendEnrollmentEmail(ctx context.Context, address string) error {
	return s.sendResetToken(ctx, address, goAccounts.ReasonEnroll, goAccounts.TemplateEnrollAccount, goAccounts.EventEnrollmentRequested)
}

func (s *Service) sendResetToken(ctx context.Context, address, reason string, template goAccounts.MailTemplate, event string) error {
	user, address, err := s.mailTarget(ctx, address)
	if err != nil || user == nil {
		return err
	}

	token, err := tokens.NewToken()
	if err != nil {
		return err
	}
	if err := s.db.AddResetPasswordToken(ctx, user.ID, goAccounts.TokenRecord{
		Token:   token,
		Address: address,
		When:    s.engine.Now().UTC(),
		Reason:  reason,
	}); err != nil {
		return err
	}

	s.engine.Notify(ctx, goAccounts.Notification{
		Event:    event,
		Metric:   goAccounts.MetricPasswordResetRequest,
		Success:  true,
		UserID:   user.ID,
		Metadata: map[string]string{"reason": reason},
	})
	return s.engine.SendMail(ctx, s.engine.PrepareMail(address, template, token, user))
}

// mailTarget validates address and resolves its owner. A nil user with a nil
// error means the request should silently succeed.
func (s *Service) mailTarget(ctx context.Context, address string) (*goAccounts.User, string, error) {
	address = goAccounts.NormalizeEmail(address)
	if address == "" || !s.validateEmail(address) {
		return nil, "", ErrInvalidEmail
	}
	user, err := s.db.FindUserByEmail(ctx, address)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		if s.engine.AmbiguousErrorMessages() {
			return nil, address, nil
		}
		return nil, "", goAccounts.ErrUserNotFound
	}
	return user, address, nil
}

func findRecord(records []goAccounts.TokenRecord, token string) (goAccounts.TokenRecord, bool) {
	for _, r := range records {
		if r.Token == token {
			return r, true
		}
	}
	return goAccounts.TokenRecord{}, false
}
