package passwordauth

import (
	"context"
	"errors"
	"strings"

	goAccounts "github.com/MrEthical07/goAccounts"
	"go.uber.org/zap"
)

// CreateUser validates and stores a new user and returns its id.
//
// In ambiguous mode a duplicate username or email returns ("", nil) so the
// caller cannot tell existing accounts apart.
func (s *Service) CreateUser(ctx context.Context, params CreateUserParams) (string, error) {
	params.Username = strings.TrimSpace(params.Username)
	params.Email = goAccounts.NormalizeEmail(params.Email)

	if params.Username == "" && params.Email == "" {
		return "", ErrUsernameOrEmailRequired
	}
	if params.Username != "" && !s.validateUsername(params.Username) {
		return "", ErrInvalidUsername
	}
	if params.Email != "" && !s.validateEmail(params.Email) {
		return "", ErrInvalidEmail
	}

	if params.Username != "" {
		existing, err := s.db.FindUserByUsername(ctx, params.Username)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return s.duplicate(ctx, ErrUsernameAlreadyExists)
		}
	}
	if params.Email != "" {
		existing, err := s.db.FindUserByEmail(ctx, params.Email)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return s.duplicate(ctx, ErrEmailAlreadyExists)
		}
	}

	// An empty password leaves the hash unset; the user is expected to
	// finish through an enrollment link.
	if params.Password != "" && !s.validatePassword(params.Password) {
		return "", ErrInvalidPassword
	}

	fields, err := s.validateNewUser(ctx, params)
	if err != nil {
		return "", err
	}
	var hash string
	if params.Password != "" {
		hash, err = s.hashPassword(params.Password)
		if err != nil {
			return "", err
		}
	}

	userID, err := s.db.CreateUser(ctx, goAccounts.CreateUserInput{
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		Profile:      fields.Profile,
	})
	switch {
	case errors.Is(err, goAccounts.ErrUsernameTaken):
		return s.duplicate(ctx, ErrUsernameAlreadyExists)
	case errors.Is(err, goAccounts.ErrEmailTaken):
		return s.duplicate(ctx, ErrEmailAlreadyExists)
	case err != nil:
		s.engine.Notify(ctx, goAccounts.Notification{
			Event:   goAccounts.EventCreateUserFailure,
			Metric:  goAccounts.MetricCreateUserFailure,
			ErrCode: goAccounts.ErrorCode(err),
		})
		return "", err
	}

	s.engine.Notify(ctx, goAccounts.Notification{
		Event:    goAccounts.EventCreateUserSuccess,
		Metric:   goAccounts.MetricCreateUserSuccess,
		Success:  true,
		UserID:   userID,
		Metadata: map[string]string{"service": ServiceName},
	})

	if s.cfg.SendVerificationEmailAfterSignup && params.Email != "" {
		if err := s.SendVerificationEmail(ctx, params.Email); err != nil {
			s.logger.Warn("signup verification email failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
	return userID, nil
}

func (s *Service) duplicate(ctx context.Context, err *goAccounts.CodedError) (string, error) {
	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventCreateUserFailure,
		Metric:  goAccounts.MetricCreateUserDuplicate,
		ErrCode: err.Code(),
	})
	if s.engine.AmbiguousErrorMessages() {
		return "", nil
	}
	return "", err
}

// SetPassword replaces the password of userID without checking the old one.
// It is meant for administrative tools.
func (s *Service) SetPassword(ctx context.Context, userID, newPassword string) error {
	if !s.validatePassword(newPassword) {
		return ErrInvalidPassword
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.db.SetPassword(ctx, userID, hash)
}

// ChangePassword re-authenticates userID with oldPassword and stores
// newPassword.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" {
		return ErrUnrecognizedOptionsForLogin
	}

	user, err := s.passwordAuthenticator(ctx, goAccounts.IdentityByID(userID), oldPassword)
	if err != nil {
		return err
	}
	if !s.validatePassword(newPassword) {
		return ErrInvalidPassword
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.db.SetPassword(ctx, user.ID, hash); err != nil {
		return err
	}

	if s.cfg.RemoveAllResetPasswordTokensAfterPasswordChanged {
		if err := s.db.RemoveAllResetPasswordTokens(ctx, user.ID); err != nil {
			return err
		}
	}
	if s.cfg.InvalidateAllSessionsAfterPasswordChanged {
		if err := s.engine.InvalidateAllSessions(ctx, user.ID); err != nil {
			return err
		}
	}

	s.engine.Notify(ctx, goAccounts.Notification{
		Event:   goAccounts.EventPasswordChanged,
		Metric:  goAccounts.MetricPasswordChangeSuccess,
		Success: true,
		UserID:  user.ID,
	})

	if s.cfg.NotifyUserAfterPasswordChanged {
		if address := primaryAddress(user); address != "" {
			mail := s.engine.PrepareMail(address, goAccounts.TemplatePasswordChanged, "", user)
			if err := s.engine.SendMail(ctx, mail); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddEmail attaches a new address to userID.
func (s *Service) AddEmail(ctx context.Context, userID, email string, verified bool) error {
	email = goAccounts.NormalizeEmail(email)
	if email == "" || !s.validateEmail(email) {
		return ErrInvalidEmail
	}
	err := s.db.AddEmail(ctx, userID, email, verified)
	if errors.Is(err, goAccounts.ErrEmailTaken) {
		return ErrEmailAlreadyExists
	}
	return err
}

// RemoveEmail detaches an address from userID.
func (s *Service) RemoveEmail(ctx context.Context, userID, email string) error {
	email = goAccounts.NormalizeEmail(email)
	if email == "" || !s.validateEmail(email) {
		return ErrInvalidEmail
	}
	return s.db.RemoveEmail(ctx, userID, email)
}

// FindUserByEmail returns the sanitized owner of email, or nil.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*goAccounts.User, error) {
	user, err := s.db.FindUserByEmail(ctx, goAccounts.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	return s.engine.SanitizeUser(user), nil
}

// FindUserByUsername returns the sanitized user with username, or nil.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (*goAccounts.User, error) {
	user, err := s.db.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	return s.engine.SanitizeUser(user), nil
}

func primaryAddress(user *goAccounts.User) string {
	if user == nil || len(user.Emails) == 0 {
		return ""
	}
	for _, e := range user.Emails {
		if e.Verified {
			return e.Address
		}
	}
	return user.Emails[0].Address
}
