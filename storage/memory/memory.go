// Package memory is an in-process implementation of the goAccounts storage
// contract. It is intended for tests, demos and single-process deployments.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/internal/tokens"
)

// Store keeps users and sessions in maps guarded by a single mutex. Values are
// copied on the way in and out, so callers never share state with the store.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	users      map[string]*goAccounts.User
	byEmail    map[string]string
	byUsername map[string]string

	sessions       map[string]*goAccounts.Session
	sessionByToken map[string]string
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps and session ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:            time.Now,
		users:          make(map[string]*goAccounts.User),
		byEmail:        make(map[string]string),
		byUsername:     make(map[string]string),
		sessions:       make(map[string]*goAccounts.Session),
		sessionByToken: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ goAccounts.DatabaseInterface = (*Store)(nil)

var errDuplicateToken = errors.New("memory: session token already exists")

/* ==== USERS ==== */

func (s *Store) FindUserByID(_ context.Context, userID string) (*goAccounts.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].Clone(), nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*goAccounts.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[goAccounts.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return s.users[id].Clone(), nil
}

func (s *Store) FindUserByUsername(_ context.Context, username string) (*goAccounts.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	return s.users[id].Clone(), nil
}

func (s *Store) FindUserByServiceID(_ context.Context, service, serviceID string) (*goAccounts.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if ext, ok := u.Services.External[service]; ok && ext.ID == serviceID {
			return u.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) FindUserByEmailVerificationToken(_ context.Context, token string) (*goAccounts.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if hasToken(u.Services.Email.VerificationTokens, token) {
			return u.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) FindUserByResetPasswordToken(_ context.Context, token string) (*goAccounts.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if hasToken(u.Services.Password.Reset, token) {
			return u.Clone(), nil
		}
	}
	return nil, nil
}

func (s *Store) FindPasswordHash(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return "", goAccounts.ErrUserNotFound
	}
	return u.Services.Password.Hash, nil
}

func (s *Store) CreateUser(_ context.Context, input goAccounts.CreateUserInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := goAccounts.NormalizeEmail(input.Email)
	if email != "" {
		if _, taken := s.byEmail[email]; taken {
			return "", goAccounts.ErrEmailTaken
		}
	}
	if input.Username != "" {
		if _, taken := s.byUsername[input.Username]; taken {
			return "", goAccounts.ErrUsernameTaken
		}
	}

	now := s.now().UTC()
	u := &goAccounts.User{
		ID:        tokens.NewUserID(),
		Username:  input.Username,
		Profile:   maps.Clone(input.Profile),
		CreatedAt: now,
		UpdatedAt: now,
	}
	u.Services.Password.Hash = input.PasswordHash
	if email != "" {
		u.Emails = []goAccounts.EmailRecord{{Address: email}}
		s.byEmail[email] = u.ID
	}
	if input.Username != "" {
		s.byUsername[input.Username] = u.ID
	}
	s.users[u.ID] = u
	return u.ID, nil
}

// mutate runs fn on the stored user under the lock and bumps UpdatedAt when
// fn succeeds.
func (s *Store) mutate(userID string, fn func(u *goAccounts.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return goAccounts.ErrUserNotFound
	}
	if err := fn(u); err != nil {
		return err
	}
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) SetUsername(_ context.Context, userID, username string) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		if owner, taken := s.byUsername[username]; taken && owner != userID {
			return goAccounts.ErrUsernameTaken
		}
		if u.Username != "" {
			delete(s.byUsername, u.Username)
		}
		u.Username = username
		if username != "" {
			s.byUsername[username] = userID
		}
		return nil
	})
}

func (s *Store) SetPassword(_ context.Context, userID, passwordHash string) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		u.Services.Password.Hash = passwordHash
		return nil
	})
}

func (s *Store) SetResetPassword(_ context.Context, userID, _ string, passwordHash, token string) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		if !hasToken(u.Services.Password.Reset, token) {
			return goAccounts.ErrTokenConsumed
		}
		u.Services.Password.Hash = passwordHash
		u.Services.Password.Reset = nil
		return nil
	})
}

func (s *Store) AddEmail(_ context.Context, userID, email string, verified bool) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(userID, func(u *goAccounts.User) error {
		if owner, taken := s.byEmail[email]; taken {
			if owner != userID {
				return goAccounts.ErrEmailTaken
			}
			return nil
		}
		u.Emails = append(u.Emails, goAccounts.EmailRecord{Address: email, Verified: verified})
		s.byEmail[email] = userID
		return nil
	})
}

func (s *Store) RemoveEmail(_ context.Context, userID, email string) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(userID, func(u *goAccounts.User) error {
		if s.byEmail[email] != userID {
			return goAccounts.ErrUserNotFound
		}
		delete(s.byEmail, email)
		u.Emails = slices.DeleteFunc(u.Emails, func(e goAccounts.EmailRecord) bool {
			return e.Address == email
		})
		return nil
	})
}

func (s *Store) VerifyEmail(_ context.Context, userID, email, token string) error {
	email = goAccounts.NormalizeEmail(email)
	return s.mutate(userID, func(u *goAccounts.User) error {
		idx := slices.IndexFunc(u.Emails, func(e goAccounts.EmailRecord) bool {
			return e.Address == email
		})
		if idx < 0 {
			return goAccounts.ErrUserNotFound
		}
		if token != "" && !slices.ContainsFunc(u.Services.Email.VerificationTokens,
			func(r goAccounts.TokenRecord) bool { return r.Token == token }) {
			return goAccounts.ErrTokenConsumed
		}
		u.Emails[idx].Verified = true
		u.Services.Email.VerificationTokens = slices.DeleteFunc(u.Services.Email.VerificationTokens,
			func(r goAccounts.TokenRecord) bool { return r.Address == email })
		return nil
	})
}

func (s *Store) AddEmailVerificationToken(_ context.Context, userID string, record goAccounts.TokenRecord) error {
	record.Address = goAccounts.NormalizeEmail(record.Address)
	return s.mutate(userID, func(u *goAccounts.User) error {
		u.Services.Email.VerificationTokens = append(u.Services.Email.VerificationTokens, record)
		return nil
	})
}

func (s *Store) AddResetPasswordToken(_ context.Context, userID string, record goAccounts.TokenRecord) error {
	record.Address = goAccounts.NormalizeEmail(record.Address)
	return s.mutate(userID, func(u *goAccounts.User) error {
		u.Services.Password.Reset = append(u.Services.Password.Reset, record)
		return nil
	})
}

func (s *Store) RemoveAllResetPasswordTokens(_ context.Context, userID string) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		u.Services.Password.Reset = nil
		return nil
	})
}

func (s *Store) SetUserDeactivated(_ context.Context, userID string, deactivated bool) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		u.Deactivated = deactivated
		return nil
	})
}

func (s *Store) SetTwoFactorSecret(_ context.Context, userID, secret string) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		u.Services.TwoFactor.Secret = secret
		return nil
	})
}

func (s *Store) LinkService(_ context.Context, userID, service, serviceID string) error {
	return s.mutate(userID, func(u *goAccounts.User) error {
		if u.Services.External == nil {
			u.Services.External = make(map[string]goAccounts.ExternalService)
		}
		u.Services.External[service] = goAccounts.ExternalService{ID: serviceID}
		return nil
	})
}

/* ==== SESSIONS ==== */

func (s *Store) FindSessionByID(_ context.Context, sessionID string) (*goAccounts.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID].Clone(), nil
}

func (s *Store) FindSessionByToken(_ context.Context, token string) (*goAccounts.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessionByToken[token]
	if !ok {
		return nil, nil
	}
	return s.sessions[id].Clone(), nil
}

func (s *Store) CreateSession(_ context.Context, userID, token string, info goAccounts.ConnectionInfo, extra map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.sessionByToken[token]; dup {
		return "", errDuplicateToken
	}
	now := s.now().UTC()
	id, err := tokens.NewSessionID(now)
	if err != nil {
		return "", err
	}
	s.sessions[id] = &goAccounts.Session{
		ID:        id,
		UserID:    userID,
		Token:     token,
		Valid:     true,
		UserAgent: info.UserAgent,
		IP:        info.IP,
		Extra:     maps.Clone(extra),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessionByToken[token] = id
	return id, nil
}

func (s *Store) UpdateSession(_ context.Context, sessionID string, info goAccounts.ConnectionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return goAccounts.ErrSessionNotFound
	}
	sess.UserAgent = info.UserAgent
	sess.IP = info.IP
	sess.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) InvalidateSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok && sess.Valid {
		sess.Valid = false
		sess.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *Store) InvalidateAllSessions(_ context.Context, userID string, excludedSessionIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for id, sess := range s.sessions {
		if sess.UserID != userID || !sess.Valid || slices.Contains(excludedSessionIDs, id) {
			continue
		}
		sess.Valid = false
		sess.UpdatedAt = now
	}
	return nil
}

// SessionCount returns the number of stored sessions for userID, valid or not.
func (s *Store) SessionCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			n++
		}
	}
	return n
}

func hasToken(records []goAccounts.TokenRecord, token string) bool {
	if token == "" {
		return false
	}
	return slices.ContainsFunc(records, func(r goAccounts.TokenRecord) bool {
		return r.Token == token
	})
}

