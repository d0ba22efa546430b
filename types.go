package goAccounts

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// User is the account record shared by every storage backend.
//
// Emails are stored lowercased and each address belongs to at most one user.
// Services carries credential material and must never leave the server; use
// [SanitizeUser] before returning a user to a caller.
type User struct {
	ID          string
	Username    string
	Emails      []EmailRecord
	Services    UserServices
	Profile     map[string]any
	Deactivated bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmailRecord is one address owned by a user.
type EmailRecord struct {
	Address  string
	Verified bool
}

// UserServices holds the per-service credential entries of a user.
type UserServices struct {
	Password  PasswordService
	Email     EmailService
	TwoFactor TwoFactorService
	External  map[string]ExternalService
}

// PasswordService stores the password hash and pending reset/enroll tokens.
type PasswordService struct {
	Hash  string
	Reset []TokenRecord
}

// EmailService stores pending verification tokens.
type EmailService struct {
	VerificationTokens []TokenRecord
}

// TwoFactorService stores the TOTP secret. An empty secret means two-factor
// is not enabled.
type TwoFactorService struct {
	Secret string
}

// ExternalService links an account to an identity at another provider.
type ExternalService struct {
	ID string
}

// Reasons carried by reset-namespace token records.
const (
	ReasonReset  = "reset"
	ReasonEnroll = "enroll"
)

// TokenRecord is a single-use token bound to one email address. It is removed
// on successful redemption.
type TokenRecord struct {
	Token   string
	Address string
	When    time.Time
	Reason  string
}

// Expired reports whether the record is older than ttl at now. A record is
// still valid at exactly When+ttl.
func (r TokenRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.After(r.When.Add(ttl))
}

// Session is one issued login. Valid only ever moves from true to false.
type Session struct {
	ID        string
	UserID    string
	Token     string
	Valid     bool
	UserAgent string
	IP        string
	Extra     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExtraImpersonatorUserID is the session extra key recording who started an
// impersonated session.
const ExtraImpersonatorUserID = "impersonatorUserId"

// ConnectionInfo is the caller's network context recorded on sessions.
type ConnectionInfo struct {
	IP        string
	UserAgent string
}

// Tokens is a signed access/refresh pair for one session.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is returned by every operation that opens or refreshes a session.
type LoginResult struct {
	SessionID string
	User      *User
	Tokens    Tokens
}

// ImpersonationResult is returned by [Engine.Impersonate]. Tokens and User are
// set only when Authorized is true.
type ImpersonationResult struct {
	Authorized bool
	Tokens     *Tokens
	User       *User
}

// CreateUserInput is the storage-level payload for a new user. Email and
// Username are already normalized and Password is already hashed.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Profile      map[string]any
}

// NormalizeEmail trims and lowercases an address. Every lookup and write goes
// through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasEmail reports whether the user owns address (case-insensitive).
func (u *User) HasEmail(address string) bool {
	_, ok := u.Email(address)
	return ok
}

// Email returns the record for address, if the user owns it.
func (u *User) Email(address string) (EmailRecord, bool) {
	if u == nil {
		return EmailRecord{}, false
	}
	address = NormalizeEmail(address)
	for _, e := range u.Emails {
		if e.Address == address {
			return e, true
		}
	}
	return EmailRecord{}, false
}

// HasVerifiedEmail reports whether at least one address is verified.
func (u *User) HasVerifiedEmail() bool {
	if u == nil {
		return false
	}
	return slices.ContainsFunc(u.Emails, func(e EmailRecord) bool { return e.Verified })
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Emails = slices.Clone(u.Emails)
	out.Profile = maps.Clone(u.Profile)
	out.Services.Password.Reset = slices.Clone(u.Services.Password.Reset)
	out.Services.Email.VerificationTokens = slices.Clone(u.Services.Email.VerificationTokens)
	out.Services.External = maps.Clone(u.Services.External)
	return &out
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Extra = maps.Clone(s.Extra)
	return &out
}

// SanitizeUser returns a copy of u without any service credential material.
func SanitizeUser(u *User) *User {
	if u == nil {
		return nil
	}
	out := u.Clone()
	out.Services = UserServices{}
	return out
}
