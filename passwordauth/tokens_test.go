package passwordauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/passwordauth"
	"github.com/MrEthical07/goAccounts/storage/memory"
)

func TestVerifyEmailFlow(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := f.mustCreate(t, "ver", "Ver@Example.com", "pw")

	if err := f.svc.SendVerificationEmail(ctx, "VER@example.com"); err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	mail := f.mail.last(t)
	if mail.Template != goAccounts.TemplateVerifyEmail || mail.To != "ver@example.com" || mail.Token == "" {
		t.Fatalf("unexpected mail %+v", mail)
	}
	if mail.User == nil || mail.User.Services.Password.Hash != "" {
		t.Fatal("mail must carry a sanitized user")
	}

	if err := f.svc.VerifyEmail(ctx, ""); !errors.Is(err, passwordauth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := f.svc.VerifyEmail(ctx, mail.Token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	user, _ := f.db.FindUserByID(ctx, id)
	if !user.Emails[0].Verified {
		t.Fatal("address not marked verified")
	}
	if err := f.svc.VerifyEmail(ctx, mail.Token); !errors.Is(err, passwordauth.ErrVerifyEmailLinkExpired) {
		t.Fatalf("expected token to be single use, got %v", err)
	}

	sent := f.mail.count()
	if err := f.svc.SendVerificationEmail(ctx, "ver@example.com"); err != nil {
		t.Fatalf("SendVerificationEmail for verified address failed: %v", err)
	}
	if f.mail.count() != sent {
		t.Fatal("verified address must not receive another verification mail")
	}
}

func TestVerifyEmailExpiryAndUnknownAddress(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := f.mustCreate(t, "exp", "exp@example.com", "pw")
	start := f.clock.Now()

	if err := f.db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{Token: "old", Address: "exp@example.com", When: start}); err != nil {
		t.Fatalf("AddEmailVerificationToken failed: %v", err)
	}
	if err := f.db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{Token: "orphan", Address: "gone@example.com", When: start}); err != nil {
		t.Fatalf("AddEmailVerificationToken failed: %v", err)
	}

	if err := f.svc.VerifyEmail(ctx, "orphan"); !errors.Is(err, passwordauth.ErrVerifyEmailLinkUnknownAddress) {
		t.Fatalf("expected ErrVerifyEmailLinkUnknownAddress, got %v", err)
	}

	f.clock.Set(start.Add(3*24*time.Hour + time.Millisecond))
	if err := f.svc.VerifyEmail(ctx, "old"); !errors.Is(err, passwordauth.ErrVerifyEmailLinkExpired) {
		t.Fatalf("expected ErrVerifyEmailLinkExpired, got %v", err)
	}
}

func TestResetTokenExpiryBoundaryByReason(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := f.mustCreate(t, "bound", "bound@example.com", "pw")
	issued := f.clock.Now()
	enrollTTL := 30 * 24 * time.Hour

	add := func(token, reason string) {
		t.Helper()
		if err := f.db.AddResetPasswordToken(ctx, id, goAccounts.TokenRecord{
			Token: token, Address: "bound@example.com", When: issued, Reason: reason,
		}); err != nil {
			t.Fatalf("AddResetPasswordToken failed: %v", err)
		}
	}

	add("enroll-late", goAccounts.ReasonEnroll)
	f.clock.Set(issued.Add(enrollTTL + time.Millisecond))
	if _, err := f.svc.ResetPassword(ctx, "enroll-late", "next", goAccounts.ConnectionInfo{}); !errors.Is(err, passwordauth.ErrResetPasswordLinkExpired) {
		t.Fatalf("enroll token past TTL: expected ErrResetPasswordLinkExpired, got %v", err)
	}

	add("reset-at-boundary", goAccounts.ReasonReset)
	f.clock.Set(issued.Add(enrollTTL - time.Millisecond))
	if _, err := f.svc.ResetPassword(ctx, "reset-at-boundary", "next", goAccounts.ConnectionInfo{}); !errors.Is(err, passwordauth.ErrResetPasswordLinkExpired) {
		t.Fatalf("reset token at enroll boundary: expected ErrResetPasswordLinkExpired, got %v", err)
	}

	if _, err := f.svc.ResetPassword(ctx, "enroll-late", "next", goAccounts.ConnectionInfo{}); err != nil {
		t.Fatalf("enroll token just inside TTL must redeem: %v", err)
	}
	user, _ := f.db.FindUserByID(ctx, id)
	if !user.Emails[0].Verified {
		t.Fatal("enrollment must verify the address")
	}
	if _, err := f.svc.Authenticate(ctx, login("bound", "next")); err != nil {
		t.Fatalf("new password must authenticate: %v", err)
	}
}

func TestResetPasswordInvalidatesSessions(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	f.mustCreate(t, "reset", "reset@example.com", "old")

	res, err := f.engine.LoginWithService(ctx, passwordauth.ServiceName, login("reset", "old"), goAccounts.ConnectionInfo{})
	if err != nil {
		t.Fatalf("LoginWithService failed: %v", err)
	}

	if err := f.svc.SendResetPasswordEmail(ctx, "reset@example.com"); err != nil {
		t.Fatalf("SendResetPasswordEmail failed: %v", err)
	}
	mail := f.mail.last(t)
	if mail.Template != goAccounts.TemplateResetPassword {
		t.Fatalf("unexpected template %q", mail.Template)
	}

	if _, err := f.svc.ResetPassword(ctx, mail.Token, "", goAccounts.ConnectionInfo{}); !errors.Is(err, passwordauth.ErrInvalidNewPassword) {
		t.Fatalf("expected ErrInvalidNewPassword, got %v", err)
	}

	out, err := f.svc.ResetPassword(ctx, mail.Token, "new", goAccounts.ConnectionInfo{})
	if err != nil || out != nil {
		t.Fatalf("expected (nil, nil), got %v, %v", out, err)
	}
	if last := f.mail.last(t); last.Template != goAccounts.TemplatePasswordChanged {
		t.Fatalf("expected password changed mail, got %q", last.Template)
	}
	if _, err := f.engine.ResumeSession(ctx, res.Tokens.AccessToken); !errors.Is(err, goAccounts.ErrSessionInvalid) {
		t.Fatalf("expected existing session invalidated, got %v", err)
	}
	if _, err := f.svc.ResetPassword(ctx, mail.Token, "again", goAccounts.ConnectionInfo{}); !errors.Is(err, passwordauth.ErrResetPasswordLinkExpired) {
		t.Fatalf("expected reset token to be single use, got %v", err)
	}
}

func TestResetPasswordReturnsTokensWhenEnabled(t *testing.T) {
	f := newFixture(t, fixtureOptions{mutate: func(c *passwordauth.Config) {
		c.ReturnTokensAfterResetPassword = true
		c.NotifyUserAfterPasswordChanged = false
	}})
	ctx := context.Background()
	id := f.mustCreate(t, "tokens", "tokens@example.com", "old")

	if err := f.svc.SendEnrollmentEmail(ctx, "tokens@example.com"); err != nil {
		t.Fatalf("SendEnrollmentEmail failed: %v", err)
	}
	mail := f.mail.last(t)
	if mail.Template != goAccounts.TemplateEnrollAccount {
		t.Fatalf("unexpected template %q", mail.Template)
	}

	res, err := f.svc.ResetPassword(ctx, mail.Token, "new", goAccounts.ConnectionInfo{IP: "10.9.9.9"})
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if res == nil || res.User.ID != id || res.Tokens.AccessToken == "" {
		t.Fatalf("expected login result, got %+v", res)
	}
	if _, err := f.engine.ResumeSession(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("returned session must be usable: %v", err)
	}
}

func TestSendMailToUnknownAddress(t *testing.T) {
	direct := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	if err := direct.svc.SendResetPasswordEmail(ctx, "nobody@example.com"); !errors.Is(err, goAccounts.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := direct.svc.SendVerificationEmail(ctx, "not-an-email"); !errors.Is(err, passwordauth.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	amb := newFixture(t, fixtureOptions{ambiguous: true})
	for _, send := range []func(context.Context, string) error{
		amb.svc.SendResetPasswordEmail,
		amb.svc.SendEnrollmentEmail,
		amb.svc.SendVerificationEmail,
	} {
		if err := send(ctx, "nobody@example.com"); err != nil {
			t.Fatalf("expected silent success, got %v", err)
		}
	}
	if amb.mail.count() != 0 {
		t.Fatalf("no mail must be sent for unknown addresses, got %d", amb.mail.count())
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, fixtureOptions{mutate: func(c *passwordauth.Config) {
		c.InvalidateAllSessionsAfterPasswordChanged = true
	}})
	ctx := context.Background()
	id := f.mustCreate(t, "changer", "changer@example.com", "old")

	res, err := f.engine.LoginWithService(ctx, passwordauth.ServiceName, login("changer", "old"), goAccounts.ConnectionInfo{})
	if err != nil {
		t.Fatalf("LoginWithService failed: %v", err)
	}

	if err := f.svc.ChangePassword(ctx, id, "wrong", "new"); !errors.Is(err, passwordauth.ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, id, "old", ""); !errors.Is(err, passwordauth.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, id, "old", "new"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, login("changer", "new")); err != nil {
		t.Fatalf("new password must authenticate: %v", err)
	}
	if _, err := f.engine.ResumeSession(ctx, res.Tokens.AccessToken); !errors.Is(err, goAccounts.ErrSessionInvalid) {
		t.Fatalf("expected sessions invalidated, got %v", err)
	}
	if f.mail.last(t).Template != goAccounts.TemplatePasswordChanged {
		t.Fatal("expected password changed notification")
	}
}

func TestChangePasswordChecksOldPasswordFirst(t *testing.T) {
	f := newFixture(t, fixtureOptions{mutate: func(c *passwordauth.Config) { c.MinPasswordLength = 6 }})
	ctx := context.Background()
	id := f.mustCreate(t, "order", "order@example.com", "current-pw")

	if err := f.svc.ChangePassword(ctx, id, "wrong-pw", "x"); !errors.Is(err, passwordauth.ErrIncorrectPassword) {
		t.Fatalf("wrong old password with weak new one: expected ErrIncorrectPassword, got %v", err)
	}
	if err := f.svc.ChangePassword(ctx, id, "current-pw", "x"); !errors.Is(err, passwordauth.ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestEnrollUserWithoutPassword(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()

	id, err := f.svc.CreateUser(ctx, passwordauth.CreateUserParams{Email: "invitee@example.com"})
	if err != nil {
		t.Fatalf("CreateUser without password failed: %v", err)
	}
	if hash, _ := f.db.FindPasswordHash(ctx, id); hash != "" {
		t.Fatalf("expected no password hash, got %q", hash)
	}
	if _, err := f.svc.Authenticate(ctx, login("invitee@example.com", "anything")); !errors.Is(err, passwordauth.ErrNoPasswordSet) {
		t.Fatalf("expected ErrNoPasswordSet before enrollment, got %v", err)
	}

	if err := f.svc.SendEnrollmentEmail(ctx, "invitee@example.com"); err != nil {
		t.Fatalf("SendEnrollmentEmail failed: %v", err)
	}
	mail := f.mail.last(t)
	if mail.Template != goAccounts.TemplateEnrollAccount || mail.Token == "" {
		t.Fatalf("unexpected mail %+v", mail)
	}
	if _, err := f.svc.ResetPassword(ctx, mail.Token, "chosen-pw", goAccounts.ConnectionInfo{}); err != nil {
		t.Fatalf("ResetPassword with enrollment token failed: %v", err)
	}

	user, err := f.svc.Authenticate(ctx, login("invitee@example.com", "chosen-pw"))
	if err != nil {
		t.Fatalf("Authenticate after enrollment failed: %v", err)
	}
	if user.ID != id || !user.Emails[0].Verified {
		t.Fatalf("expected enrolled user with verified address, got %+v", user)
	}
}

// redeemedStore lets another redemption of the verification token land
// between the service's lookup and its write.
type redeemedStore struct {
	*memory.Store
}

func (r redeemedStore) FindUserByEmailVerificationToken(ctx context.Context, token string) (*goAccounts.User, error) {
	u, err := r.Store.FindUserByEmailVerificationToken(ctx, token)
	if err != nil || u == nil {
		return u, err
	}
	for _, rec := range u.Services.Email.VerificationTokens {
		if rec.Token == token {
			if err := r.Store.VerifyEmail(ctx, u.ID, rec.Address, token); err != nil {
				return nil, err
			}
		}
	}
	return u, nil
}

func TestVerifyEmailTokenRedeemedConcurrently(t *testing.T) {
	db := redeemedStore{Store: memory.New()}
	f := newFixture(t, fixtureOptions{db: db})
	ctx := context.Background()
	id := f.mustCreate(t, "twice", "twice@example.com", "pw")
	if err := db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{
		Token: "shared", Address: "twice@example.com", When: f.clock.Now(),
	}); err != nil {
		t.Fatalf("AddEmailVerificationToken failed: %v", err)
	}

	if err := f.svc.VerifyEmail(ctx, "shared"); !errors.Is(err, passwordauth.ErrVerifyEmailLinkExpired) {
		t.Fatalf("expected ErrVerifyEmailLinkExpired for the losing redemption, got %v", err)
	}
}

func TestAddAndRemoveEmail(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	ctx := context.Background()
	id := f.mustCreate(t, "multi", "multi@example.com", "pw")
	f.mustCreate(t, "other", "other@example.com", "pw")

	if err := f.svc.AddEmail(ctx, id, "bad", false); !errors.Is(err, passwordauth.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if err := f.svc.AddEmail(ctx, id, "OTHER@example.com", false); !errors.Is(err, passwordauth.ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
	if err := f.svc.AddEmail(ctx, id, "Second@Example.com", true); err != nil {
		t.Fatalf("AddEmail failed: %v", err)
	}
	user, err := f.svc.FindUserByEmail(ctx, "second@example.com")
	if err != nil || user == nil || user.ID != id {
		t.Fatalf("FindUserByEmail failed: user=%v err=%v", user, err)
	}
	if err := f.svc.RemoveEmail(ctx, id, "second@example.com"); err != nil {
		t.Fatalf("RemoveEmail failed: %v", err)
	}
	user, err = f.svc.FindUserByEmail(ctx, "second@example.com")
	if err != nil || user != nil {
		t.Fatalf("expected address removed, got user=%v err=%v", user, err)
	}
}
