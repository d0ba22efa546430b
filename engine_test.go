package goAccounts_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/MrEthical07/goAccounts/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type engineFixture struct {
	engine *goAccounts.Engine
	store  *memory.Store
	clock  *testClock
}

func newEngineFixture(t *testing.T, configure func(b *goAccounts.Builder)) *engineFixture {
	t.Helper()
	clock := newTestClock()
	store := memory.New(memory.WithClock(clock.Now))

	cfg := goAccounts.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("s", 32))
	cfg.Metrics.Enabled = true

	b := goAccounts.New().
		WithConfig(cfg).
		WithDatabase(store).
		WithClock(clock.Now)
	if configure != nil {
		configure(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return &engineFixture{engine: engine, store: store, clock: clock}
}

func (f *engineFixture) createUser(t *testing.T, username, email string) string {
	t.Helper()
	id, err := f.store.CreateUser(context.Background(), goAccounts.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: "stored-hash",
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return id
}

func (f *engineFixture) login(t *testing.T, userID string) *goAccounts.LoginResult {
	t.Helper()
	user, err := f.store.FindUserByID(context.Background(), userID)
	if err != nil || user == nil {
		t.Fatalf("FindUserByID failed: user=%v err=%v", user, err)
	}
	res, err := f.engine.LoginWithUser(context.Background(), user, goAccounts.ConnectionInfo{IP: "127.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("LoginWithUser failed: %v", err)
	}
	return res
}

func TestBuilderRejectsReuseAndMissingDatabase(t *testing.T) {
	cfg := goAccounts.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("s", 32))

	if _, err := goAccounts.New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected build without database to fail")
	}

	b := goAccounts.New().WithConfig(cfg).WithDatabase(memory.New())
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestLoginAndResumeSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	uid := f.createUser(t, "alice", "alice@example.com")

	res := f.login(t, uid)
	if res.SessionID == "" || res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatalf("incomplete login result: %+v", res)
	}
	if res.User.Services.Password.Hash != "" {
		t.Fatal("login result leaked password hash")
	}

	user, err := f.engine.ResumeSession(context.Background(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ResumeSession failed: %v", err)
	}
	if user.ID != uid {
		t.Fatalf("resumed wrong user: %s", user.ID)
	}

	if _, err := f.engine.ResumeSession(context.Background(), res.Tokens.RefreshToken); !errors.Is(err, goAccounts.ErrTokensNotValid) {
		t.Fatalf("expected refresh token to be rejected as access token, got %v", err)
	}

	if got := f.engine.MetricsSnapshot().Counters[goAccounts.MetricSessionCreated]; got != 1 {
		t.Fatalf("expected one session created, got %d", got)
	}
}

func TestRefreshKeepsSessionAndUpdatesConnectionInfo(t *testing.T) {
	f := newEngineFixture(t, nil)
	uid := f.createUser(t, "bob", "bob@example.com")
	res := f.login(t, uid)

	f.clock.Advance(2 * time.Hour)
	if _, err := f.engine.ResumeSession(context.Background(), res.Tokens.AccessToken); !errors.Is(err, goAccounts.ErrTokensNotValid) {
		t.Fatalf("expected expired access token to fail resume, got %v", err)
	}

	info := goAccounts.ConnectionInfo{IP: "10.0.0.9", UserAgent: "refresh-agent"}
	refreshed, err := f.engine.RefreshTokens(context.Background(), res.Tokens.AccessToken, res.Tokens.RefreshToken, info)
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}
	if refreshed.SessionID != res.SessionID {
		t.Fatalf("refresh changed session id: %s -> %s", res.SessionID, refreshed.SessionID)
	}
	if refreshed.User.ID != uid {
		t.Fatalf("refresh returned wrong user %s", refreshed.User.ID)
	}

	sess, err := f.store.FindSessionByID(context.Background(), res.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("FindSessionByID failed: %v", err)
	}
	if sess.IP != info.IP || sess.UserAgent != info.UserAgent {
		t.Fatalf("connection info not updated: %+v", sess)
	}

	if _, err := f.engine.ResumeSession(context.Background(), refreshed.Tokens.AccessToken); err != nil {
		t.Fatalf("ResumeSession with refreshed token failed: %v", err)
	}
}

func TestRefreshRejectsMismatchedPair(t *testing.T) {
	f := newEngineFixture(t, nil)
	a := f.login(t, f.createUser(t, "a", "a@example.com"))
	b := f.login(t, f.createUser(t, "b", "b@example.com"))

	_, err := f.engine.RefreshTokens(context.Background(), a.Tokens.AccessToken, b.Tokens.RefreshToken, goAccounts.ConnectionInfo{})
	if !errors.Is(err, goAccounts.ErrTokensNotValid) {
		t.Fatalf("expected ErrTokensNotValid, got %v", err)
	}
	if _, err := f.engine.RefreshTokens(context.Background(), "", a.Tokens.RefreshToken, goAccounts.ConnectionInfo{}); !errors.Is(err, goAccounts.ErrTokensNotValid) {
		t.Fatalf("expected ErrTokensNotValid for empty access token, got %v", err)
	}
}

func TestRefreshFailsAfterRefreshExpiry(t *testing.T) {
	f := newEngineFixture(t, nil)
	res := f.login(t, f.createUser(t, "late", "late@example.com"))

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.engine.RefreshTokens(context.Background(), res.Tokens.AccessToken, res.Tokens.RefreshToken, goAccounts.ConnectionInfo{})
	if !errors.Is(err, goAccounts.ErrTokensNotValid) {
		t.Fatalf("expected ErrTokensNotValid, got %v", err)
	}
}

func TestInvalidateSessionIsIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil)
	res := f.login(t, f.createUser(t, "idem", "idem@example.com"))
	ctx := context.Background()

	if err := f.engine.InvalidateSession(ctx, res.SessionID); err != nil {
		t.Fatalf("first InvalidateSession failed: %v", err)
	}
	_, first := f.engine.RefreshTokens(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken, goAccounts.ConnectionInfo{})

	if err := f.engine.InvalidateSession(ctx, res.SessionID); err != nil {
		t.Fatalf("second InvalidateSession failed: %v", err)
	}
	_, second := f.engine.RefreshTokens(ctx, res.Tokens.AccessToken, res.Tokens.RefreshToken, goAccounts.ConnectionInfo{})

	if !errors.Is(first, goAccounts.ErrSessionInvalid) || !errors.Is(second, goAccounts.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid twice, got %v and %v", first, second)
	}
	if _, err := f.engine.ResumeSession(ctx, res.Tokens.AccessToken); !errors.Is(err, goAccounts.ErrSessionInvalid) {
		t.Fatalf("expected resume to fail with ErrSessionInvalid, got %v", err)
	}
}

func TestInvalidateAllSessionsKeepsExcluded(t *testing.T) {
	f := newEngineFixture(t, nil)
	uid := f.createUser(t, "many", "many@example.com")
	ctx := context.Background()

	s1 := f.login(t, uid)
	s2 := f.login(t, uid)
	s3 := f.login(t, uid)

	if err := f.engine.InvalidateAllSessions(ctx, uid, s2.SessionID); err != nil {
		t.Fatalf("InvalidateAllSessions failed: %v", err)
	}

	for _, tc := range []struct {
		res   *goAccounts.LoginResult
		valid bool
	}{{s1, false}, {s2, true}, {s3, false}} {
		_, err := f.engine.ResumeSession(ctx, tc.res.Tokens.AccessToken)
		if tc.valid && err != nil {
			t.Fatalf("kept session %s failed to resume: %v", tc.res.SessionID, err)
		}
		if !tc.valid && !errors.Is(err, goAccounts.ErrSessionInvalid) {
			t.Fatalf("session %s: expected ErrSessionInvalid, got %v", tc.res.SessionID, err)
		}
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	f := newEngineFixture(t, nil)
	res := f.login(t, f.createUser(t, "bye", "bye@example.com"))
	ctx := context.Background()

	if err := f.engine.Logout(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := f.engine.Logout(ctx, res.Tokens.AccessToken); !errors.Is(err, goAccounts.ErrSessionInvalid) {
		t.Fatalf("expected second logout to report ErrSessionInvalid, got %v", err)
	}
	if err := f.engine.Logout(ctx, "garbage"); !errors.Is(err, goAccounts.ErrTokensNotValid) {
		t.Fatalf("expected ErrTokensNotValid, got %v", err)
	}
}

func TestDeactivateUserInvalidatesSessions(t *testing.T) {
	f := newEngineFixture(t, nil)
	uid := f.createUser(t, "gone", "gone@example.com")
	res := f.login(t, uid)
	ctx := context.Background()

	if err := f.engine.DeactivateUser(ctx, uid); err != nil {
		t.Fatalf("DeactivateUser failed: %v", err)
	}
	if _, err := f.engine.ResumeSession(ctx, res.Tokens.AccessToken); !errors.Is(err, goAccounts.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}

	f.engine.RegisterService(stubService{name: "stub", userID: uid, store: f.store})
	if _, err := f.engine.LoginWithService(ctx, "stub", nil, goAccounts.ConnectionInfo{}); !errors.Is(err, goAccounts.ErrUserDeactivated) {
		t.Fatalf("expected ErrUserDeactivated, got %v", err)
	}

	if err := f.engine.ActivateUser(ctx, uid); err != nil {
		t.Fatalf("ActivateUser failed: %v", err)
	}
	if _, err := f.engine.LoginWithService(ctx, "stub", nil, goAccounts.ConnectionInfo{}); err != nil {
		t.Fatalf("LoginWithService after activation failed: %v", err)
	}
}

type stubService struct {
	name   string
	userID string
	store  *memory.Store
	err    error
}

func (s stubService) ServiceName() string { return s.name }

func (s stubService) Authenticate(ctx context.Context, _ any) (*goAccounts.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.store.FindUserByID(ctx, s.userID)
}

func TestRegisterAndLoginWithService(t *testing.T) {
	f := newEngineFixture(t, nil)
	uid := f.createUser(t, "svc", "svc@example.com")
	ctx := context.Background()

	if err := f.engine.RegisterService(stubService{name: "stub", userID: uid, store: f.store}); err != nil {
		t.Fatalf("RegisterService failed: %v", err)
	}
	if err := f.engine.RegisterService(stubService{name: "stub"}); err == nil {
		t.Fatal("expected duplicate service name to be rejected")
	}
	if err := f.engine.RegisterService(stubService{name: "  "}); err == nil {
		t.Fatal("expected empty service name to be rejected")
	}

	if _, err := f.engine.LoginWithService(ctx, "missing", nil, goAccounts.ConnectionInfo{}); !errors.Is(err, goAccounts.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}

	res, err := f.engine.LoginWithService(ctx, "stub", nil, goAccounts.ConnectionInfo{IP: "1.2.3.4"})
	if err != nil {
		t.Fatalf("LoginWithService failed: %v", err)
	}
	if res.User.ID != uid {
		t.Fatalf("wrong user logged in: %s", res.User.ID)
	}

	failing := errors.New("bad credentials")
	_ = f.engine.RegisterService(stubService{name: "failing", err: failing})
	if _, err := f.engine.LoginWithService(ctx, "failing", nil, goAccounts.ConnectionInfo{}); !errors.Is(err, failing) {
		t.Fatalf("expected service error to propagate, got %v", err)
	}
	if got := f.engine.MetricsSnapshot().Counters[goAccounts.MetricLoginFailure]; got != 1 {
		t.Fatalf("expected one login failure, got %d", got)
	}
}

func TestFindUserByIDIsSanitized(t *testing.T) {
	f := newEngineFixture(t, func(b *goAccounts.Builder) {
		b.WithUserSanitizer(func(u *goAccounts.User) *goAccounts.User {
			u.Profile = map[string]any{"sanitized": true}
			return u
		})
	})
	uid := f.createUser(t, "clean", "clean@example.com")

	u, err := f.engine.FindUserByID(context.Background(), uid)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	if u.Services.Password.Hash != "" {
		t.Fatal("password hash leaked")
	}
	if u.Profile["sanitized"] != true {
		t.Fatal("custom sanitizer not applied")
	}
	if _, err := f.engine.FindUserByID(context.Background(), "nope"); !errors.Is(err, goAccounts.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestResumeSessionValidatorRejects(t *testing.T) {
	reject := errors.New("blocked")
	f := newEngineFixture(t, func(b *goAccounts.Builder) {
		b.WithResumeSessionValidator(func(_ context.Context, u *goAccounts.User, _ *goAccounts.Session) error {
			if u.Username == "blocked" {
				return reject
			}
			return nil
		})
	})
	res := f.login(t, f.createUser(t, "blocked", "blocked@example.com"))

	if _, err := f.engine.ResumeSession(context.Background(), res.Tokens.AccessToken); !errors.Is(err, reject) {
		t.Fatalf("expected validator error, got %v", err)
	}
}

func TestVerifyAccessTokenIsStateless(t *testing.T) {
	f := newEngineFixture(t, nil)
	uid := f.createUser(t, "stateless", "stateless@example.com")
	res := f.login(t, uid)

	if err := f.engine.InvalidateSession(context.Background(), res.SessionID); err != nil {
		t.Fatalf("InvalidateSession failed: %v", err)
	}
	claims, err := f.engine.VerifyAccessToken(res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if claims.SessionID != res.SessionID || claims.UserID != uid || claims.Impersonated {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(f.clock.Now().Add(90 * time.Minute).Truncate(time.Second)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAt)
	}
}
