// Package storagetest is the conformance suite every storage backend runs.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goAccounts "github.com/MrEthical07/goAccounts"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) goAccounts.DatabaseInterface

// Run executes the whole suite against stores returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, db goAccounts.DatabaseInterface)
	}{
		{"CreateAndFindUser", testCreateAndFindUser},
		{"MissingLookupsReturnNil", testMissingLookups},
		{"EmailsAreNormalized", testEmailsAreNormalized},
		{"UniqueEmailAndUsername", testUniqueness},
		{"MutationsOnMissingUser", testMutationsOnMissingUser},
		{"SetUsernameAndPassword", testSetUsernameAndPassword},
		{"AddRemoveEmail", testAddRemoveEmail},
		{"VerifyEmailDropsTokens", testVerifyEmailDropsTokens},
		{"VerifyEmailTokenIsSingleUse", testVerifyEmailTokenSingleUse},
		{"ConcurrentVerifyEmailHasOneWinner", testConcurrentVerifyEmail},
		{"ResetPasswordConsumesTokens", testResetPasswordConsumesTokens},
		{"RemoveAllResetPasswordTokens", testRemoveAllResetPasswordTokens},
		{"UserFlags", testUserFlags},
		{"LinkService", testLinkService},
		{"SessionLifecycle", testSessionLifecycle},
		{"InvalidateSessionIsIdempotent", testInvalidateSessionIdempotent},
		{"InvalidateAllSessionsExcluding", testInvalidateAllExcluding},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func createUser(t *testing.T, db goAccounts.DatabaseInterface, username, email string) string {
	t.Helper()
	id, err := db.CreateUser(context.Background(), goAccounts.CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: "hash-" + username,
		Profile:      map[string]any{"name": username},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func testCreateAndFindUser(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "alice", "alice@example.com")

	u, err := db.FindUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)
	require.Equal(t, "alice", u.Username)
	require.Len(t, u.Emails, 1)
	require.Equal(t, "alice@example.com", u.Emails[0].Address)
	require.False(t, u.Emails[0].Verified)
	require.Equal(t, "hash-alice", u.Services.Password.Hash)
	require.Equal(t, "alice", u.Profile["name"])
	require.False(t, u.CreatedAt.IsZero())

	byName, err := db.FindUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	require.Equal(t, id, byName.ID)

	hash, err := db.FindPasswordHash(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "hash-alice", hash)

	noEmail := createUser(t, db, "carol", "")
	u, err = db.FindUserByID(ctx, noEmail)
	require.NoError(t, err)
	require.Empty(t, u.Emails)
}

func testMissingLookups(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()

	u, err := db.FindUserByID(ctx, "00000000-0000-4000-8000-000000000000")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByResetPasswordToken(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByEmailVerificationToken(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByServiceID(ctx, "github", "42")
	require.NoError(t, err)
	require.Nil(t, u)

	s, err := db.FindSessionByID(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = db.FindSessionByToken(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, s)
}

func testEmailsAreNormalized(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "mixed", "  John@Doe.COM ")

	u, err := db.FindUserByEmail(ctx, "john@doe.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)
	require.Equal(t, "john@doe.com", u.Emails[0].Address)

	u, err = db.FindUserByEmail(ctx, "JOHN@DOE.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)
}

func testUniqueness(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	createUser(t, db, "dup", "dup@example.com")

	_, err := db.CreateUser(ctx, goAccounts.CreateUserInput{Username: "other", Email: "DUP@example.com"})
	require.ErrorIs(t, err, goAccounts.ErrEmailTaken)

	_, err = db.CreateUser(ctx, goAccounts.CreateUserInput{Username: "dup", Email: "fresh@example.com"})
	require.ErrorIs(t, err, goAccounts.ErrUsernameTaken)

	second := createUser(t, db, "second", "second@example.com")
	require.ErrorIs(t, db.AddEmail(ctx, second, "dup@example.com", false), goAccounts.ErrEmailTaken)
	require.ErrorIs(t, db.SetUsername(ctx, second, "dup"), goAccounts.ErrUsernameTaken)
}

func testMutationsOnMissingUser(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	missing := "00000000-0000-4000-8000-000000000001"

	require.ErrorIs(t, db.SetPassword(ctx, missing, "h"), goAccounts.ErrUserNotFound)
	require.ErrorIs(t, db.SetUsername(ctx, missing, "ghost"), goAccounts.ErrUserNotFound)
	require.ErrorIs(t, db.AddEmail(ctx, missing, "ghost@example.com", false), goAccounts.ErrUserNotFound)
	require.ErrorIs(t, db.SetUserDeactivated(ctx, missing, true), goAccounts.ErrUserNotFound)
	require.ErrorIs(t, db.AddResetPasswordToken(ctx, missing, goAccounts.TokenRecord{
		Token: "t", Address: "ghost@example.com", When: time.Now(), Reason: goAccounts.ReasonReset,
	}), goAccounts.ErrUserNotFound)
}

func testSetUsernameAndPassword(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "before", "rename@example.com")

	require.NoError(t, db.SetUsername(ctx, id, "after"))
	u, err := db.FindUserByUsername(ctx, "after")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)

	u, err = db.FindUserByUsername(ctx, "before")
	require.NoError(t, err)
	require.Nil(t, u)

	require.NoError(t, db.SetPassword(ctx, id, "new-hash"))
	hash, err := db.FindPasswordHash(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "new-hash", hash)
}

func testAddRemoveEmail(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "emails", "first@example.com")

	require.NoError(t, db.AddEmail(ctx, id, "Second@Example.com", true))
	u, err := db.FindUserByEmail(ctx, "second@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	rec, ok := u.Email("second@example.com")
	require.True(t, ok)
	require.True(t, rec.Verified)

	require.NoError(t, db.RemoveEmail(ctx, id, "SECOND@example.com"))
	u, err = db.FindUserByEmail(ctx, "second@example.com")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, u.Emails, 1)
}

func testVerifyEmailDropsTokens(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "verify", "verify@example.com")
	require.NoError(t, db.AddEmail(ctx, id, "other@example.com", false))

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{Token: "v1", Address: "verify@example.com", When: now}))
	require.NoError(t, db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{Token: "v2", Address: "verify@example.com", When: now}))
	require.NoError(t, db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{Token: "v3", Address: "other@example.com", When: now}))

	u, err := db.FindUserByEmailVerificationToken(ctx, "v1")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)
	require.Len(t, u.Services.Email.VerificationTokens, 3)

	require.NoError(t, db.VerifyEmail(ctx, id, "verify@example.com", "v1"))

	u, err = db.FindUserByEmailVerificationToken(ctx, "v2")
	require.NoError(t, err)
	require.Nil(t, u)

	u, err = db.FindUserByEmailVerificationToken(ctx, "v3")
	require.NoError(t, err)
	require.NotNil(t, u)
	rec, ok := u.Email("verify@example.com")
	require.True(t, ok)
	require.True(t, rec.Verified)
}

func testVerifyEmailTokenSingleUse(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "once", "once@example.com")
	require.NoError(t, db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{
		Token: "v-once", Address: "once@example.com", When: time.Now(),
	}))

	err := db.VerifyEmail(ctx, id, "once@example.com", "unknown")
	require.ErrorIs(t, err, goAccounts.ErrTokenConsumed)
	u, err := db.FindUserByID(ctx, id)
	require.NoError(t, err)
	rec, ok := u.Email("once@example.com")
	require.True(t, ok)
	require.False(t, rec.Verified)

	require.NoError(t, db.VerifyEmail(ctx, id, "once@example.com", "v-once"))
	err = db.VerifyEmail(ctx, id, "once@example.com", "v-once")
	require.ErrorIs(t, err, goAccounts.ErrTokenConsumed)

	err = db.VerifyEmail(ctx, id, "nobody@example.com", "v-once")
	require.ErrorIs(t, err, goAccounts.ErrUserNotFound)

	require.NoError(t, db.VerifyEmail(ctx, id, "once@example.com", ""))
}

func testConcurrentVerifyEmail(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "racer", "racer@example.com")
	require.NoError(t, db.AddEmailVerificationToken(ctx, id, goAccounts.TokenRecord{
		Token: "v-race", Address: "racer@example.com", When: time.Now(),
	}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		consumed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.VerifyEmail(ctx, id, "racer@example.com", "v-race")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, goAccounts.ErrTokenConsumed):
				consumed++
			default:
				t.Errorf("VerifyEmail: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, winners)
	require.Equal(t, 7, consumed)
}

func testResetPasswordConsumesTokens(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "reset", "reset@example.com")

	when := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, db.AddResetPasswordToken(ctx, id, goAccounts.TokenRecord{
		Token: "r1", Address: "reset@example.com", When: when, Reason: goAccounts.ReasonReset,
	}))
	require.NoError(t, db.AddResetPasswordToken(ctx, id, goAccounts.TokenRecord{
		Token: "e1", Address: "reset@example.com", When: when, Reason: goAccounts.ReasonEnroll,
	}))

	u, err := db.FindUserByResetPasswordToken(ctx, "e1")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Len(t, u.Services.Password.Reset, 2)
	for _, r := range u.Services.Password.Reset {
		if r.Token == "e1" {
			require.Equal(t, goAccounts.ReasonEnroll, r.Reason)
			require.True(t, r.When.Equal(when), "when = %v, want %v", r.When, when)
		}
	}

	require.NoError(t, db.SetResetPassword(ctx, id, "reset@example.com", "reset-hash", "r1"))
	hash, err := db.FindPasswordHash(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "reset-hash", hash)

	u, err = db.FindUserByResetPasswordToken(ctx, "e1")
	require.NoError(t, err)
	require.Nil(t, u)

	err = db.SetResetPassword(ctx, id, "reset@example.com", "second-hash", "r1")
	require.ErrorIs(t, err, goAccounts.ErrTokenConsumed)
	hash, err = db.FindPasswordHash(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "reset-hash", hash)
}

func testRemoveAllResetPasswordTokens(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "purge", "purge@example.com")
	require.NoError(t, db.AddResetPasswordToken(ctx, id, goAccounts.TokenRecord{
		Token: "p1", Address: "purge@example.com", When: time.Now(), Reason: goAccounts.ReasonReset,
	}))
	require.NoError(t, db.RemoveAllResetPasswordTokens(ctx, id))

	u, err := db.FindUserByResetPasswordToken(ctx, "p1")
	require.NoError(t, err)
	require.Nil(t, u)
}

func testUserFlags(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "flags", "flags@example.com")

	require.NoError(t, db.SetUserDeactivated(ctx, id, true))
	require.NoError(t, db.SetTwoFactorSecret(ctx, id, "JBSWY3DPEHPK3PXP"))
	u, err := db.FindUserByID(ctx, id)
	require.NoError(t, err)
	require.True(t, u.Deactivated)
	require.Equal(t, "JBSWY3DPEHPK3PXP", u.Services.TwoFactor.Secret)

	require.NoError(t, db.SetUserDeactivated(ctx, id, false))
	require.NoError(t, db.SetTwoFactorSecret(ctx, id, ""))
	u, err = db.FindUserByID(ctx, id)
	require.NoError(t, err)
	require.False(t, u.Deactivated)
	require.Empty(t, u.Services.TwoFactor.Secret)
}

func testLinkService(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	id := createUser(t, db, "linked", "linked@example.com")
	require.NoError(t, db.LinkService(ctx, id, "github", "gh-42"))

	u, err := db.FindUserByServiceID(ctx, "github", "gh-42")
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, id, u.ID)

	u, err = db.FindUserByServiceID(ctx, "github", "gh-43")
	require.NoError(t, err)
	require.Nil(t, u)
}

func testSessionLifecycle(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	uid := createUser(t, db, "sess", "sess@example.com")

	sid, err := db.CreateSession(ctx, uid, "token-1", goAccounts.ConnectionInfo{IP: "10.0.0.1", UserAgent: "ua/1"},
		map[string]any{goAccounts.ExtraImpersonatorUserID: "admin-id"})
	require.NoError(t, err)
	require.NotEmpty(t, sid)

	s, err := db.FindSessionByID(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, uid, s.UserID)
	require.Equal(t, "token-1", s.Token)
	require.True(t, s.Valid)
	require.Equal(t, "10.0.0.1", s.IP)
	require.Equal(t, "ua/1", s.UserAgent)
	require.Equal(t, "admin-id", s.Extra[goAccounts.ExtraImpersonatorUserID])

	byToken, err := db.FindSessionByToken(ctx, "token-1")
	require.NoError(t, err)
	require.NotNil(t, byToken)
	require.Equal(t, sid, byToken.ID)

	require.NoError(t, db.UpdateSession(ctx, sid, goAccounts.ConnectionInfo{IP: "10.0.0.2", UserAgent: "ua/2"}))
	s, err = db.FindSessionByID(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2", s.IP)
	require.Equal(t, "ua/2", s.UserAgent)
	require.True(t, s.Valid)
}

func testInvalidateSessionIdempotent(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	uid := createUser(t, db, "idem", "idem@example.com")
	sid, err := db.CreateSession(ctx, uid, "token-idem", goAccounts.ConnectionInfo{}, nil)
	require.NoError(t, err)

	require.NoError(t, db.InvalidateSession(ctx, sid))
	require.NoError(t, db.InvalidateSession(ctx, sid))
	require.NoError(t, db.InvalidateSession(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV"))

	s, err := db.FindSessionByID(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.False(t, s.Valid)

	// Updating connection info never revives a session.
	_ = db.UpdateSession(ctx, sid, goAccounts.ConnectionInfo{IP: "10.1.1.1"})
	s, err = db.FindSessionByID(ctx, sid)
	require.NoError(t, err)
	require.False(t, s.Valid)
}

func testInvalidateAllExcluding(t *testing.T, db goAccounts.DatabaseInterface) {
	ctx := context.Background()
	uid := createUser(t, db, "bulk", "bulk@example.com")
	other := createUser(t, db, "bystander", "bystander@example.com")

	s1, err := db.CreateSession(ctx, uid, "bulk-1", goAccounts.ConnectionInfo{}, nil)
	require.NoError(t, err)
	s2, err := db.CreateSession(ctx, uid, "bulk-2", goAccounts.ConnectionInfo{}, nil)
	require.NoError(t, err)
	s3, err := db.CreateSession(ctx, uid, "bulk-3", goAccounts.ConnectionInfo{}, nil)
	require.NoError(t, err)
	so, err := db.CreateSession(ctx, other, "bystander-1", goAccounts.ConnectionInfo{}, nil)
	require.NoError(t, err)

	require.NoError(t, db.InvalidateAllSessions(ctx, uid, s2))

	want := map[string]bool{s1: false, s2: true, s3: false, so: true}
	for sid, valid := range want {
		s, err := db.FindSessionByID(ctx, sid)
		require.NoError(t, err)
		require.NotNil(t, s)
		require.Equal(t, valid, s.Valid, "session %s", sid)
	}
}
