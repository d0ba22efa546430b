package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newEdManager(t *testing.T, mutate func(*Config)) (*Manager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	cfg := Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "goaccounts",
		Audience:      "api",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, priv
}

func signAccess(t *testing.T, priv ed25519.PrivateKey, claims AccessClaims) string {
	t.Helper()
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	secret := []byte("secret-secret-secret-secret")
	cases := map[string]Config{
		"zero access ttl":   {RefreshTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: secret},
		"refresh < access":  {AccessTTL: time.Hour, RefreshTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: secret},
		"leeway too large":  {AccessTTL: time.Minute, RefreshTTL: time.Hour, Leeway: time.Hour, SigningMethod: MethodHS256, PrivateKey: secret},
		"hs256 missing key": {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodHS256},
		"unknown method":    {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: "rs512"},
		"ed25519 no verify": {AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519},
	}
	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected config rejection", name)
		}
	}
}

func TestCreatePairRoundTrip(t *testing.T) {
	m, _ := newEdManager(t, nil)

	access, refresh, err := m.CreatePair("sid-1", "uid-1", "opaque", true)
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}

	ac, err := m.ParseAccess(access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if ac.SID != "sid-1" || ac.UID != "uid-1" || !ac.Impersonated || ac.Subject != "uid-1" {
		t.Fatalf("unexpected access claims: %+v", ac)
	}

	rc, err := m.ParseRefresh(refresh)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if rc.SID != "sid-1" || rc.Token != "opaque" {
		t.Fatalf("unexpected refresh claims: %+v", rc)
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m, _ := newEdManager(t, nil)
	access, refresh, err := m.CreatePair("sid-1", "uid-1", "opaque", false)
	if err != nil {
		t.Fatalf("create pair: %v", err)
	}

	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected ErrTokenType for access as refresh, got %v", err)
	}
	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected ErrTokenType for refresh as access, got %v", err)
	}
	if _, err := m.ParseAccessAllowExpired(refresh); !errors.Is(err, ErrTokenType) {
		t.Fatalf("expected ErrTokenType for refresh as expired access, got %v", err)
	}
}

func TestParseAccessRejectsWrongAlgorithm(t *testing.T) {
	m, _ := newEdManager(t, nil)

	claims := AccessClaims{SID: "s1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
	if _, err := m.ParseAccessAllowExpired(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected when expiry is ignored")
	}
}

func TestParseAccessIssuerAudienceAndLeeway(t *testing.T) {
	m, priv := newEdManager(t, func(c *Config) { c.Leeway = 30 * time.Second })
	now := time.Now()

	base := func(iss, aud string, exp time.Duration) AccessClaims {
		return AccessClaims{SID: "s1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
			Issuer:    iss,
			Audience:  gjwt.ClaimStrings{aud},
			ExpiresAt: gjwt.NewNumericDate(now.Add(exp)),
			IssuedAt:  gjwt.NewNumericDate(now.Add(-3 * time.Minute)),
		}}
	}

	if _, err := m.ParseAccess(signAccess(t, priv, base("other", "api", time.Minute))); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}
	if _, err := m.ParseAccess(signAccess(t, priv, base("goaccounts", "other-api", time.Minute))); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
	if _, err := m.ParseAccess(signAccess(t, priv, base("goaccounts", "api", -15*time.Second))); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
	if _, err := m.ParseAccess(signAccess(t, priv, base("goaccounts", "api", -2*time.Minute))); err == nil {
		t.Fatal("expected expired token to fail")
	}
}

func TestParseAccessAllowExpired(t *testing.T) {
	m, priv := newEdManager(t, nil)
	now := time.Now()

	expired := signAccess(t, priv, AccessClaims{SID: "s1", UID: "u1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "goaccounts",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(-time.Hour)),
		IssuedAt:  gjwt.NewNumericDate(now.Add(-2 * time.Hour)),
	}})

	if _, err := m.ParseAccess(expired); err == nil {
		t.Fatal("expected expired token to fail full validation")
	}
	claims, err := m.ParseAccessAllowExpired(expired)
	if err != nil {
		t.Fatalf("expected expired token to pass when expiry is ignored: %v", err)
	}
	if claims.SID != "s1" {
		t.Fatalf("unexpected sid %q", claims.SID)
	}

	wrongIssuer := signAccess(t, priv, AccessClaims{SID: "s1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(-time.Hour)),
	}})
	if _, err := m.ParseAccessAllowExpired(wrongIssuer); !errors.Is(err, gjwt.ErrTokenInvalidIssuer) {
		t.Fatalf("expected issuer check to still apply, got %v", err)
	}

	noSID := signAccess(t, priv, AccessClaims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:   "goaccounts",
		Audience: gjwt.ClaimStrings{"api"},
	}})
	if _, err := m.ParseAccessAllowExpired(noSID); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("expected ErrMissingSessionID, got %v", err)
	}
}

func TestParseAccessUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{SID: "s1", Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))}}
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	tok2 := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	tok2.Header["kid"] = "k1"
	good, _ := tok2.SignedString(priv1)
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{AccessTTL: time.Minute, RefreshTTL: time.Hour, SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k2": pub2}})
	if _, err := m2.ParseAccess(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestUnverifiedExpiry(t *testing.T) {
	m, _ := newEdManager(t, nil)
	before := time.Now().Add(time.Minute).Add(-time.Second)
	access, err := m.CreateAccess("s1", "u1", false)
	if err != nil {
		t.Fatalf("create access: %v", err)
	}
	exp, err := UnverifiedExpiry(access)
	if err != nil {
		t.Fatalf("unverified expiry: %v", err)
	}
	if exp.Before(before) || exp.After(time.Now().Add(time.Minute+time.Second)) {
		t.Fatalf("unexpected expiry %s", exp)
	}
	if _, err := UnverifiedExpiry("garbage"); err == nil {
		t.Fatal("expected malformed token to fail")
	}
}

func TestSameSessionToken(t *testing.T) {
	if !SameSessionToken("abc", "abc") {
		t.Fatal("expected equal tokens to match")
	}
	if SameSessionToken("abc", "abd") || SameSessionToken("abc", "") {
		t.Fatal("expected different tokens to differ")
	}
}
