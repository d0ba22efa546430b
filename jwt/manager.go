package jwt

import (
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the JWS algorithm used for both tokens of a pair.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Ed25519 keys.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using PrivateKey as the shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// TokenType distinguishes access from refresh tokens so one can never be
// presented in place of the other.
type TokenType string

const (
	// TypeAccess marks short-lived request tokens.
	TypeAccess TokenType = "access"
	// TypeRefresh marks tokens that may only mint a new pair.
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrTokenType is returned when a token of the wrong type is presented.
	ErrTokenType = errors.New("unexpected token type")
	// ErrMissingSessionID is returned when a token carries no session id.
	ErrMissingSessionID = errors.New("token has no session id")
)

// Config holds signing keys and validation rules for a token pair.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
	// Now overrides the clock used for issuing and validating; nil means time.Now.
	Now func() time.Time
}

// Manager issues and verifies access/refresh pairs.
//
// Manager is safe for concurrent use.
type Manager struct {
	config Config
	now    func() time.Time
}

// AccessClaims is the payload of an access token. SID is the session id the
// token resolves to; Impersonated marks tokens minted by impersonation.
type AccessClaims struct {
	SID          string    `json:"sid"`
	UID          string    `json:"uid"`
	Impersonated bool      `json:"imp,omitempty"`
	Type         TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. Token is the opaque session
// token stored with the session record.
type RefreshClaims struct {
	SID   string    `json:"sid"`
	Token string    `json:"tkn"`
	Type  TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a [Manager].
//
// NewManager may return an error when TTLs, leeway, or key material are invalid.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// CreateAccess signs an access token for session sid owned by uid.
func (j *Manager) CreateAccess(sid, uid string, impersonated bool) (string, error) {
	now := j.now()
	claims := AccessClaims{
		SID:          sid,
		UID:          uid,
		Impersonated: impersonated,
		Type:         TypeAccess,
		RegisteredClaims: j.registered(uid, now, j.config.AccessTTL),
	}
	return j.sign(claims)
}

// CreateRefresh signs a refresh token binding session sid to its opaque
// session token.
func (j *Manager) CreateRefresh(sid, sessionToken string) (string, error) {
	now := j.now()
	claims := RefreshClaims{
		SID:              sid,
		Token:            sessionToken,
		Type:             TypeRefresh,
		RegisteredClaims: j.registered("", now, j.config.RefreshTTL),
	}
	return j.sign(claims)
}

// CreatePair signs both tokens for one session.
func (j *Manager) CreatePair(sid, uid, sessionToken string, impersonated bool) (access, refresh string, err error) {
	access, err = j.CreateAccess(sid, uid, impersonated)
	if err != nil {
		return "", "", err
	}
	refresh, err = j.CreateRefresh(sid, sessionToken)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// ParseAccess verifies signature, issuer, audience, and expiry of an access
// token.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, j.parserOptions()...); err != nil {
		return nil, err
	}
	if err := j.checkAccess(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseAccessAllowExpired verifies an access token's signature, issuer, and
// audience but accepts it after expiry. Refresh uses it to recover the session
// id from a token that has timed out.
func (j *Manager) ParseAccessAllowExpired(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithoutClaimsValidation(),
	}
	if err := j.parse(tokenStr, claims, opts...); err != nil {
		return nil, err
	}
	if err := j.checkIssuerAudience(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	if err := j.checkAccess(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token including expiry.
func (j *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, j.parserOptions()...); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, ErrTokenType
	}
	if claims.SID == "" || claims.Token == "" {
		return nil, ErrMissingSessionID
	}
	return claims, nil
}

// SameSessionToken compares two opaque session tokens in constant time.
func SameSessionToken(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// UnverifiedExpiry decodes the exp claim without verifying the signature.
// Clients use it to decide whether a refresh round trip is needed; it must
// never be used to authorize anything.
func UnverifiedExpiry(tokenStr string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

func (j *Manager) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    j.config.Issuer,
	}
	if j.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{j.config.Audience}
	}
	return rc
}

func (j *Manager) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

func (j *Manager) parserOptions() []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}
	return options
}

func (j *Manager) parse(tokenStr string, claims jwt.Claims, options ...jwt.ParserOption) error {
	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, j.keyFunc)
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return err
	}
	if iat != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := j.now().Add(j.config.MaxFutureIAT)
		if iat.Time.After(maxAllowed) {
			return errors.New("token iat too far in the future")
		}
	}
	return nil
}

func (j *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != j.getMethod().Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}

	if len(j.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := j.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return j.keyBytesToVerifyKey(key)
	}

	if j.config.KeyID != "" {
		kid, _ := t.Header["kid"].(string)
		if kid != j.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}

	return j.getVerifyKey()
}

func (j *Manager) checkAccess(claims *AccessClaims) error {
	if claims.Type != TypeAccess {
		return ErrTokenType
	}
	if claims.SID == "" {
		return ErrMissingSessionID
	}
	return nil
}

func (j *Manager) checkIssuerAudience(rc jwt.RegisteredClaims) error {
	if j.config.Issuer != "" && rc.Issuer != j.config.Issuer {
		return jwt.ErrTokenInvalidIssuer
	}
	if j.config.Audience != "" && !slices.Contains([]string(rc.Audience), j.config.Audience) {
		return jwt.ErrTokenInvalidAudience
	}
	return nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("ed25519 private key not configured")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
