package goAccounts

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds every engine setting. Start from [DefaultConfig] and override
// the fields you need.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT      JWTConfig
	Session  SessionConfig
	Mail     MailConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls signing and lifetime of the access/refresh pair.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the opaque session token.
type SessionConfig struct {
	TokenBytes int
}

/*
====================================
MAIL CONFIG
====================================
*/

// MailConfig is used by [Engine.PrepareMail] to address outgoing mail and
// build the links embedded in it.
type MailConfig struct {
	From    string
	SiteURL string
}

// AuditConfig controls the async audit and notification dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the error policy and production guard rails.
//
// AmbiguousErrorMessages collapses user-enumeration signals: login failures
// become [ErrInvalidCredentials], unknown addresses on mail requests succeed
// silently and duplicate sign-ups return an empty id without error.
type SecurityConfig struct {
	AmbiguousErrorMessages bool
	ProductionMode         bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     90 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "goaccounts",
		},
		Session: SessionConfig{
			TokenBytes: 32,
		},
		Mail: MailConfig{
			From:    "accounts@localhost",
			SiteURL: "http://localhost:3000",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			AmbiguousErrorMessages: false,
			ProductionMode:         false,
		},
	}
}

// DefaultConfig returns the configuration used when none is supplied. The
// JWT key is left empty and must be set before [Builder.Build].
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for internal consistency. [Builder.Build]
// calls it before constructing an engine.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
		return errors.New("ed25519 requires PublicKey or VerifyKeys")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.TokenBytes < 16 {
		return errors.New("Session TokenBytes must be >= 16")
	}

	// Mail
	if strings.TrimSpace(c.Mail.SiteURL) != "" {
		u, err := url.Parse(c.Mail.SiteURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Mail SiteURL must be an absolute URL")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 2*time.Hour {
			return errors.New("ProductionMode requires JWT AccessTTL <= 2h")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if !strings.HasPrefix(c.Mail.SiteURL, "https://") {
			return errors.New("ProductionMode requires an https Mail SiteURL")
		}
	}

	return nil
}
