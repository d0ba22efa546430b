package goAccounts

import (
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(strings.Repeat("k", 32))
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with key", mutate: func(c *Config) {}, wantValid: true},
		{name: "missing hs256 key", mutate: func(c *Config) { c.JWT.PrivateKey = nil }, wantValid: false},
		{name: "jwt leeway valid", mutate: func(c *Config) { c.JWT.Leeway = 45 * time.Second }, wantValid: true},
		{name: "jwt leeway invalid", mutate: func(c *Config) { c.JWT.Leeway = 3 * time.Minute }, wantValid: false},
		{name: "jwt audience blank invalid", mutate: func(c *Config) { c.JWT.Audience = "   " }, wantValid: false},
		{name: "jwt signing invalid", mutate: func(c *Config) { c.JWT.SigningMethod = "rs256" }, wantValid: false},
		{
			name: "ed25519 without public key",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
			},
			wantValid: false,
		},
		{
			name: "refresh shorter than access",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = time.Hour
				c.JWT.RefreshTTL = time.Minute
			},
			wantValid: false,
		},
		{name: "token bytes too small", mutate: func(c *Config) { c.Session.TokenBytes = 8 }, wantValid: false},
		{name: "relative site url", mutate: func(c *Config) { c.Mail.SiteURL = "/reset" }, wantValid: false},
		{name: "empty site url allowed", mutate: func(c *Config) { c.Mail.SiteURL = "" }, wantValid: true},
		{
			name: "audit buffer zero",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "latency histograms need metrics",
			mutate: func(c *Config) {
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: false,
		},
		{
			name: "production requires https",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
			},
			wantValid: false,
		},
		{
			name: "production with https",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Mail.SiteURL = "https://app.example.com"
			},
			wantValid: true,
		},
		{
			name: "production short hs256 key",
			mutate: func(c *Config) {
				c.Security.ProductionMode = true
				c.Mail.SiteURL = "https://app.example.com"
				c.JWT.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.VerifyKeys = map[string][]byte{"k1": []byte("abc")}

	out := cloneConfig(cfg)
	out.JWT.PrivateKey[0] = 'x'
	out.JWT.VerifyKeys["k1"][0] = 'z'

	if cfg.JWT.PrivateKey[0] != 'k' {
		t.Fatal("private key shared between clones")
	}
	if cfg.JWT.VerifyKeys["k1"][0] != 'a' {
		t.Fatal("verify keys shared between clones")
	}
}
