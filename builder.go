package goAccounts

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/goAccounts/internal/audit"
	"github.com/MrEthical07/goAccounts/jwt"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. It is single use.
type Builder struct {
	config Config
	db     DatabaseInterface

	auditSink AuditSink
	logger    *zap.Logger
	mailer    Mailer

	impersonationAuthorizer ImpersonationAuthorizer
	resumeValidator         ResumeSessionValidator
	userSanitizer           UserSanitizer
	clock                   func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithDatabase sets the storage backend. Required.
func (b *Builder) WithDatabase(db DatabaseInterface) *Builder {
	b.db = db
	return b
}

// WithAuditSink sets where audit events and notifications are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMailer sets the mail collaborator. Defaults to [LogMailer].
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithImpersonationAuthorizer sets the predicate deciding whether one user may
// impersonate another. Without it every impersonation is unauthorized.
func (b *Builder) WithImpersonationAuthorizer(fn ImpersonationAuthorizer) *Builder {
	b.impersonationAuthorizer = fn
	return b
}

// WithResumeSessionValidator sets an extra check run by [Engine.ResumeSession].
func (b *Builder) WithResumeSessionValidator(fn ResumeSessionValidator) *Builder {
	b.resumeValidator = fn
	return b
}

// WithUserSanitizer sets a transform applied after the built-in credential
// stripping whenever a user leaves the engine.
func (b *Builder) WithUserSanitizer(fn UserSanitizer) *Builder {
	b.userSanitizer = fn
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithAmbiguousErrorMessages toggles ambiguous error mode.
func (b *Builder) WithAmbiguousErrorMessages(enabled bool) *Builder {
	b.config.Security.AmbiguousErrorMessages = enabled
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the resume latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and dependencies and returns a ready
// engine. A Builder cannot be reused.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.db == nil {
		return nil, errors.New("database required")
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = LogMailer{Logger: logger}
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:                 cfg,
		db:                     b.db,
		jwtManager:             jm,
		metrics:                NewMetrics(cfg.Metrics),
		logger:                 logger,
		mailer:                 mailer,
		authorizeImpersonation: b.impersonationAuthorizer,
		resumeValidator:        b.resumeValidator,
		userSanitizer:          b.userSanitizer,
		now:                    now,
		services:               make(map[string]AuthenticationService),
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
