package authcore

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/templeworks/authcore/internal/audit"
	"github.com/templeworks/authcore/kv"
	"github.com/templeworks/authcore/password"
	"github.com/templeworks/authcore/token"
)

// Builder assembles an [Engine]. An AccountStore is mandatory; everything
// else has a default: in-memory keyed store, no-op mailer, real clock,
// crypto/rand, silent logger, discarded audit events.
type Builder struct {
	config    Config
	hasConfig bool

	accounts  AccountStore
	store     kv.Store
	mailer    Mailer
	auditSink AuditSink
	clock     clockwork.Clock
	random    io.Reader
	logger    zerolog.Logger
	hasLogger bool
}

// New returns a Builder primed with [DefaultConfig].
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.hasConfig = true
	return b
}

// WithAccountStore sets the persistence boundary. Required.
func (b *Builder) WithAccountStore(accounts AccountStore) *Builder {
	b.accounts = accounts
	return b
}

// WithStore sets the keyed TTL store for codes, tokens and counters.
func (b *Builder) WithStore(store kv.Store) *Builder {
	b.store = store
	return b
}

// WithRedis is shorthand for WithStore on a Redis-backed store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.store = kv.NewRedis(client, "authcore")
	return b
}

// WithMailer sets the outbound mail boundary.
func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

// WithAuditSink directs audit events somewhere durable.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock injects a clock. Tests pass a fake to drive expiry.
func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

// WithRandom injects the randomness source for codes and tokens.
func (b *Builder) WithRandom(random io.Reader) *Builder {
	b.random = random
	return b
}

// WithLogger sets the structured logger.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	b.hasLogger = true
	return b
}

// Build validates the configuration and wires the engine. Configuration
// violations come back wrapped in ErrConfiguration and must be treated as
// fatal: an engine that failed to build must not serve logins.
func (b *Builder) Build() (*Engine, error) {
	if b.accounts == nil {
		return nil, fmt.Errorf("%w: account store is required", ErrNotReady)
	}

	cfg := b.config
	if !b.hasConfig {
		cfg = DefaultConfig()
	}
	if !cfg.ProductionMode {
		cfg.applyDevelopmentFallbacks()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	random := b.random
	if random == nil {
		random = rand.Reader
	}
	logger := b.logger
	if !b.hasLogger {
		logger = zerolog.Nop()
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = NoOpMailer{}
	}

	engine := &Engine{
		config:   cfg,
		policy:   sessionPolicy{overrides: cfg.Session.Timeouts},
		accounts: b.accounts,
		mailer:   mailer,
		clock:    clock,
		random:   random,
		logger:   logger,
	}

	engine.store = b.store
	if engine.store == nil {
		memory := kv.NewMemory(clock)
		memory.StartJanitor(cfg.OTP.CleanupInterval)
		engine.store = memory
		engine.ownedStore = memory
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	engine.hasher = hasher

	engine.tokens, err = token.NewManager(token.Config{
		AccessSecret:  []byte(cfg.Secrets.AccessToken),
		RefreshSecret: []byte(cfg.Secrets.RefreshToken),
		Issuer:        cfg.Session.Issuer,
		Leeway:        cfg.Session.Leeway,
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	engine.twoFactor, err = newTwoFactorManager(cfg.TwoFactor, cfg.Secrets.TwoFactorKey, random)
	if err != nil {
		return nil, err
	}

	engine.otp = &otpManager{
		store:  engine.store,
		random: random,
		config: cfg.OTP,
		logger: logger,
	}

	engine.lockout = &lockoutGuard{
		accounts: b.accounts,
		clock:    clock,
		config:   cfg.Lockout,
	}

	engine.audit = audit.NewDispatcher(b.auditSink, cfg.Audit.BufferSize)

	return engine, nil
}
