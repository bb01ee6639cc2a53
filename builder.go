package credlock

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/credlock/credlock/password"
	"github.com/credlock/credlock/ratelimit"
	"github.com/credlock/credlock/secrets"
)

// Builder assembles an Engine. Required: the four stores and a secret key
// for encrypting TOTP keys and recovery codes at rest. Everything else has
// a default.
type Builder struct {
	config Config

	users         UserStore
	sessions      SessionStore
	resetSessions ResetSessionStore
	verifications VerificationStore
	mailer        Mailer

	logger    *zap.Logger
	auditSink AuditSink
	secretKey []byte

	built bool
}

// New returns a Builder carrying DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithUserStore(s UserStore) *Builder {
	b.users = s
	return b
}

func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithResetSessionStore(s ResetSessionStore) *Builder {
	b.resetSessions = s
	return b
}

func (b *Builder) WithVerificationStore(s VerificationStore) *Builder {
	b.verifications = s
	return b
}

// WithMailer sets the code delivery collaborator. Defaults to a LogMailer,
// which is only suitable outside production.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithSecretKey sets the 16-byte AES key protecting TOTP keys and recovery
// codes at rest.
func (b *Builder) WithSecretKey(key []byte) *Builder {
	b.secretKey = key
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and collaborators and wires the Engine.
// A Builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	cfg := b.config
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	if b.users == nil {
		return nil, fmt.Errorf("%w: user store required", ErrEngineNotReady)
	}
	if b.sessions == nil {
		return nil, fmt.Errorf("%w: session store required", ErrEngineNotReady)
	}
	if b.resetSessions == nil {
		return nil, fmt.Errorf("%w: reset session store required", ErrEngineNotReady)
	}
	if b.verifications == nil {
		return nil, fmt.Errorf("%w: verification store required", ErrEngineNotReady)
	}

	cipher, err := secrets.NewCipher(b.secretKey)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(cfg.Password)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = NewLogMailer(logger)
	}

	rl := cfg.RateLimit
	ev := cfg.EmailVerification
	e := &Engine{
		config:        cfg,
		users:         b.users,
		sessions:      b.sessions,
		resetSessions: b.resetSessions,
		verifications: b.verifications,
		mailer:        mailer,

		hasher:  hasher,
		cipher:  cipher,
		logger:  logger,
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),

		globalBucket:     ratelimit.NewRefillingTokenBucket[string](rl.Global.Capacity, rl.Global.RefillInterval),
		loginBucket:      ratelimit.NewRefillingTokenBucket[string](rl.LoginIP.Capacity, rl.LoginIP.RefillInterval),
		registerBucket:   ratelimit.NewRefillingTokenBucket[string](rl.RegisterIP.Capacity, rl.RegisterIP.RefillInterval),
		resetEmailBucket: ratelimit.NewRefillingTokenBucket[string](rl.ResetEmailIP.Capacity, rl.ResetEmailIP.RefillInterval),
		totpBucket:       ratelimit.NewExpiringTokenBucket[string](rl.TOTPAttempts.Attempts, rl.TOTPAttempts.Window),
		recoveryBucket:   ratelimit.NewExpiringTokenBucket[string](rl.RecoveryCode.Attempts, rl.RecoveryCode.Window),
		resendBucket:     ratelimit.NewExpiringTokenBucket[string](ev.ResendAttempts, ev.ResendWindow),
		verifyBucket:     ratelimit.NewExpiringTokenBucket[string](ev.VerifyAttempts, ev.VerifyWindow),

		now: time.Now,
	}

	return e, nil
}
