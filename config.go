package credlock

import (
	"errors"
	"time"

	"github.com/credlock/credlock/password"
)

// Config carries the engine's policy values. Construct with DefaultConfig
// and treat as immutable after Build; the defaults are the product policy
// and are not expected to vary per deployment.
type Config struct {
	Session           SessionConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	RateLimit         RateLimitConfig
	TOTP              TOTPConfig
	Password          password.Config
	Audit             AuditConfig
	Metrics           MetricsConfig
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled bool
	// BufferSize bounds the dispatch queue.
	BufferSize int
	// DropIfFull makes Emit non-blocking: events beyond the buffer are
	// counted and discarded instead of stalling the hot path.
	DropIfFull bool
}

// MetricsConfig controls the in-process counter vector.
type MetricsConfig struct {
	Enabled bool
}

// SessionConfig controls login session lifetime and sliding renewal.
type SessionConfig struct {
	// Lifetime is the absolute session lifetime granted at creation and at
	// each renewal.
	Lifetime time.Duration
	// RenewalWindow is how much remaining lifetime triggers renewal: a
	// validation inside the last RenewalWindow extends expiry to
	// now+Lifetime. Renewal happens lazily, only on active use.
	RenewalWindow time.Duration
}

// PasswordResetConfig controls the reset session flow.
type PasswordResetConfig struct {
	SessionTTL time.Duration
	CodeLength int
}

// EmailVerificationConfig controls the verification request flow.
type EmailVerificationConfig struct {
	RequestTTL time.Duration
	CodeLength int
	// ResendAttempts/ResendWindow bound how often a user can request a new
	// code (expiring bucket keyed by user id).
	ResendAttempts int
	ResendWindow   time.Duration
	// VerifyAttempts/VerifyWindow bound code submissions per user.
	VerifyAttempts int
	VerifyWindow   time.Duration
}

// BucketConfig describes one refilling token bucket policy.
type BucketConfig struct {
	Capacity       int
	RefillInterval time.Duration
}

// AttemptConfig describes one expiring attempt counter policy.
type AttemptConfig struct {
	Attempts int
	Window   time.Duration
}

// RateLimitConfig fixes the per-operation throttling policy. All buckets
// are process-local and keyed by client IP or user id.
type RateLimitConfig struct {
	Global       BucketConfig
	LoginIP      BucketConfig
	RegisterIP   BucketConfig
	ResetEmailIP BucketConfig
	TOTPAttempts AttemptConfig
	RecoveryCode AttemptConfig
}

// TOTPConfig controls TOTP verification and enrollment.
type TOTPConfig struct {
	Issuer string
	Period uint
	Digits int
	// Skew is how many adjacent periods are accepted around now.
	Skew uint
}

// DefaultConfig returns the fixed product policy: 30-day sessions renewed
// in their last 15 days, 10-minute reset and verification windows, 8-char
// codes, and the bucket sizes the flows were designed around.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Lifetime:      30 * 24 * time.Hour,
			RenewalWindow: 15 * 24 * time.Hour,
		},
		PasswordReset: PasswordResetConfig{
			SessionTTL: 10 * time.Minute,
			CodeLength: 8,
		},
		EmailVerification: EmailVerificationConfig{
			RequestTTL:     10 * time.Minute,
			CodeLength:     8,
			ResendAttempts: 3,
			ResendWindow:   10 * time.Minute,
			VerifyAttempts: 5,
			VerifyWindow:   30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Global:       BucketConfig{Capacity: 100, RefillInterval: time.Second},
			LoginIP:      BucketConfig{Capacity: 20, RefillInterval: time.Second},
			RegisterIP:   BucketConfig{Capacity: 3, RefillInterval: 10 * time.Second},
			ResetEmailIP: BucketConfig{Capacity: 3, RefillInterval: time.Minute},
			TOTPAttempts: AttemptConfig{Attempts: 5, Window: 30 * time.Minute},
			RecoveryCode: AttemptConfig{Attempts: 3, Window: time.Hour},
		},
		TOTP: TOTPConfig{
			Issuer: "credlock",
			Period: 30,
			Digits: 6,
			Skew:   1,
		},
		Password: password.Config{
			Memory:      19 * 1024,
			Time:        2,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func validateConfig(cfg Config) error {
	if cfg.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if cfg.Session.RenewalWindow <= 0 || cfg.Session.RenewalWindow > cfg.Session.Lifetime {
		return errors.New("session renewal window must be within the lifetime")
	}
	if cfg.PasswordReset.SessionTTL <= 0 || cfg.EmailVerification.RequestTTL <= 0 {
		return errors.New("flow TTLs must be positive")
	}
	if cfg.PasswordReset.CodeLength < 6 || cfg.EmailVerification.CodeLength < 6 {
		return errors.New("code length must be at least 6")
	}
	for _, b := range []BucketConfig{
		cfg.RateLimit.Global, cfg.RateLimit.LoginIP,
		cfg.RateLimit.RegisterIP, cfg.RateLimit.ResetEmailIP,
	} {
		if b.Capacity <= 0 || b.RefillInterval <= 0 {
			return errors.New("bucket capacity and refill interval must be positive")
		}
	}
	for _, a := range []AttemptConfig{
		cfg.RateLimit.TOTPAttempts,
		cfg.RateLimit.RecoveryCode,
		{Attempts: cfg.EmailVerification.ResendAttempts, Window: cfg.EmailVerification.ResendWindow},
		{Attempts: cfg.EmailVerification.VerifyAttempts, Window: cfg.EmailVerification.VerifyWindow},
	} {
		if a.Attempts <= 0 || a.Window <= 0 {
			return errors.New("attempt limits and windows must be positive")
		}
	}
	if cfg.TOTP.Period == 0 || cfg.TOTP.Digits <= 0 {
		return errors.New("totp period and digits must be positive")
	}
	return nil
}
