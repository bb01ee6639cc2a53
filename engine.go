package credlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/credlock/credlock/internal"
	"github.com/credlock/credlock/password"
	"github.com/credlock/credlock/ratelimit"
	"github.com/credlock/credlock/secrets"
)

// Engine is the credential and session lifecycle core. It owns all temporal
// logic (lazy expiry, sliding renewal, flow TTLs) and per-key throttling;
// the stores behind it are plain CRUD. Build one with New().Build() and
// share it; all methods are safe for concurrent use.
type Engine struct {
	config Config

	users         UserStore
	sessions      SessionStore
	resetSessions ResetSessionStore
	verifications VerificationStore
	mailer        Mailer

	hasher  *password.Argon2
	cipher  *secrets.Cipher
	logger  *zap.Logger
	audit   *auditDispatcher
	metrics *Metrics

	globalBucket     *ratelimit.RefillingTokenBucket[string]
	loginBucket      *ratelimit.RefillingTokenBucket[string]
	registerBucket   *ratelimit.RefillingTokenBucket[string]
	resetEmailBucket *ratelimit.RefillingTokenBucket[string]
	totpBucket       *ratelimit.ExpiringTokenBucket[string]
	recoveryBucket   *ratelimit.ExpiringTokenBucket[string]
	resendBucket     *ratelimit.ExpiringTokenBucket[string]
	verifyBucket     *ratelimit.ExpiringTokenBucket[string]

	// now is the engine clock; tests substitute it.
	now func() time.Time
}

// AuthResult is what a successful Register, Login, or CompletePasswordReset
// hands back: the raw bearer token (shown once, never stored) and the
// session and user rows behind it.
type AuthResult struct {
	Token   string
	Session *Session
	User    *User
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatch queue was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// wrapStore marks a backend failure so callers can match ErrStoreUnavailable
// while the underlying cause stays in the message.
func wrapStore(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// AllowGlobalGET charges the global per-IP bucket for a read request. An
// empty IP means no limiting.
func (e *Engine) AllowGlobalGET(clientIP string) bool {
	if clientIP == "" {
		return true
	}
	if !e.globalBucket.Consume(clientIP, 1) {
		e.metricInc(MetricRateLimitHit)
		return false
	}
	return true
}

// AllowGlobalPOST charges the global per-IP bucket for a mutating request,
// at triple the read cost.
func (e *Engine) AllowGlobalPOST(clientIP string) bool {
	if clientIP == "" {
		return true
	}
	if !e.globalBucket.Consume(clientIP, 3) {
		e.metricInc(MetricRateLimitHit)
		return false
	}
	return true
}

// GenerateSessionToken returns a fresh opaque bearer token. The caller hands
// it to CreateSession and then delivers it to the client; the engine keeps
// only its hash.
func (e *Engine) GenerateSessionToken() (string, error) {
	return internal.NewSessionToken()
}

// CreateSession stores a session for token with the configured lifetime.
func (e *Engine) CreateSession(ctx context.Context, token, userID string, flags SessionFlags) (*Session, error) {
	s := &Session{
		ID:                internal.SessionIDFromToken(token),
		UserID:            userID,
		ExpiresAt:         e.now().Add(e.config.Session.Lifetime),
		TwoFactorVerified: flags.TwoFactorVerified,
	}
	if err := e.sessions.InsertSession(ctx, s); err != nil {
		return nil, wrapStore(err)
	}
	e.metricInc(MetricSessionCreated)
	return s, nil
}

// ValidateSessionToken resolves a bearer token to its session and user.
// Expired sessions are deleted on read and reported as ErrSessionNotFound.
// A validation within the renewal window extends expiry to now+Lifetime.
// With a WithRequestCache context the result is memoized for the request.
func (e *Engine) ValidateSessionToken(ctx context.Context, token string) (*Session, *User, error) {
	id := internal.SessionIDFromToken(token)

	cache := requestCacheFromContext(ctx)
	if cache != nil {
		if entry, ok := cache.lookup(id); ok {
			return entry.session, entry.user, entry.err
		}
	}

	session, user, err := e.validateSessionID(ctx, id)
	if cache != nil {
		cache.store(id, sessionCacheEntry{session: session, user: user, err: err})
	}
	return session, user, err
}

func (e *Engine) validateSessionID(ctx context.Context, id string) (*Session, *User, error) {
	session, err := e.sessions.Session(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, wrapStore(err)
	}

	now := e.now()
	if !now.Before(session.ExpiresAt) {
		if err := e.sessions.DeleteSession(ctx, id); err != nil {
			return nil, nil, wrapStore(err)
		}
		e.metricInc(MetricSessionExpired)
		return nil, nil, ErrSessionNotFound
	}

	user, err := e.users.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Orphaned session; drop it.
			_ = e.sessions.DeleteSession(ctx, id)
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, wrapStore(err)
	}

	if session.ExpiresAt.Sub(now) <= e.config.Session.RenewalWindow {
		session.ExpiresAt = now.Add(e.config.Session.Lifetime)
		if err := e.sessions.UpdateSessionExpiry(ctx, id, session.ExpiresAt); err != nil {
			return nil, nil, wrapStore(err)
		}
		e.metricInc(MetricSessionRenewed)
	}

	return session, user, nil
}

// SetSessionTwoFactorVerified flips the session's 2FA flag after a
// successful TOTP entry.
func (e *Engine) SetSessionTwoFactorVerified(ctx context.Context, sessionID string) error {
	if err := e.sessions.SetSessionTwoFactorVerified(ctx, sessionID); err != nil {
		return wrapStore(err)
	}
	return nil
}

// InvalidateSession deletes one session (logout).
func (e *Engine) InvalidateSession(ctx context.Context, sessionID string) error {
	if err := e.sessions.DeleteSession(ctx, sessionID); err != nil {
		return wrapStore(err)
	}
	e.metricInc(MetricSessionInvalidated)
	e.emitAudit(ctx, newAuditEvent("session_invalidated", true))
	return nil
}

// InvalidateUserSessions deletes every session of a user (logout
// everywhere).
func (e *Engine) InvalidateUserSessions(ctx context.Context, userID string) error {
	if err := e.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return wrapStore(err)
	}
	e.metricInc(MetricSessionInvalidated)

	event := newAuditEvent("user_sessions_invalidated", true)
	event.UserID = userID
	e.emitAudit(ctx, event)
	return nil
}

func (e *Engine) createAuthSession(ctx context.Context, userID string, flags SessionFlags) (string, *Session, error) {
	token, err := e.GenerateSessionToken()
	if err != nil {
		return "", nil, err
	}
	session, err := e.CreateSession(ctx, token, userID, flags)
	if err != nil {
		return "", nil, err
	}
	return token, session, nil
}
