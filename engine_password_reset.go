package credlock

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/credlock/credlock/internal"
)

// ResetFlowStart is what ForgotPassword hands back: the raw flow token
// (delivered to the client, never stored) and the session behind it.
type ResetFlowStart struct {
	Token   string
	Session *PasswordResetSession
}

// ForgotPassword opens a password reset session for the account behind
// email and mails its one-time code. Any prior reset sessions of the user
// are invalidated first; a user has at most one live reset flow.
func (e *Engine) ForgotPassword(ctx context.Context, email string) (*ResetFlowStart, error) {
	ip := ClientIPFromContext(ctx)
	if ip != "" && !e.resetEmailBucket.Check(ip, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, ErrRateLimited
	}

	user, err := e.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, wrapStore(err)
	}

	if ip != "" && !e.resetEmailBucket.Consume(ip, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, ErrRateLimited
	}

	if err := e.resetSessions.DeleteUserResetSessions(ctx, user.ID); err != nil {
		return nil, wrapStore(err)
	}

	token, err := internal.NewSessionToken()
	if err != nil {
		return nil, err
	}
	code, err := internal.NewOTP(e.config.PasswordReset.CodeLength)
	if err != nil {
		return nil, err
	}

	session := &PasswordResetSession{
		ID:        internal.SessionIDFromToken(token),
		UserID:    user.ID,
		Email:     user.Email,
		Code:      code,
		ExpiresAt: e.now().Add(e.config.PasswordReset.SessionTTL),
	}
	if err := e.resetSessions.InsertResetSession(ctx, session); err != nil {
		return nil, wrapStore(err)
	}

	e.mailer.SendPasswordResetCode(user.Email, code)

	e.metricInc(MetricPasswordResetRequest)
	event := newAuditEvent("password_reset_requested", true)
	event.UserID = user.ID
	e.emitAudit(ctx, event)

	return &ResetFlowStart{Token: token, Session: session}, nil
}

// ValidatePasswordResetSessionToken resolves a reset flow token. Expired
// sessions are deleted on read; a missing or expired session is
// ErrNotAuthenticated.
func (e *Engine) ValidatePasswordResetSessionToken(ctx context.Context, token string) (*PasswordResetSession, *User, error) {
	id := internal.SessionIDFromToken(token)

	session, err := e.resetSessions.ResetSession(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil, ErrNotAuthenticated
		}
		return nil, nil, wrapStore(err)
	}

	if !e.now().Before(session.ExpiresAt) {
		if err := e.resetSessions.DeleteResetSession(ctx, id); err != nil {
			return nil, nil, wrapStore(err)
		}
		return nil, nil, ErrNotAuthenticated
	}

	user, err := e.users.UserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = e.resetSessions.DeleteResetSession(ctx, id)
			return nil, nil, ErrNotAuthenticated
		}
		return nil, nil, wrapStore(err)
	}

	return session, user, nil
}

// VerifyPasswordResetEmail checks the mailed code and advances the flow to
// email-verified. As a side effect the account email is marked verified,
// but only while it still matches the session's snapshot; if the address
// changed underneath the flow the caller must restart (ErrConflict).
func (e *Engine) VerifyPasswordResetEmail(ctx context.Context, token, code string) error {
	session, _, err := e.ValidatePasswordResetSessionToken(ctx, token)
	if err != nil {
		return err
	}
	if session.EmailVerified {
		return ErrForbidden
	}

	if subtle.ConstantTimeCompare([]byte(session.Code), []byte(code)) != 1 {
		e.metricInc(MetricPasswordResetFailure)
		return ErrIncorrectCode
	}

	if err := e.resetSessions.SetResetSessionEmailVerified(ctx, session.ID); err != nil {
		return wrapStore(err)
	}

	matched, err := e.users.SetEmailVerifiedIfMatches(ctx, session.UserID, session.Email)
	if err != nil {
		return wrapStore(err)
	}
	if !matched {
		return ErrConflict
	}
	return nil
}

// VerifyPasswordResetTOTP checks an authenticator code and advances the
// flow to 2FA-verified. Attempts are bounded per user; the counter resets
// on success.
func (e *Engine) VerifyPasswordResetTOTP(ctx context.Context, token, code string) error {
	session, user, err := e.ValidatePasswordResetSessionToken(ctx, token)
	if err != nil {
		return err
	}
	if !session.EmailVerified || session.TwoFactorVerified {
		return ErrForbidden
	}
	if !user.Registered2FA {
		return ErrTwoFactorNotConfigured
	}

	if !e.totpBucket.Consume(user.ID, 1) {
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	}

	ok, err := e.verifyUserTOTPCode(ctx, user.ID, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		return ErrIncorrectCode
	}

	e.totpBucket.Reset(user.ID)
	if err := e.resetSessions.SetResetSessionTwoFactorVerified(ctx, session.ID); err != nil {
		return wrapStore(err)
	}
	e.metricInc(MetricTOTPSuccess)
	return nil
}

// CompletePasswordReset consumes the flow: it requires the email step (and
// the 2FA step when the user has TOTP enrolled), then invalidates every
// reset session and every login session of the user, writes the new
// password hash, and signs the user in with a session inheriting the
// flow's 2FA state.
func (e *Engine) CompletePasswordReset(ctx context.Context, token, newPassword string) (*AuthResult, error) {
	session, user, err := e.ValidatePasswordResetSessionToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !session.EmailVerified {
		return nil, ErrForbidden
	}
	if user.Registered2FA && !session.TwoFactorVerified {
		return nil, ErrForbidden
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return nil, err
	}
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return nil, err
	}

	if err := e.resetSessions.DeleteUserResetSessions(ctx, user.ID); err != nil {
		return nil, wrapStore(err)
	}
	if err := e.sessions.DeleteUserSessions(ctx, user.ID); err != nil {
		return nil, wrapStore(err)
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, wrapStore(err)
	}

	authToken, authSession, err := e.createAuthSession(ctx, user.ID, SessionFlags{
		TwoFactorVerified: session.TwoFactorVerified,
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPasswordResetComplete)
	event := newAuditEvent("password_reset_completed", true)
	event.UserID = user.ID
	event.SessionID = authSession.ID
	e.emitAudit(ctx, event)

	return &AuthResult{Token: authToken, Session: authSession, User: user}, nil
}

// InvalidatePasswordResetSession aborts the flow behind token, if any.
func (e *Engine) InvalidatePasswordResetSession(ctx context.Context, token string) error {
	id := internal.SessionIDFromToken(token)
	if err := e.resetSessions.DeleteResetSession(ctx, id); err != nil {
		return wrapStore(err)
	}
	return nil
}
