package credlock

import (
	"context"
	"crypto/subtle"

	"github.com/credlock/credlock/internal"
)

// ResetTwoFactorWithRecoveryCode disables 2FA for a locked-out user who can
// produce their recovery code. On a match every login session is
// invalidated, then a single conditional write replaces the recovery code
// and clears the TOTP key, guarded on the value read at the start; if a
// concurrent attempt got there first the write affects zero rows and the
// caller sees ErrConflict. The old code is spent either way.
func (e *Engine) ResetTwoFactorWithRecoveryCode(ctx context.Context, userID, code string) error {
	if !e.recoveryBucket.Consume(userID, 1) {
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	}

	encrypted, err := e.users.RecoveryCode(ctx, userID)
	if err != nil {
		// Fail closed: a missing row and a wrong code look the same.
		e.metricInc(MetricRecoveryResetFailure)
		return ErrInvalidRecoveryCode
	}
	stored, err := e.cipher.DecryptString(encrypted)
	if err != nil {
		e.metricInc(MetricRecoveryResetFailure)
		return ErrInvalidRecoveryCode
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		e.metricInc(MetricRecoveryResetFailure)
		event := newAuditEvent("recovery_reset", false)
		event.UserID = userID
		event.Error = ErrInvalidRecoveryCode.Error()
		e.emitAudit(ctx, event)
		return ErrInvalidRecoveryCode
	}

	if err := e.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return wrapStore(err)
	}

	next, err := internal.NewRecoveryCode()
	if err != nil {
		return err
	}
	nextEncrypted, err := e.cipher.EncryptString(next)
	if err != nil {
		return err
	}

	replaced, err := e.users.ReplaceRecoveryCode(ctx, userID, encrypted, nextEncrypted)
	if err != nil {
		return wrapStore(err)
	}
	if !replaced {
		e.metricInc(MetricRecoveryResetFailure)
		return ErrConflict
	}

	e.recoveryBucket.Reset(userID)
	e.metricInc(MetricRecoveryResetSuccess)
	event := newAuditEvent("recovery_reset", true)
	event.UserID = userID
	e.emitAudit(ctx, event)
	return nil
}

// RecoveryCode returns the user's current recovery code in plaintext for
// display. Callers gate this behind a fully verified session.
func (e *Engine) RecoveryCode(ctx context.Context, userID string) (string, error) {
	encrypted, err := e.users.RecoveryCode(ctx, userID)
	if err != nil {
		return "", wrapStore(err)
	}
	return e.cipher.DecryptString(encrypted)
}

// RotateRecoveryCode unconditionally replaces the user's recovery code and
// returns the new plaintext, shown once.
func (e *Engine) RotateRecoveryCode(ctx context.Context, userID string) (string, error) {
	next, err := internal.NewRecoveryCode()
	if err != nil {
		return "", err
	}
	encrypted, err := e.cipher.EncryptString(next)
	if err != nil {
		return "", err
	}
	if err := e.users.UpdateRecoveryCode(ctx, userID, encrypted); err != nil {
		return "", wrapStore(err)
	}
	return next, nil
}
