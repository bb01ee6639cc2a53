package credlock

import (
	"context"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPKey creates a fresh TOTP enrollment key for accountName. The
// returned key carries the otpauth:// URL for QR rendering; nothing is
// persisted until SetupTOTP confirms the user can produce codes from it.
func (e *Engine) GenerateTOTPKey(accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.TOTP.Issuer,
		AccountName: accountName,
		Period:      e.config.TOTP.Period,
		Digits:      otp.Digits(e.config.TOTP.Digits),
	})
}

func (e *Engine) validateTOTPCode(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period: e.config.TOTP.Period,
		Skew:   e.config.TOTP.Skew,
		Digits: otp.Digits(e.config.TOTP.Digits),
	})
	return err == nil && ok
}

// verifyUserTOTPCode checks code against the user's stored encrypted TOTP
// key. ErrTwoFactorNotConfigured when no key is enrolled.
func (e *Engine) verifyUserTOTPCode(ctx context.Context, userID, code string) (bool, error) {
	encrypted, err := e.users.TOTPKey(ctx, userID)
	if err != nil {
		return false, wrapStore(err)
	}
	if len(encrypted) == 0 {
		return false, ErrTwoFactorNotConfigured
	}

	secret, err := e.cipher.DecryptString(encrypted)
	if err != nil {
		return false, err
	}
	return e.validateTOTPCode(code, secret), nil
}

// SetupTOTP enrolls secret as the user's TOTP key once the user proves
// possession with a valid code. The secret is stored encrypted, and the
// current session (when given) becomes 2FA-verified.
func (e *Engine) SetupTOTP(ctx context.Context, sessionID, userID, secret, code string) error {
	if !e.totpBucket.Consume(userID, 1) {
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	}

	if !e.validateTOTPCode(code, secret) {
		e.metricInc(MetricTOTPFailure)
		return ErrIncorrectCode
	}
	e.totpBucket.Reset(userID)

	encrypted, err := e.cipher.EncryptString(secret)
	if err != nil {
		return err
	}
	if err := e.users.UpdateTOTPKey(ctx, userID, encrypted); err != nil {
		return wrapStore(err)
	}

	if sessionID != "" {
		if err := e.sessions.SetSessionTwoFactorVerified(ctx, sessionID); err != nil {
			return wrapStore(err)
		}
	}

	e.metricInc(MetricTOTPSuccess)
	event := newAuditEvent("totp_enrolled", true)
	event.UserID = userID
	event.SessionID = sessionID
	e.emitAudit(ctx, event)
	return nil
}

// VerifyTOTP is the login-time second factor: a correct code marks the
// session 2FA-verified and forgives prior failed attempts.
func (e *Engine) VerifyTOTP(ctx context.Context, sessionID, userID, code string) error {
	if !e.totpBucket.Consume(userID, 1) {
		e.metricInc(MetricRateLimitHit)
		return ErrRateLimited
	}

	ok, err := e.verifyUserTOTPCode(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTOTPFailure)
		event := newAuditEvent("totp_verified", false)
		event.UserID = userID
		event.SessionID = sessionID
		event.Error = ErrIncorrectCode.Error()
		e.emitAudit(ctx, event)
		return ErrIncorrectCode
	}

	e.totpBucket.Reset(userID)
	if err := e.sessions.SetSessionTwoFactorVerified(ctx, sessionID); err != nil {
		return wrapStore(err)
	}

	e.metricInc(MetricTOTPSuccess)
	event := newAuditEvent("totp_verified", true)
	event.UserID = userID
	event.SessionID = sessionID
	e.emitAudit(ctx, event)
	return nil
}
