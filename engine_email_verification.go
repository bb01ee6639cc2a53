package credlock

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/credlock/credlock/internal"
)

// VerifyEmailOutcome distinguishes the two success shapes of VerifyEmail.
type VerifyEmailOutcome int

const (
	// EmailVerified means the code matched and the address is now verified.
	EmailVerified VerifyEmailOutcome = iota
	// VerificationCodeResent means the request had expired; a fresh code was
	// issued and mailed, and the caller should prompt for it.
	VerificationCodeResent
)

// VerifyEmailResult carries the outcome and, when the code was resent, the
// replacement request the caller must track.
type VerifyEmailResult struct {
	Outcome    VerifyEmailOutcome
	NewRequest *EmailVerificationRequest
}

// CreateEmailVerificationRequest replaces the user's pending request, if
// any, with a fresh code for email. It does not send mail; callers decide
// when to.
func (e *Engine) CreateEmailVerificationRequest(ctx context.Context, userID, email string) (*EmailVerificationRequest, error) {
	if err := e.verifications.DeleteUserVerificationRequests(ctx, userID); err != nil {
		return nil, wrapStore(err)
	}

	id, err := internal.NewRequestID()
	if err != nil {
		return nil, err
	}
	code, err := internal.NewOTP(e.config.EmailVerification.CodeLength)
	if err != nil {
		return nil, err
	}

	request := &EmailVerificationRequest{
		ID:        id,
		UserID:    userID,
		Email:     email,
		Code:      code,
		ExpiresAt: e.now().Add(e.config.EmailVerification.RequestTTL),
	}
	if err := e.verifications.InsertVerificationRequest(ctx, request); err != nil {
		return nil, wrapStore(err)
	}

	e.metricInc(MetricEmailVerificationRequest)
	return request, nil
}

// VerifyEmail checks a submitted code against the user's pending request.
// An expired request is not an error: a fresh code is generated, mailed,
// and reported as VerificationCodeResent. On a match the request is
// deleted, any password reset sessions are invalidated, and the user's
// email is set to the request's address and marked verified.
func (e *Engine) VerifyEmail(ctx context.Context, userID, requestID, code string) (*VerifyEmailResult, error) {
	request, err := e.verifications.VerificationRequest(ctx, userID, requestID)
	if err != nil {
		if errors.Is(err, ErrVerificationNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, wrapStore(err)
	}

	if !e.verifyBucket.Consume(userID, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, ErrRateLimited
	}

	if !e.now().Before(request.ExpiresAt) {
		replacement, err := e.CreateEmailVerificationRequest(ctx, userID, request.Email)
		if err != nil {
			return nil, err
		}
		e.mailer.SendVerificationCode(replacement.Email, replacement.Code)
		e.metricInc(MetricEmailVerificationResent)
		return &VerifyEmailResult{
			Outcome:    VerificationCodeResent,
			NewRequest: replacement,
		}, nil
	}

	if subtle.ConstantTimeCompare([]byte(request.Code), []byte(code)) != 1 {
		e.metricInc(MetricEmailVerificationFailure)
		return nil, ErrIncorrectCode
	}

	if err := e.verifications.DeleteUserVerificationRequests(ctx, userID); err != nil {
		return nil, wrapStore(err)
	}
	if err := e.resetSessions.DeleteUserResetSessions(ctx, userID); err != nil {
		return nil, wrapStore(err)
	}
	if err := e.users.UpdateEmailAndSetVerified(ctx, userID, request.Email); err != nil {
		return nil, wrapStore(err)
	}

	e.metricInc(MetricEmailVerificationSuccess)
	event := newAuditEvent("email_verified", true)
	event.UserID = userID
	e.emitAudit(ctx, event)

	return &VerifyEmailResult{Outcome: EmailVerified}, nil
}

// ResendVerificationEmail issues and mails a fresh code. With a pending
// request (requestID non-empty and live) the code targets that request's
// email; otherwise it targets the account email, and only if it is still
// unverified.
func (e *Engine) ResendVerificationEmail(ctx context.Context, userID, requestID string) (*EmailVerificationRequest, error) {
	target := ""
	if requestID != "" {
		request, err := e.verifications.VerificationRequest(ctx, userID, requestID)
		switch {
		case err == nil:
			target = request.Email
		case errors.Is(err, ErrVerificationNotFound):
			// Fall through to the account email.
		default:
			return nil, wrapStore(err)
		}
	}

	if target == "" {
		user, err := e.users.UserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, wrapStore(err)
		}
		if user.EmailVerified {
			return nil, ErrEmailAlreadyVerified
		}
		target = user.Email
	}

	if !e.resendBucket.Consume(userID, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, ErrRateLimited
	}

	request, err := e.CreateEmailVerificationRequest(ctx, userID, target)
	if err != nil {
		return nil, err
	}
	e.mailer.SendVerificationCode(request.Email, request.Code)
	return request, nil
}

// ChangeEmail starts an email change: the new address only lands on the
// user row once its verification code is confirmed via VerifyEmail.
func (e *Engine) ChangeEmail(ctx context.Context, userID, newEmail string) (*EmailVerificationRequest, error) {
	if !emailValid(newEmail) {
		return nil, ErrInvalidCredentials
	}

	available, err := e.users.EmailAvailable(ctx, newEmail)
	if err != nil {
		return nil, wrapStore(err)
	}
	if !available {
		return nil, ErrEmailTaken
	}

	if !e.resendBucket.Consume(userID, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, ErrRateLimited
	}

	request, err := e.CreateEmailVerificationRequest(ctx, userID, newEmail)
	if err != nil {
		return nil, err
	}
	e.mailer.SendVerificationCode(request.Email, request.Code)
	return request, nil
}
