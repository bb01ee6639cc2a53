package credlock

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credlock/credlock/internal"
)

const maxEmailLength = 255

// emailValid applies the same loose shape check the sign-up form does:
// something@something.something, bounded length. Real validation is the
// verification email.
func emailValid(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	at := strings.Index(email, "@")
	if at < 1 {
		return false
	}
	domain := email[at+1:]
	dot := strings.LastIndex(domain, ".")
	return dot >= 1 && dot < len(domain)-1
}

func (e *Engine) checkPasswordPolicy(pw string) error {
	if len(pw) < 8 || len(pw) > 255 {
		return ErrWeakPassword
	}
	return nil
}

// Register creates a user with a hashed password and an encrypted recovery
// code, opens an email verification request, and signs the user in. The
// per-IP register bucket is checked before any store access and charged
// only once the email is confirmed available.
func (e *Engine) Register(ctx context.Context, email, username, pass string) (*AuthResult, *EmailVerificationRequest, error) {
	ip := ClientIPFromContext(ctx)
	if ip != "" && !e.registerBucket.Check(ip, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, nil, ErrRateLimited
	}

	if !emailValid(email) {
		return nil, nil, ErrInvalidCredentials
	}
	if username = strings.TrimSpace(username); username == "" || len(username) > 64 {
		return nil, nil, ErrInvalidCredentials
	}
	if err := e.checkPasswordPolicy(pass); err != nil {
		return nil, nil, err
	}

	available, err := e.users.EmailAvailable(ctx, email)
	if err != nil {
		return nil, nil, wrapStore(err)
	}
	if !available {
		e.metricInc(MetricRegisterDuplicate)
		return nil, nil, ErrEmailTaken
	}

	if ip != "" && !e.registerBucket.Consume(ip, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, nil, ErrRateLimited
	}

	hash, err := e.hasher.Hash(pass)
	if err != nil {
		return nil, nil, err
	}

	recoveryCode, err := internal.NewRecoveryCode()
	if err != nil {
		return nil, nil, err
	}
	encryptedRecovery, err := e.cipher.EncryptString(recoveryCode)
	if err != nil {
		return nil, nil, err
	}

	userID := uuid.NewString()
	if err := e.users.CreateUser(ctx, NewUser{
		ID:           userID,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		RecoveryCode: encryptedRecovery,
	}); err != nil {
		return nil, nil, wrapStore(err)
	}

	request, err := e.CreateEmailVerificationRequest(ctx, userID, email)
	if err != nil {
		return nil, nil, err
	}
	e.mailer.SendVerificationCode(request.Email, request.Code)

	token, session, err := e.createAuthSession(ctx, userID, SessionFlags{})
	if err != nil {
		return nil, nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	event := newAuditEvent("register", true)
	event.UserID = userID
	event.SessionID = session.ID
	e.emitAudit(ctx, event)

	return &AuthResult{
		Token:   token,
		Session: session,
		User: &User{
			ID:       userID,
			Email:    email,
			Username: username,
		},
	}, request, nil
}

// Login verifies an email/password pair and opens a session with 2FA
// unverified. A hit on an unknown email returns ErrUserNotFound without
// charging the login bucket; revealing account existence here is a product
// decision (the sign-in form says so anyway).
func (e *Engine) Login(ctx context.Context, email, pass string) (*AuthResult, error) {
	ip := ClientIPFromContext(ctx)
	if ip != "" && !e.loginBucket.Check(ip, 1) {
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

	if ip != "" && !e.loginBucket.Consume(ip, 1) {
		e.metricInc(MetricRateLimitHit)
		return nil, ErrRateLimited
	}

	hash, err := e.users.PasswordHash(ctx, user.ID)
	if err != nil {
		return nil, wrapStore(err)
	}

	ok, err := e.hasher.Verify(pass, hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricLoginFailure)
		event := newAuditEvent("login", false)
		event.UserID = user.ID
		event.Error = ErrInvalidCredentials.Error()
		e.emitAudit(ctx, event)
		return nil, ErrInvalidCredentials
	}

	if upgrade, err := e.hasher.NeedsUpgrade(hash); err == nil && upgrade {
		if rehash, err := e.hasher.Hash(pass); err == nil {
			if err := e.users.UpdatePasswordHash(ctx, user.ID, rehash); err != nil {
				e.logger.Warn("password rehash not persisted",
					zap.String("user_id", user.ID), zap.Error(err))
			}
		}
	}

	token, session, err := e.createAuthSession(ctx, user.ID, SessionFlags{})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	event := newAuditEvent("login", true)
	event.UserID = user.ID
	event.SessionID = session.ID
	e.emitAudit(ctx, event)

	return &AuthResult{Token: token, Session: session, User: user}, nil
}
