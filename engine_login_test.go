package credlock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterCreatesVerificationAndSession(t *testing.T) {
	e, store, mailer, _ := newTestEngine(t)
	ctx := context.Background()

	auth, request, err := e.Register(ctx, "a@example.com", "alice", "correct horse battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if auth.Token == "" || auth.Session == nil {
		t.Fatal("registration must sign the user in")
	}
	if request.Email != "a@example.com" {
		t.Fatalf("verification request targets %s", request.Email)
	}
	if len(request.Code) != 8 {
		t.Fatalf("expected 8-char code, got %q", request.Code)
	}

	sent, ok := mailer.lastVerification()
	if !ok || sent.code != request.Code || sent.email != "a@example.com" {
		t.Fatalf("verification code not mailed: %+v", sent)
	}

	user, err := store.UserByID(ctx, auth.User.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if user.EmailVerified {
		t.Fatal("fresh account must start unverified")
	}

	// The stored recovery code decrypts to a 16-char plaintext.
	code, err := e.RecoveryCode(ctx, auth.User.ID)
	if err != nil {
		t.Fatalf("RecoveryCode: %v", err)
	}
	if len(code) != 16 {
		t.Fatalf("expected 16-char recovery code, got %q", code)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustRegister(t, e, "a@example.com")

	_, _, err := e.Register(ctx, "a@example.com", "other", "correct horse battery")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterInputValidation(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		username string
		password string
		want     error
	}{
		{"bad email", "not-an-email", "alice", "correct horse battery", ErrInvalidCredentials},
		{"empty username", "a@example.com", "  ", "correct horse battery", ErrInvalidCredentials},
		{"short password", "a@example.com", "alice", "short", ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := e.Register(ctx, tc.email, tc.username, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRegisterPerIPBucket(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := WithClientIP(context.Background(), "203.0.113.1")

	// Capacity 3 per 10s window.
	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if _, _, err := e.Register(ctx, email, "u", "correct horse battery"); err != nil {
			t.Fatalf("registration %d: %v", i, err)
		}
	}
	_, _, err := e.Register(ctx, "d@example.com", "u", "correct horse battery")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// A duplicate email failure never charges the bucket.
	other := WithClientIP(context.Background(), "203.0.113.2")
	for i := 0; i < 10; i++ {
		if _, _, err := e.Register(other, "a@example.com", "u", "correct horse battery"); !errors.Is(err, ErrEmailTaken) {
			t.Fatalf("expected ErrEmailTaken, got %v", err)
		}
	}
	if _, _, err := e.Register(other, "e@example.com", "u", "correct horse battery"); err != nil {
		t.Fatalf("bucket must be full after failed lookups: %v", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustRegister(t, e, "a@example.com")

	auth, err := e.Login(ctx, "a@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if auth.Session.TwoFactorVerified {
		t.Fatal("login session must start with 2FA unverified")
	}

	session, user, err := e.ValidateSessionToken(ctx, auth.Token)
	if err != nil {
		t.Fatalf("ValidateSessionToken: %v", err)
	}
	if user.Email != "a@example.com" || session.UserID != user.ID {
		t.Fatalf("unexpected validation result: %+v %+v", session, user)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	mustRegister(t, e, "a@example.com")

	_, err := e.Login(ctx, "a@example.com", "wrong password entirely")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, err := e.Login(context.Background(), "nobody@example.com", "whatever password")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestLoginBucketNotChargedForUnknownAccounts(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	mustRegister(t, e, "a@example.com")
	ctx := WithClientIP(context.Background(), "203.0.113.3")

	// Unknown-email probes fail before the consume step.
	for i := 0; i < 40; i++ {
		if _, err := e.Login(ctx, "nobody@example.com", "pw pw pw pw"); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
	}

	// The bucket still has its full capacity for the real account.
	if _, err := e.Login(ctx, "a@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login after probes: %v", err)
	}
}

func TestLoginPerIPBucketExhaustion(t *testing.T) {
	// A long refill interval keeps real-time refill out of the count.
	e, _, _, _ := newTestEngineWith(t, func(cfg *Config) {
		cfg.RateLimit.LoginIP.RefillInterval = time.Hour
	})
	mustRegister(t, e, "a@example.com")
	ctx := WithClientIP(context.Background(), "203.0.113.4")

	// Capacity 20 per interval.
	for i := 0; i < 20; i++ {
		if _, err := e.Login(ctx, "a@example.com", "wrong password here"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	_, err := e.Login(ctx, "a@example.com", "correct horse battery")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
