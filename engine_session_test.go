package credlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/credlock/credlock/internal"
)

func TestSessionRoundTrip(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	auth := mustRegister(t, e, "a@example.com")

	session, user, err := e.ValidateSessionToken(ctx, auth.Token)
	if err != nil {
		t.Fatalf("ValidateSessionToken: %v", err)
	}
	if session.ID != auth.Session.ID {
		t.Fatalf("session id mismatch: %s vs %s", session.ID, auth.Session.ID)
	}
	if user.ID != auth.User.ID {
		t.Fatalf("user id mismatch")
	}
	if session.TwoFactorVerified {
		t.Fatal("fresh login session must not be 2FA verified")
	}
}

func TestSessionIDIsHashOfToken(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	auth := mustRegister(t, e, "a@example.com")

	if auth.Session.ID != internal.SessionIDFromToken(auth.Token) {
		t.Fatal("session id must be the sha256 of the token")
	}
	if auth.Session.ID == auth.Token {
		t.Fatal("raw token must never be the stored id")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	_, _, err := e.ValidateSessionToken(context.Background(), "no-such-token")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLazyExpiryDeletesOnRead(t *testing.T) {
	e, store, _, clock := newTestEngine(t)
	ctx := context.Background()
	auth := mustRegister(t, e, "a@example.com")

	clock.advance(30*24*time.Hour + time.Second)

	_, _, err := e.ValidateSessionToken(ctx, auth.Token)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if store.sessionCount(auth.User.ID) != 0 {
		t.Fatal("expired session must be deleted on read")
	}

	// Second call hits the already-deleted row and reports the same.
	_, _, err = e.ValidateSessionToken(ctx, auth.Token)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second call: expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionExpiryBoundaryIsExclusive(t *testing.T) {
	e, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	auth := mustRegister(t, e, "a@example.com")

	// Exactly at the expiry instant the session is gone.
	clock.advance(30 * 24 * time.Hour)
	_, _, err := e.ValidateSessionToken(ctx, auth.Token)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expiry at the boundary, got %v", err)
	}
}

func TestSlidingRenewal(t *testing.T) {
	e, _, _, clock := newTestEngine(t)
	ctx := context.Background()
	auth := mustRegister(t, e, "a@example.com")
	created := clock.now()

	// Before the renewal window: expiry untouched.
	clock.advance(10 * 24 * time.Hour)
	session, _, err := e.ValidateSessionToken(ctx, auth.Token)
	if err != nil {
		t.Fatalf("ValidateSessionToken: %v", err)
	}
	if !session.ExpiresAt.Equal(created.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expiry must be unchanged outside the renewal window, got %v", session.ExpiresAt)
	}

	// Inside the last 15 days: expiry slides to now+30d.
	clock.advance(6 * 24 * time.Hour)
	session, _, err = e.ValidateSessionToken(ctx, auth.Token)
	if err != nil {
		t.Fatalf("ValidateSessionToken: %v", err)
	}
	want := clock.now().Add(30 * 24 * time.Hour)
	if !session.ExpiresAt.Equal(want) {
		t.Fatalf("expiry must renew to %v, got %v", want, session.ExpiresAt)
	}

	// Renewal keeps the session alive indefinitely under regular use.
	for i := 0; i < 12; i++ {
		clock.advance(20 * 24 * time.Hour)
		if _, _, err := e.ValidateSessionToken(ctx, auth.Token); err != nil {
			t.Fatalf("validation %d under regular use: %v", i, err)
		}
	}
}

func TestRequestCacheMemoizesValidation(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	auth := mustRegister(t, e, "a@example.com")

	ctx := WithRequestCache(context.Background())
	if _, _, err := e.ValidateSessionToken(ctx, auth.Token); err != nil {
		t.Fatalf("ValidateSessionToken: %v", err)
	}

	// Delete behind the cache's back; the memoized result still answers.
	if err := store.DeleteSession(context.Background(), auth.Session.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, _, err := e.ValidateSessionToken(ctx, auth.Token); err != nil {
		t.Fatalf("cached validation must not hit the store: %v", err)
	}

	// A fresh request scope sees the truth.
	fresh := WithRequestCache(context.Background())
	if _, _, err := e.ValidateSessionToken(fresh, auth.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound in fresh scope, got %v", err)
	}
}

func TestInvalidateSession(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	ctx := context.Background()
	auth := mustRegister(t, e, "a@example.com")

	if err := e.InvalidateSession(ctx, auth.Session.ID); err != nil {
		t.Fatalf("InvalidateSession: %v", err)
	}
	if _, _, err := e.ValidateSessionToken(ctx, auth.Token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInvalidateUserSessions(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	ctx := context.Background()
	auth := mustRegister(t, e, "a@example.com")

	// A second login for the same user.
	second, err := e.Login(ctx, "a@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if store.sessionCount(auth.User.ID) != 2 {
		t.Fatalf("expected 2 sessions, got %d", store.sessionCount(auth.User.ID))
	}

	if err := e.InvalidateUserSessions(ctx, auth.User.ID); err != nil {
		t.Fatalf("InvalidateUserSessions: %v", err)
	}
	if store.sessionCount(auth.User.ID) != 0 {
		t.Fatal("all sessions must be gone")
	}
	_ = second
}

func TestAllowGlobalBuckets(t *testing.T) {
	e, _, _, _ := newTestEngine(t)

	// Empty IP is never limited.
	for i := 0; i < 500; i++ {
		if !e.AllowGlobalPOST("") {
			t.Fatal("empty IP must not be limited")
		}
	}

	// 100 tokens; POST costs 3.
	allowed := 0
	for i := 0; i < 50; i++ {
		if e.AllowGlobalPOST("203.0.113.9") {
			allowed++
		}
	}
	if allowed != 33 {
		t.Fatalf("expected 33 POSTs from a 100-token bucket, got %d", allowed)
	}
	// One token left after 33 POSTs: a GET still passes, a second does not.
	if !e.AllowGlobalGET("203.0.113.9") {
		t.Fatal("one token should remain for a GET")
	}
	if e.AllowGlobalGET("203.0.113.9") {
		t.Fatal("bucket should be empty")
	}

	// Another IP holds a full bucket.
	if !e.AllowGlobalGET("198.51.100.7") {
		t.Fatal("fresh IP must be allowed")
	}
}
