// Package credlock is an embeddable credential and session lifecycle
// engine: opaque bearer-token sessions with sliding renewal and lazy
// expiry, a password reset state machine, email verification with
// expired-code resend, TOTP second factor, recovery-code 2FA reset, and
// per-key token bucket throttling in front of all of it.
//
// The engine is transport-agnostic. Callers own cookies, headers, and
// handlers; they pass raw tokens and client IPs in and get sessions, users,
// and sentinel errors out. Persistence sits behind four small store
// interfaces with Redis, SQLite, and PostgreSQL implementations under
// store/.
//
// Build an engine with the Builder:
//
//	engine, err := credlock.New().
//		WithUserStore(users).
//		WithSessionStore(sessions).
//		WithResetSessionStore(resets).
//		WithVerificationStore(verifications).
//		WithSecretKey(key).
//		Build()
//
// Raw tokens are never persisted: a session row's id is the hex-encoded
// SHA-256 of its token, so a leaked store yields no usable credentials.
package credlock
