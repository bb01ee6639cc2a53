package credlock

import (
	"context"
	"time"
)

// SessionFlags carries the per-session booleans set at creation time.
type SessionFlags struct {
	TwoFactorVerified bool
}

// Session is a login session row. ID is hex(sha256(token)); the raw token
// exists only client-side and in transit, so a store compromise does not
// leak usable bearer credentials.
type Session struct {
	ID                string
	UserID            string
	ExpiresAt         time.Time
	TwoFactorVerified bool
}

// PasswordResetSession is the short-lived record behind the password reset
// state machine: created → email-verified → (optionally) 2FA-verified →
// consumed. At most one is active per user.
type PasswordResetSession struct {
	ID                string
	UserID            string
	Email             string
	Code              string
	ExpiresAt         time.Time
	EmailVerified     bool
	TwoFactorVerified bool
}

// EmailVerificationRequest binds an OTP code to a pending email
// confirmation or change. At most one exists per user.
type EmailVerificationRequest struct {
	ID        string
	UserID    string
	Email     string
	Code      string
	ExpiresAt time.Time
}

// User is the projection of a user row the engine hands back to callers.
// Registered2FA reports whether a TOTP key is enrolled.
type User struct {
	ID            string
	Email         string
	Username      string
	EmailVerified bool
	Registered2FA bool
}

// NewUser is the row handed to UserStore.CreateUser. Secret fields arrive
// already hashed or encrypted; the store never sees plaintext.
type NewUser struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	RecoveryCode []byte
}

// UserStore is the engine's contract with the user table. Conditional
// updates report whether a row was affected so the engine can detect lost
// races without multi-statement transactions.
type UserStore interface {
	CreateUser(ctx context.Context, u NewUser) error
	UserByID(ctx context.Context, userID string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	EmailAvailable(ctx context.Context, email string) (bool, error)

	PasswordHash(ctx context.Context, userID string) (string, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error

	UpdateEmailAndSetVerified(ctx context.Context, userID, email string) error
	// SetEmailVerifiedIfMatches marks the email verified only while it still
	// equals the given address, reporting whether a row was affected.
	SetEmailVerifiedIfMatches(ctx context.Context, userID, email string) (bool, error)

	// RecoveryCode returns the stored recovery code ciphertext.
	RecoveryCode(ctx context.Context, userID string) ([]byte, error)
	// ReplaceRecoveryCode swaps the recovery code ciphertext and nulls the
	// TOTP key, conditioned on the stored value still equalling current.
	// Returns false when zero rows were affected.
	ReplaceRecoveryCode(ctx context.Context, userID string, current, next []byte) (bool, error)
	UpdateRecoveryCode(ctx context.Context, userID string, code []byte) error

	// TOTPKey returns the stored TOTP secret ciphertext, or nil when the
	// user has not enrolled.
	TOTPKey(ctx context.Context, userID string) ([]byte, error)
	UpdateTOTPKey(ctx context.Context, userID string, key []byte) error
}

// SessionStore persists login sessions. All temporal logic (lazy expiry,
// sliding renewal) lives in the engine; stores only CRUD rows, so every
// backend behaves identically.
type SessionStore interface {
	InsertSession(ctx context.Context, s *Session) error
	// Session returns ErrSessionNotFound when the id resolves to nothing.
	Session(ctx context.Context, id string) (*Session, error)
	UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error
	SetSessionTwoFactorVerified(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID string) error
}

// ResetSessionStore persists password reset sessions.
type ResetSessionStore interface {
	InsertResetSession(ctx context.Context, s *PasswordResetSession) error
	// ResetSession returns ErrSessionNotFound when the id resolves to
	// nothing.
	ResetSession(ctx context.Context, id string) (*PasswordResetSession, error)
	SetResetSessionEmailVerified(ctx context.Context, id string) error
	SetResetSessionTwoFactorVerified(ctx context.Context, id string) error
	DeleteResetSession(ctx context.Context, id string) error
	DeleteUserResetSessions(ctx context.Context, userID string) error
}

// VerificationStore persists email verification requests.
type VerificationStore interface {
	InsertVerificationRequest(ctx context.Context, r *EmailVerificationRequest) error
	// VerificationRequest looks up by user and request id together so a
	// request can never be replayed against another account. Returns
	// ErrVerificationNotFound when nothing matches.
	VerificationRequest(ctx context.Context, userID, id string) (*EmailVerificationRequest, error)
	DeleteUserVerificationRequests(ctx context.Context, userID string) error
}

// Mailer delivers one-time codes out of band. Fire-and-forget: delivery
// failure is logged but never surfaces into the flow state machines.
type Mailer interface {
	SendVerificationCode(email, code string)
	SendPasswordResetCode(email, code string)
}
