// Package sqlitestore is a single-file backend implementing every credlock
// store interface. Conditional updates rely on RowsAffected, which is all
// the engine needs for its compare-and-swap paths.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/credlock/credlock"
)

const schema = `
CREATE TABLE IF NOT EXISTS user (
    id            TEXT NOT NULL PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    email_verified INTEGER NOT NULL DEFAULT 0,
    totp_key      BLOB,
    recovery_code BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_email ON user(email);

CREATE TABLE IF NOT EXISTS session (
    id                  TEXT NOT NULL PRIMARY KEY,
    user_id             TEXT NOT NULL REFERENCES user(id),
    expires_at          INTEGER NOT NULL,
    two_factor_verified INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_session_user ON session(user_id);

CREATE TABLE IF NOT EXISTS password_reset_session (
    id                  TEXT NOT NULL PRIMARY KEY,
    user_id             TEXT NOT NULL REFERENCES user(id),
    email               TEXT NOT NULL,
    code                TEXT NOT NULL,
    expires_at          INTEGER NOT NULL,
    email_verified      INTEGER NOT NULL DEFAULT 0,
    two_factor_verified INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reset_user ON password_reset_session(user_id);

CREATE TABLE IF NOT EXISTS email_verification_request (
    id         TEXT NOT NULL,
    user_id    TEXT NOT NULL REFERENCES user(id),
    email      TEXT NOT NULL,
    code       TEXT NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, id)
);
`

// Store wraps a *sql.DB opened with the pure-Go sqlite driver.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and applies the schema.
// Use ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Serialized access; the driver is not safe for concurrent writers on
	// one connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-configured database handle. The caller owns
// schema setup and the handle's lifecycle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- credlock.UserStore ---

func (s *Store) CreateUser(ctx context.Context, u credlock.NewUser) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (id, email, username, password_hash, recovery_code)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.RecoveryCode,
	)
	if isUniqueViolation(err) {
		return credlock.ErrEmailTaken
	}
	return err
}

func (s *Store) UserByID(ctx context.Context, userID string) (*credlock.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, username, email_verified, totp_key IS NOT NULL
		 FROM user WHERE id = ?`, userID))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*credlock.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, username, email_verified, totp_key IS NOT NULL
		 FROM user WHERE email = ?`, email))
}

func (s *Store) scanUser(row *sql.Row) (*credlock.User, error) {
	var u credlock.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.Registered2FA)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credlock.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) EmailAvailable(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user WHERE email = ?`, email).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM user WHERE id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", credlock.ErrUserNotFound
	}
	return hash, err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.execOnUser(ctx,
		`UPDATE user SET password_hash = ? WHERE id = ?`, hash, userID)
}

func (s *Store) UpdateEmailAndSetVerified(ctx context.Context, userID, email string) error {
	err := s.execOnUser(ctx,
		`UPDATE user SET email = ?, email_verified = 1 WHERE id = ?`, email, userID)
	if isUniqueViolation(err) {
		return credlock.ErrEmailTaken
	}
	return err
}

func (s *Store) SetEmailVerifiedIfMatches(ctx context.Context, userID, email string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user SET email_verified = 1 WHERE id = ? AND email = ?`,
		userID, email)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) RecoveryCode(ctx context.Context, userID string) ([]byte, error) {
	var code []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT recovery_code FROM user WHERE id = ?`, userID).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credlock.ErrUserNotFound
	}
	return code, err
}

func (s *Store) ReplaceRecoveryCode(ctx context.Context, userID string, current, next []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user SET recovery_code = ?, totp_key = NULL
		 WHERE id = ? AND recovery_code = ?`,
		next, userID, current)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) UpdateRecoveryCode(ctx context.Context, userID string, code []byte) error {
	return s.execOnUser(ctx,
		`UPDATE user SET recovery_code = ? WHERE id = ?`, code, userID)
}

func (s *Store) TOTPKey(ctx context.Context, userID string) ([]byte, error) {
	var key []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT totp_key FROM user WHERE id = ?`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credlock.ErrUserNotFound
	}
	return key, err
}

func (s *Store) UpdateTOTPKey(ctx context.Context, userID string, key []byte) error {
	return s.execOnUser(ctx,
		`UPDATE user SET totp_key = ? WHERE id = ?`, key, userID)
}

func (s *Store) execOnUser(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credlock.ErrUserNotFound
	}
	return nil
}

// --- credlock.SessionStore ---

func (s *Store) InsertSession(ctx context.Context, sess *credlock.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, user_id, expires_at, two_factor_verified)
		 VALUES (?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.ExpiresAt.Unix(), sess.TwoFactorVerified)
	return err
}

func (s *Store) Session(ctx context.Context, id string) (*credlock.Session, error) {
	var (
		sess    credlock.Session
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, two_factor_verified
		 FROM session WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &expires, &sess.TwoFactorVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credlock.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = time.Unix(expires, 0)
	return &sess, nil
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	return s.execOnSession(ctx,
		`UPDATE session SET expires_at = ? WHERE id = ?`, expiresAt.Unix(), id)
}

func (s *Store) SetSessionTwoFactorVerified(ctx context.Context, id string) error {
	return s.execOnSession(ctx,
		`UPDATE session SET two_factor_verified = 1 WHERE id = ?`, id)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE user_id = ?`, userID)
	return err
}

func (s *Store) execOnSession(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credlock.ErrSessionNotFound
	}
	return nil
}

// --- credlock.ResetSessionStore ---

func (s *Store) InsertResetSession(ctx context.Context, sess *credlock.PasswordResetSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO password_reset_session
		 (id, user_id, email, code, expires_at, email_verified, two_factor_verified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.Email, sess.Code, sess.ExpiresAt.Unix(),
		sess.EmailVerified, sess.TwoFactorVerified)
	return err
}

func (s *Store) ResetSession(ctx context.Context, id string) (*credlock.PasswordResetSession, error) {
	var (
		sess    credlock.PasswordResetSession
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, code, expires_at, email_verified, two_factor_verified
		 FROM password_reset_session WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.Code, &expires,
			&sess.EmailVerified, &sess.TwoFactorVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credlock.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.ExpiresAt = time.Unix(expires, 0)
	return &sess, nil
}

func (s *Store) SetResetSessionEmailVerified(ctx context.Context, id string) error {
	return s.execOnResetSession(ctx,
		`UPDATE password_reset_session SET email_verified = 1 WHERE id = ?`, id)
}

func (s *Store) SetResetSessionTwoFactorVerified(ctx context.Context, id string) error {
	return s.execOnResetSession(ctx,
		`UPDATE password_reset_session SET two_factor_verified = 1 WHERE id = ?`, id)
}

func (s *Store) DeleteResetSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM password_reset_session WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteUserResetSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM password_reset_session WHERE user_id = ?`, userID)
	return err
}

func (s *Store) execOnResetSession(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return credlock.ErrSessionNotFound
	}
	return nil
}

// --- credlock.VerificationStore ---

func (s *Store) InsertVerificationRequest(ctx context.Context, r *credlock.EmailVerificationRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_verification_request (id, user_id, email, code, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Email, r.Code, r.ExpiresAt.Unix())
	return err
}

func (s *Store) VerificationRequest(ctx context.Context, userID, id string) (*credlock.EmailVerificationRequest, error) {
	var (
		r       credlock.EmailVerificationRequest
		expires int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, code, expires_at
		 FROM email_verification_request WHERE user_id = ? AND id = ?`,
		userID, id).
		Scan(&r.ID, &r.UserID, &r.Email, &r.Code, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credlock.ErrVerificationNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ExpiresAt = time.Unix(expires, 0)
	return &r, nil
}

func (s *Store) DeleteUserVerificationRequests(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM email_verification_request WHERE user_id = ?`, userID)
	return err
}

// DeleteExpired removes rows whose logical expiry has passed. The engine
// never reads them again; this is housekeeping for long-lived databases.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) error {
	ts := now.Unix()
	for _, table := range []string{"session", "password_reset_session", "email_verification_request"} {
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= ?`, table), ts); err != nil {
			return err
		}
	}
	return nil
}
