package postgresstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/credlock/credlock"
)

// Store implements every credlock store interface on top of a PgxPool.
type Store struct{ db *DB }

func NewStore(db *DB) *Store { return &Store{db: db} }

// --- credlock.UserStore ---

func (s *Store) CreateUser(ctx context.Context, u credlock.NewUser) error {
	const q = `
INSERT INTO users (id, email, username, password_hash, recovery_code)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Pool.Exec(ctx, q, u.ID, u.Email, u.Username, u.PasswordHash, u.RecoveryCode)
	if isUniqueViolation(err) {
		return credlock.ErrEmailTaken
	}
	return err
}

func (s *Store) UserByID(ctx context.Context, userID string) (*credlock.User, error) {
	const q = `
SELECT id, email, username, email_verified, totp_key IS NOT NULL
FROM users WHERE id=$1`
	return scanUser(s.db.Pool.QueryRow(ctx, q, userID))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*credlock.User, error) {
	const q = `
SELECT id, email, username, email_verified, totp_key IS NOT NULL
FROM users WHERE email=$1`
	return scanUser(s.db.Pool.QueryRow(ctx, q, email))
}

func scanUser(row pgx.Row) (*credlock.User, error) {
	var u credlock.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.Registered2FA)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credlock.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) EmailAvailable(ctx context.Context, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM users WHERE email=$1)`
	var taken bool
	if err := s.db.Pool.QueryRow(ctx, q, email).Scan(&taken); err != nil {
		return false, err
	}
	return !taken, nil
}

func (s *Store) PasswordHash(ctx context.Context, userID string) (string, error) {
	const q = `SELECT password_hash FROM users WHERE id=$1`
	var hash string
	err := s.db.Pool.QueryRow(ctx, q, userID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", credlock.ErrUserNotFound
	}
	return hash, err
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	const q = `UPDATE users SET password_hash=$2 WHERE id=$1`
	return s.execOnUser(ctx, q, userID, hash)
}

func (s *Store) UpdateEmailAndSetVerified(ctx context.Context, userID, email string) error {
	const q = `UPDATE users SET email=$2, email_verified=TRUE WHERE id=$1`
	err := s.execOnUser(ctx, q, userID, email)
	if isUniqueViolation(err) {
		return credlock.ErrEmailTaken
	}
	return err
}

func (s *Store) SetEmailVerifiedIfMatches(ctx context.Context, userID, email string) (bool, error) {
	const q = `UPDATE users SET email_verified=TRUE WHERE id=$1 AND email=$2`
	tag, err := s.db.Pool.Exec(ctx, q, userID, email)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) RecoveryCode(ctx context.Context, userID string) ([]byte, error) {
	const q = `SELECT recovery_code FROM users WHERE id=$1`
	var code []byte
	err := s.db.Pool.QueryRow(ctx, q, userID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credlock.ErrUserNotFound
	}
	return code, err
}

func (s *Store) ReplaceRecoveryCode(ctx context.Context, userID string, current, next []byte) (bool, error) {
	const q = `
UPDATE users SET recovery_code=$3, totp_key=NULL
WHERE id=$1 AND recovery_code=$2`
	tag, err := s.db.Pool.Exec(ctx, q, userID, current, next)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) UpdateRecoveryCode(ctx context.Context, userID string, code []byte) error {
	const q = `UPDATE users SET recovery_code=$2 WHERE id=$1`
	return s.execOnUser(ctx, q, userID, code)
}

func (s *Store) TOTPKey(ctx context.Context, userID string) ([]byte, error) {
	const q = `SELECT totp_key FROM users WHERE id=$1`
	var key []byte
	err := s.db.Pool.QueryRow(ctx, q, userID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credlock.ErrUserNotFound
	}
	return key, err
}

func (s *Store) UpdateTOTPKey(ctx context.Context, userID string, key []byte) error {
	const q = `UPDATE users SET totp_key=$2 WHERE id=$1`
	return s.execOnUser(ctx, q, userID, key)
}

func (s *Store) execOnUser(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return credlock.ErrUserNotFound
	}
	return nil
}

// --- credlock.SessionStore ---

func (s *Store) InsertSession(ctx context.Context, sess *credlock.Session) error {
	const q = `
INSERT INTO sessions (id, user_id, expires_at, two_factor_verified)
VALUES ($1, $2, $3, $4)`
	_, err := s.db.Pool.Exec(ctx, q, sess.ID, sess.UserID, sess.ExpiresAt, sess.TwoFactorVerified)
	return err
}

func (s *Store) Session(ctx context.Context, id string) (*credlock.Session, error) {
	const q = `
SELECT id, user_id, expires_at, two_factor_verified
FROM sessions WHERE id=$1`
	var sess credlock.Session
	err := s.db.Pool.QueryRow(ctx, q, id).
		Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt, &sess.TwoFactorVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credlock.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	const q = `UPDATE sessions SET expires_at=$2 WHERE id=$1`
	return s.execOnSession(ctx, q, id, expiresAt)
}

func (s *Store) SetSessionTwoFactorVerified(ctx context.Context, id string) error {
	const q = `UPDATE sessions SET two_factor_verified=TRUE WHERE id=$1`
	return s.execOnSession(ctx, q, id)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	const q = `DELETE FROM sessions WHERE id=$1`
	_, err := s.db.Pool.Exec(ctx, q, id)
	return err
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	const q = `DELETE FROM sessions WHERE user_id=$1`
	_, err := s.db.Pool.Exec(ctx, q, userID)
	return err
}

func (s *Store) execOnSession(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return credlock.ErrSessionNotFound
	}
	return nil
}

// --- credlock.ResetSessionStore ---

func (s *Store) InsertResetSession(ctx context.Context, sess *credlock.PasswordResetSession) error {
	const q = `
INSERT INTO password_reset_sessions
(id, user_id, email, code, expires_at, email_verified, two_factor_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.Pool.Exec(ctx, q,
		sess.ID, sess.UserID, sess.Email, sess.Code, sess.ExpiresAt,
		sess.EmailVerified, sess.TwoFactorVerified)
	return err
}

func (s *Store) ResetSession(ctx context.Context, id string) (*credlock.PasswordResetSession, error) {
	const q = `
SELECT id, user_id, email, code, expires_at, email_verified, two_factor_verified
FROM password_reset_sessions WHERE id=$1`
	var sess credlock.PasswordResetSession
	err := s.db.Pool.QueryRow(ctx, q, id).
		Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.Code, &sess.ExpiresAt,
			&sess.EmailVerified, &sess.TwoFactorVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credlock.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) SetResetSessionEmailVerified(ctx context.Context, id string) error {
	const q = `UPDATE password_reset_sessions SET email_verified=TRUE WHERE id=$1`
	return s.execOnResetSession(ctx, q, id)
}

func (s *Store) SetResetSessionTwoFactorVerified(ctx context.Context, id string) error {
	const q = `UPDATE password_reset_sessions SET two_factor_verified=TRUE WHERE id=$1`
	return s.execOnResetSession(ctx, q, id)
}

func (s *Store) DeleteResetSession(ctx context.Context, id string) error {
	const q = `DELETE FROM password_reset_sessions WHERE id=$1`
	_, err := s.db.Pool.Exec(ctx, q, id)
	return err
}

func (s *Store) DeleteUserResetSessions(ctx context.Context, userID string) error {
	const q = `DELETE FROM password_reset_sessions WHERE user_id=$1`
	_, err := s.db.Pool.Exec(ctx, q, userID)
	return err
}

func (s *Store) execOnResetSession(ctx context.Context, q string, args ...any) error {
	tag, err := s.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return credlock.ErrSessionNotFound
	}
	return nil
}

// --- credlock.VerificationStore ---

func (s *Store) InsertVerificationRequest(ctx context.Context, r *credlock.EmailVerificationRequest) error {
	const q = `
INSERT INTO email_verification_requests (id, user_id, email, code, expires_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Pool.Exec(ctx, q, r.ID, r.UserID, r.Email, r.Code, r.ExpiresAt)
	return err
}

func (s *Store) VerificationRequest(ctx context.Context, userID, id string) (*credlock.EmailVerificationRequest, error) {
	const q = `
SELECT id, user_id, email, code, expires_at
FROM email_verification_requests WHERE user_id=$1 AND id=$2`
	var r credlock.EmailVerificationRequest
	err := s.db.Pool.QueryRow(ctx, q, userID, id).
		Scan(&r.ID, &r.UserID, &r.Email, &r.Code, &r.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credlock.ErrVerificationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) DeleteUserVerificationRequests(ctx context.Context, userID string) error {
	const q = `DELETE FROM email_verification_requests WHERE user_id=$1`
	_, err := s.db.Pool.Exec(ctx, q, userID)
	return err
}
