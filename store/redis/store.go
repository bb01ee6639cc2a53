// Package redisstore backs the session, password reset, and verification
// stores with Redis. Records are JSON values under prefixed keys with a
// per-user index set; Redis key expiry acts as garbage collection at the
// record's expiry time, while the engine still applies its own lazy expiry
// on read.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/credlock/credlock"
)

// ErrUnavailable wraps every backend failure from this store.
var ErrUnavailable = errors.New("redis unavailable")

const (
	sessionKeyPrefix      = "cl:sess:"
	sessionIndexPrefix    = "cl:sess_user:"
	resetKeyPrefix        = "cl:reset:"
	resetIndexPrefix      = "cl:reset_user:"
	verificationKeyPrefix = "cl:verif:"
)

// ttlGrace keeps rows around briefly past their logical expiry so the
// engine's delete-on-read path still observes them.
const ttlGrace = time.Hour

// Store implements credlock.SessionStore, credlock.ResetSessionStore, and
// credlock.VerificationStore. User rows belong in a relational backend.
type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func wrap(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func expiryDeadline(expiresAt time.Time) time.Time {
	return expiresAt.Add(ttlGrace)
}

// --- credlock.SessionStore ---

type sessionRecord struct {
	UserID            string    `json:"user_id"`
	ExpiresAt         time.Time `json:"expires_at"`
	TwoFactorVerified bool      `json:"two_factor_verified"`
}

func (s *Store) InsertSession(ctx context.Context, sess *credlock.Session) error {
	data, err := json.Marshal(sessionRecord{
		UserID:            sess.UserID,
		ExpiresAt:         sess.ExpiresAt,
		TwoFactorVerified: sess.TwoFactorVerified,
	})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, 0)
		pipe.ExpireAt(ctx, sessionKeyPrefix+sess.ID, expiryDeadline(sess.ExpiresAt))
		pipe.SAdd(ctx, sessionIndexPrefix+sess.UserID, sess.ID)
		pipe.ExpireAt(ctx, sessionIndexPrefix+sess.UserID, expiryDeadline(sess.ExpiresAt))
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, id string) (*credlock.Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credlock.ErrSessionNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, wrap(err)
	}
	return &credlock.Session{
		ID:                id,
		UserID:            rec.UserID,
		ExpiresAt:         rec.ExpiresAt,
		TwoFactorVerified: rec.TwoFactorVerified,
	}, nil
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	return s.updateSession(ctx, id, func(rec *sessionRecord) {
		rec.ExpiresAt = expiresAt
	})
}

func (s *Store) SetSessionTwoFactorVerified(ctx context.Context, id string) error {
	return s.updateSession(ctx, id, func(rec *sessionRecord) {
		rec.TwoFactorVerified = true
	})
}

// updateSession is an optimistic read-modify-write: Watch aborts the write
// if the row changes underneath, and the mutation is retried.
func (s *Store) updateSession(ctx context.Context, id string, mutate func(*sessionRecord)) error {
	key := sessionKeyPrefix + id

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		mutate(&rec)
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ExpireAt(ctx, key, expiryDeadline(rec.ExpiresAt))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return credlock.ErrSessionNotFound
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap(err)
	}
	return wrap(redis.TxFailedErr)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	rec, err := s.Session(ctx, id)
	if errors.Is(err, credlock.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKeyPrefix+id)
		pipe.SRem(ctx, sessionIndexPrefix+rec.UserID, id)
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) DeleteUserSessions(ctx context.Context, userID string) error {
	ids, err := s.client.SMembers(ctx, sessionIndexPrefix+userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return wrap(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, sessionKeyPrefix+id)
		}
		pipe.Del(ctx, sessionIndexPrefix+userID)
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

// --- credlock.ResetSessionStore ---

type resetRecord struct {
	UserID            string    `json:"user_id"`
	Email             string    `json:"email"`
	Code              string    `json:"code"`
	ExpiresAt         time.Time `json:"expires_at"`
	EmailVerified     bool      `json:"email_verified"`
	TwoFactorVerified bool      `json:"two_factor_verified"`
}

func (s *Store) InsertResetSession(ctx context.Context, sess *credlock.PasswordResetSession) error {
	data, err := json.Marshal(resetRecord{
		UserID:            sess.UserID,
		Email:             sess.Email,
		Code:              sess.Code,
		ExpiresAt:         sess.ExpiresAt,
		EmailVerified:     sess.EmailVerified,
		TwoFactorVerified: sess.TwoFactorVerified,
	})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, resetKeyPrefix+sess.ID, data, 0)
		pipe.ExpireAt(ctx, resetKeyPrefix+sess.ID, expiryDeadline(sess.ExpiresAt))
		pipe.SAdd(ctx, resetIndexPrefix+sess.UserID, sess.ID)
		pipe.ExpireAt(ctx, resetIndexPrefix+sess.UserID, expiryDeadline(sess.ExpiresAt))
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) ResetSession(ctx context.Context, id string) (*credlock.PasswordResetSession, error) {
	data, err := s.client.Get(ctx, resetKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credlock.ErrSessionNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}

	var rec resetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, wrap(err)
	}
	return &credlock.PasswordResetSession{
		ID:                id,
		UserID:            rec.UserID,
		Email:             rec.Email,
		Code:              rec.Code,
		ExpiresAt:         rec.ExpiresAt,
		EmailVerified:     rec.EmailVerified,
		TwoFactorVerified: rec.TwoFactorVerified,
	}, nil
}

func (s *Store) SetResetSessionEmailVerified(ctx context.Context, id string) error {
	return s.updateResetSession(ctx, id, func(rec *resetRecord) {
		rec.EmailVerified = true
	})
}

func (s *Store) SetResetSessionTwoFactorVerified(ctx context.Context, id string) error {
	return s.updateResetSession(ctx, id, func(rec *resetRecord) {
		rec.TwoFactorVerified = true
	})
}

func (s *Store) updateResetSession(ctx context.Context, id string, mutate func(*resetRecord)) error {
	key := resetKeyPrefix + id

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		var rec resetRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		mutate(&rec)
		updated, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			pipe.ExpireAt(ctx, key, expiryDeadline(rec.ExpiresAt))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return credlock.ErrSessionNotFound
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap(err)
	}
	return wrap(redis.TxFailedErr)
}

func (s *Store) DeleteResetSession(ctx context.Context, id string) error {
	rec, err := s.ResetSession(ctx, id)
	if errors.Is(err, credlock.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, resetKeyPrefix+id)
		pipe.SRem(ctx, resetIndexPrefix+rec.UserID, id)
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) DeleteUserResetSessions(ctx context.Context, userID string) error {
	ids, err := s.client.SMembers(ctx, resetIndexPrefix+userID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return wrap(err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, resetKeyPrefix+id)
		}
		pipe.Del(ctx, resetIndexPrefix+userID)
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

// --- credlock.VerificationStore ---

// A user holds at most one verification request, so the record lives under
// the user key with the request id inside it.
type verificationRecord struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Store) InsertVerificationRequest(ctx context.Context, r *credlock.EmailVerificationRequest) error {
	data, err := json.Marshal(verificationRecord{
		ID:        r.ID,
		Email:     r.Email,
		Code:      r.Code,
		ExpiresAt: r.ExpiresAt,
	})
	if err != nil {
		return err
	}

	key := verificationKeyPrefix + r.UserID
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.ExpireAt(ctx, key, expiryDeadline(r.ExpiresAt))
		return nil
	})
	if err != nil {
		return wrap(err)
	}
	return nil
}

func (s *Store) VerificationRequest(ctx context.Context, userID, id string) (*credlock.EmailVerificationRequest, error) {
	data, err := s.client.Get(ctx, verificationKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credlock.ErrVerificationNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}

	var rec verificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, wrap(err)
	}
	if rec.ID != id {
		return nil, credlock.ErrVerificationNotFound
	}
	return &credlock.EmailVerificationRequest{
		ID:        rec.ID,
		UserID:    userID,
		Email:     rec.Email,
		Code:      rec.Code,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *Store) DeleteUserVerificationRequests(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, verificationKeyPrefix+userID).Err(); err != nil {
		return wrap(err)
	}
	return nil
}
