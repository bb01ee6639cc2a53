package credlock

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory implementation of all four store interfaces with
// the same conditional-update semantics as the SQL backends.
type memStore struct {
	mu            sync.Mutex
	users         map[string]*memUser
	sessions      map[string]*Session
	resetSessions map[string]*PasswordResetSession
	verifications map[string]*EmailVerificationRequest // keyed by user id
}

type memUser struct {
	id            string
	email         string
	username      string
	passwordHash  string
	emailVerified bool
	totpKey       []byte
	recoveryCode  []byte
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]*memUser),
		sessions:      make(map[string]*Session),
		resetSessions: make(map[string]*PasswordResetSession),
		verifications: make(map[string]*EmailVerificationRequest),
	}
}

var (
	_ UserStore         = (*memStore)(nil)
	_ SessionStore      = (*memStore)(nil)
	_ ResetSessionStore = (*memStore)(nil)
	_ VerificationStore = (*memStore)(nil)
)

func (m *memStore) CreateUser(_ context.Context, u NewUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.email == u.Email {
			return ErrEmailTaken
		}
	}
	m.users[u.ID] = &memUser{
		id:           u.ID,
		email:        u.Email,
		username:     u.Username,
		passwordHash: u.PasswordHash,
		recoveryCode: append([]byte(nil), u.RecoveryCode...),
	}
	return nil
}

func (m *memStore) userView(u *memUser) *User {
	return &User{
		ID:            u.id,
		Email:         u.email,
		Username:      u.username,
		EmailVerified: u.emailVerified,
		Registered2FA: len(u.totpKey) > 0,
	}
}

func (m *memStore) UserByID(_ context.Context, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return m.userView(u), nil
}

func (m *memStore) UserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.email == email {
			return m.userView(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memStore) EmailAvailable(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.email == email {
			return false, nil
		}
	}
	return true, nil
}

func (m *memStore) PasswordHash(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return u.passwordHash, nil
}

func (m *memStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.passwordHash = hash
	return nil
}

func (m *memStore) UpdateEmailAndSetVerified(_ context.Context, userID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.email = email
	u.emailVerified = true
	return nil
}

func (m *memStore) SetEmailVerifiedIfMatches(_ context.Context, userID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.email != email {
		return false, nil
	}
	u.emailVerified = true
	return true, nil
}

func (m *memStore) RecoveryCode(_ context.Context, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return append([]byte(nil), u.recoveryCode...), nil
}

func (m *memStore) ReplaceRecoveryCode(_ context.Context, userID string, current, next []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || !bytes.Equal(u.recoveryCode, current) {
		return false, nil
	}
	u.recoveryCode = append([]byte(nil), next...)
	u.totpKey = nil
	return true, nil
}

func (m *memStore) UpdateRecoveryCode(_ context.Context, userID string, code []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.recoveryCode = append([]byte(nil), code...)
	return nil
}

func (m *memStore) TOTPKey(_ context.Context, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return append([]byte(nil), u.totpKey...), nil
}

func (m *memStore) UpdateTOTPKey(_ context.Context, userID string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.totpKey = append([]byte(nil), key...)
	return nil
}

func (m *memStore) InsertSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *memStore) Session(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *memStore) UpdateSessionExpiry(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.ExpiresAt = expiresAt
	return nil
}

func (m *memStore) SetSessionTwoFactorVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.TwoFactorVerified = true
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memStore) DeleteUserSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memStore) sessionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) InsertResetSession(_ context.Context, s *PasswordResetSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *s
	m.resetSessions[s.ID] = &clone
	return nil
}

func (m *memStore) ResetSession(_ context.Context, id string) (*PasswordResetSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.resetSessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *memStore) SetResetSessionEmailVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.resetSessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.EmailVerified = true
	return nil
}

func (m *memStore) SetResetSessionTwoFactorVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.resetSessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.TwoFactorVerified = true
	return nil
}

func (m *memStore) DeleteResetSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resetSessions, id)
	return nil
}

func (m *memStore) DeleteUserResetSessions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.resetSessions {
		if s.UserID == userID {
			delete(m.resetSessions, id)
		}
	}
	return nil
}

func (m *memStore) resetSessionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.resetSessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) InsertVerificationRequest(_ context.Context, r *EmailVerificationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *r
	m.verifications[r.UserID] = &clone
	return nil
}

func (m *memStore) VerificationRequest(_ context.Context, userID, id string) (*EmailVerificationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.verifications[userID]
	if !ok || r.ID != id {
		return nil, ErrVerificationNotFound
	}
	clone := *r
	return &clone, nil
}

func (m *memStore) DeleteUserVerificationRequests(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.verifications, userID)
	return nil
}

// memMailer records sent codes for assertions.
type memMailer struct {
	mu                 sync.Mutex
	verificationCodes  []sentCode
	passwordResetCodes []sentCode
}

type sentCode struct {
	email string
	code  string
}

func (m *memMailer) SendVerificationCode(email, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationCodes = append(m.verificationCodes, sentCode{email, code})
}

func (m *memMailer) SendPasswordResetCode(email, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwordResetCodes = append(m.passwordResetCodes, sentCode{email, code})
}

func (m *memMailer) lastVerification() (sentCode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verificationCodes) == 0 {
		return sentCode{}, false
	}
	return m.verificationCodes[len(m.verificationCodes)-1], true
}

func (m *memMailer) lastPasswordReset() (sentCode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.passwordResetCodes) == 0 {
		return sentCode{}, false
	}
	return m.passwordResetCodes[len(m.passwordResetCodes)-1], true
}

// testClock is a mutable clock injected into the engine.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testSecretKey = bytes.Repeat([]byte{0x07}, 16)

func newTestEngine(t *testing.T) (*Engine, *memStore, *memMailer, *testClock) {
	return newTestEngineWith(t, nil)
}

// newTestEngineWith builds an engine on in-memory stores; mutate, when
// non-nil, adjusts the default config before Build.
func newTestEngineWith(t *testing.T, mutate func(*Config)) (*Engine, *memStore, *memMailer, *testClock) {
	t.Helper()
	store := newMemStore()
	mailer := &memMailer{}

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	e, err := New().
		WithConfig(cfg).
		WithUserStore(store).
		WithSessionStore(store).
		WithResetSessionStore(store).
		WithVerificationStore(store).
		WithMailer(mailer).
		WithSecretKey(testSecretKey).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(e.Close)

	clock := newTestClock()
	e.now = clock.now
	return e, store, mailer, clock
}

func mustRegister(t *testing.T, e *Engine, email string) *AuthResult {
	t.Helper()
	result, _, err := e.Register(context.Background(), email, "tester", "correct horse battery")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return result
}
