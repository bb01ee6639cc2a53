package credlock

import "errors"

var (
	// ErrRateLimited is returned when a token bucket denies the operation.
	// Callers should back off; it is always checked before any secret is
	// touched.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotAuthenticated is returned when no session or flow record is
	// bound to the presented token.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrSessionNotFound is returned when a session id resolves to no row.
	// Expired rows are lazily deleted and reported through this error.
	ErrSessionNotFound = errors.New("session not found")
	// ErrVerificationNotFound is returned when no verification request
	// matches the given user and request id.
	ErrVerificationNotFound = errors.New("verification request not found")
	// ErrUserNotFound is returned when a user row is absent. Login surfaces
	// it distinctly from ErrInvalidCredentials; the sign-in flow reports
	// unknown accounts to the user.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned on registration when the email is in use.
	ErrEmailTaken = errors.New("email already in use")
	// ErrInvalidCredentials is returned on a password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrIncorrectCode is returned when a submitted OTP or TOTP code does
	// not match. No state changes accompany this error.
	ErrIncorrectCode = errors.New("incorrect code")
	// ErrInvalidRecoveryCode is returned when the supplied recovery code
	// does not match the stored one. No sessions are touched on this path.
	ErrInvalidRecoveryCode = errors.New("invalid recovery code")
	// ErrConflict is returned when a conditional update affected zero rows
	// because a concurrent request won the race.
	ErrConflict = errors.New("concurrent modification conflict")
	// ErrForbidden is returned when a flow step is attempted out of order,
	// such as consuming a reset session before its email is verified.
	ErrForbidden = errors.New("forbidden")
	// ErrEmailAlreadyVerified is returned when a verification resend is
	// requested for an address that is already verified.
	ErrEmailAlreadyVerified = errors.New("email already verified")
	// ErrWeakPassword is returned when a password fails the policy check.
	ErrWeakPassword = errors.New("password does not meet policy")
	// ErrTwoFactorNotConfigured is returned when a TOTP operation targets a
	// user without an enrolled key.
	ErrTwoFactorNotConfigured = errors.New("two-factor not configured")
	// ErrStoreUnavailable wraps backend failures from any store. Operations
	// abort without partial state changes where atomicity was required.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is returned when the engine is missing a required
	// collaborator.
	ErrEngineNotReady = errors.New("engine not initialized")
)
