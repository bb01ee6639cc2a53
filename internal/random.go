// Package internal holds token and code generation shared by the engine.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"strings"
)

const (
	sessionTokenBytes = 20
	requestIDBytes    = 20
	recoveryCodeBytes = 10
)

// codeAlphabet is standard base32 without padding; 5 random bytes encode to
// exactly 8 characters.
var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSessionToken returns an opaque bearer token: 160 bits of entropy,
// base32 lowercase without padding for cookie-safe transport.
func NewSessionToken() (string, error) {
	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return strings.ToLower(codeEncoding.EncodeToString(raw)), nil
}

// SessionIDFromToken derives the stored session id from a raw token. Only
// this hash ever reaches a store.
func SessionIDFromToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// NewRequestID returns a random identifier for email verification requests.
func NewRequestID() (string, error) {
	raw := make([]byte, requestIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return strings.ToLower(codeEncoding.EncodeToString(raw)), nil
}

// NewOTP returns a one-time code of the given length drawn from the base32
// alphabet (A-Z, 2-7), uppercase.
func NewOTP(length int) (string, error) {
	// base32 yields 8 characters per 5 bytes; over-generate and trim.
	raw := make([]byte, (length*5+39)/40*5)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return codeEncoding.EncodeToString(raw)[:length], nil
}

// NewRecoveryCode returns a 16-character recovery code.
func NewRecoveryCode() (string, error) {
	raw := make([]byte, recoveryCodeBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return codeEncoding.EncodeToString(raw), nil
}
