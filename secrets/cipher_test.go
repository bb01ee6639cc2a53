package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, KeySize))
	require.NoError(t, err)
	return c
}

func TestNewCipherRejectsBadKey(t *testing.T) {
	_, err := NewCipher([]byte("too short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewCipher(bytes.Repeat([]byte{1}, 32))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	ct, err := c.EncryptString("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	pt, err := c.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", pt)
}

func TestEncryptIsNondeterministic(t *testing.T) {
	c := testCipher(t)

	a, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh nonce per encryption")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c := testCipher(t)

	ct, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = c.Decrypt(ct)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptRejectsTruncatedCiphertext(t *testing.T) {
	c := testCipher(t)

	_, err := c.Decrypt([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
