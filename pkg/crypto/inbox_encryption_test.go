package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor([]byte("short-key"))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("ya29.access-token")
	require.NoError(t, err)
	assert.NotEqual(t, "ya29.access-token", sealed)
	assert.True(t, IsEncrypted(sealed))

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", plain)
}

func TestEncryptorRejectsForeignKey(t *testing.T) {
	a, err := NewEncryptor([]byte("key-a"))
	require.NoError(t, err)
	b, err := NewEncryptor([]byte("key-b"))
	require.NoError(t, err)

	sealed, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestNilEncryptorPassesThrough(t *testing.T) {
	var enc *Encryptor

	out, err := enc.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
	assert.Equal(t, "plain", enc.DecryptLenient("plain"))
}

func TestDecryptLenientKeepsLegacyPlaintext(t *testing.T) {
	enc, err := NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	assert.Equal(t, "1//legacy-refresh", enc.DecryptLenient("1//legacy-refresh"))
	assert.Equal(t, "", enc.DecryptLenient(""))
}

func TestNewEncryptorRequiresKey(t *testing.T) {
	_, err := NewEncryptor(nil)
	assert.Error(t, err)
}
