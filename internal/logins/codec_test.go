package logins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptSecureFields_RoundTrip(t *testing.T) {
	enc := passthroughEncryptor{}
	encoded, err := encryptSecureFields(enc, "guid-1", SecureFields{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := decryptSecureFields(enc, "guid-1", encoded)
	require.NoError(t, err)
	assert.Equal(t, "alice", decoded.Username)
	assert.Equal(t, "hunter2", decoded.Password)
}

func TestDecryptSecureFields_EmptyStringIsZeroValue(t *testing.T) {
	decoded, err := decryptSecureFields(passthroughEncryptor{}, "guid-1", "")
	require.NoError(t, err)
	assert.Equal(t, SecureFields{}, decoded)
}

func TestDecryptSecureFields_WrongIDFailsAuthentication(t *testing.T) {
	enc := passthroughEncryptor{}
	encoded, err := encryptSecureFields(enc, "guid-1", SecureFields{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	_, err = decryptSecureFields(enc, "guid-2", encoded)
	require.Error(t, err)
	var cryptoErr *CryptoFailureError
	assert.ErrorAs(t, err, &cryptoErr)
}

func TestDecryptSecureFields_InvalidBase64(t *testing.T) {
	_, err := decryptSecureFields(passthroughEncryptor{}, "guid-1", "not-valid-base64!!!")
	require.Error(t, err)
	var cryptoErr *CryptoFailureError
	require.ErrorAs(t, err, &cryptoErr)
	assert.Equal(t, "base64-decode", cryptoErr.Op)
}
