package encryption

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return key
}

func TestNewFieldCodec_RejectsWrongKeySize(t *testing.T) {
	_, err := NewFieldCodec([]byte("too-short"), CipherXChaCha20Poly1305)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestGenerateKey_Produces32Bytes(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestGenerateKey_ProducesDistinctKeys(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFieldCodec_XChaCha20Poly1305RoundTrip(t *testing.T) {
	codec, err := NewFieldCodec(mustKey(t), CipherXChaCha20Poly1305)
	require.NoError(t, err)

	ciphertext, err := codec.Encrypt("record-1", []byte("hunter2"))
	require.NoError(t, err)

	plaintext, err := codec.Decrypt("record-1", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestFieldCodec_AES256GCMRoundTrip(t *testing.T) {
	codec, err := NewFieldCodec(mustKey(t), CipherAES256GCM)
	require.NoError(t, err)

	ciphertext, err := codec.Encrypt("record-1", []byte("hunter2"))
	require.NoError(t, err)

	plaintext, err := codec.Decrypt("record-1", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestFieldCodec_DecryptAcceptsEitherCipherRegardlessOfConfiguredDefault(t *testing.T) {
	key := mustKey(t)
	chachaCodec, err := NewFieldCodec(key, CipherXChaCha20Poly1305)
	require.NoError(t, err)
	aesCodec, err := NewFieldCodec(key, CipherAES256GCM)
	require.NoError(t, err)

	ciphertext, err := chachaCodec.Encrypt("record-1", []byte("hunter2"))
	require.NoError(t, err)

	plaintext, err := aesCodec.Decrypt("record-1", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestFieldCodec_DecryptFailsOnWrongID(t *testing.T) {
	codec, err := NewFieldCodec(mustKey(t), CipherXChaCha20Poly1305)
	require.NoError(t, err)

	ciphertext, err := codec.Encrypt("record-1", []byte("hunter2"))
	require.NoError(t, err)

	_, err = codec.Decrypt("record-2", ciphertext)
	require.Error(t, err)
}

func TestFieldCodec_DecryptFailsOnWrongKey(t *testing.T) {
	codecA, err := NewFieldCodec(mustKey(t), CipherXChaCha20Poly1305)
	require.NoError(t, err)
	codecB, err := NewFieldCodec(mustKey(t), CipherXChaCha20Poly1305)
	require.NoError(t, err)

	ciphertext, err := codecA.Encrypt("record-1", []byte("hunter2"))
	require.NoError(t, err)

	_, err = codecB.Decrypt("record-1", ciphertext)
	require.Error(t, err)
}

func TestFieldCodec_DecryptRejectsUnrecognizedTag(t *testing.T) {
	codec, err := NewFieldCodec(mustKey(t), CipherXChaCha20Poly1305)
	require.NoError(t, err)

	_, err = codec.Decrypt("record-1", []byte{99, 1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized ciphertext tag")
}

func TestFieldCodec_DecryptRejectsEmptyCiphertext(t *testing.T) {
	codec, err := NewFieldCodec(mustKey(t), CipherXChaCha20Poly1305)
	require.NoError(t, err)

	_, err = codec.Decrypt("record-1", nil)
	require.Error(t, err)
}
