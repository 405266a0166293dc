package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigEncryptor(t *testing.T) {
	_, err := NewConfigEncryptor("")
	assert.Error(t, err)

	enc, err := NewConfigEncryptor("short-but-fine")
	require.NoError(t, err)
	assert.NotNil(t, enc)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewConfigEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	for _, plain := range []string{"a", "Bearer s3cr3t", strings.Repeat("x", 4096), "ünïcødé"} {
		sealed, err := enc.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, sealed)

		opened, err := enc.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}

	empty, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEncryptionIsRandomised(t *testing.T) {
	enc, err := NewConfigEncryptor("key")
	require.NoError(t, err)

	a, err := enc.Encrypt("same")
	require.NoError(t, err)
	b, err := enc.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperingAndWrongKey(t *testing.T) {
	enc, err := NewConfigEncryptor("key-one")
	require.NoError(t, err)
	other, err := NewConfigEncryptor("key-two")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("payload")
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.Error(t, err)

	_, err = enc.Decrypt("not base64 !!")
	assert.Error(t, err)

	_, err = enc.Decrypt("AAAA")
	assert.Error(t, err)
}

func TestHeaderCodecs(t *testing.T) {
	headers := map[string]string{"Authorization": "Bearer abc", "X-Tenant": "42"}

	t.Run("encrypted", func(t *testing.T) {
		codec, err := NewHeaderCodec("0123456789abcdef0123456789abcdef")
		require.NoError(t, err)

		stored, err := codec.EncodeHeaders(headers)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(stored, sealedPrefix))
		assert.NotContains(t, stored, "Bearer abc")

		decoded, err := codec.DecodeHeaders(stored)
		require.NoError(t, err)
		assert.Equal(t, headers, decoded)

		legacy, err := codec.DecodeHeaders(`{"X-Old":"1"}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"X-Old": "1"}, legacy)
	})

	t.Run("plain", func(t *testing.T) {
		codec, err := NewHeaderCodec("")
		require.NoError(t, err)

		stored, err := codec.EncodeHeaders(headers)
		require.NoError(t, err)
		assert.Contains(t, stored, "Bearer abc")

		decoded, err := codec.DecodeHeaders(stored)
		require.NoError(t, err)
		assert.Equal(t, headers, decoded)

		_, err = codec.DecodeHeaders(sealedPrefix + "xyz")
		assert.Error(t, err)

		empty, err := codec.DecodeHeaders("")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}
