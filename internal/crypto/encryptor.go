// Package crypto encrypts webhook header maps at rest. Outbound webhook
// headers routinely carry credentials (Authorization, API keys) for the
// receiving system, so they are sealed with AES-256-GCM before they reach
// the database when an encryption key is configured.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"

	"automation-engine/internal/common/errors"

	"golang.org/x/crypto/pbkdf2"
)

// sealedPrefix marks a stored header document as encrypted so rows written
// before a key was configured stay readable.
const sealedPrefix = "enc:v1:"

// HeaderCodec converts header maps to and from their stored form.
type HeaderCodec interface {
	EncodeHeaders(headers map[string]string) (string, error)
	DecodeHeaders(stored string) (map[string]string, error)
}

// PlainHeaders stores headers as JSON without encryption.
type PlainHeaders struct{}

func (PlainHeaders) EncodeHeaders(headers map[string]string) (string, error) {
	return encodeJSON(headers)
}

func (PlainHeaders) DecodeHeaders(stored string) (map[string]string, error) {
	if strings.HasPrefix(stored, sealedPrefix) {
		return nil, errors.ConfigError("stored headers are encrypted but no CONFIG_ENCRYPTION_KEY is configured")
	}
	return decodeJSON(stored)
}

// ConfigEncryptor seals data with AES-256-GCM. The key is derived with
// PBKDF2 so any non-empty passphrase yields a 32-byte key.
//
// Safe for concurrent use.
type ConfigEncryptor struct {
	aead cipher.AEAD
}

// NewConfigEncryptor derives an AES-256 key from key.
func NewConfigEncryptor(key string) (*ConfigEncryptor, error) {
	if key == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	derivedKey := pbkdf2.Key([]byte(key), []byte("automation-engine-headers"), 10000, 32, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return &ConfigEncryptor{aead: aead}, nil
}

// NewHeaderCodec returns an encrypting codec when key is set and a plain
// JSON codec otherwise.
func NewHeaderCodec(key string) (HeaderCodec, error) {
	if key == "" {
		return PlainHeaders{}, nil
	}
	return NewConfigEncryptor(key)
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
// Empty input yields empty output.
func (e *ConfigEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered input and wrong keys fail.
func (e *ConfigEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}
	return string(plaintext), nil
}

// EncodeHeaders seals the JSON form of headers. An empty map is stored as
// plain "{}".
func (e *ConfigEncryptor) EncodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	plain, err := encodeJSON(headers)
	if err != nil {
		return "", err
	}
	sealed, err := e.Encrypt(plain)
	if err != nil {
		return "", err
	}
	return sealedPrefix + sealed, nil
}

// DecodeHeaders opens sealed header documents and passes plain JSON through.
func (e *ConfigEncryptor) DecodeHeaders(stored string) (map[string]string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return decodeJSON(stored)
	}
	plain, err := e.Decrypt(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return nil, err
	}
	return decodeJSON(plain)
}

func encodeJSON(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return "", errors.InternalError("failed to marshal headers", err)
	}
	return string(data), nil
}

func decodeJSON(stored string) (map[string]string, error) {
	headers := map[string]string{}
	if stored == "" {
		return headers, nil
	}
	if err := json.Unmarshal([]byte(stored), &headers); err != nil {
		return nil, errors.InternalError("failed to unmarshal headers", err)
	}
	return headers, nil
}
