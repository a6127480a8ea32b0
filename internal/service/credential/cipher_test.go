package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func TestAEADCipher_RoundTrip(t *testing.T) {
	for _, alg := range []string{AlgorithmAESGCM, AlgorithmChaCha20Poly1305} {
		t.Run(alg, func(t *testing.T) {
			c, err := NewCipher(alg, testKey(7))
			require.NoError(t, err)

			blob, err := c.Seal([]byte("app-password-1234"), []byte("user-1/bluesky"))
			require.NoError(t, err)
			assert.Len(t, blob, NonceSize+TagSize+len("app-password-1234"))

			plain, err := c.Open(blob, []byte("user-1/bluesky"))
			require.NoError(t, err)
			assert.Equal(t, "app-password-1234", string(plain))
		})
	}
}

func TestAEADCipher_BlobLayout(t *testing.T) {
	key := testKey(3)
	c, err := NewCipher(AlgorithmAESGCM, key)
	require.NoError(t, err)

	blob, err := c.Seal([]byte("secret"), nil)
	require.NoError(t, err)

	// Reassemble nonce || tag || ciphertext into the stdlib ciphertext || tag form
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	gcm, err := cipher.NewGCM(block)
	require.NoError(t, err)

	nonce, tag, ct := blob[:12], blob[12:28], blob[28:]
	plain, err := gcm.Open(nil, nonce, append(append([]byte{}, ct...), tag...), nil)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))
}

func TestAEADCipher_NoncesDiffer(t *testing.T) {
	c, err := NewCipher(AlgorithmAESGCM, testKey(1))
	require.NoError(t, err)

	a, err := c.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := c.Seal([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestAEADCipher_OpenFailures(t *testing.T) {
	c, err := NewCipher(AlgorithmAESGCM, testKey(1))
	require.NoError(t, err)
	other, err := NewCipher(AlgorithmAESGCM, testKey(2))
	require.NoError(t, err)

	blob, err := c.Seal([]byte("token"), []byte("aad"))
	require.NoError(t, err)

	tampered := append([]byte{}, blob...)
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name   string
		cipher *AEADCipher
		blob   []byte
		aad    []byte
	}{
		{"tampered ciphertext", c, tampered, []byte("aad")},
		{"wrong key", other, blob, []byte("aad")},
		{"wrong additional data", c, blob, []byte("other-row")},
		{"short blob", c, blob[:10], []byte("aad")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := tt.cipher.Open(tt.blob, tt.aad)
			assert.Nil(t, plain)
			assert.True(t, errors.Is(err, ErrDecryption), "got %v", err)
		})
	}
}

func TestNewCipher_Validation(t *testing.T) {
	_, err := NewCipher(AlgorithmAESGCM, []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewCipher("rot13", testKey(1))
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	key := testKey(9)

	got, err := ParseKey(hex.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = ParseKey(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = ParseKey("  " + base64.RawURLEncoding.EncodeToString(key) + "\n")
	require.NoError(t, err)
	assert.Equal(t, key, got)

	_, err = ParseKey("too-short")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
