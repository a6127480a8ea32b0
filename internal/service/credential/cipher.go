package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	AlgorithmAESGCM           = "aes-256-gcm"
	AlgorithmChaCha20Poly1305 = "chacha20-poly1305"
)

var (
	ErrNotFound   = errors.New("credential not found")
	ErrDecryption = errors.New("credential decryption failed")
	ErrInvalidKey = errors.New("invalid credential key")
)

// Cipher seals and opens credential blobs. The additional data binds a blob
// to the row it was written for.
type Cipher interface {
	Seal(plaintext, additionalData []byte) ([]byte, error)
	Open(blob, additionalData []byte) ([]byte, error)
}

// AEADCipher stores blobs as nonce || tag || ciphertext.
type AEADCipher struct {
	aead   cipher.AEAD
	random io.Reader
}

var _ Cipher = (*AEADCipher)(nil)

// NewCipher builds the process-wide credential cipher from a 32-byte key.
func NewCipher(algorithm string, key []byte) (*AEADCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch algorithm {
	case AlgorithmAESGCM, "":
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		aead, err = cipher.NewGCM(block)
	case AlgorithmChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unknown credential cipher: %q", algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}

	return &AEADCipher{aead: aead, random: rand.Reader}, nil
}

// ParseKey decodes a key given as 64 hex characters or as base64.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)

	if len(encoded) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(encoded); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil && len(key) == KeySize {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: expected %d bytes as hex or base64", ErrInvalidKey, KeySize)
}

func (c *AEADCipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// Seal returns ciphertext || tag
	sealed := c.aead.Seal(nil, nonce, plaintext, additionalData)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	blob := make([]byte, 0, NonceSize+TagSize+len(ct))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ct...)
	return blob, nil
}

func (c *AEADCipher) Open(blob, additionalData []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short", ErrDecryption)
	}

	nonce := blob[:NonceSize]
	tag := blob[NonceSize : NonceSize+TagSize]
	ct := blob[NonceSize+TagSize:]

	sealed := make([]byte, 0, len(ct)+TagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, additionalData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}
