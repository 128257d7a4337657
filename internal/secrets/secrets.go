// Package secrets encrypts upstream surrogate credentials under the server's
// master key and generates the random material used by the auth flows.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// Box seals and opens small secrets with AES-256-GCM. The key is derived from
// the configured master key, so ciphertexts decrypt only with the server's key.
type Box struct {
	key [32]byte
}

// NewBox derives an encryption key from the provided master key.
func NewBox(masterKey string) (*Box, error) {
	if masterKey == "" {
		return nil, errors.New("master key is required")
	}
	return &Box{key: sha256.Sum256([]byte(masterKey))}, nil
}

// Encrypt seals the plaintext and returns a self-contained base64 blob
// (nonce prepended to the ciphertext). A fresh nonce is generated per call.
func (b *Box) Encrypt(plaintext string) (string, error) {
	aead, err := b.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a blob produced by Encrypt.
func (b *Box) Decrypt(encoded string) (string, error) {
	aead, err := b.aead()
	if err != nil {
		return "", err
	}
	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("secret is truncated")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(plaintext), nil
}

func (b *Box) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(b.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// GenerateCredential returns a high-entropy random secret suitable for use as
// an upstream surrogate password. length is the number of random bytes before
// encoding.
func GenerateCredential(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateCode returns a 6-digit zero-padded one-time code drawn from a
// uniformly random source.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
