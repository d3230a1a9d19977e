// Package cryptobox provides authenticated encryption for stored
// conversation messages: AES-256-GCM with keys derived from an external
// secret via HKDF-SHA256.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrDecryptFailed is returned when a ciphertext fails authentication.
var ErrDecryptFailed = errors.New("cryptobox: decrypt failed")

const keySize = 32

// Box seals and opens message payloads with a derived AES-256-GCM key.
type Box struct {
	aead cipher.AEAD
}

// New derives the encryption key from secret via HKDF-SHA256 with a
// domain-separation info string and returns a ready Box. The secret may be
// any length; it must simply have enough entropy.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("cryptobox: empty secret")
	}
	key := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("kiro-ai-gateway/messages/v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptobox: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts plaintext and returns the ciphertext with its fresh random
// nonce. aad binds the ciphertext to its context (e.g. the user id) so rows
// cannot be swapped between users.
func (b *Box) Seal(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("cryptobox: nonce: %w", err)
	}
	return b.aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// Open decrypts and authenticates a ciphertext. Any tampering with the
// ciphertext, nonce or aad yields ErrDecryptFailed.
func (b *Box) Open(ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != b.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
