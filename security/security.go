// Package security provides an optional at-rest encryption codec for bytes
// held in a Rubber allocation. It is standalone: none of the cache façades
// takes or applies a Codec, so they store bodies exactly as the rubber-sink
// wrote them.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
)

// Codec encrypts and decrypts the byte payloads a cache stores, using
// AES-256-GCM with a key derived from an operator passphrase via scrypt.
type Codec struct {
	gcm cipher.AEAD
}

// NewCodec derives a key from passphrase and returns a ready-to-use Codec.
// salt should be unique per deployment; passing the same salt and
// passphrase always derives the same key, which is what lets a restarted
// process re-derive a key it never persists.
func NewCodec(passphrase string, salt []byte) (*Codec, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("security: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return &Codec{gcm: gcm}, nil
}

// Encrypt seals data, prepending a freshly generated nonce.
func (c *Codec) Encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data previously produced by Encrypt.
func (c *Codec) Decrypt(data []byte) ([]byte, error) {
	n := c.gcm.NonceSize()
	if len(data) < n {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	nonce, ciphertext := data[:n], data[n:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt: %w", err)
	}
	return plaintext, nil
}

// DeriveSalt produces a deterministic, deployment-scoped salt from a label,
// so a cache configured only with a passphrase and a fixed label can
// re-derive the same key across restarts without persisting a random salt.
func DeriveSalt(label string) []byte {
	sum := sha256.Sum256([]byte(label))
	return sum[:]
}
