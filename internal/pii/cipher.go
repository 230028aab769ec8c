// Package pii encrypts personally identifying fields before they are stored.
//
// Encryption is deterministic: the same plaintext under the same secret always
// produces the same ciphertext, so encrypted columns can be matched by equality.
// The nonce is derived from the plaintext with a separate HMAC key, which means
// two different values never share an AES-GCM nonce.
package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptSalt = "salt"
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1

	keySize = 32
)

// ErrMalformed is returned when a ciphertext cannot be decoded or authenticated.
var ErrMalformed = errors.New("pii: malformed ciphertext")

// Cipher encrypts and decrypts identity fields. Safe for concurrent use.
type Cipher struct {
	aead  cipher.AEAD
	ivKey []byte
}

// NewCipher derives encryption keys from the server secret.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("pii: secret is required")
	}

	master, err := scrypt.Key([]byte(secret), []byte(scryptSalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	kdf := hkdf.New(sha256.New, master, nil, []byte("pii/v1"))
	encKey := make([]byte, keySize)
	ivKey := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	if _, err := io.ReadFull(kdf, ivKey); err != nil {
		return nil, fmt.Errorf("derive iv key: %w", err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	return &Cipher{aead: aead, ivKey: ivKey}, nil
}

// Encrypt returns the hex encoded ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext string) string {
	nonce := c.nonceFor(plaintext)
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)

	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return hex.EncodeToString(out)
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", ErrMalformed
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", ErrMalformed
	}

	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrMalformed
	}
	return string(plain), nil
}

func (c *Cipher) nonceFor(plaintext string) []byte {
	mac := hmac.New(sha256.New, c.ivKey)
	mac.Write([]byte(plaintext))
	return mac.Sum(nil)[:c.aead.NonceSize()]
}
