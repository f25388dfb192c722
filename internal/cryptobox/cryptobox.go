// Package cryptobox implements AES-GCM encryption at rest for federation
// agent passwords (spec §4.9). The stored form is "enc:" followed by the
// base64 encoding of nonce || ciphertext || tag.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const prefix = "enc:"

// IsEncrypted reports whether a stored value carries the enc: prefix.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, prefix)
}

// Seal encrypts plaintext with a random 12-byte nonce under key (32 bytes),
// returning "enc:{base64(nonce||ciphertext||tag)}".
func Seal(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptobox: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptobox: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("cryptobox: read nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value previously produced by Seal.
func Open(key []byte, stored string) (string, error) {
	if !IsEncrypted(stored) {
		return "", fmt.Errorf("cryptobox: value is not enc:-prefixed")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", fmt.Errorf("cryptobox: decode base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptobox: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptobox: new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("cryptobox: ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("cryptobox: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// NewKey generates a random 32-byte AES-256 key (spec §4.9 first-boot key).
func NewKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptobox: generate key: %w", err)
	}
	return key, nil
}
