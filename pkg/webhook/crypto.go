package webhook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrDecryptFailed is returned when no keyring key can open a ciphertext
var ErrDecryptFailed = errors.New("decryption failed with all keys")

// Keyring encrypts client secrets with AES-GCM under an ordered key list.
// The first key encrypts; every key is tried for decryption, so old keys
// can be rotated out gradually.
type Keyring struct {
	aeads []cipher.AEAD
}

// NewKeyring builds a keyring from base64-encoded 32-byte keys, newest
// first
func NewKeyring(encodedKeys []string) (*Keyring, error) {
	if len(encodedKeys) == 0 {
		return nil, errors.New("keyring needs at least one key")
	}

	aeads := make([]cipher.AEAD, 0, len(encodedKeys))
	for i, encoded := range encodedKeys {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("key %d is not valid base64: %w", i, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key %d is %d bytes, want 32", i, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		aeads = append(aeads, aead)
	}
	return &Keyring{aeads: aeads}, nil
}

// Encrypt seals plaintext with the newest key and returns base64 text
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	aead := k.aeads[0]
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext, trying every key in order
func (k *Keyring) Decrypt(ciphertext string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}

	for _, aead := range k.aeads {
		if len(sealed) < aead.NonceSize() {
			continue
		}
		nonce, body := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
		plaintext, err := aead.Open(nil, nonce, body, nil)
		if err == nil {
			return string(plaintext), nil
		}
	}
	return "", ErrDecryptFailed
}
