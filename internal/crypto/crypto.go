// Package crypto encrypts individual private columns (such as a user's phone
// number) before they are written to the database.
package crypto

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
)

// sealedPrefix marks values written by FieldCipher. Values without it are
// legacy plaintext and are returned as-is by Open.
const sealedPrefix = "enc1:"

// ErrTampered is returned when a sealed value fails authentication, either
// because it was modified or because it was copied from another row.
var ErrTampered = errors.New("sealed value failed authentication")

// FieldCipher seals column values with AES-256-GCM. The row identity is
// bound in as associated data, so a ciphertext only opens for the row it
// was written for.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher creates a FieldCipher from a hex-encoded 32-byte key.
// Returns nil if key is empty (encryption disabled).
func NewFieldCipher(hexKey string) (*FieldCipher, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &FieldCipher{aead: aead}, nil
}

// Enabled reports whether values are actually sealed.
func (c *FieldCipher) Enabled() bool { return c != nil }

// Seal encrypts value for the given column and row. Empty values stay empty
// and a nil FieldCipher returns value unchanged.
func (c *FieldCipher) Seal(column, rowID, value string) (string, error) {
	if c == nil || value == "" {
		return value, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(value), associatedData(column, rowID))
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Values that were never sealed pass through, which lets
// a key be introduced on a table that already holds plaintext.
func (c *FieldCipher) Open(column, rowID, stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if c == nil {
		return "", errors.New("sealed value found but no encryption key is configured")
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrTampered
	}

	nonce, body := data[:nonceSize], data[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, body, associatedData(column, rowID))
	if err != nil {
		return "", ErrTampered
	}
	return string(plain), nil
}

func associatedData(column, rowID string) []byte {
	return []byte(column + "\x00" + rowID)
}
