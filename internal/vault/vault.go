// Package vault seals and opens guardian contact details.
//
// Contact information (email addresses, phone numbers) is never stored in
// plaintext. The registry seals it on write and the notification dispatcher
// opens it just before delivery.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
)

var (
	ErrInvalidKey        = errors.New("vault: key must be 32 bytes")
	ErrMalformedBlob     = errors.New("vault: malformed sealed blob")
	ErrDecryptionFailed  = errors.New("vault: decryption failed (wrong key or tampered data)")
)

// Vault seals plaintext contact details into opaque blobs and opens them back.
type Vault interface {
	Seal(plaintext string) (string, error)
	Open(blob string) (string, error)
}

// AESVault is an AES-256-GCM Vault with a static key.
type AESVault struct {
	key []byte
}

// NewAESVault creates a vault from a 32-byte key.
func NewAESVault(key []byte) (*AESVault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}
	k := make([]byte, 32)
	copy(k, key)
	return &AESVault{key: k}, nil
}

// NewAESVaultFromHex creates a vault from a hex-encoded 32-byte key.
func NewAESVaultFromHex(keyHex string) (*AESVault, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return NewAESVault(key)
}

// Seal encrypts plaintext and returns a hex-encoded blob with the nonce prepended.
func (v *AESVault) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

// Open decrypts a blob produced by Seal.
func (v *AESVault) Open(blob string) (string, error) {
	ciphertext, err := hex.DecodeString(blob)
	if err != nil {
		return "", ErrMalformedBlob
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrMalformedBlob
	}

	nonce, actual := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, actual, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}
