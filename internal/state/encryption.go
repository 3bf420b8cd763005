package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	// EncryptionKeyEnvVar holds the passphrase state is sealed with.
	EncryptionKeyEnvVar = "SPLUNKSTACK_STATE_ENCRYPTION_KEY"

	encryptedHeader = "# SPLUNKSTACK_ENCRYPTED_STATE v1\n"
)

// ErrNoKey is returned when sealed state is read without a key.
var ErrNoKey = errors.New("state is encrypted but " + EncryptionKeyEnvVar + " is not set")

// Encryptor seals state with AES-256-GCM. A nil *Encryptor passes plain
// content through and rejects sealed content.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a 256-bit key from passphrase with SHA-256.
func NewEncryptor(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, errors.New("empty encryption passphrase")
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// EncryptorFromEnv returns the encryptor configured by EncryptionKeyEnvVar,
// or nil when the variable is unset.
func EncryptorFromEnv() (*Encryptor, error) {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil, nil
	}
	return NewEncryptor(passphrase)
}

// Seal encrypts content behind a text header so sealed files stay
// recognisable.
func (e *Encryptor) Seal(content []byte) ([]byte, error) {
	if e == nil {
		return content, nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, content, []byte(encryptedHeader))

	out := make([]byte, 0, len(encryptedHeader)+base64.StdEncoding.EncodedLen(len(sealed))+1)
	out = append(out, encryptedHeader...)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return append(out, '\n'), nil
}

// Open decrypts sealed content. Plain content is returned unchanged.
func (e *Encryptor) Open(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}
	if e == nil {
		return nil, ErrNoKey
	}

	encoded := bytes.TrimSpace(content[len(encryptedHeader):])
	sealed, err := base64.StdEncoding.AppendDecode(nil, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := e.aead.Open(nil, nonce, ciphertext, []byte(encryptedHeader))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong key?): %w", err)
	}
	return plain, nil
}

// IsEncrypted checks if state content is encrypted.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, []byte(encryptedHeader))
}
