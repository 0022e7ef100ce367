package secrets

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

const (
	nonceSize  = 12 // standard GCM nonce length
	dataKeyLen = 32 // AES-256
	hkdfSalt   = "theragate/keystore/v1"
)

// ErrNoMasterKey is returned when a Sealer is built without key material.
var ErrNoMasterKey = errors.New("master key is empty")

// Sealer encrypts small blobs with AES-256-GCM. Every blob is sealed under a
// data key derived from the master key with HKDF-SHA256 for its context
// label, and the label is bound as additional data, so a blob copied to
// another slot fails to open.
type Sealer struct {
	master []byte
}

// NewSealer creates a Sealer from the configured master key.
func NewSealer(masterKey string) (*Sealer, error) {
	if masterKey == "" {
		return nil, ErrNoMasterKey
	}
	return &Sealer{master: []byte(masterKey)}, nil
}

// DeriveKey returns the data key for label.
func (s *Sealer) DeriveKey(label string) ([]byte, error) {
	key := make([]byte, dataKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, []byte(hkdfSalt), []byte(label)), key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext for label. The 12-byte nonce is prepended.
func (s *Sealer) Seal(label string, plaintext []byte) ([]byte, error) {
	gcm, err := s.aead(label)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, []byte(label)), nil
}

// Open decrypts a blob produced by Seal for the same label.
func (s *Sealer) Open(label string, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	gcm, err := s.aead(label)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(label))
	if err != nil {
		return nil, fmt.Errorf("gcm.Open: %w", err)
	}
	return plaintext, nil
}

func (s *Sealer) aead(label string) (cipher.AEAD, error) {
	key, err := s.DeriveKey(label)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
