// Package hipaa protects report artifacts at rest. Generated reports carry
// patient identifiers and lab results, so the filesystem store seals them
// with AES-256-GCM when an encryption key is configured.
package hipaa

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// sealedMagic prefixes every sealed payload so plaintext is never mistaken
// for ciphertext.
var sealedMagic = []byte("MPS1")

// ErrNotSealed is returned when DecryptBytes is given data that was not
// produced by EncryptBytes.
var ErrNotSealed = errors.New("payload is not sealed")

// ArtifactSealer encrypts and decrypts whole artifacts with AES-256-GCM.
// It is safe for concurrent use.
type ArtifactSealer struct {
	aead cipher.AEAD
}

// NewArtifactSealer creates a sealer with the given 32-byte AES-256 key.
func NewArtifactSealer(key []byte) (*ArtifactSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("artifact sealer: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("artifact sealer: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("artifact sealer: create GCM: %w", err)
	}

	return &ArtifactSealer{aead: aead}, nil
}

// EncryptBytes returns magic + nonce + ciphertext. The magic is also bound as
// additional data.
func (s *ArtifactSealer) EncryptBytes(data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("seal: generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+len(nonce)+len(data)+s.aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, nonce...)
	return s.aead.Seal(out, nonce, data, sealedMagic), nil
}

// DecryptBytes reverses EncryptBytes.
func (s *ArtifactSealer) DecryptBytes(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, sealedMagic) {
		return nil, ErrNotSealed
	}
	data = data[len(sealedMagic):]

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("unseal: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}
	return plaintext, nil
}
