package hipaa

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func generateTestKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return key
}

func TestNewArtifactSealer(t *testing.T) {
	t.Run("valid 32-byte key", func(t *testing.T) {
		s, err := NewArtifactSealer(generateTestKey(t))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s == nil {
			t.Fatal("expected non-nil sealer")
		}
	})

	for _, size := range []int{0, 16, 64} {
		if _, err := NewArtifactSealer(make([]byte, size)); err == nil {
			t.Errorf("expected error for %d-byte key", size)
		}
	}
}

func TestSealRoundTrip(t *testing.T) {
	s, err := NewArtifactSealer(generateTestKey(t))
	if err != nil {
		t.Fatalf("create sealer: %v", err)
	}

	cases := [][]byte{
		[]byte("%PDF-1.3\nPatient name: Ana Pérez"),
		{},
		{0x00, 0x01, 0xff, 0xfe},
	}
	for _, plaintext := range cases {
		sealed, err := s.EncryptBytes(plaintext)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if len(plaintext) > 0 && bytes.Contains(sealed, plaintext) {
			t.Error("sealed payload should not contain the plaintext")
		}

		opened, err := s.DecryptBytes(sealed)
		if err != nil {
			t.Fatalf("unseal: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("roundtrip failed: got %q, want %q", opened, plaintext)
		}
	}
}

func TestSealProducesDifferentCiphertexts(t *testing.T) {
	s, _ := NewArtifactSealer(generateTestKey(t))
	a, _ := s.EncryptBytes([]byte("same"))
	b, _ := s.EncryptBytes([]byte("same"))
	if bytes.Equal(a, b) {
		t.Error("sealing twice should produce different payloads due to unique nonces")
	}
}

func TestUnsealInvalidInput(t *testing.T) {
	s, _ := NewArtifactSealer(generateTestKey(t))

	t.Run("plaintext", func(t *testing.T) {
		_, err := s.DecryptBytes([]byte("%PDF-1.3"))
		if !errors.Is(err, ErrNotSealed) {
			t.Fatalf("expected ErrNotSealed, got %v", err)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := s.DecryptBytes([]byte("MPS1abc")); err == nil {
			t.Fatal("expected error for short payload")
		}
	})

	t.Run("corrupted", func(t *testing.T) {
		sealed, _ := s.EncryptBytes([]byte("lab results"))
		sealed[len(sealed)-1] ^= 0xff
		if _, err := s.DecryptBytes(sealed); err == nil {
			t.Fatal("expected error for corrupted payload")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, _ := s.EncryptBytes([]byte("lab results"))
		other, _ := NewArtifactSealer(generateTestKey(t))
		if _, err := other.DecryptBytes(sealed); err == nil {
			t.Fatal("expected error when unsealing with wrong key")
		}
	})
}
