package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Sealer encrypts webhook payloads kept in the audit trail.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// ---- Implementation ----

// aesSealer produces keyID || 0x00 || nonce || ct so a rotated key can still
// tell which material sealed an old row.
type aesSealer struct {
	keyID     []byte
	aead      cipher.AEAD // AES-256-GCM
	nonceSize int         // e.g., 12 (nonce = iv "intialization vector")
}

func NewSealer(cm *CryptoMaterial) (Sealer, error) {
	if len(cm.AESKey) != 32 {
		return nil, fmt.Errorf("aes key must be 32 bytes, got %d", len(cm.AESKey))
	}

	block, err := aes.NewCipher(cm.AESKey)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	return &aesSealer{
		keyID:     []byte(cm.KeyID),
		aead:      aead,
		nonceSize: aead.NonceSize(),
	}, nil
}

func (s *aesSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, plaintext, s.keyID)

	// concat: keyID || 0 || nonce || ct
	out := make([]byte, 0, len(s.keyID)+1+len(nonce)+len(ct))
	out = append(out, s.keyID...)
	out = append(out, 0)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

func (s *aesSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < len(s.keyID)+1 || string(sealed[:len(s.keyID)]) != string(s.keyID) || sealed[len(s.keyID)] != 0 {
		return nil, errors.New("sealed by unknown key")
	}
	body := sealed[len(s.keyID)+1:]
	if len(body) < s.nonceSize+s.aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := body[:s.nonceSize]
	ct := body[s.nonceSize:]
	pt, err := s.aead.Open(nil, nonce, ct, s.keyID)
	if err != nil {
		return nil, fmt.Errorf("gcm open: %w", err)
	}
	return pt, nil
}
