package security

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/muhammadsaniishaq/abu-mafhal-marketplace-sub004/configs"
)

// ErrNoKey means no sealing key is configured; payloads are stored as-is.
var ErrNoKey = errors.New("no aes256_b64url configured")

type CryptoMaterial struct {
	KeyID  string
	AESKey []byte
}

func NewCryptoMaterial(c configs.Config) (*CryptoMaterial, error) {
	cm, err := LoadCryptoMaterial(c)
	return &cm, err
}

func LoadCryptoMaterial(c configs.Config) (CryptoMaterial, error) {
	if c.CryptoConfig.AES256B64 == "" {
		return CryptoMaterial{}, ErrNoKey
	}
	// --- AES-256 key ---
	key, err := base64.RawURLEncoding.DecodeString(c.CryptoConfig.AES256B64)
	if err != nil {
		return CryptoMaterial{}, fmt.Errorf("decode aes256_b64url: %w", err)
	}
	if len(key) != 32 {
		return CryptoMaterial{}, fmt.Errorf("aes key must be 32 bytes, got %d", len(key))
	}

	id := c.CryptoConfig.KeyID
	if id == "" {
		id = "v1"
	}
	return CryptoMaterial{
		KeyID:  id,
		AESKey: key,
	}, nil
}
