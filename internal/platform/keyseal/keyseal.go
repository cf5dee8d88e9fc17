package keyseal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Sealer encrypts stored provider API keys with a key derived per user, so a
// leaked central DB row is useless without both the master secret and the
// owning user id.
type Sealer struct {
	master []byte
}

func New(masterSecret string) (*Sealer, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("missing master secret")
	}
	return &Sealer{master: []byte(masterSecret)}, nil
}

func (s *Sealer) deriveKey(userID string) ([]byte, error) {
	r := hkdf.New(sha256.New, s.master, []byte(userID), []byte("threadloom/api-key-seal/v1"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext under the user-derived key. Output is
// base64(nonce || ciphertext).
func (s *Sealer) Seal(userID, plaintext string) (string, error) {
	key, err := s.deriveKey(userID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Sealer) Open(userID, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	key, err := s.deriveKey(userID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("sealed value too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plaintext), nil
}
