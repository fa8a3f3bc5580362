package middleware

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
)

// EnvelopeItemID marks the single response entry that carries an encrypted snapshot.
const EnvelopeItemID = "__encrypted__"

// ErrNotEncrypted is returned when a cached snapshot carries no encrypted envelope.
var ErrNotEncrypted = errors.New("snapshot is missing encrypted data envelope")

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt.
	FallbackKeys [][]byte
}

// Validate checks the key sizes.
func (c EncryptionConfig) Validate() error {
	if len(c.ActiveKey) != 32 {
		return errors.New("active key must be 32 bytes (AES-256)")
	}
	for i, k := range c.FallbackKeys {
		if len(k) != 32 {
			return fmt.Errorf("fallback key %d must be 32 bytes (AES-256)", i)
		}
	}
	return nil
}

type encryptionMiddleware struct {
	next   ports.RecoveryCache
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts snapshots at rest
// using AES-GCM. It panics on an invalid key; use EncryptionConfig.Validate first
// when keys come from user input.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if err := config.Validate(); err != nil {
		panic(err.Error())
	}
	return func(next ports.RecoveryCache) ports.RecoveryCache {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

// Write stores an opaque envelope. The key, status and marker stay readable
// so listing and monitoring keep working; everything else is sealed.
func (m *encryptionMiddleware) Write(key domain.SessionKey, snapshot domain.RecoverySnapshot) error {
	plainText, err := domain.EncodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt snapshot: %w", err)
	}

	envelope := domain.RecoverySnapshot{
		UserID:     snapshot.UserID,
		PlaybookID: snapshot.PlaybookID,
		Progress: domain.Progress{
			UserID:     snapshot.Progress.UserID,
			PlaybookID: snapshot.Progress.PlaybookID,
			Status:     snapshot.Progress.Status,
			UpdatedAt:  snapshot.Progress.UpdatedAt,
		},
		Responses: []domain.Response{{
			UserID:     snapshot.UserID,
			PlaybookID: snapshot.PlaybookID,
			ItemID:     EnvelopeItemID,
			Payload:    map[string]any{"data": base64.StdEncoding.EncodeToString(ciphertext)},
		}},
		LastSavedAt: snapshot.LastSavedAt,
	}
	return m.next.Write(key, envelope)
}

func (m *encryptionMiddleware) Read(key domain.SessionKey) (domain.RecoverySnapshot, error) {
	envelope, err := m.next.Read(key)
	if err != nil {
		return domain.RecoverySnapshot{}, err
	}

	if len(envelope.Responses) != 1 || envelope.Responses[0].ItemID != EnvelopeItemID {
		return domain.RecoverySnapshot{}, ErrNotEncrypted
	}
	encoded, ok := envelope.Responses[0].Payload["data"].(string)
	if !ok {
		return domain.RecoverySnapshot{}, ErrNotEncrypted
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.RecoverySnapshot{}, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return domain.RecoverySnapshot{}, fmt.Errorf("failed to decrypt snapshot: %w", err)
	}

	snapshot, err := domain.DecodeSnapshot(plainText)
	if err != nil {
		return domain.RecoverySnapshot{}, fmt.Errorf("failed to unmarshal decrypted snapshot: %w", err)
	}
	return snapshot, nil
}

func (m *encryptionMiddleware) Clear(key domain.SessionKey) error {
	return m.next.Clear(key)
}

func (m *encryptionMiddleware) List() ([]domain.SessionKey, error) {
	return m.next.List()
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
