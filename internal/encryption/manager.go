package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"growth-service/internal/config"
	"growth-service/internal/util"
)

// Manager envelope-encrypts phone numbers at rest. With KMS enabled a fresh
// data key wraps each value; without it (local development) a key derived
// from the pepper is used so the pipeline stays identical.
type Manager struct {
	kmsClient *kms.Client
	keyID     string
	localKey  []byte
}

func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	manager := &Manager{
		keyID: cfg.KMS.KeyID,
	}

	if cfg.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.KMS.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		manager.kmsClient = kms.NewFromConfig(awsCfg)
		util.Info("KMS encryption enabled", util.String("key_id", cfg.KMS.KeyID))
	} else {
		derived := sha256.Sum256([]byte("local-envelope:" + cfg.Hashing.PhonePepper))
		manager.localKey = derived[:]
		util.Warn("KMS disabled, using locally derived envelope key")
	}

	return manager, nil
}

// NewLocalManager builds a KMS-free manager around a derived key. Used in
// development and tests.
func NewLocalManager(secret string) *Manager {
	derived := sha256.Sum256([]byte("local-envelope:" + secret))
	return &Manager{localKey: derived[:]}
}

// Encrypt seals plaintext and returns the ciphertext blob plus the key id
// that can later unwrap it. The blob layout is wrappedKeyLen || wrappedKey ||
// nonce || sealed.
func (m *Manager) Encrypt(ctx context.Context, plaintext []byte) ([]byte, string, error) {
	dataKey, wrappedKey, keyID, err := m.generateDataKey(ctx)
	if err != nil {
		return nil, "", err
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	blob := make([]byte, 0, 2+len(wrappedKey)+len(nonce)+len(sealed))
	blob = append(blob, byte(len(wrappedKey)>>8), byte(len(wrappedKey)))
	blob = append(blob, wrappedKey...)
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)
	return blob, keyID, nil
}

// Decrypt reverses Encrypt.
func (m *Manager) Decrypt(ctx context.Context, blob []byte) ([]byte, error) {
	if len(blob) < 2 {
		return nil, fmt.Errorf("ciphertext blob too short")
	}
	wrappedLen := int(blob[0])<<8 | int(blob[1])
	if len(blob) < 2+wrappedLen {
		return nil, fmt.Errorf("ciphertext blob truncated")
	}
	wrappedKey := blob[2 : 2+wrappedLen]
	rest := blob[2+wrappedLen:]

	dataKey, err := m.unwrapDataKey(ctx, wrappedKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext blob truncated")
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (m *Manager) generateDataKey(ctx context.Context) (plain, wrapped []byte, keyID string, err error) {
	if m.kmsClient != nil {
		out, err := m.kmsClient.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
			KeyId:   &m.keyID,
			KeySpec: kmstypes.DataKeySpecAes256,
		})
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
		}
		return out.Plaintext, out.CiphertextBlob, m.keyID, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, nil, "", fmt.Errorf("failed to generate data key: %w", err)
	}
	wrapped, err = m.localWrap(key)
	if err != nil {
		return nil, nil, "", err
	}
	return key, wrapped, "local", nil
}

func (m *Manager) unwrapDataKey(ctx context.Context, wrapped []byte) ([]byte, error) {
	if m.kmsClient != nil {
		out, err := m.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: wrapped})
		if err != nil {
			return nil, fmt.Errorf("failed to unwrap data key: %w", err)
		}
		return out.Plaintext, nil
	}
	return m.localUnwrap(wrapped)
}

func (m *Manager) localWrap(key []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.localKey)
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
	return append(nonce, gcm.Seal(nil, nonce, key, nil)...), nil
}

func (m *Manager) localUnwrap(wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.localKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("wrapped key too short")
	}
	return gcm.Open(nil, wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():], nil)
}
