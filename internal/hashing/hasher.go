package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"growth-service/internal/config"
)

// Hasher produces the lookup hashes and credential hashes used across the
// service. Phone hashes are deterministic (they key dedup tables); admin API
// keys use argon2id.
type Hasher struct {
	pepper      []byte
	timeCost    uint32
	memoryCost  uint32
	parallelism uint8
	keyLength   uint32
}

func NewHasher(cfg *config.HashingConfig) *Hasher {
	return &Hasher{
		pepper:      []byte(cfg.PhonePepper),
		timeCost:    uint32(cfg.Argon2TimeCost),
		memoryCost:  uint32(cfg.Argon2MemoryCost),
		parallelism: uint8(cfg.Argon2Parallelism),
		keyLength:   32,
	}
}

// PhoneHash returns a deterministic peppered digest of a normalized phone
// number. Determinism is required: the digest keys the anti-fraud claim
// table, so the same phone must always produce the same value.
func (h *Hasher) PhoneHash(phone string) string {
	normalized := NormalizePhone(phone)
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizePhone strips formatting so equivalent inputs collapse to one
// canonical form.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HashAPIKey derives an argon2id hash for an admin API key.
func (h *Hasher) HashAPIKey(key string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(key), salt, h.timeCost, h.memoryCost, h.parallelism, h.keyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memoryCost, h.timeCost, h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyAPIKey checks a presented key against a stored argon2id hash.
func (h *Hasher) VerifyAPIKey(key, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("malformed argon2id hash")
	}

	var memory, timeCost uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return false, fmt.Errorf("malformed argon2id parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed argon2id salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed argon2id digest: %w", err)
	}

	actual := argon2.IDKey([]byte(key), salt, timeCost, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}
