package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-service/internal/config"
)

func testHasher(pepper string) *Hasher {
	return NewHasher(&config.HashingConfig{
		Argon2MemoryCost:  8,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		PhonePepper:       pepper,
	})
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "998901234567", NormalizePhone("+998 90 123-45-67"))
	assert.Equal(t, "998901234567", NormalizePhone("998(90)1234567"))
	assert.Equal(t, "998901234567", NormalizePhone("998901234567"))
	assert.Empty(t, NormalizePhone("abc"))
}

func TestPhoneHashDeterministic(t *testing.T) {
	h := testHasher("pepper")

	first := h.PhoneHash("+998 90 123-45-67")
	second := h.PhoneHash("998901234567")
	assert.Equal(t, first, second, "formatting must not change the digest")
	assert.Len(t, first, 64)
}

func TestPhoneHashPepperSeparatesDeployments(t *testing.T) {
	a := testHasher("pepper-a").PhoneHash("998901234567")
	b := testHasher("pepper-b").PhoneHash("998901234567")
	assert.NotEqual(t, a, b)
}

func TestAPIKeyRoundTrip(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.HashAPIKey("super-secret-admin-key")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$argon2id$")

	ok, err := h.VerifyAPIKey("super-secret-admin-key", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyAPIKey("wrong-key", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyAPIKeyRejectsMalformedHash(t *testing.T) {
	h := testHasher("pepper")

	_, err := h.VerifyAPIKey("key", "not-a-hash")
	assert.Error(t, err)

	_, err = h.VerifyAPIKey("key", "$argon2i$v=19$m=8,t=1,p=1$AAAA$BBBB")
	assert.Error(t, err)
}

func TestHashAPIKeySaltsDiffer(t *testing.T) {
	h := testHasher("pepper")

	first, err := h.HashAPIKey("key")
	require.NoError(t, err)
	second, err := h.HashAPIKey("key")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
