package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	m := NewLocalManager("test-secret")
	ctx := context.Background()

	blob, keyID, err := m.Encrypt(ctx, []byte("998901234567"))
	require.NoError(t, err)
	assert.Equal(t, "local", keyID)
	assert.NotContains(t, string(blob), "998901234567")

	plaintext, err := m.Decrypt(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "998901234567", string(plaintext))
}

func TestEncryptUsesFreshDataKeys(t *testing.T) {
	m := NewLocalManager("test-secret")
	ctx := context.Background()

	first, _, err := m.Encrypt(ctx, []byte("same input"))
	require.NoError(t, err)
	second, _, err := m.Encrypt(ctx, []byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	m := NewLocalManager("test-secret")
	ctx := context.Background()

	_, err := m.Decrypt(ctx, nil)
	assert.Error(t, err)

	_, err = m.Decrypt(ctx, []byte{0, 4, 1, 2})
	assert.Error(t, err)
}

func TestDecryptWithDifferentSecretFails(t *testing.T) {
	ctx := context.Background()
	blob, _, err := NewLocalManager("secret-a").Encrypt(ctx, []byte("hello"))
	require.NoError(t, err)

	_, err = NewLocalManager("secret-b").Decrypt(ctx, blob)
	assert.Error(t, err)
}
