package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "12345:test-bot-token"

// signInitData reproduces the signing Telegram performs on the client side.
func signInitData(botToken string, values url.Values) string {
	pairs := make([]string, 0, len(values))
	for key := range values {
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	secretMac := hmac.New(sha256.New, []byte("WebAppData"))
	secretMac.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secretMac.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func signedInitData(t *testing.T, authDate time.Time, startParam string) string {
	t.Helper()

	values := url.Values{}
	values.Set("user", `{"id":7,"first_name":"Aziz","username":"aziz"}`)
	values.Set("auth_date", fmt.Sprintf("%d", authDate.Unix()))
	values.Set("query_id", "AAA")
	if startParam != "" {
		values.Set("start_param", startParam)
	}
	values.Set("hash", signInitData(testBotToken, values))
	return values.Encode()
}

func TestValidateAcceptsSignedPayload(t *testing.T) {
	validator := NewValidator(testBotToken)
	now := time.Now()

	data, err := validator.Validate(signedInitData(t, now, "ref_100"), now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), data.User.ID)
	assert.Equal(t, "Aziz", data.User.FirstName)
	assert.Equal(t, "ref_100", data.StartParam)
}

func TestValidateRejectsTamperedPayload(t *testing.T) {
	validator := NewValidator(testBotToken)
	now := time.Now()

	raw := signedInitData(t, now, "")
	tampered := strings.Replace(raw, "%22id%22%3A7", "%22id%22%3A8", 1)
	require.NotEqual(t, raw, tampered)

	_, err := validator.Validate(tampered, now)
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestValidateRejectsWrongBotToken(t *testing.T) {
	validator := NewValidator("999:other-token")
	now := time.Now()

	_, err := validator.Validate(signedInitData(t, now, ""), now)
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestValidateRejectsStalePayload(t *testing.T) {
	validator := NewValidator(testBotToken)
	now := time.Now()

	_, err := validator.Validate(signedInitData(t, now.Add(-25*time.Hour), ""), now)
	assert.ErrorIs(t, err, ErrExpiredAuth)
}

func TestValidateRejectsMissingHash(t *testing.T) {
	validator := NewValidator(testBotToken)

	_, err := validator.Validate("user=%7B%22id%22%3A7%7D&auth_date=1", time.Now())
	assert.ErrorIs(t, err, ErrMissingHash)
}

func TestInitDataContextRoundTrip(t *testing.T) {
	validator := NewValidator(testBotToken)
	now := time.Now()

	data, err := validator.Validate(signedInitData(t, now, ""), now)
	require.NoError(t, err)

	ctx := WithInitData(context.Background(), data)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.User.ID)
}
