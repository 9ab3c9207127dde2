package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingHash    = errors.New("init data has no hash")
	ErrInvalidHash    = errors.New("init data hash mismatch")
	ErrExpiredAuth    = errors.New("init data auth_date too old")
	ErrMissingUser    = errors.New("init data has no user")
	ErrMalformedInput = errors.New("init data is not a query string")
)

// MaxInitDataAge bounds how old a signed init data payload may be before it
// is rejected as a replay.
const MaxInitDataAge = 24 * time.Hour

// WebAppUser is the user object Telegram embeds in init data.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// InitData is a validated Telegram Mini App payload.
type InitData struct {
	User       WebAppUser
	AuthDate   time.Time
	StartParam string
	raw        url.Values
}

// Get returns a raw field from the payload.
func (d *InitData) Get(key string) string {
	return d.raw.Get(key)
}

// Validator checks Telegram Mini App init data signatures.
type Validator struct {
	secret []byte
	maxAge time.Duration
}

// NewValidator derives the signing secret from the bot token the way
// Telegram specifies: HMAC-SHA256 keyed with the literal "WebAppData".
func NewValidator(botToken string) *Validator {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return &Validator{secret: mac.Sum(nil), maxAge: MaxInitDataAge}
}

// Validate verifies the signature and freshness of raw init data and returns
// the parsed payload.
func (v *Validator) Validate(raw string, now time.Time) (*InitData, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, ErrMalformedInput
	}

	providedHash := values.Get("hash")
	if providedHash == "" {
		return nil, ErrMissingHash
	}

	// Data check string: every field except hash, sorted, newline joined.
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(providedHash)) {
		return nil, ErrInvalidHash
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("init data auth_date: %w", err)
	}
	authDate := time.Unix(authUnix, 0)
	if v.maxAge > 0 && now.Sub(authDate) > v.maxAge {
		return nil, ErrExpiredAuth
	}

	data := &InitData{
		AuthDate:   authDate,
		StartParam: values.Get("start_param"),
		raw:        values,
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, ErrMissingUser
	}
	if err := json.Unmarshal([]byte(userJSON), &data.User); err != nil {
		return nil, fmt.Errorf("init data user: %w", err)
	}
	return data, nil
}

type contextKey struct{}

// WithInitData stores validated init data on a request context.
func WithInitData(ctx context.Context, data *InitData) context.Context {
	return context.WithValue(ctx, contextKey{}, data)
}

// FromContext returns the validated init data placed by the middleware.
func FromContext(ctx context.Context) (*InitData, bool) {
	data, ok := ctx.Value(contextKey{}).(*InitData)
	return data, ok
}
