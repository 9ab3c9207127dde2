package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-service/internal/config"
	"growth-service/internal/model"
)

func newSubscriptionFixture(basePrice int64) (*SubscriptionService, *fakeUserRepo, *fakeSubscriptionRepo) {
	users := newFakeUserRepo()
	subs := newFakeSubscriptionRepo()
	svc := NewSubscriptionService(subs, users, &stubSettings{reward: 10_000, base: basePrice},
		config.FunnelConfig{BasePrice: basePrice, SubscriptionDays: 30, DefaultRewardAmount: 10_000})
	return svc, users, subs
}

func TestQuoteWithoutBalance(t *testing.T) {
	svc, users, _ := newSubscriptionFixture(97_000)
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &model.User{TelegramID: 7}))

	quote, err := svc.Quote(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(97_000), quote.BasePrice)
	assert.Zero(t, quote.Discount)
	assert.Equal(t, int64(97_000), quote.FinalPrice)
}

func TestQuoteDiscountCappedAtBasePrice(t *testing.T) {
	svc, users, _ := newSubscriptionFixture(97_000)
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &model.User{TelegramID: 7}))
	require.NoError(t, users.CreditBalance(ctx, 7, 150_000))

	quote, err := svc.Quote(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), quote.ReferralBalance)
	assert.Equal(t, int64(97_000), quote.Discount)
	assert.Zero(t, quote.FinalPrice, "price never goes negative")
}

func TestQuoteMutatesNothing(t *testing.T) {
	svc, users, _ := newSubscriptionFixture(97_000)
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &model.User{TelegramID: 7}))
	require.NoError(t, users.CreditBalance(ctx, 7, 30_000))

	for i := 0; i < 3; i++ {
		_, err := svc.Quote(ctx, 7)
		require.NoError(t, err)
	}

	balance, err := users.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), balance.Balance)
}

func TestApplyDiscountClampsToLiveBalance(t *testing.T) {
	svc, users, _ := newSubscriptionFixture(97_000)
	ctx := context.Background()
	require.NoError(t, users.CreateUser(ctx, &model.User{TelegramID: 7}))
	require.NoError(t, users.CreditBalance(ctx, 7, 20_000))

	debited, err := svc.ApplyDiscount(ctx, 7, 50_000)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), debited)

	balance, err := users.GetBalance(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, balance.Balance)
	assert.Equal(t, int64(20_000), balance.TotalUsed)
}

func TestActivateGrantsFullPeriod(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(97_000)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	sub, err := svc.Activate(context.Background(), 7, "card-token", 97_000)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Equal(t, now.Add(30*24*time.Hour), *sub.ExpiresAt)
}

func TestReactivateRestartsFromNow(t *testing.T) {
	svc, _, subs := newSubscriptionFixture(97_000)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }
	_, err := svc.Activate(ctx, 7, "", 97_000)
	require.NoError(t, err)

	// Paying again ten days in restarts the clock; periods do not stack.
	second := first.Add(10 * 24 * time.Hour)
	svc.now = func() time.Time { return second }
	_, err = svc.Activate(ctx, 7, "", 97_000)
	require.NoError(t, err)

	stored, err := subs.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, second.Add(30*24*time.Hour), *stored.ExpiresAt)
}

func TestStatusLazilyExpires(t *testing.T) {
	svc, _, subs := newSubscriptionFixture(97_000)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	_, err := svc.Activate(ctx, 7, "", 97_000)
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(31 * 24 * time.Hour) }

	sub, err := svc.Status(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionExpired, sub.Status)

	stored, err := subs.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionExpired, stored.Status, "expiry is persisted")

	active, err := svc.IsActive(ctx, 7)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStatusForUnknownUserIsInactive(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(97_000)

	sub, err := svc.Status(context.Background(), 404)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionInactive, sub.Status)
}

func TestCancelActiveSubscription(t *testing.T) {
	svc, _, _ := newSubscriptionFixture(97_000)
	ctx := context.Background()

	_, err := svc.Activate(ctx, 7, "", 97_000)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, 7)
	require.NoError(t, err)
	assert.True(t, cancelled)

	active, err := svc.IsActive(ctx, 7)
	require.NoError(t, err)
	assert.False(t, active)

	// A second cancel has nothing to do.
	cancelled, err = svc.Cancel(ctx, 7)
	require.NoError(t, err)
	assert.False(t, cancelled)
}
