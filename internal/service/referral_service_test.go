package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-service/internal/config"
	"growth-service/internal/hashing"
	"growth-service/internal/model"
)

func newTestHasher() *hashing.Hasher {
	return hashing.NewHasher(&config.HashingConfig{
		Argon2MemoryCost:  8,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
		PhonePepper:       "test-pepper",
	})
}

type referralFixture struct {
	users     *fakeUserRepo
	referrals *fakeReferralRepo
	events    *fakeEventRepo
	service   *ReferralService
}

func newReferralFixture(t *testing.T, reward int64) *referralFixture {
	t.Helper()
	users := newFakeUserRepo()
	referrals := newFakeReferralRepo()
	events := newFakeEventRepo()
	svc := NewReferralService(referrals, users, events,
		&stubSettings{reward: reward, base: 97_000}, newTestHasher())
	return &referralFixture{users: users, referrals: referrals, events: events, service: svc}
}

func (f *referralFixture) addUser(t *testing.T, telegramID int64) {
	t.Helper()
	require.NoError(t, f.users.CreateUser(context.Background(),
		&model.User{TelegramID: telegramID}))
}

func (f *referralFixture) validate(t *testing.T, referredID int64, phone string) bool {
	t.Helper()
	validated, err := f.service.Validate(context.Background(), referredID, phone)
	require.NoError(t, err)
	return validated
}

func TestReferralCreateFirstReferrerWins(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	require.NoError(t, fx.service.Create(ctx, 100, 200))
	require.NoError(t, fx.service.Create(ctx, 999, 200))

	referral, err := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(100), referral.ReferrerID)
	assert.Equal(t, model.ReferralPending, referral.Status)
}

func TestReferralCreateRejectsSelfReferral(t *testing.T) {
	fx := newReferralFixture(t, 10_000)

	err := fx.service.Create(context.Background(), 100, 100)
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestReferralValidateMarksValidAndEmitsEvent(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	require.NoError(t, fx.service.Create(ctx, 100, 200))
	assert.True(t, fx.validate(t, 200, "+998 90 123-45-67"))

	referral, err := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralValid, referral.Status)
	assert.NotEmpty(t, referral.PhoneHash)

	assert.Contains(t, fx.events.typesFor(100), model.EventReferralValid)
}

func TestReferralValidateMissingReferralIsNoop(t *testing.T) {
	fx := newReferralFixture(t, 10_000)

	validated, err := fx.service.Validate(context.Background(), 404, "+998901234567")
	assert.NoError(t, err)
	assert.False(t, validated)
}

func TestReferralValidateFlagsReusedPhone(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	require.NoError(t, fx.service.Create(ctx, 100, 200))
	assert.True(t, fx.validate(t, 200, "+998901234567"))

	// Second account registering with the same number, formatted differently.
	require.NoError(t, fx.service.Create(ctx, 100, 201))
	assert.False(t, fx.validate(t, 201, "998 (90) 123 45 67"))

	flagged, err := fx.referrals.GetByReferred(ctx, 201)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralFlagged, flagged.Status)

	first, err := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralValid, first.Status)
}

func TestReferralValidateVelocityLimit(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	for i := 1; i <= VelocityLimitPerHour+1; i++ {
		referredID := int64(200 + i)
		require.NoError(t, fx.service.Create(ctx, 100, referredID))
		validated := fx.validate(t, referredID, fmt.Sprintf("+9989012345%02d", i))

		referral, err := fx.referrals.GetByReferred(ctx, referredID)
		require.NoError(t, err)
		if i <= VelocityLimitPerHour {
			assert.True(t, validated, "referral %d", i)
			assert.Equal(t, model.ReferralValid, referral.Status, "referral %d", i)
		} else {
			assert.False(t, validated, "referral %d", i)
			assert.Equal(t, model.ReferralFlagged, referral.Status, "referral %d", i)
		}
	}
}

func TestReferralValidateIsIdempotent(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	require.NoError(t, fx.service.Create(ctx, 100, 200))
	assert.True(t, fx.validate(t, 200, "+998901234567"))
	// The repeat reports nothing new happened.
	assert.False(t, fx.validate(t, 200, "+998901234567"))

	referral, err := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralValid, referral.Status)

	// Only one validation event despite the repeat call.
	count := 0
	for _, eventType := range fx.events.typesFor(100) {
		if eventType == model.EventReferralValid {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestReferralPayoutCreditsOnce(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	fx.addUser(t, 100)
	require.NoError(t, fx.service.Create(ctx, 100, 200))
	assert.True(t, fx.validate(t, 200, "+998901234567"))

	require.NoError(t, fx.service.Payout(ctx, 200))
	require.NoError(t, fx.service.Payout(ctx, 200))

	referral, err := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralPaid, referral.Status)
	assert.Equal(t, int64(10_000), referral.RewardAmount)

	balance, err := fx.users.GetBalance(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), balance.Balance)
	assert.Equal(t, int64(10_000), balance.TotalEarned)
}

func TestReferralPayoutRequiresValidStatus(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	fx.addUser(t, 100)
	require.NoError(t, fx.service.Create(ctx, 100, 200))

	require.NoError(t, fx.service.Payout(ctx, 200))

	referral, err := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralPending, referral.Status)

	balance, err := fx.users.GetBalance(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, balance.Balance)
}

func TestReferralPayoutMissingReferralIsNoop(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	assert.NoError(t, fx.service.Payout(context.Background(), 404))
}

func TestReferralPayoutMissingReferrerEscalates(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	// Referral exists but the referrer user row does not.
	require.NoError(t, fx.service.Create(ctx, 100, 200))
	assert.True(t, fx.validate(t, 200, "+998901234567"))

	err := fx.service.Payout(ctx, 200)
	assert.ErrorIs(t, err, ErrReferrerNotFound)

	referral, getErr := fx.referrals.GetByReferred(ctx, 200)
	require.NoError(t, getErr)
	assert.Equal(t, model.ReferralValid, referral.Status, "ledger must not move to paid")
}

func TestReferralPayoutUsesConfiguredReward(t *testing.T) {
	fx := newReferralFixture(t, 25_000)
	ctx := context.Background()

	fx.addUser(t, 100)
	require.NoError(t, fx.service.Create(ctx, 100, 200))
	assert.True(t, fx.validate(t, 200, "+998901234567"))
	require.NoError(t, fx.service.Payout(ctx, 200))

	balance, err := fx.users.GetBalance(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), balance.Balance)
}

func TestReferralStats(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	ctx := context.Background()

	fx.addUser(t, 100)
	require.NoError(t, fx.service.Create(ctx, 100, 200))
	require.NoError(t, fx.service.Create(ctx, 100, 201))
	require.NoError(t, fx.service.Create(ctx, 100, 202))
	assert.True(t, fx.validate(t, 200, "+998901111111"))
	assert.True(t, fx.validate(t, 201, "+998902222222"))
	require.NoError(t, fx.service.Payout(ctx, 200))

	stats, err := fx.service.Stats(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalInvited)
	assert.Equal(t, 1, stats.ValidReferrals)
	assert.Equal(t, 1, stats.PaidReferrals)
	assert.Equal(t, int64(10_000), stats.Balance)
}

func TestReferralLink(t *testing.T) {
	fx := newReferralFixture(t, 10_000)
	assert.Equal(t, "https://t.me/growth_bot?start=ref_100",
		fx.service.Link("growth_bot", 100))
}
