package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSegmentForScore(t *testing.T) {
	assert.Equal(t, SegmentContentOnly, SegmentForScore(0))
	assert.Equal(t, SegmentContentOnly, SegmentForScore(29))
	assert.Equal(t, SegmentNurture, SegmentForScore(30))
	assert.Equal(t, SegmentNurture, SegmentForScore(59))
	assert.Equal(t, SegmentHot, SegmentForScore(60))
	assert.Equal(t, SegmentHot, SegmentForScore(250))
}

func TestReferralStatusTransitions(t *testing.T) {
	assert.True(t, ReferralPending.CanTransitionTo(ReferralValid))
	assert.True(t, ReferralPending.CanTransitionTo(ReferralFlagged))
	assert.False(t, ReferralPending.CanTransitionTo(ReferralPaid))

	assert.True(t, ReferralValid.CanTransitionTo(ReferralPaid))
	assert.False(t, ReferralValid.CanTransitionTo(ReferralFlagged))
	assert.False(t, ReferralValid.CanTransitionTo(ReferralPending))

	// Paid and flagged are terminal.
	for _, terminal := range []ReferralStatus{ReferralPaid, ReferralFlagged} {
		assert.True(t, terminal.Terminal())
		for _, next := range []ReferralStatus{ReferralPending, ReferralValid, ReferralPaid, ReferralFlagged} {
			assert.False(t, terminal.CanTransitionTo(next))
		}
	}
}

func TestReferralStatusTransitionRejectsInvalid(t *testing.T) {
	next, err := ReferralPaid.Transition(ReferralValid)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, ReferralPaid, next)

	next, err = ReferralPending.Transition(ReferralValid)
	assert.NoError(t, err)
	assert.Equal(t, ReferralValid, next)
}

func TestSubscriptionStatusTransitions(t *testing.T) {
	// Payment always wins, whatever the current state.
	for _, from := range []SubscriptionStatus{SubscriptionInactive, SubscriptionActive, SubscriptionExpired, SubscriptionCancelled} {
		assert.True(t, from.CanTransitionTo(SubscriptionActive))
	}

	assert.True(t, SubscriptionActive.CanTransitionTo(SubscriptionExpired))
	assert.True(t, SubscriptionActive.CanTransitionTo(SubscriptionCancelled))
	assert.False(t, SubscriptionInactive.CanTransitionTo(SubscriptionExpired))
	assert.False(t, SubscriptionExpired.CanTransitionTo(SubscriptionCancelled))
}

func TestSubscriptionActiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	active := &Subscription{Status: SubscriptionActive, ExpiresAt: &future}
	assert.True(t, active.ActiveAt(now))

	lapsed := &Subscription{Status: SubscriptionActive, ExpiresAt: &past}
	assert.False(t, lapsed.ActiveAt(now))

	cancelled := &Subscription{Status: SubscriptionCancelled, ExpiresAt: &future}
	assert.False(t, cancelled.ActiveAt(now))

	var missing *Subscription
	assert.False(t, missing.ActiveAt(now))

	noExpiry := &Subscription{Status: SubscriptionActive}
	assert.False(t, noExpiry.ActiveAt(now))
}
