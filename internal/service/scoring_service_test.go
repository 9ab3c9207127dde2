package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-service/internal/model"
)

func TestScoreForWeights(t *testing.T) {
	assert.Equal(t, 5, ScoreFor(model.EventLeadMagnetOpen))
	assert.Equal(t, 10, ScoreFor(model.EventVSL50))
	assert.Equal(t, 20, ScoreFor(model.EventVSL90))
	assert.Equal(t, 25, ScoreFor(model.EventOfferClick))
	assert.Equal(t, 30, ScoreFor(model.EventPaymentOpen))
	assert.Zero(t, ScoreFor(model.EventLead))
	assert.Zero(t, ScoreFor("someone_elses_event"))
}

func TestScoreEventAccumulatesAndSegments(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewScoringService(users)
	ctx := context.Background()

	require.NoError(t, users.CreateUser(ctx, &model.User{TelegramID: 7}))

	user, changed, err := svc.ScoreEvent(ctx, 7, model.EventLeadMagnetOpen)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 5, user.LeadScore)
	assert.Equal(t, model.SegmentContentOnly, user.LeadSegment)

	user, changed, err = svc.ScoreEvent(ctx, 7, model.EventOfferClick)
	require.NoError(t, err)
	assert.True(t, changed, "5+25 crosses the nurture threshold")
	assert.Equal(t, 30, user.LeadScore)
	assert.Equal(t, model.SegmentNurture, user.LeadSegment)

	user, changed, err = svc.ScoreEvent(ctx, 7, model.EventPaymentOpen)
	require.NoError(t, err)
	assert.True(t, changed, "30+30 crosses the hot threshold")
	assert.Equal(t, 60, user.LeadScore)
	assert.Equal(t, model.SegmentHot, user.LeadSegment)
}

func TestScoreEventZeroWeightSkipsStorage(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewScoringService(users)

	// No user exists; a zero-weight event must not even try to load one.
	user, changed, err := svc.ScoreEvent(context.Background(), 7, model.EventLead)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.False(t, changed)
}

func TestScoreEventUnknownUser(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewScoringService(users)

	_, _, err := svc.ScoreEvent(context.Background(), 7, model.EventVSL50)
	assert.Error(t, err)
}
