package service

import (
	"context"

	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// scoreMap assigns engagement weight to funnel events. Events not listed
// score zero: they are still logged, they just do not move the lead score.
var scoreMap = map[string]int{
	model.EventLeadMagnetOpen: 5,
	model.EventVSL50:          10,
	model.EventVSL90:          20,
	model.EventOfferClick:     25,
	model.EventPaymentOpen:    30,
}

// ScoreFor returns the score weight of an event type.
func ScoreFor(eventType string) int {
	return scoreMap[eventType]
}

// ScoringService maintains per-user lead scores and segment tiers.
type ScoringService struct {
	users scylla.UserRepository
}

func NewScoringService(users scylla.UserRepository) *ScoringService {
	return &ScoringService{users: users}
}

// ScoreEvent applies an event's weight to the user's cumulative score and
// returns the updated user plus whether the segment tier changed. Zero-weight
// events return without touching storage.
func (s *ScoringService) ScoreEvent(ctx context.Context, telegramID int64, eventType string) (*model.User, bool, error) {
	delta := ScoreFor(eventType)
	if delta == 0 {
		return nil, false, nil
	}

	before, err := s.users.GetUser(ctx, telegramID)
	if err != nil {
		return nil, false, err
	}
	previousSegment := before.LeadSegment

	after, err := s.users.UpdateScore(ctx, telegramID, delta)
	if err != nil {
		return nil, false, err
	}

	changed := after.LeadSegment != previousSegment
	if changed {
		util.Info("Lead segment changed",
			util.Int64("telegram_id", telegramID),
			util.String("from", string(previousSegment)),
			util.String("to", string(after.LeadSegment)),
			util.Int("score", after.LeadScore))
	}
	return after, changed, nil
}
