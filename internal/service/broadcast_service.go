package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"growth-service/internal/client"
	"growth-service/internal/config"
	"growth-service/internal/util"
)

const broadcastConcurrency = 16

// Sender delivers one message to one user. The production sender publishes
// onto the notifications topic for the bot to deliver; tests swap it out.
type Sender interface {
	Send(ctx context.Context, telegramID int64, text string) error
}

// BroadcastResult summarizes a finished broadcast.
type BroadcastResult struct {
	Audience int `json:"audience"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// BroadcastService fans a message out to a CRM segment.
type BroadcastService struct {
	crm    *CRMService
	sender Sender
}

func NewBroadcastService(crm *CRMService, sender Sender) *BroadcastService {
	return &BroadcastService{crm: crm, sender: sender}
}

// SendToSegment delivers text to every user matching the query. Individual
// failures are counted, not fatal: one blocked user must not stop the rest
// of the audience.
func (s *BroadcastService) SendToSegment(ctx context.Context, query CRMQuery, text string) (*BroadcastResult, error) {
	audience, err := s.crm.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	var sent, failed int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(broadcastConcurrency)

	for _, doc := range audience {
		telegramID := doc.TelegramID
		group.Go(func() error {
			if err := s.sender.Send(groupCtx, telegramID, text); err != nil {
				atomic.AddInt64(&failed, 1)
				util.Warn("Broadcast delivery failed",
					util.Int64("telegram_id", telegramID),
					util.ErrorField(err))
				return nil
			}
			atomic.AddInt64(&sent, 1)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := &BroadcastResult{
		Audience: len(audience),
		Sent:     int(sent),
		Failed:   int(failed),
	}
	util.Info("Broadcast finished",
		util.Int("audience", result.Audience),
		util.Int("sent", result.Sent),
		util.Int("failed", result.Failed))
	return result, nil
}

// KafkaSender publishes broadcast messages to the notifications topic.
type KafkaSender struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSender(producer *client.KafkaProducer, cfg *config.KafkaConfig) *KafkaSender {
	return &KafkaSender{producer: producer, topic: cfg.NotificationsTopic}
}

func (s *KafkaSender) Send(ctx context.Context, telegramID int64, text string) error {
	message, err := json.Marshal(map[string]interface{}{
		"telegram_id": telegramID,
		"kind":        "broadcast",
		"text":        text,
	})
	if err != nil {
		return err
	}
	return s.producer.ProduceMessage(ctx, s.topic,
		[]byte(strconv.FormatInt(telegramID, 10)), message, nil)
}
