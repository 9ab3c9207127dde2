package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"growth-service/internal/client"
	"growth-service/internal/config"
	"growth-service/internal/encryption"
	"growth-service/internal/hashing"
	"growth-service/internal/model"
	"growth-service/internal/repository/clickhouse"
	"growth-service/internal/repository/redis"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// Reminder offsets measured from the moment the user opened the payment
// screen without paying.
var paymentReminderOffsets = []time.Duration{
	time.Hour,
	24 * time.Hour,
	48 * time.Hour,
	72 * time.Hour,
}

// Churn probes measured in days since the user entered the funnel.
var churnCheckDays = []int{1, 3, 5, 7}

const (
	nudgeDelay = 30 * time.Minute

	// Fulfillment retry cadence for settled payments whose grant failed.
	fulfillRetryDelay = 5 * time.Minute
	fulfillRetryLimit = 5
)

// FunnelService orchestrates the acquisition funnel: it owns event intake,
// fans events out to scoring and the analytics mirror, and drives the
// registration, payment and retention flows end to end.
type FunnelService struct {
	users     scylla.UserRepository
	events    scylla.EventRepository
	payments  scylla.PaymentRepository
	scoring   *ScoringService
	referrals *ReferralService
	subs      *SubscriptionService
	analytics *clickhouse.FunnelAnalytics
	queue     *redis.DelayQueue
	kafka     *client.KafkaProducer
	crypto    *encryption.Manager
	hasher    *hashing.Hasher
	cfg       *config.Config
}

func NewFunnelService(
	users scylla.UserRepository,
	events scylla.EventRepository,
	payments scylla.PaymentRepository,
	scoring *ScoringService,
	referrals *ReferralService,
	subs *SubscriptionService,
	analytics *clickhouse.FunnelAnalytics,
	queue *redis.DelayQueue,
	kafkaProducer *client.KafkaProducer,
	crypto *encryption.Manager,
	hasher *hashing.Hasher,
	cfg *config.Config,
) *FunnelService {
	return &FunnelService{
		users:     users,
		events:    events,
		payments:  payments,
		scoring:   scoring,
		referrals: referrals,
		subs:      subs,
		analytics: analytics,
		queue:     queue,
		kafka:     kafkaProducer,
		crypto:    crypto,
		hasher:    hasher,
		cfg:       cfg,
	}
}

// ParseReferrerPayload extracts the referrer id from a deep-link start
// payload of the form "ref_<telegram_id>". Returns zero for anything else.
func ParseReferrerPayload(payload string) int64 {
	const prefix = "ref_"
	if !strings.HasPrefix(payload, prefix) {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(payload, prefix), 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// Start admits a user into the funnel: the profile row, the lead event, the
// pending referral when they arrived through an invite link, and the churn
// probes. Re-entry by an existing user is a no-op.
func (s *FunnelService) Start(ctx context.Context, telegramID int64, name, source, campaign, startPayload string) error {
	referrerID := ParseReferrerPayload(startPayload)
	if referrerID == telegramID {
		referrerID = 0
	}

	user := &model.User{
		TelegramID: telegramID,
		Name:       name,
		Source:     source,
		Campaign:   campaign,
		ReferrerID: referrerID,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, scylla.ErrUserAlreadyExists) {
			return nil
		}
		return err
	}

	if referrerID != 0 {
		if err := s.referrals.Create(ctx, referrerID, telegramID); err != nil &&
			!errors.Is(err, ErrSelfReferral) {
			util.Error("Failed to create referral on start",
				util.Int64("referrer_id", referrerID),
				util.Int64("referred_id", telegramID),
				util.ErrorField(err))
		}
	}

	if err := s.TrackEvent(ctx, telegramID, model.EventLead, map[string]string{
		"source":   source,
		"campaign": campaign,
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, day := range churnCheckDays {
		s.schedule(ctx, &redis.Task{
			Type:       redis.TaskChurnCheck,
			TelegramID: telegramID,
			Payload:    map[string]string{"day": strconv.Itoa(day)},
			DueAt:      now.Add(time.Duration(day) * 24 * time.Hour),
		})
	}
	return nil
}

// TrackEvent appends an event to the log, commits it together with its
// companion writes, then applies scoring. The analytics mirror and the Kafka
// publish run post-commit so they only ever see durable events.
func (s *FunnelService) TrackEvent(ctx context.Context, telegramID int64, eventType string, payload map[string]string) error {
	event := &model.Event{
		TelegramID: telegramID,
		EventType:  eventType,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}

	uow := s.events.Begin()
	uow.AppendEvent(event)
	uow.OnCommit(func() {
		s.mirror(event)
		s.publish(event)
	})
	if err := uow.Commit(ctx); err != nil {
		return fmt.Errorf("failed to track %s: %w", eventType, err)
	}

	if eventType == model.EventPaymentOpen {
		now := time.Now().UTC()
		for _, offset := range paymentReminderOffsets {
			s.schedule(ctx, &redis.Task{
				Type:       redis.TaskPaymentReminder,
				TelegramID: telegramID,
				Payload:    map[string]string{"offset": offset.String()},
				DueAt:      now.Add(offset),
			})
		}
	}

	if _, _, err := s.scoring.ScoreEvent(ctx, telegramID, eventType); err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			// Events for unknown users are logged but cannot score.
			return nil
		}
		return err
	}
	return nil
}

// LeadMagnetOpened marks the profile flag, tracks the scoring event and
// schedules the 30-minute registration nudge. Only the first open scores;
// the flag makes repeats no-ops.
func (s *FunnelService) LeadMagnetOpened(ctx context.Context, telegramID int64) error {
	user, err := s.users.GetUser(ctx, telegramID)
	if err != nil {
		return err
	}
	if user.LeadMagnetOpened {
		return nil
	}

	if err := s.users.MarkLeadMagnetOpened(ctx, telegramID); err != nil {
		return err
	}
	if err := s.TrackEvent(ctx, telegramID, model.EventLeadMagnetOpen, nil); err != nil {
		return err
	}

	s.schedule(ctx, &redis.Task{
		Type:       redis.TaskNudge,
		TelegramID: telegramID,
		DueAt:      time.Now().UTC().Add(nudgeDelay),
	})
	return nil
}

// RegistrationInput is the profile a user submits to finish onboarding.
type RegistrationInput struct {
	Name  string
	Age   int
	Phone string
	Goal  string
	Level string
}

// CompleteRegistration stores the submitted profile (phone encrypted at
// rest, hash for dedup), runs referral validation against the phone, and
// tracks the completion event.
func (s *FunnelService) CompleteRegistration(ctx context.Context, telegramID int64, input RegistrationInput) error {
	user, err := s.users.GetUser(ctx, telegramID)
	if err != nil {
		return err
	}

	phoneHash := s.hasher.PhoneHash(input.Phone)
	encrypted, keyID, err := s.crypto.Encrypt(ctx, []byte(hashing.NormalizePhone(input.Phone)))
	if err != nil {
		return fmt.Errorf("failed to encrypt phone: %w", err)
	}

	now := time.Now().UTC()
	if err := s.users.SetPhone(ctx, telegramID, phoneHash, encrypted, keyID, now); err != nil {
		return err
	}
	if input.Name != "" {
		if err := s.users.SetName(ctx, telegramID, input.Name); err != nil {
			return err
		}
	}
	if input.Age > 0 {
		if err := s.users.SetAge(ctx, telegramID, input.Age); err != nil {
			return err
		}
	}
	if input.Goal != "" {
		if err := s.users.SetGoal(ctx, telegramID, input.Goal); err != nil {
			return err
		}
	}
	if input.Level != "" {
		if err := s.users.SetLevel(ctx, telegramID, input.Level); err != nil {
			return err
		}
	}

	validated, err := s.referrals.Validate(ctx, telegramID, input.Phone)
	if err != nil {
		util.Error("Referral validation failed during registration",
			util.Int64("telegram_id", telegramID),
			util.ErrorField(err))
	}
	if validated && user.ReferrerID != 0 {
		s.notify(user.ReferrerID, "referral_validated", map[string]string{
			"referred_id": strconv.FormatInt(telegramID, 10),
		})
	}

	return s.TrackEvent(ctx, telegramID, model.EventRegistrationComplete, map[string]string{
		"goal":  input.Goal,
		"level": input.Level,
	})
}

// HandlePaymentResult finishes the purchase flow once a provider callback
// settles a payment. Success grants the subscription period, debits the
// reserved referral discount and pays out the referral that brought this
// user in. Failure only tracks the event.
func (s *FunnelService) HandlePaymentResult(ctx context.Context, payment *model.Payment, success bool) error {
	if !success {
		return s.TrackEvent(ctx, payment.TelegramID, model.EventPaymentFail, map[string]string{
			"payment_id": payment.PaymentID,
			"provider":   payment.Provider,
		})
	}
	return s.fulfill(ctx, payment, true)
}

// fulfill grants what a settled payment bought. The discount debit only runs
// on the first attempt: a replay after a partial failure must not take the
// wallet down twice.
func (s *FunnelService) fulfill(ctx context.Context, payment *model.Payment, withDiscount bool) error {
	if withDiscount && payment.ReferralDiscount > 0 {
		debited, err := s.subs.ApplyDiscount(ctx, payment.TelegramID, payment.ReferralDiscount)
		if err != nil {
			return err
		}
		if debited < payment.ReferralDiscount {
			util.Warn("Referral discount shrank between quote and payment",
				util.Int64("telegram_id", payment.TelegramID),
				util.Int64("reserved", payment.ReferralDiscount),
				util.Int64("debited", debited))
		}
	}

	if _, err := s.subs.Activate(ctx, payment.TelegramID, "", payment.Amount); err != nil {
		return err
	}

	if err := s.referrals.Payout(ctx, payment.TelegramID); err != nil {
		if errors.Is(err, ErrReferrerNotFound) {
			return err
		}
		util.Error("Referral payout failed after payment",
			util.Int64("telegram_id", payment.TelegramID),
			util.ErrorField(err))
	}

	return s.TrackEvent(ctx, payment.TelegramID, model.EventPaymentSuccess, map[string]string{
		"payment_id": payment.PaymentID,
		"provider":   payment.Provider,
		"amount":     strconv.FormatInt(payment.Amount, 10),
	})
}

// ScheduleFulfillmentRetry queues another fulfillment attempt for a settled
// payment whose grant did not finish. The payment stays settled either way;
// retries only replay the grant.
func (s *FunnelService) ScheduleFulfillmentRetry(ctx context.Context, payment *model.Payment) {
	s.schedule(ctx, &redis.Task{
		Type:       redis.TaskFulfillRetry,
		TelegramID: payment.TelegramID,
		Payload:    map[string]string{"payment_id": payment.PaymentID, "attempt": "1"},
		DueAt:      time.Now().UTC().Add(fulfillRetryDelay),
	})
}

// HandleTask executes one fired delayed task. Handlers re-check current
// state so tasks that became irrelevant fall through silently.
func (s *FunnelService) HandleTask(ctx context.Context, task *redis.Task) error {
	switch task.Type {
	case redis.TaskNudge:
		registered, err := s.events.HasEvent(ctx, task.TelegramID, model.EventRegistrationComplete)
		if err != nil {
			return err
		}
		if !registered {
			s.notify(task.TelegramID, "registration_nudge", nil)
		}
	case redis.TaskPaymentReminder:
		active, err := s.subs.IsActive(ctx, task.TelegramID)
		if err != nil {
			return err
		}
		if !active {
			s.notify(task.TelegramID, "payment_reminder", task.Payload)
		}
	case redis.TaskFulfillRetry:
		return s.retryFulfillment(ctx, task)
	case redis.TaskChurnCheck:
		paid, err := s.events.HasEvent(ctx, task.TelegramID, model.EventPaymentSuccess)
		if err != nil {
			return err
		}
		if !paid {
			if err := s.TrackEvent(ctx, task.TelegramID, model.EventChurn, task.Payload); err != nil {
				return err
			}
			s.notify(task.TelegramID, "churn_winback", task.Payload)
		}
	default:
		util.Warn("Unknown delayed task type", util.String("type", task.Type))
	}
	return nil
}

func (s *FunnelService) retryFulfillment(ctx context.Context, task *redis.Task) error {
	payment, err := s.payments.Get(ctx, task.Payload["payment_id"])
	if err != nil {
		if errors.Is(err, scylla.ErrPaymentNotFound) {
			return nil
		}
		return err
	}
	if payment.Status != model.PaymentCompleted {
		return nil
	}

	active, err := s.subs.IsActive(ctx, payment.TelegramID)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	if err := s.fulfill(ctx, payment, false); err != nil {
		attempt, _ := strconv.Atoi(task.Payload["attempt"])
		if attempt < fulfillRetryLimit {
			s.schedule(ctx, &redis.Task{
				Type:       redis.TaskFulfillRetry,
				TelegramID: payment.TelegramID,
				Payload: map[string]string{
					"payment_id": payment.PaymentID,
					"attempt":    strconv.Itoa(attempt + 1),
				},
				DueAt: time.Now().UTC().Add(fulfillRetryDelay),
			})
		} else {
			util.Error("Fulfillment retries exhausted",
				util.String("payment_id", payment.PaymentID),
				util.Int64("telegram_id", payment.TelegramID),
				util.ErrorField(err))
		}
		return err
	}
	return nil
}

// Stats exposes the funnel-wide aggregates for the admin dashboard.
func (s *FunnelService) Stats(ctx context.Context) (*clickhouse.FunnelStats, error) {
	return s.analytics.Stats(ctx)
}

// RecentEvents returns the newest events for one user.
func (s *FunnelService) RecentEvents(ctx context.Context, telegramID int64, limit int) ([]*model.Event, error) {
	return s.events.RecentByUser(ctx, telegramID, limit)
}

func (s *FunnelService) schedule(ctx context.Context, task *redis.Task) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		util.Error("Failed to schedule task",
			util.String("type", task.Type),
			util.Int64("telegram_id", task.TelegramID),
			util.ErrorField(err))
	}
}

func (s *FunnelService) mirror(event *model.Event) {
	if s.analytics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.analytics.RecordEvents(ctx, []*model.Event{event}); err != nil {
		util.Warn("Analytics mirror write failed",
			util.String("event_type", event.EventType),
			util.ErrorField(err))
	}
}

func (s *FunnelService) publish(event *model.Event) {
	if s.kafka == nil {
		return
	}
	message, err := json.Marshal(map[string]interface{}{
		"telegram_id": event.TelegramID,
		"event_type":  event.EventType,
		"payload":     event.Payload,
		"created_at":  event.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.kafka.ProduceMessage(ctx, s.cfg.Kafka.EventsTopic,
		[]byte(strconv.FormatInt(event.TelegramID, 10)), message, nil); err != nil {
		util.Warn("Event publish failed",
			util.String("event_type", event.EventType),
			util.ErrorField(err))
	}
}

func (s *FunnelService) notify(telegramID int64, kind string, payload map[string]string) {
	if s.kafka == nil {
		return
	}
	message, err := json.Marshal(map[string]interface{}{
		"telegram_id": telegramID,
		"kind":        kind,
		"payload":     payload,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.kafka.ProduceMessage(ctx, s.cfg.Kafka.NotificationsTopic,
		[]byte(strconv.FormatInt(telegramID, 10)), message, nil); err != nil {
		util.Warn("Notification publish failed",
			util.String("kind", kind),
			util.ErrorField(err))
	}
}
