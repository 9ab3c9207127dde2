package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"growth-service/internal/hashing"
	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// VelocityLimitPerHour caps how many referrals one referrer may accumulate in
// a trailing hour before further validations are flagged as fraud.
const VelocityLimitPerHour = 5

var (
	ErrSelfReferral     = errors.New("users cannot refer themselves")
	ErrReferrerNotFound = errors.New("referrer user does not exist")
)

// ReferralService runs the referral ledger: creation, anti-fraud validation
// and reward payout. Every status change goes through a guarded write, so
// rows only ever move forward.
type ReferralService struct {
	referrals scylla.ReferralRepository
	users     scylla.UserRepository
	events    scylla.EventRepository
	settings  SettingsProvider
	hasher    *hashing.Hasher
}

func NewReferralService(
	referrals scylla.ReferralRepository,
	users scylla.UserRepository,
	events scylla.EventRepository,
	settings SettingsProvider,
	hasher *hashing.Hasher,
) *ReferralService {
	return &ReferralService{
		referrals: referrals,
		users:     users,
		events:    events,
		settings:  settings,
		hasher:    hasher,
	}
}

// Create records a pending referral for a newly arrived user. Calling it
// again for the same referred user is a no-op: the first referrer wins.
func (s *ReferralService) Create(ctx context.Context, referrerID, referredID int64) error {
	if referrerID == referredID {
		return ErrSelfReferral
	}
	if referrerID == 0 || referredID == 0 {
		return fmt.Errorf("referral requires both parties")
	}

	referral := &model.Referral{
		ReferrerID: referrerID,
		ReferredID: referredID,
		CreatedAt:  time.Now().UTC(),
	}
	created, err := s.referrals.CreateIfAbsent(ctx, referral)
	if err != nil {
		return err
	}
	if !created {
		util.Debug("Referral already exists, keeping first referrer",
			util.Int64("referred_id", referredID))
	}
	return nil
}

// Validate runs anti-fraud checks once the referred user completes
// registration with a phone number. A pending referral becomes valid, or
// flagged when the phone hash is already claimed or the referrer is minting
// referrals faster than the velocity limit. Valid and terminal referrals are
// left untouched. The boolean reports whether this call made the referral
// valid, so callers can decide whether to congratulate the referrer.
func (s *ReferralService) Validate(ctx context.Context, referredID int64, phone string) (bool, error) {
	referral, err := s.referrals.GetByReferred(ctx, referredID)
	if errors.Is(err, scylla.ErrReferralNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if referral.Status != model.ReferralPending {
		return false, nil
	}

	phoneHash := s.hasher.PhoneHash(phone)

	claimed, holder, err := s.referrals.ClaimPhoneHash(ctx, phoneHash, referredID)
	if err != nil {
		return false, err
	}
	if !claimed {
		util.Warn("Referral flagged: phone hash already claimed",
			util.Int64("referred_id", referredID),
			util.Int64("claimed_by", holder))
		_, err := s.referrals.MarkFlagged(ctx, referral)
		return false, err
	}

	hourAgo := time.Now().UTC().Add(-time.Hour)
	recent, err := s.referrals.CountCreatedSince(ctx, referral.ReferrerID, hourAgo)
	if err != nil {
		return false, err
	}
	if recent > VelocityLimitPerHour {
		util.Warn("Referral flagged: velocity limit exceeded",
			util.Int64("referrer_id", referral.ReferrerID),
			util.Int("recent_referrals", recent),
			util.Int("limit", VelocityLimitPerHour))
		_, err := s.referrals.MarkFlagged(ctx, referral)
		return false, err
	}

	now := time.Now().UTC()
	applied, err := s.referrals.MarkValid(ctx, referral, phoneHash, now)
	if err != nil {
		return false, err
	}
	if !applied {
		// Lost the race to a concurrent validation or flag.
		return false, nil
	}

	util.Info("Referral validated",
		util.Int64("referrer_id", referral.ReferrerID),
		util.Int64("referred_id", referredID))

	if err := s.events.Append(ctx, &model.Event{
		TelegramID: referral.ReferrerID,
		EventType:  model.EventReferralValid,
		Payload:    map[string]string{"referred_id": fmt.Sprintf("%d", referredID)},
		CreatedAt:  now,
	}); err != nil {
		return true, err
	}
	return true, nil
}

// Payout rewards the referrer for one valid referral. The valid-to-paid
// guard makes the operation idempotent under retries and concurrency: only
// the winner of the guard credits the wallet, so a referral is never paid
// twice. A missing referrer user is an integrity fault and escalates.
func (s *ReferralService) Payout(ctx context.Context, referredID int64) error {
	referral, err := s.referrals.GetByReferred(ctx, referredID)
	if errors.Is(err, scylla.ErrReferralNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if referral.Status != model.ReferralValid {
		return nil
	}

	// The referrer row must exist before the ledger is marked paid, so the
	// credit cannot land in a void.
	if _, err := s.users.GetUser(ctx, referral.ReferrerID); err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			return fmt.Errorf("payout for referral %d: %w", referredID, ErrReferrerNotFound)
		}
		return err
	}

	reward := s.settings.ReferralReward(ctx)
	now := time.Now().UTC()

	applied, err := s.referrals.MarkPaid(ctx, referral, reward, now)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if err := s.users.CreditBalance(ctx, referral.ReferrerID, reward); err != nil {
		// The ledger says paid but the wallet write failed; surface it loudly
		// so the credit can be replayed.
		util.Error("Referral marked paid but wallet credit failed",
			util.Int64("referrer_id", referral.ReferrerID),
			util.Int64("referred_id", referredID),
			util.Int64("reward", reward),
			util.ErrorField(err))
		return err
	}

	util.Info("Referral paid out",
		util.Int64("referrer_id", referral.ReferrerID),
		util.Int64("referred_id", referredID),
		util.Int64("reward", reward))

	return s.events.Append(ctx, &model.Event{
		TelegramID: referral.ReferrerID,
		EventType:  model.EventReferralPaid,
		Payload: map[string]string{
			"referred_id": fmt.Sprintf("%d", referredID),
			"reward":      fmt.Sprintf("%d", reward),
		},
		CreatedAt: now,
	})
}

// Stats returns the referrer-facing summary shown in the mini app.
func (s *ReferralService) Stats(ctx context.Context, referrerID int64) (*model.ReferralStats, error) {
	stats, err := s.referrals.StatsByReferrer(ctx, referrerID)
	if err != nil {
		return nil, err
	}

	balance, err := s.users.GetBalance(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	stats.Balance = balance.Balance
	return stats, nil
}

// Link builds the personal invite deep link for a referrer.
func (s *ReferralService) Link(botUsername string, referrerID int64) string {
	return fmt.Sprintf("https://t.me/%s?start=ref_%d", botUsername, referrerID)
}
