package service

import (
	"context"
	"errors"
	"time"

	"growth-service/internal/config"
	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

// SubscriptionService manages paid access periods and referral-discounted
// pricing.
type SubscriptionService struct {
	subs     scylla.SubscriptionRepository
	users    scylla.UserRepository
	settings SettingsProvider
	funnel   config.FunnelConfig
	now      func() time.Time
}

func NewSubscriptionService(
	subs scylla.SubscriptionRepository,
	users scylla.UserRepository,
	settings SettingsProvider,
	funnel config.FunnelConfig,
) *SubscriptionService {
	return &SubscriptionService{
		subs:     subs,
		users:    users,
		settings: settings,
		funnel:   funnel,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Quote prices the subscription for a user against their referral balance.
// Quoting mutates nothing; the wallet is only touched when the discount is
// applied at payment time.
func (s *SubscriptionService) Quote(ctx context.Context, telegramID int64) (*model.PriceQuote, error) {
	basePrice := s.settings.BasePrice(ctx)

	balance, err := s.users.GetBalance(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	discount := balance.Balance
	if discount > basePrice {
		discount = basePrice
	}
	if discount < 0 {
		discount = 0
	}

	return &model.PriceQuote{
		BasePrice:       basePrice,
		ReferralBalance: balance.Balance,
		Discount:        discount,
		FinalPrice:      basePrice - discount,
	}, nil
}

// ApplyDiscount withdraws the quoted discount from the wallet and returns
// how much was actually taken. The debit is clamped to the live balance, so
// a stale quote can shrink but never overdraw.
func (s *SubscriptionService) ApplyDiscount(ctx context.Context, telegramID int64, requested int64) (int64, error) {
	if requested <= 0 {
		return 0, nil
	}
	return s.users.DebitBalance(ctx, telegramID, requested)
}

// Activate grants a full period starting now. Re-activating an already
// active subscription restarts the clock from now rather than stacking
// periods.
func (s *SubscriptionService) Activate(ctx context.Context, telegramID int64, cardToken string, price int64) (*model.Subscription, error) {
	now := s.now()
	expiresAt := now.Add(time.Duration(s.funnel.SubscriptionDays) * 24 * time.Hour)

	if err := s.subs.CreateIfAbsent(ctx, &model.Subscription{
		TelegramID: telegramID,
		Plan:       "monthly",
		Price:      price,
	}); err != nil {
		return nil, err
	}

	if err := s.subs.Activate(ctx, telegramID, cardToken, price, now, expiresAt); err != nil {
		return nil, err
	}

	return &model.Subscription{
		TelegramID: telegramID,
		Status:     model.SubscriptionActive,
		Plan:       "monthly",
		Price:      price,
		CardToken:  cardToken,
		StartedAt:  &now,
		ExpiresAt:  &expiresAt,
	}, nil
}

// Status returns the subscription with expiry settled lazily: an active
// record past its expiry is moved to expired on read.
func (s *SubscriptionService) Status(ctx context.Context, telegramID int64) (*model.Subscription, error) {
	sub, err := s.subs.Get(ctx, telegramID)
	if errors.Is(err, scylla.ErrSubscriptionNotFound) {
		return &model.Subscription{
			TelegramID: telegramID,
			Status:     model.SubscriptionInactive,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	if sub.Status == model.SubscriptionActive && !sub.ActiveAt(s.now()) {
		if _, err := s.subs.Expire(ctx, telegramID); err != nil {
			util.Warn("Lazy expiry write failed",
				util.Int64("telegram_id", telegramID),
				util.ErrorField(err))
		}
		sub.Status = model.SubscriptionExpired
	}
	return sub, nil
}

// IsActive reports whether the user has live coverage right now.
func (s *SubscriptionService) IsActive(ctx context.Context, telegramID int64) (bool, error) {
	sub, err := s.Status(ctx, telegramID)
	if err != nil {
		return false, err
	}
	return sub.ActiveAt(s.now()), nil
}

// Cancel ends an active subscription. Returns false when there was nothing
// active to cancel.
func (s *SubscriptionService) Cancel(ctx context.Context, telegramID int64) (bool, error) {
	return s.subs.Cancel(ctx, telegramID, s.now())
}
