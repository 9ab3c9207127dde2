package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"growth-service/internal/model"
	"growth-service/internal/util"
)

type subscriptionRepository struct {
	client *ScyllaClient
}

func NewSubscriptionRepository(client *ScyllaClient) SubscriptionRepository {
	return &subscriptionRepository{client: client}
}

func (r *subscriptionRepository) Get(ctx context.Context, telegramID int64) (*model.Subscription, error) {
	sub := &model.Subscription{}
	var status string

	err := r.client.ScanWithRetry(
		r.client.Prepared.GetSubscription.Bind(telegramID).WithContext(ctx),
		&sub.TelegramID, &status, &sub.Plan, &sub.Price, &sub.CardToken,
		&sub.StartedAt, &sub.ExpiresAt, &sub.CancelledAt, &sub.CreatedAt,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub.Status = model.SubscriptionStatus(status)
	return sub, nil
}

func (r *subscriptionRepository) CreateIfAbsent(ctx context.Context, sub *model.Subscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if sub.Status == "" {
		sub.Status = model.SubscriptionInactive
	}

	_, err := r.client.Prepared.InitSubscription.Bind(
		sub.TelegramID, string(sub.Status), sub.Plan, sub.Price, sub.CreatedAt,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

// Activate is an unconditional upsert: a successful payment always wins,
// whatever state the record was in.
func (r *subscriptionRepository) Activate(ctx context.Context, telegramID int64, cardToken string, price int64, startedAt, expiresAt time.Time) error {
	if err := r.client.ExecuteWithRetry(r.client.Prepared.ActivateSub.Bind(
		string(model.SubscriptionActive), cardToken, startedAt, expiresAt,
		price, telegramID,
	).WithContext(ctx), execRetryLimit); err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}

	util.Info("Subscription activated",
		util.Int64("telegram_id", telegramID),
		util.Any("expires_at", expiresAt))
	return nil
}

func (r *subscriptionRepository) Expire(ctx context.Context, telegramID int64) (bool, error) {
	applied, err := r.client.Prepared.ExpireSub.Bind(
		string(model.SubscriptionExpired), telegramID,
		string(model.SubscriptionActive),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to expire subscription: %w", err)
	}
	return applied, nil
}

func (r *subscriptionRepository) Cancel(ctx context.Context, telegramID int64, at time.Time) (bool, error) {
	applied, err := r.client.Prepared.CancelSub.Bind(
		string(model.SubscriptionCancelled), at, telegramID,
		string(model.SubscriptionActive),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return applied, nil
}
