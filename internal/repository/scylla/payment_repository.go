package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"growth-service/internal/model"
	"growth-service/internal/util"
)

type paymentRepository struct {
	client *ScyllaClient
}

func NewPaymentRepository(client *ScyllaClient) PaymentRepository {
	return &paymentRepository{client: client}
}

func (r *paymentRepository) Create(ctx context.Context, payment *model.Payment) error {
	now := time.Now().UTC()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	payment.Status = model.PaymentPending

	if err := r.client.ExecuteWithRetry(r.client.Prepared.CreatePayment.Bind(
		payment.PaymentID, payment.TelegramID, payment.Amount,
		payment.ReferralDiscount, payment.Provider,
		string(model.PaymentPending), payment.CreatedAt, payment.UpdatedAt,
	).WithContext(ctx), execRetryLimit); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	util.Info("Payment created",
		util.String("payment_id", payment.PaymentID),
		util.Int64("telegram_id", payment.TelegramID),
		util.Int64("amount", payment.Amount),
		util.String("provider", payment.Provider))
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, paymentID string) (*model.Payment, error) {
	payment := &model.Payment{}
	var status string

	err := r.client.ScanWithRetry(
		r.client.Prepared.GetPayment.Bind(paymentID).WithContext(ctx),
		&payment.PaymentID, &payment.TelegramID, &payment.Amount,
		&payment.ReferralDiscount, &payment.Provider, &status,
		&payment.TransactionID, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err == gocql.ErrNotFound {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}

	payment.Status = model.PaymentStatus(status)
	return payment, nil
}

// Settle moves a pending payment to completed or failed. Provider callbacks
// retry, so a lost race just means another callback already settled it.
func (r *paymentRepository) Settle(ctx context.Context, paymentID string, status model.PaymentStatus, transactionID string) (bool, error) {
	applied, err := r.client.Prepared.SettlePayment.Bind(
		string(status), transactionID, time.Now().UTC(),
		paymentID, string(model.PaymentPending),
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("failed to settle payment: %w", err)
	}
	return applied, nil
}
