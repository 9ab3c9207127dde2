package service

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"growth-service/internal/config"
	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/util"
)

const (
	ProviderClick = "click"
	ProviderPayme = "payme"
)

var (
	ErrUnknownProvider   = errors.New("unknown payment provider")
	ErrInvalidSignature  = errors.New("payment signature verification failed")
	ErrAlreadySettled    = errors.New("payment already settled")
	ErrAmountMismatch    = errors.New("payment amount mismatch")
	ErrNothingToPurchase = errors.New("final price is zero, no payment needed")
)

// ClickCallback carries the form fields Click posts to the webhook. The
// signature is an MD5 over the concatenation Click documents for each
// action.
type ClickCallback struct {
	ClickTransID      string
	ServiceID         string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	SignTime          string
	SignString        string
}

// PaymentService creates payment attempts, builds provider checkout links
// and verifies provider callbacks.
type PaymentService struct {
	payments scylla.PaymentRepository
	subs     *SubscriptionService
	cfg      config.PaymentsConfig
}

func NewPaymentService(payments scylla.PaymentRepository, subs *SubscriptionService, cfg config.PaymentsConfig) *PaymentService {
	return &PaymentService{payments: payments, subs: subs, cfg: cfg}
}

// InitPayment quotes the user's price and opens a pending payment for the
// final amount. The referral discount is only reserved here; the wallet is
// debited when the provider confirms.
func (s *PaymentService) InitPayment(ctx context.Context, telegramID int64, provider string) (*model.Payment, string, error) {
	if provider != ProviderClick && provider != ProviderPayme {
		return nil, "", ErrUnknownProvider
	}

	quote, err := s.subs.Quote(ctx, telegramID)
	if err != nil {
		return nil, "", err
	}
	if quote.FinalPrice <= 0 {
		return nil, "", ErrNothingToPurchase
	}

	payment := &model.Payment{
		PaymentID:        uuid.New().String(),
		TelegramID:       telegramID,
		Amount:           quote.FinalPrice,
		ReferralDiscount: quote.Discount,
		Provider:         provider,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, "", err
	}

	return payment, s.checkoutURL(payment), nil
}

func (s *PaymentService) checkoutURL(payment *model.Payment) string {
	switch payment.Provider {
	case ProviderClick:
		values := url.Values{}
		values.Set("service_id", s.cfg.ClickServiceID)
		values.Set("merchant_id", s.cfg.ClickMerchantID)
		values.Set("amount", fmt.Sprintf("%d", payment.Amount))
		values.Set("transaction_param", payment.PaymentID)
		return "https://my.click.uz/services/pay?" + values.Encode()
	case ProviderPayme:
		// Payme embeds the checkout parameters base64-encoded in the path,
		// with the amount in tiyin.
		params := fmt.Sprintf("m=%s;ac.payment_id=%s;a=%d",
			s.cfg.PaymeMerchantID, payment.PaymentID, payment.Amount*100)
		return "https://checkout.paycom.uz/" + base64.StdEncoding.EncodeToString([]byte(params))
	}
	return ""
}

// VerifyClickSignature checks the MD5 signature on a Click callback.
func (s *PaymentService) VerifyClickSignature(cb *ClickCallback) bool {
	payload := cb.ClickTransID + cb.ServiceID + s.cfg.ClickSecretKey + cb.MerchantTransID
	if cb.Action == "1" {
		payload += cb.MerchantPrepareID
	}
	payload += cb.Amount + cb.Action + cb.SignTime

	sum := md5.Sum([]byte(payload))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(cb.SignString))) == 1
}

// VerifyPaymeAuth checks the Basic credentials Payme sends with every
// JSON-RPC call.
func (s *PaymentService) VerifyPaymeAuth(header string) bool {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	expected := "Paycom:" + s.cfg.PaymeSecretKey
	return subtle.ConstantTimeCompare(decoded, []byte(expected)) == 1
}

// Get loads a payment by id.
func (s *PaymentService) Get(ctx context.Context, paymentID string) (*model.Payment, error) {
	return s.payments.Get(ctx, paymentID)
}

// Complete settles a pending payment as successful. Providers retry their
// callbacks, so a payment that is already completed returns ErrAlreadySettled
// and the caller answers idempotently.
func (s *PaymentService) Complete(ctx context.Context, paymentID, transactionID string) (*model.Payment, error) {
	payment, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	applied, err := s.payments.Settle(ctx, paymentID, model.PaymentCompleted, transactionID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return payment, ErrAlreadySettled
	}

	payment.Status = model.PaymentCompleted
	payment.TransactionID = transactionID

	util.Info("Payment completed",
		util.String("payment_id", paymentID),
		util.Int64("telegram_id", payment.TelegramID),
		util.Int64("amount", payment.Amount),
		util.String("provider", payment.Provider))
	return payment, nil
}

// Fail settles a pending payment as failed.
func (s *PaymentService) Fail(ctx context.Context, paymentID, transactionID string) (*model.Payment, error) {
	payment, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	applied, err := s.payments.Settle(ctx, paymentID, model.PaymentFailed, transactionID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return payment, ErrAlreadySettled
	}

	payment.Status = model.PaymentFailed
	payment.TransactionID = transactionID
	return payment, nil
}

// CheckAmount verifies a provider-reported amount against the stored payment.
// Click reports soums, Payme reports tiyin.
func (s *PaymentService) CheckAmount(payment *model.Payment, reported int64, provider string) error {
	expected := payment.Amount
	if provider == ProviderPayme {
		expected *= 100
	}
	if reported != expected {
		return fmt.Errorf("%w: reported %d, expected %d", ErrAmountMismatch, reported, expected)
	}
	return nil
}
