package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"growth-service/internal/config"
	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/service"
)

type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]*model.Payment
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{payments: make(map[string]*model.Payment)}
}

func (m *memPaymentRepo) Create(ctx context.Context, payment *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment.Status = model.PaymentPending
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	clone := *payment
	m.payments[payment.PaymentID] = &clone
	return nil
}

func (m *memPaymentRepo) Get(ctx context.Context, paymentID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[paymentID]
	if !ok {
		return nil, scylla.ErrPaymentNotFound
	}
	clone := *payment
	return &clone, nil
}

func (m *memPaymentRepo) Settle(ctx context.Context, paymentID string, status model.PaymentStatus, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[paymentID]
	if !ok || payment.Status != model.PaymentPending {
		return false, nil
	}
	payment.Status = status
	payment.TransactionID = transactionID
	payment.UpdatedAt = time.Now().UTC()
	return true, nil
}

func paymeRPC(t *testing.T, h *WebhookHandler, method string, params map[string]interface{}) paymeResponse {
	t.Helper()

	body, err := json.Marshal(map[string]interface{}{
		"id":     1,
		"method": method,
		"params": params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payme", bytes.NewReader(body))
	req.Header.Set("Authorization",
		"Basic "+base64.StdEncoding.EncodeToString([]byte("Paycom:test-secret")))
	rec := httptest.NewRecorder()
	h.Payme(rec, req)

	var resp paymeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func newPaymeFixture(t *testing.T) (*WebhookHandler, *memPaymentRepo) {
	t.Helper()
	repo := newMemPaymentRepo()
	payments := service.NewPaymentService(repo, nil,
		config.PaymentsConfig{PaymeSecretKey: "test-secret"})
	return NewWebhookHandler(payments, nil), repo
}

func TestPaymeCancelRefusesPerformedTransaction(t *testing.T) {
	h, repo := newPaymeFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Payment{
		PaymentID: "pay-1", TelegramID: 200, Amount: 97_000,
	}))
	applied, err := repo.Settle(ctx, "pay-1", model.PaymentCompleted, "trx-1")
	require.NoError(t, err)
	require.True(t, applied)

	resp := paymeRPC(t, h, "CancelTransaction", map[string]interface{}{
		"id":      "trx-2",
		"account": map[string]string{"payment_id": "pay-1"},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, paymeCannotCancel, resp.Error.Code)

	payment, err := repo.Get(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, payment.Status)
}

func TestPaymeRejectsBadCredentials(t *testing.T) {
	h, _ := newPaymeFixture(t)

	body, err := json.Marshal(map[string]interface{}{
		"id": 1, "method": "CheckTransaction",
		"params": map[string]interface{}{"account": map[string]string{"payment_id": "pay-1"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payme", bytes.NewReader(body))
	req.Header.Set("Authorization",
		"Basic "+base64.StdEncoding.EncodeToString([]byte("Paycom:wrong")))
	rec := httptest.NewRecorder()
	h.Payme(rec, req)

	var resp paymeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, paymeUnauthorized, resp.Error.Code)
}

func TestPaymeCheckTransactionReportsState(t *testing.T) {
	h, repo := newPaymeFixture(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &model.Payment{
		PaymentID: "pay-1", TelegramID: 200, Amount: 97_000,
	}))
	_, err := repo.Settle(ctx, "pay-1", model.PaymentFailed, "trx-1")
	require.NoError(t, err)

	resp := paymeRPC(t, h, "CheckTransaction", map[string]interface{}{
		"account": map[string]string{"payment_id": "pay-1"},
	})

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(-1), result["state"])
}
