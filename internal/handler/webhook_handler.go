package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/service"
	"growth-service/internal/util"
)

// Click SHOP API result codes.
const (
	clickOK              = 0
	clickSignFailed      = -1
	clickTransNotFound   = -6
	clickAlreadyPaid     = -4
	clickIncorrectAmount = -2
	clickActionPrepare   = "0"
	clickActionComplete  = "1"
	clickErrorNone       = "0"
)

// Payme JSON-RPC error codes.
const (
	paymeUnauthorized    = -32504
	paymeMethodNotFound  = -32601
	paymeInvalidAmount   = -31001
	paymeAccountNotFound = -31050
	paymeCannotPerform   = -31008
	paymeCannotCancel    = -31007
)

// WebhookHandler terminates payment provider callbacks. Both providers
// retry aggressively, so every branch answers idempotently: a callback for
// an already settled payment acknowledges instead of failing.
type WebhookHandler struct {
	payments *service.PaymentService
	funnel   *service.FunnelService
}

func NewWebhookHandler(payments *service.PaymentService, funnel *service.FunnelService) *WebhookHandler {
	return &WebhookHandler{payments: payments, funnel: funnel}
}

type clickResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string `json:"merchant_confirm_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// Click handles the SHOP API form callback: action 0 is prepare, action 1 is
// complete.
func (h *WebhookHandler) Click(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	cb := &service.ClickCallback{
		ClickTransID:      r.PostFormValue("click_trans_id"),
		ServiceID:         r.PostFormValue("service_id"),
		MerchantTransID:   r.PostFormValue("merchant_trans_id"),
		MerchantPrepareID: r.PostFormValue("merchant_prepare_id"),
		Amount:            r.PostFormValue("amount"),
		Action:            r.PostFormValue("action"),
		Error:             r.PostFormValue("error"),
		SignTime:          r.PostFormValue("sign_time"),
		SignString:        r.PostFormValue("sign_string"),
	}

	respond := func(code int, note string, prepareID string) {
		resp := clickResponse{
			ClickTransID:    cb.ClickTransID,
			MerchantTransID: cb.MerchantTransID,
			Error:           code,
			ErrorNote:       note,
		}
		if cb.Action == clickActionPrepare {
			resp.MerchantPrepareID = prepareID
		} else {
			resp.MerchantConfirmID = prepareID
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}

	if !h.payments.VerifyClickSignature(cb) {
		util.Warn("Click callback signature rejected",
			util.String("click_trans_id", cb.ClickTransID))
		respond(clickSignFailed, "SIGN CHECK FAILED", "")
		return
	}

	payment, err := h.payments.Get(r.Context(), cb.MerchantTransID)
	if err != nil {
		respond(clickTransNotFound, "Transaction does not exist", "")
		return
	}

	amount, err := strconv.ParseFloat(cb.Amount, 64)
	if err != nil || int64(amount) != payment.Amount {
		respond(clickIncorrectAmount, "Incorrect parameter amount", "")
		return
	}

	// Click reports its own upstream failures through the error field.
	if cb.Error != "" && cb.Error != clickErrorNone {
		if _, err := h.payments.Fail(r.Context(), payment.PaymentID, cb.ClickTransID); err == nil {
			_ = h.funnel.HandlePaymentResult(r.Context(), payment, false)
		}
		respond(clickOK, "Failure recorded", payment.PaymentID)
		return
	}

	switch cb.Action {
	case clickActionPrepare:
		if payment.Status == model.PaymentCompleted {
			respond(clickAlreadyPaid, "Already paid", payment.PaymentID)
			return
		}
		respond(clickOK, "Success", payment.PaymentID)

	case clickActionComplete:
		settled, err := h.payments.Complete(r.Context(), payment.PaymentID, cb.ClickTransID)
		if errors.Is(err, service.ErrAlreadySettled) {
			if settled.Status == model.PaymentCompleted {
				respond(clickOK, "Success", payment.PaymentID)
			} else {
				respond(clickAlreadyPaid, "Already settled", payment.PaymentID)
			}
			return
		}
		if err != nil {
			respond(clickTransNotFound, "Settlement failed", "")
			return
		}
		if err := h.funnel.HandlePaymentResult(r.Context(), settled, true); err != nil {
			util.Error("Payment fulfillment failed",
				util.String("payment_id", payment.PaymentID),
				util.ErrorField(err))
			h.funnel.ScheduleFulfillmentRetry(r.Context(), settled)
		}
		respond(clickOK, "Success", payment.PaymentID)

	default:
		respond(clickTransNotFound, "Unknown action", "")
	}
}

type paymeRequest struct {
	ID     interface{}     `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type paymeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type paymeResponse struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *paymeError `json:"error,omitempty"`
}

type paymeParams struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Account struct {
		PaymentID string `json:"payment_id"`
	} `json:"account"`
}

// Payme terminates the merchant JSON-RPC endpoint.
func (h *WebhookHandler) Payme(w http.ResponseWriter, r *http.Request) {
	writeRPC := func(resp paymeResponse) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}

	var req paymeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPC(paymeResponse{Error: &paymeError{Code: paymeMethodNotFound, Message: "Parse error"}})
		return
	}

	if !h.payments.VerifyPaymeAuth(r.Header.Get("Authorization")) {
		writeRPC(paymeResponse{ID: req.ID, Error: &paymeError{
			Code: paymeUnauthorized, Message: "Unauthorized"}})
		return
	}

	var params paymeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeRPC(paymeResponse{ID: req.ID, Error: &paymeError{
				Code: paymeAccountNotFound, Message: "Malformed params"}})
			return
		}
	}

	rpcError := func(code int, message string) {
		writeRPC(paymeResponse{ID: req.ID, Error: &paymeError{Code: code, Message: message}})
	}

	payment, err := h.payments.Get(r.Context(), params.Account.PaymentID)
	if err != nil {
		if errors.Is(err, scylla.ErrPaymentNotFound) {
			rpcError(paymeAccountNotFound, "Payment not found")
		} else {
			rpcError(paymeCannotPerform, "Storage unavailable")
		}
		return
	}

	switch req.Method {
	case "CheckPerformTransaction":
		if err := h.payments.CheckAmount(payment, params.Amount, service.ProviderPayme); err != nil {
			rpcError(paymeInvalidAmount, "Invalid amount")
			return
		}
		if payment.Status != model.PaymentPending {
			rpcError(paymeCannotPerform, "Payment already settled")
			return
		}
		writeRPC(paymeResponse{ID: req.ID, Result: map[string]interface{}{"allow": true}})

	case "CreateTransaction":
		if err := h.payments.CheckAmount(payment, params.Amount, service.ProviderPayme); err != nil {
			rpcError(paymeInvalidAmount, "Invalid amount")
			return
		}
		if payment.Status != model.PaymentPending {
			rpcError(paymeCannotPerform, "Payment already settled")
			return
		}
		writeRPC(paymeResponse{ID: req.ID, Result: map[string]interface{}{
			"create_time": payment.CreatedAt.UnixMilli(),
			"transaction": payment.PaymentID,
			"state":       1,
		}})

	case "PerformTransaction":
		settled, err := h.payments.Complete(r.Context(), payment.PaymentID, params.ID)
		if errors.Is(err, service.ErrAlreadySettled) {
			if settled.Status != model.PaymentCompleted {
				rpcError(paymeCannotPerform, "Payment already failed")
				return
			}
		} else if err != nil {
			rpcError(paymeCannotPerform, "Settlement failed")
			return
		} else if err := h.funnel.HandlePaymentResult(r.Context(), settled, true); err != nil {
			util.Error("Payment fulfillment failed",
				util.String("payment_id", payment.PaymentID),
				util.ErrorField(err))
			h.funnel.ScheduleFulfillmentRetry(r.Context(), settled)
		}
		writeRPC(paymeResponse{ID: req.ID, Result: map[string]interface{}{
			"perform_time": settled.UpdatedAt.UnixMilli(),
			"transaction":  payment.PaymentID,
			"state":        2,
		}})

	case "CancelTransaction":
		// A performed transaction cannot be cancelled through this endpoint.
		if payment.Status == model.PaymentCompleted {
			rpcError(paymeCannotCancel, "Transaction already performed")
			return
		}
		settled, err := h.payments.Fail(r.Context(), payment.PaymentID, params.ID)
		if errors.Is(err, service.ErrAlreadySettled) && settled.Status == model.PaymentCompleted {
			rpcError(paymeCannotCancel, "Transaction already performed")
			return
		}
		if err != nil && !errors.Is(err, service.ErrAlreadySettled) {
			rpcError(paymeCannotPerform, "Cancellation failed")
			return
		}
		if err == nil {
			_ = h.funnel.HandlePaymentResult(r.Context(), settled, false)
		}
		writeRPC(paymeResponse{ID: req.ID, Result: map[string]interface{}{
			"cancel_time": settled.UpdatedAt.UnixMilli(),
			"transaction": payment.PaymentID,
			"state":       -1,
		}})

	case "CheckTransaction":
		state := 1
		switch payment.Status {
		case model.PaymentCompleted:
			state = 2
		case model.PaymentFailed:
			state = -1
		}
		writeRPC(paymeResponse{ID: req.ID, Result: map[string]interface{}{
			"transaction": payment.PaymentID,
			"state":       state,
		}})

	default:
		rpcError(paymeMethodNotFound, "Method not found")
	}
}
