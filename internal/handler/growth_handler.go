package handler

import (
	"errors"
	"net/http"

	"growth-service/internal/auth"
	"growth-service/internal/config"
	"growth-service/internal/model"
	"growth-service/internal/repository/scylla"
	"growth-service/internal/service"
)

// GrowthHandler serves the Telegram mini app: funnel intake, referrals,
// pricing and payments. Every route is behind TelegramAuth, so the caller's
// identity comes from the validated init data, never from the body.
type GrowthHandler struct {
	services *service.ServiceFactory
	cfg      *config.Config
}

func NewGrowthHandler(services *service.ServiceFactory, cfg *config.Config) *GrowthHandler {
	return &GrowthHandler{services: services, cfg: cfg}
}

func callerID(r *http.Request) (int64, bool) {
	data, ok := auth.FromContext(r.Context())
	if !ok {
		return 0, false
	}
	return data.User.ID, true
}

// Start enters the caller into the funnel.
func (h *GrowthHandler) Start(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var body struct {
		Source   string `json:"source"`
		Campaign string `json:"campaign"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	data, _ := auth.FromContext(r.Context())
	name := data.User.FirstName
	if data.User.LastName != "" {
		name += " " + data.User.LastName
	}

	if err := h.services.Funnel.Start(r.Context(), telegramID, name,
		body.Source, body.Campaign, data.StartParam); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to start")
		return
	}
	writeSuccess(w, map[string]interface{}{"telegram_id": telegramID})
}

// Track records a funnel event for the caller.
func (h *GrowthHandler) Track(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var body struct {
		EventType string            `json:"event_type"`
		Payload   map[string]string `json:"payload"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.EventType == "" {
		writeError(w, http.StatusBadRequest, "event_type is required")
		return
	}

	if err := h.services.Funnel.TrackEvent(r.Context(), telegramID, body.EventType, body.Payload); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to track event")
		return
	}
	writeSuccess(w, nil)
}

// Register completes the caller's onboarding profile.
func (h *GrowthHandler) Register(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var body struct {
		Name  string `json:"name"`
		Age   int    `json:"age"`
		Phone string `json:"phone"`
		Goal  string `json:"goal"`
		Level string `json:"level"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	err := h.services.Funnel.CompleteRegistration(r.Context(), telegramID, service.RegistrationInput{
		Name:  body.Name,
		Age:   body.Age,
		Phone: body.Phone,
		Goal:  body.Goal,
		Level: body.Level,
	})
	if err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user has not started the funnel")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to complete registration")
		return
	}
	writeSuccess(w, nil)
}

// LeadMagnet records the caller opening the lead magnet.
func (h *GrowthHandler) LeadMagnet(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := h.services.Funnel.LeadMagnetOpened(r.Context(), telegramID); err != nil {
		if errors.Is(err, scylla.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user has not started the funnel")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record lead magnet open")
		return
	}
	writeSuccess(w, nil)
}

// ReferralStats returns the caller's invite summary plus their deep link.
func (h *GrowthHandler) ReferralStats(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	stats, err := h.services.Referrals.Stats(r.Context(), telegramID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load referral stats")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"stats": stats,
		"link":  h.services.Referrals.Link(h.cfg.Telegram.BotUsername, telegramID),
	})
}

// SubscriptionQuote prices the subscription against the caller's balance.
func (h *GrowthHandler) SubscriptionQuote(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	quote, err := h.services.Subscriptions.Quote(r.Context(), telegramID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute quote")
		return
	}
	writeSuccess(w, quote)
}

// SubscriptionStatus returns the caller's coverage with lazy expiry applied.
func (h *GrowthHandler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	sub, err := h.services.Subscriptions.Status(r.Context(), telegramID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load subscription")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"status":     sub.Status,
		"expires_at": sub.ExpiresAt,
		"active":     sub.Status == model.SubscriptionActive,
	})
}

// SubscriptionCancel stops the caller's subscription.
func (h *GrowthHandler) SubscriptionCancel(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	cancelled, err := h.services.Subscriptions.Cancel(r.Context(), telegramID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel subscription")
		return
	}
	writeSuccess(w, map[string]interface{}{"cancelled": cancelled})
}

// InitPayment opens a pending payment and returns the provider checkout URL.
func (h *GrowthHandler) InitPayment(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var body struct {
		Provider string `json:"provider"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	payment, checkoutURL, err := h.services.Payments.InitPayment(r.Context(), telegramID, body.Provider)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, "unknown payment provider")
		case errors.Is(err, service.ErrNothingToPurchase):
			writeError(w, http.StatusConflict, "final price is zero")
		default:
			writeError(w, http.StatusInternalServerError, "failed to init payment")
		}
		return
	}

	if err := h.services.Funnel.TrackEvent(r.Context(), telegramID,
		model.EventPaymentOpen, map[string]string{
			"payment_id": payment.PaymentID,
			"provider":   payment.Provider,
		}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record payment open")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"payment_id":   payment.PaymentID,
		"amount":       payment.Amount,
		"discount":     payment.ReferralDiscount,
		"checkout_url": checkoutURL,
	})
}
