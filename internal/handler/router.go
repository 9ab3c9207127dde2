package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"growth-service/internal/auth"
	"growth-service/internal/config"
	"growth-service/internal/factory"
	"growth-service/internal/service"
)

// NewRouter assembles the HTTP surface: the Telegram mini app API, the
// payment provider webhooks, the admin surface and health.
func NewRouter(f *factory.Factory, services *service.ServiceFactory, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://web.telegram.org", "https://*.telegram.org"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Telegram-Init-Data"},
		MaxAge:         300,
	}))

	growth := NewGrowthHandler(services, cfg)
	webhooks := NewWebhookHandler(services.Payments, services.Funnel)
	admin := NewAdminHandler(services)
	validator := auth.NewValidator(cfg.Telegram.BotToken)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := f.HealthCheckAll(req.Context())
		healthy := true
		for _, s := range status {
			if s != "ok" {
				healthy = false
			}
		}
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, APIResponse{Success: healthy, Data: status})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimit(services.RateLimits, "api"))
		r.Use(TelegramAuth(validator))

		r.Post("/funnel/start", growth.Start)
		r.Post("/funnel/register", growth.Register)
		r.Post("/funnel/lead-magnet", growth.LeadMagnet)
		r.With(RateLimit(services.RateLimits, "track")).Post("/events/track", growth.Track)

		r.Get("/referrals/stats", growth.ReferralStats)

		r.Get("/subscription/quote", growth.SubscriptionQuote)
		r.Get("/subscription/status", growth.SubscriptionStatus)
		r.Post("/subscription/cancel", growth.SubscriptionCancel)

		r.Post("/payments/init", growth.InitPayment)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(RateLimit(services.RateLimits, "webhook"))
		r.Post("/click", webhooks.Click)
		r.Post("/payme", webhooks.Payme)
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(RateLimit(services.RateLimits, "admin"))
		r.Use(AdminAuth(services.Hasher, cfg.Telegram.AdminKeyHash))

		r.Get("/settings/{key}", admin.GetSetting)
		r.Put("/settings/{key}", admin.PutSetting)
		r.Get("/funnel/stats", admin.FunnelStats)
		r.Get("/users/search", admin.SearchUsers)
		r.Get("/users/{telegramID}/events", admin.UserEvents)
		r.Post("/broadcast", admin.Broadcast)
	})

	return r
}
