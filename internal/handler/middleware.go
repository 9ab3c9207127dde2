package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"growth-service/internal/auth"
	"growth-service/internal/hashing"
	"growth-service/internal/repository/redis"
	"growth-service/internal/util"
)

// RequestLogger emits one structured line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		util.Info("HTTP request",
			util.String("method", r.Method),
			util.String("path", r.URL.Path),
			util.Int("status", ww.Status()),
			util.Int("bytes", ww.BytesWritten()),
			util.Duration("duration", time.Since(start)),
			util.String("request_id", middleware.GetReqID(r.Context())),
			util.String("remote", r.RemoteAddr))
	})
}

// RateLimit throttles a route group under one scope, keyed by client IP.
func RateLimit(limits *redis.RateLimitCache, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, _ := limits.Allow(r.Context(), scope, r.RemoteAddr)
			if !allowed {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TelegramAuth validates the X-Telegram-Init-Data header and stores the
// caller's identity on the context. Mini app routes refuse anything without
// a valid signature.
func TelegramAuth(validator *auth.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-Telegram-Init-Data")
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing init data")
				return
			}

			data, err := validator.Validate(raw, time.Now())
			if err != nil {
				util.Warn("Init data rejected",
					util.String("path", r.URL.Path),
					util.ErrorField(err))
				writeError(w, http.StatusUnauthorized, "invalid init data")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithInitData(r.Context(), data)))
		})
	}
}

// AdminAuth verifies the X-Admin-Key header against the configured argon2id
// hash.
func AdminAuth(hasher *hashing.Hasher, keyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Admin-Key")
			if key == "" || keyHash == "" {
				writeError(w, http.StatusUnauthorized, "admin credentials required")
				return
			}

			ok, err := hasher.VerifyAPIKey(key, keyHash)
			if err != nil || !ok {
				writeError(w, http.StatusUnauthorized, "admin credentials rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
