package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/voyago/identity-service/internal/app"
	"github.com/voyago/identity-service/internal/token"
)

// RouterConfig carries the wiring the router needs beyond the handlers.
type RouterConfig struct {
	Tokens                  *token.Service
	Limiter                 *app.RedisRateLimiter
	LoginRateLimitPerMinute int
	OtpRateLimitPerMinute   int
}

// NewRouter assembles the HTTP surface: public credential endpoints with
// rate limiting, and bearer-authenticated account endpoints.
func NewRouter(h *AuthHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)    // Log API requests
	r.Use(middleware.Recoverer) // Recover from panics
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Identity service is healthy"))
	})

	loginLimit := RateLimitMiddleware(cfg.Limiter, "login", cfg.LoginRateLimitPerMinute, time.Minute)
	otpLimit := RateLimitMiddleware(cfg.Limiter, "otp", cfg.OtpRateLimitPerMinute, time.Minute)

	r.Route("/auth", func(r chi.Router) {
		// Public credential endpoints
		r.Group(func(r chi.Router) {
			r.Post("/register/user", h.RegisterUser)
			r.Post("/register/agency", h.RegisterAgency)
			r.With(loginLimit).Post("/login", h.Login)
			r.Post("/refresh", h.Refresh)
			r.Post("/logout", h.Logout)
			r.With(otpLimit).Post("/forgot-password", h.ForgotPassword)
			r.With(otpLimit).Post("/reset-password", h.ResetPassword)
		})

		// Bearer-authenticated account endpoints
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Tokens))

			r.Post("/logout-all", h.LogoutAll)
			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions/{sessionID}", func(w http.ResponseWriter, req *http.Request) {
				h.RevokeSession(w, req, chi.URLParam(req, "sessionID"))
			})

			r.Post("/mfa/enroll", h.MfaEnroll)
			r.Post("/mfa/enable", h.MfaEnable)
			r.Post("/mfa/disable", h.MfaDisable)
			r.Post("/mfa/backup-codes", h.MfaBackupCodes)
			r.Get("/mfa/backup-codes", h.MfaBackupCodesRemaining)

			r.Post("/change-password", h.ChangePassword)
			r.Post("/verify-email", h.VerifyEmail)
			r.Post("/verify-phone", h.VerifyPhone)
			r.With(otpLimit).Post("/resend-verification", h.ResendVerification)

			r.Get("/profile", h.Profile)
		})
	})

	return r
}
