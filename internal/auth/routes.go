package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router.
// The login endpoints carry their own rate limit; everything touching an
// existing session sits behind the auth middleware.
func RegisterRoutes(r chi.Router, handler *AuthHandler, twoFactorHandler *TwoFactorHandler, authMiddleware, loginRateLimit Middleware) {
	r.Route("/auth", func(r chi.Router) {
		// Public routes (no authentication required)
		r.Group(func(r chi.Router) {
			if loginRateLimit != nil {
				r.Use(loginRateLimit)
			}
			r.Post("/login", handler.Login)
			r.Post("/login/2fa", handler.VerifyTwoFactor)
		})
		r.Post("/refresh", handler.Refresh)
		r.Post("/logout", handler.Logout)
		r.Post("/forgot-password", handler.ForgotPassword)
		r.Post("/reset-password", handler.ResetPassword)

		// Protected routes (authentication required)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout-all", handler.LogoutAll)
			r.Post("/change-password", handler.ChangePassword)
			r.Get("/me", handler.GetMe)
			r.Get("/sessions", handler.ListSessions)
			r.Delete("/sessions/{id}", handler.RevokeSession)

			r.Route("/2fa", func(r chi.Router) {
				r.Post("/enable", twoFactorHandler.Enable)
				r.Post("/confirm", twoFactorHandler.Confirm)
				r.Post("/disable", twoFactorHandler.Disable)
			})
		})
	})
}
