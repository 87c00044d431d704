package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/castlewood/storefront/internal/middleware"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// Auth routes are public (no session required) -- the gate middleware is
// exported separately for other plugins to use on their route groups.
//
// POST endpoints are rate-limited to slow brute-force and enumeration
// attempts: 10 login attempts per IP per minute, 5 signups, 5 reset
// requests.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/login", h.LoginForm)
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	e.GET("/signup", h.SignupForm)
	e.POST("/signup", h.Signup, middleware.RateLimit(5, time.Minute))

	// Logout requires an active session but is registered publicly:
	// logging out with a dead session is a no-op redirect, not an error.
	e.POST("/logout", h.Logout)

	// Password reset flow.
	e.GET("/reset", h.ResetForm)
	e.POST("/reset", h.RequestReset, middleware.RateLimit(5, time.Minute))
	e.GET("/reset/:token", h.NewPasswordForm)
	e.POST("/new-password", h.NewPassword, middleware.RateLimit(5, time.Minute))
}
