package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/castlewood/storefront/internal/mailer"
	"github.com/castlewood/storefront/internal/plugins/auth"
	"github.com/castlewood/storefront/internal/plugins/shop"
)

// RegisterRoutes constructs the plugin services and wires up all HTTP routes.
// Auth routes are public; everything else lives behind the session gate.
func (a *App) RegisterRoutes(mail mailer.Mailer) {
	users := auth.NewUserRepository(a.DB)
	authService := auth.NewAuthService(
		users,
		a.Redis,
		mail,
		a.Config.BaseURL,
		a.Config.Auth.SessionTTL,
		a.Config.Auth.ResetTokenTTL,
	)

	auth.RegisterRoutes(a.Echo, auth.NewHandler(authService))

	// Everything under the root group requires a valid session.
	authed := a.Echo.Group("", auth.RequireAuth(authService))
	shop.RegisterRoutes(authed, shop.NewHandler(users))

	a.Echo.GET("/healthz", a.healthz)
}

// healthz reports liveness of the server and its backing stores. Used by
// container orchestrators and uptime monitors; returns 503 when either
// store is unreachable.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if err := a.DB.PingContext(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		status["status"] = "degraded"
		status["redis"] = "unreachable"
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, status)
}
