// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires together the plugins.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/castlewood/storefront/internal/apperror"
	"github.com/castlewood/storefront/internal/config"
	"github.com/castlewood/storefront/internal/middleware"
	"github.com/castlewood/storefront/internal/templates"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client holding login sessions.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with the template renderer, global middleware, and error
// handling.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	renderer, err := templates.New()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	e.Renderer = renderer

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Rate limiting and request
	// logging depend on it.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Echo:   e,
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	// Serve static files (CSS, images).
	e.Static("/static", "static")

	return app, nil
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first, innermost (CSRF) runs last.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())

	// CSRF -- double-submit cookie pattern on all state-changing requests.
	a.Echo.Use(middleware.CSRF())
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to rendered error pages, logging internal causes without ever
// exposing them to the client.
//
// 401 errors redirect to the login page instead of rendering an error.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred"

	// Check if it's our domain error type.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	} else {
		// Check for Echo's built-in HTTP errors (e.g., 404 from router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
	}

	// 401 -- redirect to login page instead of rendering an error.
	if code == http.StatusUnauthorized {
		c.Redirect(http.StatusSeeOther, "/login")
		return
	}

	if renderErr := c.Render(code, "error.html", templates.ErrorPage{
		Code:    code,
		Message: message,
	}); renderErr != nil {
		slog.Error("rendering error page", slog.Any("error", renderErr))
		c.String(code, message)
	}
}

// defaultErrorMessage returns a user-friendly message for common HTTP status
// codes when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to log in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist or has been moved."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusConflict:
		return "This action conflicts with the current state."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusInternalServerError:
		return "Something went wrong on our end. Please try again."
	default:
		return "An unexpected error occurred."
	}
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting storefront server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
