package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Context keys for storing session data in the Echo context. Other plugins
// use these keys (via the exported getter functions below) to access the
// authenticated user's id.
const (
	contextKeySession = "auth_session"
	contextKeyUserID  = "auth_user_id"
)

// RequireAuth returns middleware that validates the session cookie and
// injects the session into the request context. If the session is invalid
// or missing, the request is redirected to the login page -- downstream
// handlers never run without a valid session.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := getSessionToken(c)
			if token == "" {
				return c.Redirect(http.StatusSeeOther, "/login")
			}

			session, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				// Invalid or expired session -- clear the stale cookie.
				clearSessionCookie(c)
				return c.Redirect(http.StatusSeeOther, "/login")
			}

			// Store session data in context for downstream handlers.
			c.Set(contextKeySession, session)
			c.Set(contextKeyUserID, session.UserID)

			return next(c)
		}
	}
}

// --- Exported getters for other plugins ---

// GetSession retrieves the authenticated session from the Echo context.
// Returns nil if the request is not authenticated (middleware not applied).
func GetSession(c echo.Context) *Session {
	session, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return session
}

// GetUserID retrieves the authenticated user's id from the Echo context.
// Returns empty string if the request is not authenticated.
func GetUserID(c echo.Context) string {
	id, ok := c.Get(contextKeyUserID).(string)
	if !ok {
		return ""
	}
	return id
}
