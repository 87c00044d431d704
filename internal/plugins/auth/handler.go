package auth

import (
	"net/http"
	"net/mail"

	"github.com/labstack/echo/v4"

	"github.com/castlewood/storefront/internal/apperror"
	"github.com/castlewood/storefront/internal/middleware"
	"github.com/castlewood/storefront/internal/templates"
)

// sessionCookieName is the HTTP cookie used to store the session token.
const sessionCookieName = "storefront_session"

// Password length policy. The upper bound guards the hasher against
// multi-megabyte inputs.
const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// Handler handles HTTP requests for authentication (signup, login, logout,
// password reset). Handlers are thin: they bind the request, validate the
// form, call the service, and render the response. No business logic lives
// here.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

// LoginForm renders the login page (GET /login).
func (h *Handler) LoginForm(c echo.Context) error {
	// If the user already has a valid session, skip the form.
	if token := getSessionToken(c); token != "" {
		if _, err := h.service.ValidateSession(c.Request().Context(), token); err == nil {
			return c.Redirect(http.StatusSeeOther, "/")
		}
	}

	// Show a success banner after a completed password reset.
	var notice string
	if c.QueryParam("reset") == "success" {
		notice = "Your password has been updated. You can now sign in."
	}

	return c.Render(http.StatusOK, "login.html", templates.AuthPage{
		CSRFToken: middleware.GetCSRFToken(c),
		Notice:    notice,
	})
}

// Login processes the login form submission (POST /login).
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if fieldErrs := validateLoginRequest(&req); len(fieldErrs) > 0 {
		return c.Render(http.StatusUnprocessableEntity, "login.html", templates.AuthPage{
			CSRFToken: middleware.GetCSRFToken(c),
			Errors:    fieldErrs,
			Email:     req.Email,
		})
	}

	token, _, err := h.service.Login(c.Request().Context(), LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		// Credential failures re-render the form; infrastructure failures
		// go to the central error handler.
		if apperror.SafeCode(err) == http.StatusUnauthorized {
			return c.Render(http.StatusUnprocessableEntity, "login.html", templates.AuthPage{
				CSRFToken: middleware.GetCSRFToken(c),
				Errors:    FieldErrors{"credentials": "Invalid email or password."},
				Email:     req.Email,
			})
		}
		return err
	}

	setSessionCookie(c, token)
	return c.Redirect(http.StatusSeeOther, "/")
}

// SignupForm renders the signup page (GET /signup).
func (h *Handler) SignupForm(c echo.Context) error {
	// If the user already has a valid session, skip the form.
	if token := getSessionToken(c); token != "" {
		if _, err := h.service.ValidateSession(c.Request().Context(), token); err == nil {
			return c.Redirect(http.StatusSeeOther, "/")
		}
	}

	return c.Render(http.StatusOK, "signup.html", templates.AuthPage{
		CSRFToken: middleware.GetCSRFToken(c),
	})
}

// Signup processes the signup form submission (POST /signup).
func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if fieldErrs := validateSignupRequest(&req); len(fieldErrs) > 0 {
		return c.Render(http.StatusUnprocessableEntity, "signup.html", templates.AuthPage{
			CSRFToken: middleware.GetCSRFToken(c),
			Errors:    fieldErrs,
			Email:     req.Email,
		})
	}

	_, err := h.service.Signup(c.Request().Context(), SignupInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		// A taken email is a form error, not a server failure.
		if apperror.SafeCode(err) == http.StatusConflict {
			return c.Render(http.StatusUnprocessableEntity, "signup.html", templates.AuthPage{
				CSRFToken: middleware.GetCSRFToken(c),
				Errors:    FieldErrors{"email": apperror.SafeMessage(err)},
				Email:     req.Email,
			})
		}
		return err
	}

	return c.Redirect(http.StatusSeeOther, "/login")
}

// Logout destroys the session and clears the cookie (POST /logout).
// Always succeeds from the user's perspective: a failed server-side delete
// is logged by the service and the cookie is cleared regardless.
func (h *Handler) Logout(c echo.Context) error {
	if token := getSessionToken(c); token != "" {
		if err := h.service.DestroySession(c.Request().Context(), token); err != nil {
			c.Logger().Error(err)
		}
	}

	clearSessionCookie(c)
	return c.Redirect(http.StatusSeeOther, "/login")
}

// --- Password Reset ---

// ResetForm renders the reset-request page (GET /reset).
func (h *Handler) ResetForm(c echo.Context) error {
	return c.Render(http.StatusOK, "reset.html", templates.ResetPage{
		CSRFToken: middleware.GetCSRFToken(c),
	})
}

// RequestReset processes the reset-request form (POST /reset). The response
// is the same whether or not the account exists.
func (h *Handler) RequestReset(c echo.Context) error {
	var req ResetRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if req.Email == "" {
		return c.Render(http.StatusUnprocessableEntity, "reset.html", templates.ResetPage{
			CSRFToken: middleware.GetCSRFToken(c),
			Errors:    FieldErrors{"email": "Email is required."},
		})
	}

	if err := h.service.InitiatePasswordReset(c.Request().Context(), req.Email); err != nil {
		return err
	}

	return c.Render(http.StatusOK, "reset_sent.html", templates.ResetSentPage{
		Email: req.Email,
	})
}

// NewPasswordForm renders the set-new-password page for a reset link
// (GET /reset/:token). An invalid or expired token falls back to the
// reset-request form with a generic error -- the response never says which
// check failed.
func (h *Handler) NewPasswordForm(c echo.Context) error {
	token := c.Param("token")

	userID, err := h.service.ValidateResetToken(c.Request().Context(), token)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusBadRequest {
			return c.Render(http.StatusUnprocessableEntity, "reset.html", templates.ResetPage{
				CSRFToken: middleware.GetCSRFToken(c),
				Errors:    FieldErrors{"token": "This reset link is invalid or has expired. Request a new one."},
			})
		}
		return err
	}

	return c.Render(http.StatusOK, "new_password.html", templates.NewPasswordPage{
		CSRFToken: middleware.GetCSRFToken(c),
		UserID:    userID,
		Token:     token,
	})
}

// NewPassword processes the set-new-password form (POST /new-password).
func (h *Handler) NewPassword(c echo.Context) error {
	var req NewPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	if msg := validatePassword(req.Password); msg != "" {
		return c.Render(http.StatusUnprocessableEntity, "new_password.html", templates.NewPasswordPage{
			CSRFToken: middleware.GetCSRFToken(c),
			Errors:    FieldErrors{"password": msg},
			UserID:    req.UserID,
			Token:     req.Token,
		})
	}

	err := h.service.ResetPassword(c.Request().Context(), req.Token, req.UserID, req.Password)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusBadRequest {
			return c.Render(http.StatusUnprocessableEntity, "reset.html", templates.ResetPage{
				CSRFToken: middleware.GetCSRFToken(c),
				Errors:    FieldErrors{"token": "This reset link is invalid or has expired. Request a new one."},
			})
		}
		return err
	}

	return c.Redirect(http.StatusSeeOther, "/login?reset=success")
}

// --- Cookie helpers ---

// getSessionToken reads the session token from the cookie.
func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, and SameSite=Lax.
// No Max-Age: the cookie lives for the browser session while the server-side
// TTL bounds its real lifetime.
func setSessionCookie(c echo.Context, token string) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// --- Validation helpers ---

// validateSignupRequest checks the signup form and returns field-level
// messages. The handler echoes the submitted email back with the errors;
// passwords are never echoed.
func validateSignupRequest(req *SignupRequest) FieldErrors {
	errs := FieldErrors{}

	if req.Email == "" {
		errs["email"] = "Email is required."
	} else if !isValidEmail(req.Email) {
		errs["email"] = "Please enter a valid email address."
	}

	if msg := validatePassword(req.Password); msg != "" {
		errs["password"] = msg
	} else if req.ConfirmPassword != req.Password {
		errs["confirm_password"] = "Passwords do not match."
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validateLoginRequest checks the login form for presence only. Anything
// beyond presence is the service's concern and gets the generic
// invalid-credentials answer.
func validateLoginRequest(req *LoginRequest) FieldErrors {
	errs := FieldErrors{}
	if req.Email == "" {
		errs["email"] = "Email is required."
	}
	if req.Password == "" {
		errs["password"] = "Password is required."
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// validatePassword checks the password length policy. Returns a message or
// empty string.
func validatePassword(password string) string {
	switch {
	case password == "":
		return "Password is required."
	case len(password) < minPasswordLen:
		return "Password must be at least 8 characters."
	case len(password) > maxPasswordLen:
		return "Password must be at most 128 characters."
	}
	return ""
}

// isValidEmail reports whether the address parses as RFC 5322 and is a bare
// address (no display name).
func isValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
