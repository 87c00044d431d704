// Package templates owns the server-rendered HTML. Templates are embedded
// into the binary and exposed through Echo's Renderer interface, so handlers
// render pages with c.Render(status, "login.html", data).
package templates

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
)

//go:embed html/*.html
var files embed.FS

// Renderer implements echo.Renderer on top of html/template.
type Renderer struct {
	tmpl *template.Template
}

// New parses all embedded templates. Called once at startup; a parse error
// here is a programming error and should abort the process.
func New() (*Renderer, error) {
	tmpl, err := template.ParseFS(files, "html/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render writes the named template to w. Implements echo.Renderer.
func (r *Renderer) Render(w io.Writer, name string, data any, c echo.Context) error {
	return r.tmpl.ExecuteTemplate(w, name, data)
}

// --- Page view models ---
// Handlers fill these and pass them to c.Render. Password fields are never
// echoed back, so none of these carry one.

// AuthPage is the shared data for the login and signup forms: the CSRF
// token, field-level validation errors keyed by field name, and the
// previously submitted input to echo back.
type AuthPage struct {
	CSRFToken string
	Errors    map[string]string
	Email     string

	// Notice is an informational banner (e.g. "password updated, sign in").
	Notice string
}

// ResetPage is the data for the reset-request form.
type ResetPage struct {
	CSRFToken string
	Errors    map[string]string
	Email     string
}

// ResetSentPage confirms that a reset email may have been dispatched.
// Deliberately identical whether or not the account exists.
type ResetSentPage struct {
	Email string
}

// NewPasswordPage is the data for the set-new-password form. UserID and
// Token ride along as hidden fields; expiry internals are never exposed.
type NewPasswordPage struct {
	CSRFToken string
	Errors    map[string]string
	UserID    string
	Token     string
}

// HomePage is the data for the authenticated landing page.
type HomePage struct {
	CSRFToken string
	Email     string
	CartItems int
}

// ErrorPage is the data for the generic error page.
type ErrorPage struct {
	Code    int
	Message string
}
