// Package auth handles user accounts, login sessions, and the password
// reset flow for the storefront. It provides signup, login, logout, and
// session validation with opaque tokens stored in Redis.
package auth

import (
	"encoding/json"
	"time"
)

// EmptyCart is the cart document every new user starts with. The cart's
// shape belongs to the shop plugin; auth only initializes it.
const EmptyCart = `{"items":[]}`

// User represents a registered shop customer. This is the domain model used
// throughout the application. Database scanning uses this struct directly.
//
// Emails are stored lowercased and trimmed; the same normalization is
// applied on every lookup, so uniqueness is case-insensitive in effect.
type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // Never expose in JSON responses.

	// Cart is an opaque document owned by the shop plugin.
	Cart json.RawMessage `json:"cart"`

	// ResetTokenHash is SHA-256(plaintext reset token). Set together with
	// ResetTokenExpiresAt while a reset window is open, cleared together
	// when the token is consumed. Never both half-set.
	ResetTokenHash      *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`

	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// SignupRequest holds the data submitted by the signup form.
type SignupRequest struct {
	Email           string `form:"email"`
	Password        string `form:"password"`
	ConfirmPassword string `form:"confirm_password"`
}

// LoginRequest holds the data submitted by the login form.
type LoginRequest struct {
	Email    string `form:"email"`
	Password string `form:"password"`
}

// ResetRequest holds the data submitted by the reset-request form.
type ResetRequest struct {
	Email string `form:"email"`
}

// NewPasswordRequest holds the data submitted by the set-new-password form.
// UserID and Token arrive as hidden fields planted by the reset-link page.
type NewPasswordRequest struct {
	Password string `form:"password"`
	UserID   string `form:"user_id"`
	Token    string `form:"token"`
}

// --- Service Input DTOs (passed from handler to service) ---

// SignupInput is the validated input for creating a new user.
type SignupInput struct {
	Email    string
	Password string
}

// LoginInput is the validated input for authenticating a user.
type LoginInput struct {
	Email    string
	Password string
}

// --- Session ---

// Session represents an authenticated login session stored in Redis.
// The session token is the key, and this struct is the value (JSON-encoded).
//
// Only the user id is stored. Anything else about the user is re-fetched
// from the store on demand, so a password change or account update is
// never shadowed by stale session data.
type Session struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// FieldErrors maps form field names to user-facing validation messages.
// A nil or empty map means the input passed validation.
type FieldErrors map[string]string
