// Package shop serves the authenticated storefront pages. Only the account
// home page lives here for now; product browsing, cart mutation, and order
// handling are separate route sets that hang off the same gate.
package shop

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/castlewood/storefront/internal/apperror"
	"github.com/castlewood/storefront/internal/middleware"
	"github.com/castlewood/storefront/internal/plugins/auth"
	"github.com/castlewood/storefront/internal/templates"
)

// Handler serves the shop pages. It reads the authenticated user id from
// the request context and re-fetches the user record on every request --
// sessions carry only the id, so nothing here can go stale.
type Handler struct {
	users auth.UserRepository
}

// NewHandler creates a new shop handler backed by the given user repository.
func NewHandler(users auth.UserRepository) *Handler {
	return &Handler{users: users}
}

// Home renders the account home page (GET /). Requires the auth gate.
func (h *Handler) Home(c echo.Context) error {
	userID := auth.GetUserID(c)
	if userID == "" {
		// The gate should have redirected already; reaching here means the
		// route was registered without it.
		return apperror.NewUnauthorized("authentication required")
	}

	user, err := h.users.FindByID(c.Request().Context(), userID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("loading user: %w", err))
	}

	return c.Render(http.StatusOK, "home.html", templates.HomePage{
		CSRFToken: middleware.GetCSRFToken(c),
		Email:     user.Email,
		CartItems: cartItemCount(user.Cart),
	})
}

// cartItemCount counts the line items in a cart document. A malformed cart
// counts as empty rather than failing the page.
func cartItemCount(cart json.RawMessage) int {
	var doc struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(cart, &doc); err != nil {
		return 0
	}
	return len(doc.Items)
}
