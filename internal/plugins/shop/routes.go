package shop

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up the shop routes on the given group. The caller
// supplies a group already wrapped in the auth gate.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.GET("/", h.Home)
}
