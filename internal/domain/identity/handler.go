package identity

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	guard *Guard
}

func NewHandler(guard *Guard) *Handler {
	return &Handler{guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)
}

// Me returns the account behind the current session.
func (h *Handler) Me(c echo.Context) error {
	p, err := h.guard.ResolvePrincipal(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
