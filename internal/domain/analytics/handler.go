package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/analytics", auth.RequireAdmin())
	g.GET("/visits-by-day", h.VisitsByDay)
	g.GET("/visits-by-doctor", h.VisitsByDoctor)
	g.GET("/visits-by-specialty", h.VisitsBySpecialty)
}

func filterFrom(c echo.Context) Filter {
	return Filter{
		From:   c.QueryParam("from"),
		To:     c.QueryParam("to"),
		Status: c.QueryParam("status"),
	}
}

func (h *Handler) VisitsByDay(c echo.Context) error {
	out, err := h.svc.VisitsByDay(c.Request().Context(), filterFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VisitsByDoctor(c echo.Context) error {
	out, err := h.svc.VisitsByDoctor(c.Request().Context(), filterFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) VisitsBySpecialty(c echo.Context) error {
	out, err := h.svc.VisitsBySpecialty(c.Request().Context(), filterFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}
