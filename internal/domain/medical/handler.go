package medical

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/medical-records", auth.RequireAuth())
	g.GET("/:appointmentId", h.Get)
	g.POST("", h.Upsert, auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin, auth.RoleSuperadmin))
}

func (h *Handler) Get(c echo.Context) error {
	apptID, err := uuid.Parse(c.Param("appointmentId"))
	if err != nil {
		return apperr.Invalid("appointmentId", "must be a UUID")
	}
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetByAppointment(c.Request().Context(), actor, apptID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Upsert answers 201 for both inserts and replacements.
func (h *Handler) Upsert(c echo.Context) error {
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in UpsertInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	rec, _, err := h.svc.Upsert(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}
