package scheduling

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleSuperadmin, auth.RoleDoctor)

	sched := api.Group("/schedules")
	sched.GET("", h.ListSchedules)
	sched.GET("/:id", h.GetSchedule)
	sched.POST("", h.CreateSchedule, staff)
	sched.PUT("/:id", h.UpdateSchedule, staff)
	sched.DELETE("/:id", h.DeleteSchedule, staff)

	appt := api.Group("/appointments", auth.RequireAuth())
	appt.GET("", h.ListAppointments)
	appt.GET("/:id", h.GetAppointment)
	appt.POST("", h.CreateAppointment)
	appt.PUT("/:id/status", h.UpdateStatus, staff)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Invalid("id", "must be a UUID")
	}
	return id, nil
}

// queryUUID parses an optional UUID query parameter into v.
func queryUUID(c echo.Context, v *apperr.Validation, name string) *uuid.UUID {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		v.Add(name, "must be a UUID")
		return nil
	}
	return &id
}

// -- Schedule Handlers --

func (h *Handler) ListSchedules(c echo.Context) error {
	var v apperr.Validation
	f := ScheduleFilter{
		DoctorID:  queryUUID(c, &v, "doctorId"),
		StartDate: c.QueryParam("startDate"),
		EndDate:   c.QueryParam("endDate"),
	}
	if err := v.Err(); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSchedules(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Schedule{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sched, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in ScheduleInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	sched, err := h.svc.CreateSchedule(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in ScheduleUpdate
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	sched, err := h.svc.UpdateSchedule(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Appointment Handlers --

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var v apperr.Validation
	f := AppointmentFilter{
		DoctorID:  queryUUID(c, &v, "doctorId"),
		PatientID: queryUUID(c, &v, "patientId"),
		Status:    Status(c.QueryParam("status")),
		From:      c.QueryParam("from"),
		To:        c.QueryParam("to"),
	}
	if err := v.Err(); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in AppointmentInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	a, err := h.svc.CreateAppointment(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, a)
}

type statusInput struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	var in statusInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	a, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, in.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}
