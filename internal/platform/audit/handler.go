package audit

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/pkg/pagination"
)

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the review endpoint on an authenticated group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/audit-logs", h.List, auth.RequireAdmin())
}

func (h *Handler) List(c echo.Context) error {
	var v apperr.Validation
	f := Filter{
		Entity:   c.QueryParam("entity"),
		Action:   Action(c.QueryParam("action")),
		EntityID: c.QueryParam("entityId"),
	}
	if f.Action != "" && !f.Action.Valid() {
		v.Add("action", "must be one of create, update, delete, login, logout")
	}
	if raw := c.QueryParam("actorUserId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			v.Add("actorUserId", "must be a UUID")
		} else {
			f.ActorUserID = &id
		}
	}
	f.From = parseTime(&v, "from", c.QueryParam("from"))
	f.To = parseTime(&v, "to", c.QueryParam("to"))
	if err := v.Err(); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.store.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Log{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func parseTime(v *apperr.Validation, field, raw string) *time.Time {
	if raw == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t
	}
	v.Add(field, "must be an RFC 3339 timestamp or YYYY-MM-DD")
	return nil
}
