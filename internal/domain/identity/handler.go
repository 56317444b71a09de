package identity

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/pkg/pagination"
)

type Handler struct {
	svc     *Service
	tokens  *auth.TokenService
	cookies *auth.Cookies
}

func NewHandler(svc *Service, tokens *auth.TokenService, cookies *auth.Cookies) *Handler {
	return &Handler{svc: svc, tokens: tokens, cookies: cookies}
}

// RegisterRoutes expects api to carry auth.OptionalSession.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	a := api.Group("/auth")
	a.POST("/register", h.Register)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)
	a.GET("/me", h.Me, auth.RequireAuth())

	admin := api.Group("/users", auth.RequireAdmin())
	admin.GET("", h.ListUsers)
	admin.GET("/:id", h.GetUser)
	admin.PUT("/:id/active", h.SetActive)
}

func (h *Handler) Register(c echo.Context) error {
	var in RegisterInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	var actor *auth.Identity
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		actor = &id
	}

	u, err := h.svc.Register(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ResponseFromIdentity(u.Identity()))
}

func (h *Handler) Login(c echo.Context) error {
	var in LoginInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	if err := in.Validate(); err != nil {
		return err
	}

	u, err := h.svc.Authenticate(c.Request().Context(), in.Email, in.Password)
	if err != nil {
		return err
	}

	sub := auth.Subject{ID: u.ID, Role: u.Role}
	access, err := h.tokens.IssueAccessToken(sub)
	if err != nil {
		return err
	}
	refresh, err := h.tokens.IssueRefreshToken(sub)
	if err != nil {
		return err
	}
	h.cookies.SetAccess(c, access)
	h.cookies.SetRefresh(c, refresh)
	return c.JSON(http.StatusOK, ResponseFromIdentity(u.Identity()))
}

// Refresh exchanges the refresh cookie for a new access cookie. The role
// in the new token comes from the store, not the old token.
func (h *Handler) Refresh(c echo.Context) error {
	claims, err := h.tokens.Verify(auth.RefreshTokenFromRequest(c), auth.RefreshToken)
	if err != nil {
		return apperr.ErrUnauthenticated
	}
	id, err := h.svc.LoadIdentity(c.Request().Context(), claims.SubjectID())
	if err != nil {
		return err
	}

	access, err := h.tokens.IssueAccessToken(auth.Subject{ID: id.ID, Role: id.Role})
	if err != nil {
		return err
	}
	h.cookies.SetAccess(c, access)
	return c.JSON(http.StatusOK, ResponseFromIdentity(id))
}

// Logout always succeeds and clears both cookies.
func (h *Handler) Logout(c echo.Context) error {
	var actor *auth.Identity
	if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
		actor = &id
	}
	h.svc.Logout(c.Request().Context(), actor)
	h.cookies.Clear(c)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	id, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ResponseFromIdentity(id))
}

func (h *Handler) ListUsers(c echo.Context) error {
	var v apperr.Validation
	f := UserFilter{
		Role:  auth.Role(c.QueryParam("role")),
		Query: c.QueryParam("q"),
	}
	if f.Role != "" && !f.Role.Valid() {
		v.Add("role", "must be one of superadmin, admin, doctor, patient")
	}
	if raw := c.QueryParam("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			v.Add("active", "must be true or false")
		} else {
			f.Active = &active
		}
	}
	if err := v.Err(); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if users == nil {
		users = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Invalid("id", "must be a UUID")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

type setActiveInput struct {
	IsActive *bool `json:"isActive"`
}

func (h *Handler) SetActive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Invalid("id", "must be a UUID")
	}
	var in setActiveInput
	if err := c.Bind(&in); err != nil {
		return apperr.Invalid("body", "must be a JSON object")
	}
	if in.IsActive == nil {
		return apperr.Invalid("isActive", "is required")
	}
	actor, err := auth.CurrentIdentity(c)
	if err != nil {
		return err
	}

	u, err := h.svc.SetActive(c.Request().Context(), actor, id, *in.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
