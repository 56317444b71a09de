package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
)

// AdminRoles are the roles that bypass ownership checks.
var AdminRoles = []Role{RoleAdmin, RoleSuperadmin}

// RequireRole returns middleware that passes only identities whose role is in
// roles. There is no implicit super-role: superadmin must be listed to pass.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	allowed := make(map[Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.ErrUnauthenticated
			}
			if !allowed[id.Role] {
				return apperr.Forbidden("insufficient role")
			}
			return next(c)
		}
	}
}

// RequireAuth passes any identity regardless of role.
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := IdentityFromContext(c.Request().Context()); !ok {
				return apperr.ErrUnauthenticated
			}
			return next(c)
		}
	}
}

// RequireAdmin is RequireRole(admin, superadmin).
func RequireAdmin() echo.MiddlewareFunc {
	return RequireRole(AdminRoles...)
}

// CurrentIdentity returns the identity on the echo request context or
// apperr.ErrUnauthenticated.
func CurrentIdentity(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, apperr.ErrUnauthenticated
	}
	return id, nil
}
