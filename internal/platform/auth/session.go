package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
)

// IdentityLoader re-fetches the current state of a user. Implementations
// return apperr.ErrUnauthenticated for unknown or inactive users.
type IdentityLoader interface {
	LoadIdentity(ctx context.Context, id uuid.UUID) (Identity, error)
}

// Session resolves the access token into an Identity and rejects the request
// when none can be resolved. Claims in the token are only used to locate the
// user; active status and role always come from the loader.
func Session(tokens *TokenService, loader IdentityLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := resolve(c, tokens, loader)
			if err != nil {
				return err
			}
			attach(c, id)
			return next(c)
		}
	}
}

// OptionalSession attaches an Identity when the request carries a valid
// session and otherwise passes the request through unchanged.
func OptionalSession(tokens *TokenService, loader IdentityLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := resolve(c, tokens, loader)
			switch {
			case err == nil:
				attach(c, id)
			case errors.Is(err, apperr.ErrUnauthenticated):
			default:
				return err
			}
			return next(c)
		}
	}
}

func resolve(c echo.Context, tokens *TokenService, loader IdentityLoader) (Identity, error) {
	raw := accessTokenFromRequest(c)
	if raw == "" {
		return Identity{}, apperr.ErrUnauthenticated
	}

	claims, err := tokens.Verify(raw, AccessToken)
	if err != nil {
		return Identity{}, apperr.ErrUnauthenticated
	}

	id, err := loader.LoadIdentity(c.Request().Context(), claims.SubjectID())
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthenticated) || errors.Is(err, apperr.ErrNotFound) {
			return Identity{}, apperr.ErrUnauthenticated
		}
		return Identity{}, fmt.Errorf("load identity: %w", err)
	}
	return id, nil
}

func attach(c echo.Context, id Identity) {
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
}
