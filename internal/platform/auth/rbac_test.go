package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/platform/apperr"
)

var allRoles = []Role{RoleSuperadmin, RoleAdmin, RoleDoctor, RolePatient}

func runGuard(t *testing.T, mw echo.MiddlewareFunc, id *Identity) (bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id != nil {
		req = req.WithContext(WithIdentity(req.Context(), *id))
	}
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	return called, err
}

func TestRequireRole_Matrix(t *testing.T) {
	allowedSets := [][]Role{
		{RolePatient},
		{RoleDoctor},
		{RoleAdmin},
		{RoleSuperadmin},
		{RoleAdmin, RoleSuperadmin},
		{RoleAdmin, RoleDoctor, RoleSuperadmin},
		allRoles,
	}

	for _, allowed := range allowedSets {
		for _, actor := range allRoles {
			in := false
			for _, r := range allowed {
				if r == actor {
					in = true
				}
			}

			id := &Identity{ID: uuid.New(), Role: actor}
			called, err := runGuard(t, RequireRole(allowed...), id)

			if in {
				if err != nil || !called {
					t.Errorf("role %s with allowed %v: expected pass, got err=%v", actor, allowed, err)
				}
				continue
			}
			if !errors.Is(err, apperr.ErrForbidden) {
				t.Errorf("role %s with allowed %v: expected ErrForbidden, got %v", actor, allowed, err)
			}
			if called {
				t.Errorf("role %s with allowed %v: handler must not run", actor, allowed)
			}
		}
	}
}

func TestRequireRole_NoImplicitSuperRole(t *testing.T) {
	_, err := runGuard(t, RequireRole(RoleAdmin), &Identity{Role: RoleSuperadmin})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected superadmin to be forbidden when not listed, got %v", err)
	}
}

func TestRequireRole_NoIdentity(t *testing.T) {
	called, err := runGuard(t, RequireRole(allRoles...), nil)
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated, got %v", err)
	}
	if called {
		t.Error("handler must not run")
	}
}

func TestIdentityHelpers(t *testing.T) {
	doctorID := uuid.New()
	doc := Identity{ID: uuid.New(), Role: RoleDoctor, DoctorID: &doctorID}

	if doc.IsAdmin() {
		t.Error("doctor is not admin")
	}
	if !doc.OwnsDoctor(doctorID) {
		t.Error("expected doctor to own its profile")
	}
	if doc.OwnsDoctor(uuid.New()) {
		t.Error("expected doctor not to own a foreign profile")
	}
	if (Identity{Role: RoleAdmin}).OwnsDoctor(doctorID) {
		t.Error("admins do not own doctor profiles")
	}
	if !(Identity{Role: RoleSuperadmin}).IsAdmin() {
		t.Error("superadmin is admin")
	}
	if !Role("doctor").Valid() || Role("root").Valid() {
		t.Error("unexpected Role.Valid result")
	}
}

func TestRequireAuth(t *testing.T) {
	for _, role := range allRoles {
		called, err := runGuard(t, RequireAuth(), &Identity{ID: uuid.New(), Role: role})
		if err != nil || !called {
			t.Errorf("role %s: called=%v err=%v", role, called, err)
		}
	}

	called, err := runGuard(t, RequireAuth(), nil)
	if called || !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("anonymous: called=%v err=%v", called, err)
	}
}
