package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleDoctor     Role = "doctor"
	RolePatient    Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleAdmin, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Identity is the request-scoped projection of an authenticated user. It is
// stored by value on the request context and never mutated after attachment.
type Identity struct {
	ID       uuid.UUID
	Email    string
	FullName string
	Role     Role
	DoctorID *uuid.UUID
}

// IsAdmin reports whether the identity bypasses ownership checks.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin || i.Role == RoleSuperadmin
}

// OwnsDoctor reports whether the identity is the doctor with the given profile id.
func (i Identity) OwnsDoctor(doctorID uuid.UUID) bool {
	return i.Role == RoleDoctor && i.DoctorID != nil && *i.DoctorID == doctorID
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by Session, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// IsAdmin reports whether ctx carries an admin or superadmin identity.
func IsAdmin(ctx context.Context) bool {
	id, ok := IdentityFromContext(ctx)
	return ok && id.IsAdmin()
}
