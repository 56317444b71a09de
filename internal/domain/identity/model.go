package identity

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/auth"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 8

// User maps to the users table.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	FullName     string     `db:"full_name" json:"fullName"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         auth.Role  `db:"role" json:"role"`
	IsActive     bool       `db:"is_active" json:"isActive"`
	DoctorID     *uuid.UUID `db:"-" json:"doctorId,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

// Identity projects the user into a request identity.
func (u *User) Identity() auth.Identity {
	return auth.Identity{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Role:     u.Role,
		DoctorID: u.DoctorID,
	}
}

// UserResponse is the public payload returned by the auth endpoints.
type UserResponse struct {
	ID       uuid.UUID  `json:"id"`
	Email    string     `json:"email"`
	FullName string     `json:"fullName"`
	Role     auth.Role  `json:"role"`
	DoctorID *uuid.UUID `json:"doctorId,omitempty"`
}

func ResponseFromIdentity(id auth.Identity) UserResponse {
	return UserResponse{
		ID:       id.ID,
		Email:    id.Email,
		FullName: id.FullName,
		Role:     id.Role,
		DoctorID: id.DoctorID,
	}
}

// snapshot is what the audit log stores for a user. The hash is left out.
type snapshot struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	Role     auth.Role `json:"role"`
	IsActive bool      `json:"isActive"`
}

func (u *User) snapshot() snapshot {
	return snapshot{ID: u.ID, Email: u.Email, FullName: u.FullName, Role: u.Role, IsActive: u.IsActive}
}

type RegisterInput struct {
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	Password string    `json:"password"`
	Role     auth.Role `json:"role"`
}

// Normalize trims input and applies the default role.
func (in *RegisterInput) Normalize() {
	in.Email = NormalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Role == "" {
		in.Role = auth.RolePatient
	}
}

func (in RegisterInput) Validate() error {
	var v apperr.Validation
	ValidateEmail(&v, "email", in.Email)
	v.Check(in.FullName != "", "fullName", "is required")
	v.Check(len(in.Password) >= MinPasswordLength, "password", "must be at least 8 characters")
	v.Check(in.Role.Valid(), "role", "must be one of superadmin, admin, doctor, patient")
	return v.Err()
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	var v apperr.Validation
	v.Check(strings.TrimSpace(in.Email) != "", "email", "is required")
	v.Check(in.Password != "", "password", "is required")
	return v.Err()
}

// UserFilter narrows ListUsers.
type UserFilter struct {
	Role   auth.Role
	Active *bool
	// Query matches email or full name, case-insensitively.
	Query string
}

// NormalizeEmail lower-cases and trims an address. Emails are unique
// case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail records a validation failure on v unless email is a bare
// address.
func ValidateEmail(v *apperr.Validation, field, email string) {
	if email == "" {
		v.Add(field, "is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		v.Add(field, "must be a valid email")
	}
}
