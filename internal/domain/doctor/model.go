package doctor

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/domain/identity"
	"github.com/pws/pws/internal/platform/apperr"
)

// Doctor is a doctor profile joined with its account.
type Doctor struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	UserID         uuid.UUID    `db:"user_id" json:"userId"`
	Specialty      string       `db:"specialty" json:"specialty"`
	Location       string       `db:"location" json:"location"`
	Bio            *string      `db:"bio" json:"bio"`
	ProfilePicture *string      `db:"profile_picture" json:"profilePicture"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updatedAt"`
	User           *UserSummary `db:"-" json:"user,omitempty"`
}

// UserSummary is the public part of the linked account.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	IsActive bool      `json:"isActive"`
}

// clone returns a deep copy used as the audit "before" snapshot.
func (d *Doctor) clone() *Doctor {
	cp := *d
	if d.User != nil {
		u := *d.User
		cp.User = &u
	}
	return &cp
}

type CreateInput struct {
	Email          string  `json:"email"`
	FullName       string  `json:"fullName"`
	Password       string  `json:"password"`
	Specialty      string  `json:"specialty"`
	Location       string  `json:"location"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
}

func (in *CreateInput) normalize() {
	in.Email = identity.NormalizeEmail(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Specialty = strings.TrimSpace(in.Specialty)
	in.Location = strings.TrimSpace(in.Location)
}

func (in CreateInput) Validate() error {
	var v apperr.Validation
	identity.ValidateEmail(&v, "email", in.Email)
	v.Check(in.FullName != "", "fullName", "is required")
	v.Check(len(in.Password) >= identity.MinPasswordLength, "password", "must be at least 8 characters")
	v.Check(in.Specialty != "", "specialty", "is required")
	v.Check(in.Location != "", "location", "is required")
	return v.Err()
}

// UpdateInput is a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Specialty      *string `json:"specialty"`
	Location       *string `json:"location"`
	Bio            *string `json:"bio"`
	ProfilePicture *string `json:"profilePicture"`
	FullName       *string `json:"fullName"`
	Email          *string `json:"email"`
}

func (in *UpdateInput) normalize() {
	for _, p := range []*string{in.Specialty, in.Location, in.FullName} {
		if p != nil {
			*p = strings.TrimSpace(*p)
		}
	}
	if in.Email != nil {
		*in.Email = identity.NormalizeEmail(*in.Email)
	}
}

func (in UpdateInput) Validate() error {
	var v apperr.Validation
	v.Check(in.Specialty == nil || *in.Specialty != "", "specialty", "must not be empty")
	v.Check(in.Location == nil || *in.Location != "", "location", "must not be empty")
	v.Check(in.FullName == nil || *in.FullName != "", "fullName", "must not be empty")
	if in.Email != nil {
		identity.ValidateEmail(&v, "email", *in.Email)
	}
	return v.Err()
}

func (in UpdateInput) touchesUser() bool {
	return in.FullName != nil || in.Email != nil
}

// ListFilter matches case-insensitive substrings.
type ListFilter struct {
	Specialty string
	Location  string
}
