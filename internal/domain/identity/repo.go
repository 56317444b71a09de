package identity

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository is the credential store. Emails are stored normalised.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// UpdateProfile writes email and full name only, then refreshes role and
	// is_active on u from the stored row.
	UpdateProfile(ctx context.Context, u *User) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error)
}
