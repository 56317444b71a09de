package doctor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/domain/identity"
	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/db"
)

const auditEntity = "Doctor"

// Config carries the feature flags that affect doctor writes.
type Config struct {
	AllowDoctorProfileUpdate bool
	HashCost                 int
}

type Service struct {
	doctors Repository
	users   identity.UserRepository
	tx      db.Transactor
	sink    audit.Sink
	cfg     Config
}

func NewService(doctors Repository, users identity.UserRepository, tx db.Transactor, sink audit.Sink, cfg Config) *Service {
	if tx == nil {
		tx = db.NoopTransactor{}
	}
	if sink == nil {
		sink = audit.Nop{}
	}
	if cfg.HashCost == 0 {
		cfg.HashCost = auth.PasswordCost
	}
	return &Service{doctors: doctors, users: users, tx: tx, sink: sink, cfg: cfg}
}

// Create registers a doctor account and its profile in one transaction.
func (s *Service) Create(ctx context.Context, actor auth.Identity, in CreateInput) (*Doctor, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPasswordCost(in.Password, s.cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var d *Doctor
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		u := &identity.User{
			Email:        in.Email,
			FullName:     in.FullName,
			PasswordHash: hash,
			Role:         auth.RoleDoctor,
			IsActive:     true,
		}
		if err := s.users.Create(ctx, u); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return apperr.Conflict("Email already registered")
			}
			return fmt.Errorf("create doctor user: %w", err)
		}
		d = &Doctor{
			UserID:         u.ID,
			Specialty:      in.Specialty,
			Location:       in.Location,
			Bio:            in.Bio,
			ProfilePicture: in.ProfilePicture,
		}
		if err := s.doctors.Create(ctx, d); err != nil {
			return fmt.Errorf("create doctor: %w", err)
		}
		d.User = &UserSummary{ID: u.ID, Email: u.Email, FullName: u.FullName, IsActive: u.IsActive}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(audit.New(ctx, &actor.ID, auditEntity, d.ID.String(), audit.ActionCreate, nil, d))
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, f, limit, offset)
}

// Update applies a partial update to the profile and the linked account.
// Doctors may only edit their own profile, and only while the feature is
// enabled.
func (s *Service) Update(ctx context.Context, actor auth.Identity, id uuid.UUID, in UpdateInput) (*Doctor, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canUpdate(actor, d); err != nil {
		return nil, err
	}
	before := d.clone()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if in.touchesUser() {
			u, err := s.users.GetByID(ctx, d.UserID)
			if err != nil {
				return err
			}
			if in.FullName != nil {
				u.FullName = *in.FullName
			}
			if in.Email != nil {
				u.Email = *in.Email
			}
			if err := s.users.UpdateProfile(ctx, u); err != nil {
				if errors.Is(err, apperr.ErrConflict) {
					return apperr.Conflict("Email already registered")
				}
				return fmt.Errorf("update doctor user: %w", err)
			}
			d.User = &UserSummary{ID: u.ID, Email: u.Email, FullName: u.FullName, IsActive: u.IsActive}
		}

		if in.Specialty != nil {
			d.Specialty = *in.Specialty
		}
		if in.Location != nil {
			d.Location = *in.Location
		}
		if in.Bio != nil {
			d.Bio = in.Bio
		}
		if in.ProfilePicture != nil {
			d.ProfilePicture = in.ProfilePicture
		}
		return s.doctors.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}

	s.sink.Record(audit.New(ctx, &actor.ID, auditEntity, d.ID.String(), audit.ActionUpdate, before, d))
	return d, nil
}

func (s *Service) canUpdate(actor auth.Identity, d *Doctor) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role != auth.RoleDoctor {
		return apperr.ErrForbidden
	}
	if !s.cfg.AllowDoctorProfileUpdate {
		return apperr.Forbidden("Doctor profile editing is disabled")
	}
	if d.UserID != actor.ID {
		return apperr.Forbidden("You can only edit your own profile")
	}
	return nil
}

// Delete removes the profile and deactivates the account. Doctors with
// appointments cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor auth.Identity, id uuid.UUID) error {
	if !actor.IsAdmin() {
		return apperr.ErrForbidden
	}
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Delete(ctx, id); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				return apperr.Conflict("Doctor has existing appointments")
			}
			return err
		}
		return s.users.SetActive(ctx, d.UserID, false)
	})
	if err != nil {
		return err
	}

	s.sink.Record(audit.New(ctx, &actor.ID, auditEntity, id.String(), audit.ActionDelete, d, nil))
	return nil
}
