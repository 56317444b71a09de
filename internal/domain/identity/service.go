package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/auth"
)

const auditEntity = "User"

type Service struct {
	users UserRepository
	sink  audit.Sink
	cost  int

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Service)

// WithHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(users UserRepository, sink audit.Sink, opts ...Option) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	s := &Service{users: users, sink: sink, cost: auth.PasswordCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an active account. Anyone may register a patient;
// privileged roles need an admin caller, and superadmins a superadmin.
func (s *Service) Register(ctx context.Context, actor *auth.Identity, in RegisterInput) (*User, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Role != auth.RolePatient {
		if actor == nil || !actor.IsAdmin() {
			return nil, apperr.Forbidden("Only administrators can register privileged accounts")
		}
		if in.Role == auth.RoleSuperadmin && actor.Role != auth.RoleSuperadmin {
			return nil, apperr.Forbidden("Only a superadmin can create superadmin accounts")
		}
	}

	switch _, err := s.users.GetByEmail(ctx, in.Email); {
	case err == nil:
		return nil, apperr.Conflict("Email already registered")
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	hash, err := auth.HashPasswordCost(in.Password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         in.Role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict("Email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	actorID := &u.ID
	if actor != nil {
		actorID = &actor.ID
	}
	s.sink.Record(audit.New(ctx, actorID, auditEntity, u.ID.String(), audit.ActionCreate, nil, u.snapshot()))
	return u, nil
}

// Authenticate checks a password login. Every failure is reported as
// apperr.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			auth.VerifyPassword(s.dummy(), password)
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	if !auth.VerifyPassword(u.PasswordHash, password) || !u.IsActive {
		return nil, apperr.ErrInvalidCredentials
	}

	s.sink.Record(audit.New(ctx, &u.ID, auditEntity, u.ID.String(), audit.ActionLogin, nil, nil))
	return u, nil
}

// dummy returns a hash at the service's cost so unknown emails take as long
// to reject as wrong passwords.
func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = auth.HashPasswordCost("pws-dummy-password", s.cost)
	})
	return s.dummyHash
}

// Logout records the logout of actor. Anonymous logouts are not recorded.
func (s *Service) Logout(ctx context.Context, actor *auth.Identity) {
	if actor == nil {
		return
	}
	s.sink.Record(audit.New(ctx, &actor.ID, auditEntity, actor.ID.String(), audit.ActionLogout, nil, nil))
}

// LoadIdentity implements auth.IdentityLoader.
func (s *Service) LoadIdentity(ctx context.Context, id uuid.UUID) (auth.Identity, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return auth.Identity{}, apperr.ErrUnauthenticated
		}
		return auth.Identity{}, err
	}
	if !u.IsActive {
		return auth.Identity{}, apperr.ErrUnauthenticated
	}
	return u.Identity(), nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	return s.users.List(ctx, f, limit, offset)
}

// SetActive activates or deactivates an account. Users are never deleted.
func (s *Service) SetActive(ctx context.Context, actor auth.Identity, id uuid.UUID, active bool) (*User, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	if actor.ID == id && !active {
		return nil, apperr.Forbidden("You cannot deactivate your own account")
	}

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role == auth.RoleSuperadmin && actor.Role != auth.RoleSuperadmin {
		return nil, apperr.Forbidden("Only a superadmin can change a superadmin account")
	}
	if u.IsActive == active {
		return u, nil
	}

	before := u.snapshot()
	if err := s.users.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	u.IsActive = active
	s.sink.Record(audit.New(ctx, &actor.ID, auditEntity, id.String(), audit.ActionUpdate, before, u.snapshot()))
	return u, nil
}
