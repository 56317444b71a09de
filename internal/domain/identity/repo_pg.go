package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/db"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `u.id, u.email, u.full_name, u.password_hash, u.role, u.is_active,
	d.id, u.created_at, u.updated_at`

const userFrom = ` FROM users u LEFT JOIN doctors d ON d.user_id = u.id`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &role, &u.IsActive,
		&u.DoctorID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		u.Email, u.FullName, u.PasswordHash, string(u.Role), u.IsActive,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	return db.MapError(err, "User")
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+userFrom+` WHERE u.id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "User")
	}
	return u, nil
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+userFrom+` WHERE LOWER(u.email) = $1`, NormalizeEmail(email)))
	if err != nil {
		return nil, db.MapError(err, "User")
	}
	return u, nil
}

func (r *userRepoPG) UpdateProfile(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	var role string
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET email = $2, full_name = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING role, is_active, updated_at`,
		u.ID, u.Email, u.FullName,
	).Scan(&role, &u.IsActive, &u.UpdatedAt)
	if err != nil {
		return db.MapError(err, "User")
	}
	u.Role = auth.Role(role)
	return nil
}

func (r *userRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, "User")
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, f UserFilter, limit, offset int) ([]*User, int, error) {
	var conds []string
	var args []any
	if f.Role != "" {
		args = append(args, string(f.Role))
		conds = append(conds, fmt.Sprintf("u.role = $%d", len(args)))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		conds = append(conds, fmt.Sprintf("u.is_active = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+q+"%")
		conds = append(conds, fmt.Sprintf("(u.email ILIKE $%d OR u.full_name ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users u`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY u.created_at DESC LIMIT $%d OFFSET $%d`,
		userCols, userFrom, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}
