package doctor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pws/pws/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const doctorCols = `d.id, d.user_id, d.specialty, d.location, d.bio, d.profile_picture,
	d.created_at, d.updated_at, u.email, u.full_name, u.is_active`

const doctorFrom = ` FROM doctors d JOIN users u ON u.id = d.user_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	u := &UserSummary{}
	if err := row.Scan(&d.ID, &d.UserID, &d.Specialty, &d.Location, &d.Bio, &d.ProfilePicture,
		&d.CreatedAt, &d.UpdatedAt, &u.Email, &u.FullName, &u.IsActive); err != nil {
		return nil, err
	}
	u.ID = d.UserID
	d.User = u
	return &d, nil
}

func (r *repoPG) Create(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (user_id, specialty, location, bio, profile_picture)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		d.UserID, d.Specialty, d.Location, d.Bio, d.ProfilePicture,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return db.MapError(err, "Doctor")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+doctorFrom+` WHERE d.id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "Doctor")
	}
	return d, nil
}

func (r *repoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET specialty = $2, location = $3, bio = $4, profile_picture = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.Specialty, d.Location, d.Bio, d.ProfilePicture,
	).Scan(&d.UpdatedAt)
	return db.MapError(err, "Doctor")
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "Doctor")
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, "Doctor")
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Doctor, int, error) {
	var conds []string
	var args []any
	if s := strings.TrimSpace(f.Specialty); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("d.specialty ILIKE $%d", len(args)))
	}
	if s := strings.TrimSpace(f.Location); s != "" {
		args = append(args, "%"+s+"%")
		conds = append(conds, fmt.Sprintf("d.location ILIKE $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors d`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s%s%s ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d`,
		doctorCols, doctorFrom, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var out []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}
