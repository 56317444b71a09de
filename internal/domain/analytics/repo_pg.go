package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

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

// where renders the filter against the appointments alias a.
func where(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if from, err := parseDate(f.From); err == nil && !from.IsZero() {
		add("a.date >= $%d", from)
	}
	if to, err := parseDate(f.To); err == nil && !to.IsZero() {
		add("a.date <= $%d", to)
	}
	if f.Status != "" {
		add("a.status = $%d", f.Status)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) VisitsByDay(ctx context.Context, f Filter) ([]DayCount, error) {
	clause, args := where(f)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.date, COUNT(*) FROM appointments a`+clause+`
		GROUP BY a.date ORDER BY a.date`, args...)
	if err != nil {
		return nil, fmt.Errorf("visits by day: %w", err)
	}
	defer rows.Close()

	out := []DayCount{}
	for rows.Next() {
		var day time.Time
		var dc DayCount
		if err := rows.Scan(&day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan visits by day: %w", err)
		}
		dc.Date = day.Format(time.DateOnly)
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (r *repoPG) VisitsByDoctor(ctx context.Context, f Filter) ([]DoctorCount, error) {
	clause, args := where(f)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, u.full_name, d.specialty, COUNT(*)
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		JOIN users u ON u.id = d.user_id`+clause+`
		GROUP BY d.id, u.full_name, d.specialty
		ORDER BY COUNT(*) DESC, u.full_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("visits by doctor: %w", err)
	}
	defer rows.Close()

	out := []DoctorCount{}
	for rows.Next() {
		var dc DoctorCount
		if err := rows.Scan(&dc.DoctorID, &dc.FullName, &dc.Specialty, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan visits by doctor: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (r *repoPG) VisitsBySpecialty(ctx context.Context, f Filter) (map[string]int, error) {
	clause, args := where(f)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.specialty, COUNT(*)
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id`+clause+`
		GROUP BY d.specialty`, args...)
	if err != nil {
		return nil, fmt.Errorf("visits by specialty: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var specialty string
		var n int
		if err := rows.Scan(&specialty, &n); err != nil {
			return nil, fmt.Errorf("scan visits by specialty: %w", err)
		}
		out[specialty] = n
	}
	return out, rows.Err()
}
