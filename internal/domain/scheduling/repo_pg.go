package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pws/pws/internal/platform/db"
)

// whereBuilder accumulates positional conditions.
type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// -- Schedule Repository --

type scheduleRepoPG struct {
	pool *pgxpool.Pool
}

func NewScheduleRepo(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

func (r *scheduleRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const scheduleCols = `id, doctor_id, date, start_time, end_time, created_at, updated_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var date time.Time
	if err := row.Scan(&s.ID, &s.DoctorID, &date, &s.StartTime, &s.EndTime, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Date = date.Format(dateLayout)
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedules (doctor_id, date, start_time, end_time)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		s.DoctorID, parseDate(s.Date), s.StartTime, s.EndTime,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return db.MapError(err, "Schedule")
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "Schedule")
	}
	return s, nil
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *Schedule) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE schedules SET date = $2, start_time = $3, end_time = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, parseDate(s.Date), s.StartTime, s.EndTime,
	).Scan(&s.UpdatedAt)
	return db.MapError(err, "Schedule")
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err, "Schedule")
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows, "Schedule")
	}
	return nil
}

func (r *scheduleRepoPG) List(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	var w whereBuilder
	if f.DoctorID != nil {
		w.add("doctor_id = $%d", *f.DoctorID)
	}
	if f.StartDate != "" {
		w.add("date >= $%d", parseDate(f.StartDate))
	}
	if f.EndDate != "" {
		w.add("date <= $%d", parseDate(f.EndDate))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedules`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM schedules%s ORDER BY date ASC, start_time ASC LIMIT $%d OFFSET $%d`,
		scheduleCols, w.sql(), len(w.args)+1, len(w.args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// -- Appointment Repository --

type appointmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAppointmentRepo(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const appointmentCols = `id, patient_id, doctor_id, date, start_time, end_time, status, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var status string
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &a.StartTime, &a.EndTime,
		&status, &a.Notes, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Date = date.Format(dateLayout)
	a.Status = Status(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, date, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		a.PatientID, a.DoctorID, parseDate(a.Date), a.StartTime, a.EndTime, string(a.Status), a.Notes,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return db.MapError(err, "Appointment")
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapError(err, "Appointment")
	}
	return a, nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointments SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, string(a.Status),
	).Scan(&a.UpdatedAt)
	return db.MapError(err, "Appointment")
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	var w whereBuilder
	if f.DoctorID != nil {
		w.add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		w.add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	if f.From != "" {
		w.add("date >= $%d", parseDate(f.From))
	}
	if f.To != "" {
		w.add("date <= $%d", parseDate(f.To))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM appointments%s ORDER BY date ASC, start_time ASC LIMIT $%d OFFSET $%d`,
		appointmentCols, w.sql(), len(w.args)+1, len(w.args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(w.args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}
