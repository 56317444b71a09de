package medical

import (
	"context"

	"github.com/google/uuid"
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

func (r *repoPG) Upsert(ctx context.Context, rec *Record) (bool, error) {
	if rec.Attachments == nil {
		rec.Attachments = []string{}
	}
	var inserted bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_records (appointment_id, patient_id, doctor_id, diagnosis, prescription, notes, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (appointment_id) DO UPDATE SET
			diagnosis = EXCLUDED.diagnosis,
			prescription = EXCLUDED.prescription,
			notes = EXCLUDED.notes,
			attachments = EXCLUDED.attachments,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0)`,
		rec.AppointmentID, rec.PatientID, rec.DoctorID, rec.Diagnosis, rec.Prescription, rec.Notes, rec.Attachments,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &inserted)
	if err != nil {
		return false, db.MapError(err, "Medical record")
	}
	return inserted, nil
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, appointment_id, patient_id, doctor_id, diagnosis, prescription, notes, attachments,
			created_at, updated_at
		FROM medical_records WHERE appointment_id = $1`, appointmentID,
	).Scan(&rec.ID, &rec.AppointmentID, &rec.PatientID, &rec.DoctorID, &rec.Diagnosis, &rec.Prescription,
		&rec.Notes, &rec.Attachments, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err, "Medical record")
	}
	return &rec, nil
}
