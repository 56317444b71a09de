package medical

import (
	"context"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/domain/scheduling"
)

type Repository interface {
	// Upsert inserts or replaces the record keyed by AppointmentID and
	// reports whether a new row was created.
	Upsert(ctx context.Context, r *Record) (bool, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Record, error)
}

// AppointmentLookup is the part of the appointment store records need.
type AppointmentLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}
