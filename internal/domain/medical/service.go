package medical

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/domain/scheduling"
	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/events"
)

const auditEntity = "MedicalRecord"

type Config struct {
	AllowAdminMedicalRecordWrite bool
}

type Service struct {
	records      Repository
	appointments AppointmentLookup
	sink         audit.Sink
	pub          events.Publisher
	cfg          Config
	logger       zerolog.Logger
}

func NewService(records Repository, appointments AppointmentLookup, sink audit.Sink, pub events.Publisher, cfg Config, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{records: records, appointments: appointments, sink: sink, pub: pub, cfg: cfg, logger: logger}
}

// Upsert writes the record for an appointment. The treating doctor may
// always write; admins only when the feature is enabled.
func (s *Service) Upsert(ctx context.Context, actor auth.Identity, in UpsertInput) (*Record, bool, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, false, err
	}

	switch {
	case actor.IsAdmin():
		if !s.cfg.AllowAdminMedicalRecordWrite {
			return nil, false, apperr.Forbidden("Admin write disabled for medical records")
		}
	case actor.Role == auth.RoleDoctor:
	default:
		return nil, false, apperr.ErrForbidden
	}

	appt, err := s.appointments.GetByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, false, err
	}
	if !actor.IsAdmin() && !actor.OwnsDoctor(appt.DoctorID) {
		return nil, false, apperr.Forbidden("You can only write records for your own appointments")
	}

	before, err := s.records.GetByAppointment(ctx, appt.ID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, fmt.Errorf("load medical record: %w", err)
	}

	rec := &Record{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		Diagnosis:     in.Diagnosis,
		Prescription:  in.Prescription,
		Notes:         in.Notes,
		Attachments:   in.Attachments,
	}
	created, err := s.records.Upsert(ctx, rec)
	if err != nil {
		return nil, false, err
	}

	action := audit.ActionUpdate
	var beforeSnap any
	if created {
		action = audit.ActionCreate
	} else if before != nil {
		beforeSnap = before
	}
	s.sink.Record(audit.New(ctx, &actor.ID, auditEntity, rec.ID.String(), action, beforeSnap, rec))

	ev := events.New(events.MedicalRecordSaved, events.UserTopic(rec.PatientID), auditEntity, rec.ID.String(),
		map[string]any{"id": rec.ID, "appointmentId": rec.AppointmentID})
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", ev.Type).Str("topic", ev.Topic).Msg("publish event")
	}
	return rec, created, nil
}

// GetByAppointment returns the record to the patient, the treating doctor or
// an admin. Anyone else sees not-found.
func (s *Service) GetByAppointment(ctx context.Context, actor auth.Identity, appointmentID uuid.UUID) (*Record, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotFound("Medical record")
		}
		return nil, err
	}
	if !scheduling.CanViewAppointment(actor, appt) {
		return nil, apperr.NotFound("Medical record")
	}
	return s.records.GetByAppointment(ctx, appointmentID)
}
