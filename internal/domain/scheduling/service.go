package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/events"
)

const (
	scheduleEntity    = "Schedule"
	appointmentEntity = "Appointment"
)

type Config struct {
	AllowDoctorAppointmentStatusUpdate bool
}

type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	sink         audit.Sink
	pub          events.Publisher
	cfg          Config
	logger       zerolog.Logger
}

func NewService(sched ScheduleRepository, appt AppointmentRepository, sink audit.Sink, pub events.Publisher, cfg Config, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = audit.Nop{}
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{schedules: sched, appointments: appt, sink: sink, pub: pub, cfg: cfg, logger: logger}
}

// publish delivers events best-effort. Failures are logged and never
// reach the caller.
func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		if err := s.pub.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("type", ev.Type).Str("topic", ev.Topic).Msg("publish event")
		}
	}
}

// -- Schedule --

func (s *Service) ListSchedules(ctx context.Context, f ScheduleFilter, limit, offset int) ([]*Schedule, int, error) {
	var v apperr.Validation
	validateDateRange(&v, "startDate", f.StartDate, "endDate", f.EndDate)
	if err := v.Err(); err != nil {
		return nil, 0, err
	}
	return s.schedules.List(ctx, f, limit, offset)
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	return s.schedules.GetByID(ctx, id)
}

// CreateSchedule creates a schedule. Doctors may only create schedules for
// their own profile.
func (s *Service) CreateSchedule(ctx context.Context, actor auth.Identity, in ScheduleInput) (*Schedule, error) {
	sched := &Schedule{
		Date:      strings.TrimSpace(in.Date),
		StartTime: strings.TrimSpace(in.StartTime),
		EndTime:   strings.TrimSpace(in.EndTime),
	}

	switch {
	case actor.IsAdmin():
		if in.DoctorID == nil {
			return nil, apperr.Invalid("doctorId", "is required")
		}
		sched.DoctorID = *in.DoctorID
	case actor.Role == auth.RoleDoctor && actor.DoctorID != nil:
		if in.DoctorID != nil && *in.DoctorID != *actor.DoctorID {
			return nil, apperr.Forbidden("Doctors may only create schedules for themselves")
		}
		sched.DoctorID = *actor.DoctorID
	default:
		return nil, apperr.ErrForbidden
	}

	var v apperr.Validation
	validateSlot(&v, sched.Date, sched.StartTime, sched.EndTime)
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.schedules.Create(ctx, sched); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Invalid("doctorId", "does not reference a doctor")
		}
		return nil, fmt.Errorf("create schedule: %w", err)
	}

	s.sink.Record(audit.New(ctx, &actor.ID, scheduleEntity, sched.ID.String(), audit.ActionCreate, nil, sched))
	s.publish(ctx, events.New(events.ScheduleChanged, events.DoctorTopic(sched.DoctorID), scheduleEntity, sched.ID.String(), sched))
	return sched, nil
}

func (s *Service) UpdateSchedule(ctx context.Context, actor auth.Identity, id uuid.UUID, in ScheduleUpdate) (*Schedule, error) {
	sched, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageSchedule(actor, sched) {
		return nil, apperr.Forbidden("You can only edit your own schedules")
	}

	before := *sched
	in.apply(sched)
	var v apperr.Validation
	validateSlot(&v, sched.Date, sched.StartTime, sched.EndTime)
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.schedules.Update(ctx, sched); err != nil {
		return nil, err
	}

	s.sink.Record(audit.New(ctx, &actor.ID, scheduleEntity, id.String(), audit.ActionUpdate, &before, sched))
	s.publish(ctx, events.New(events.ScheduleChanged, events.DoctorTopic(sched.DoctorID), scheduleEntity, id.String(), sched))
	return sched, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, actor auth.Identity, id uuid.UUID) error {
	sched, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !canManageSchedule(actor, sched) {
		return apperr.Forbidden("You can only delete your own schedules")
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return err
	}

	s.sink.Record(audit.New(ctx, &actor.ID, scheduleEntity, id.String(), audit.ActionDelete, sched, nil))
	s.publish(ctx, events.New(events.ScheduleChanged, events.DoctorTopic(sched.DoctorID), scheduleEntity, id.String(),
		map[string]any{"id": id, "deleted": true}))
	return nil
}

func canManageSchedule(actor auth.Identity, sched *Schedule) bool {
	return actor.IsAdmin() || actor.OwnsDoctor(sched.DoctorID)
}

// -- Appointment --

// ListAppointments scopes the filter to the caller: patients see their own
// appointments, doctors the appointments booked with them.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Identity, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	var v apperr.Validation
	if f.Status != "" {
		v.Check(f.Status.Valid(), "status", "must be one of pending, confirmed, completed, cancelled")
	}
	validateDateRange(&v, "from", f.From, "to", f.To)
	if err := v.Err(); err != nil {
		return nil, 0, err
	}

	switch {
	case actor.IsAdmin():
	case actor.Role == auth.RoleDoctor:
		if actor.DoctorID == nil {
			return nil, 0, nil
		}
		f.DoctorID = actor.DoctorID
	case actor.Role == auth.RolePatient:
		f.PatientID = &actor.ID
	default:
		return nil, 0, apperr.ErrForbidden
	}
	return s.appointments.List(ctx, f, limit, offset)
}

// GetAppointment returns the appointment if the caller may see it. Others
// get not-found so ids cannot be probed.
func (s *Service) GetAppointment(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanViewAppointment(actor, a) {
		return nil, apperr.NotFound(appointmentEntity)
	}
	return a, nil
}

// CanViewAppointment reports whether actor is an admin or a party to a.
func CanViewAppointment(actor auth.Identity, a *Appointment) bool {
	return actor.IsAdmin() || actor.ID == a.PatientID || actor.OwnsDoctor(a.DoctorID)
}

// CreateAppointment books a pending appointment. Patients always book for
// themselves; other roles name the patient.
func (s *Service) CreateAppointment(ctx context.Context, actor auth.Identity, in AppointmentInput) (*Appointment, error) {
	a := &Appointment{
		DoctorID:  in.DoctorID,
		Date:      strings.TrimSpace(in.Date),
		StartTime: strings.TrimSpace(in.StartTime),
		EndTime:   strings.TrimSpace(in.EndTime),
		Status:    StatusPending,
		Notes:     in.Notes,
	}

	var v apperr.Validation
	if actor.Role == auth.RolePatient {
		a.PatientID = actor.ID
	} else if in.PatientID != nil {
		a.PatientID = *in.PatientID
	} else {
		v.Add("patientId", "is required")
	}
	v.Check(in.DoctorID != uuid.Nil, "doctorId", "is required")
	validateSlot(&v, a.Date, a.StartTime, a.EndTime)
	if err := v.Err(); err != nil {
		return nil, err
	}

	if err := s.appointments.Create(ctx, a); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Invalid("doctorId", "patient or doctor does not exist")
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.sink.Record(audit.New(ctx, &actor.ID, appointmentEntity, a.ID.String(), audit.ActionCreate, nil, a))
	s.publish(ctx,
		events.New(events.AppointmentCreated, events.UserTopic(a.PatientID), appointmentEntity, a.ID.String(), a),
		events.New(events.AppointmentCreated, events.DoctorTopic(a.DoctorID), appointmentEntity, a.ID.String(), a),
	)
	return a, nil
}

// UpdateStatus changes an appointment's status. Doctors may only update their
// own appointments, and only while the feature is enabled.
func (s *Service) UpdateStatus(ctx context.Context, actor auth.Identity, id uuid.UUID, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, apperr.Invalid("status", "must be one of pending, confirmed, completed, cancelled")
	}

	switch {
	case actor.IsAdmin():
	case actor.Role == auth.RoleDoctor:
		if !s.cfg.AllowDoctorAppointmentStatusUpdate {
			return nil, apperr.Forbidden("Doctor status updates disabled")
		}
	default:
		return nil, apperr.ErrForbidden
	}

	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !actor.OwnsDoctor(a.DoctorID) {
		return nil, apperr.Forbidden("You can only update your own appointments")
	}

	before := *a
	a.Status = status
	if err := s.appointments.UpdateStatus(ctx, a); err != nil {
		return nil, err
	}

	s.sink.Record(audit.New(ctx, &actor.ID, appointmentEntity, id.String(), audit.ActionUpdate, &before, a))
	data := map[string]any{"id": a.ID, "from": before.Status, "status": a.Status}
	s.publish(ctx,
		events.New(events.AppointmentStatusChanged, events.UserTopic(a.PatientID), appointmentEntity, id.String(), data),
		events.New(events.AppointmentStatusChanged, events.DoctorTopic(a.DoctorID), appointmentEntity, id.String(), data),
	)
	return a, nil
}
