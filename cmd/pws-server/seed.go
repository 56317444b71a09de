package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pws/pws/internal/domain/doctor"
	"github.com/pws/pws/internal/domain/identity"
	"github.com/pws/pws/internal/domain/scheduling"
	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/auth"
	"github.com/pws/pws/internal/platform/db"
	"github.com/pws/pws/internal/platform/events"
)

const (
	seedPassword     = "P@ssw0rd!"
	seedScheduleDays = 5
)

var seedUsers = []identity.RegisterInput{
	{Email: "superadmin@pws.local", FullName: "Super Admin", Password: seedPassword, Role: auth.RoleSuperadmin},
	{Email: "admin@pws.local", FullName: "Clinic Admin", Password: seedPassword, Role: auth.RoleAdmin},
	{Email: "patient@pws.local", FullName: "Pat Patient", Password: seedPassword, Role: auth.RolePatient},
}

var seedDoctors = []doctor.CreateInput{
	{Email: "house@pws.local", FullName: "Gregory House", Password: seedPassword, Specialty: "Diagnostics", Location: "Princeton"},
	{Email: "grey@pws.local", FullName: "Meredith Grey", Password: seedPassword, Specialty: "General Surgery", Location: "Seattle"},
	{Email: "strange@pws.local", FullName: "Stephen Strange", Password: seedPassword, Specialty: "Neurosurgery", Location: "New York"},
}

// seedDates returns the next n calendar days after from.
func seedDates(from time.Time, n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, from.AddDate(0, 0, i).Format(time.DateOnly))
	}
	return out
}

// runSeed creates demo data. Accounts that already exist are skipped, so
// the command is safe to run twice.
func runSeed(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) error {
	sink := audit.NewMemory()
	users := identity.NewUserRepo(pool)
	identitySvc := identity.NewService(users, sink)
	doctorSvc := doctor.NewService(doctor.NewRepo(pool), users, db.NewTransactor(pool), sink, doctor.Config{})
	schedulingSvc := scheduling.NewService(scheduling.NewScheduleRepo(pool), scheduling.NewAppointmentRepo(pool),
		sink, events.Nop{}, scheduling.Config{}, logger)

	// The seed runs as a synthetic superadmin so privileged accounts can be created.
	actor := auth.Identity{ID: uuid.Nil, FullName: "seed", Role: auth.RoleSuperadmin}

	for _, in := range seedUsers {
		u, err := identitySvc.Register(ctx, &actor, in)
		switch {
		case errors.Is(err, apperr.ErrConflict):
			logger.Info().Str("email", in.Email).Msg("user exists, skipped")
		case err != nil:
			return fmt.Errorf("seed user %s: %w", in.Email, err)
		default:
			logger.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("user created")
		}
	}

	dates := seedDates(time.Now(), seedScheduleDays)
	for _, in := range seedDoctors {
		d, err := doctorSvc.Create(ctx, actor, in)
		if errors.Is(err, apperr.ErrConflict) {
			logger.Info().Str("email", in.Email).Msg("doctor exists, skipped")
			continue
		}
		if err != nil {
			return fmt.Errorf("seed doctor %s: %w", in.Email, err)
		}
		for _, date := range dates {
			_, err := schedulingSvc.CreateSchedule(ctx, actor, scheduling.ScheduleInput{
				DoctorID:  &d.ID,
				Date:      date,
				StartTime: "09:00",
				EndTime:   "12:00",
			})
			if err != nil {
				return fmt.Errorf("seed schedule for %s: %w", in.Email, err)
			}
		}
		logger.Info().Str("email", in.Email).Str("specialty", d.Specialty).Int("schedules", len(dates)).Msg("doctor created")
	}

	logger.Info().Int("audit_entries", len(sink.Entries())).Str("password", seedPassword).Msg("seed complete")
	return nil
}
