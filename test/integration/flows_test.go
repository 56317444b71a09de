//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pws/pws/internal/domain/analytics"
	"github.com/pws/pws/internal/domain/doctor"
	"github.com/pws/pws/internal/domain/identity"
	"github.com/pws/pws/internal/domain/medical"
	"github.com/pws/pws/internal/domain/scheduling"
	"github.com/pws/pws/internal/platform/apperr"
	"github.com/pws/pws/internal/platform/audit"
	"github.com/pws/pws/internal/platform/db"
	"github.com/pws/pws/internal/platform/middleware"
)

func strptr(s string) *string { return &s }

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigrator(globalPool, migrationsDir())

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, applied %d", n)
	}
	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d not applied", s.Version)
		}
	}
}

func TestIdentity_RegisterLoginDeactivate(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	patient := s.newPatient(t, "alice@example.com")

	_, err := s.identity.Register(ctx, nil, identity.RegisterInput{
		Email: "ALICE@example.com", FullName: "Alice Again", Password: "P@ssw0rd!",
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for duplicate email, got %v", err)
	}

	u, err := s.identity.Authenticate(ctx, "Alice@Example.com", "P@ssw0rd!")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if u.ID != patient.ID {
		t.Errorf("authenticated %s, want %s", u.ID, patient.ID)
	}
	if _, err := s.identity.Authenticate(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Errorf("expected invalid credentials, got %v", err)
	}

	if _, err := s.identity.SetActive(ctx, adminActor(), patient.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := s.identity.LoadIdentity(ctx, patient.ID); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected inactive user to lose session, got %v", err)
	}

	active := false
	users, total, err := s.identity.ListUsers(ctx, identity.UserFilter{Active: &active}, 10, 0)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if total != 1 || len(users) != 1 || users[0].ID != patient.ID {
		t.Errorf("unexpected inactive users %d %+v", total, users)
	}
}

func TestDoctor_Lifecycle(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	d, docID := s.newDoctor(t, "house@example.com", "Diagnostics")
	s.newDoctor(t, "grey@example.com", "General Surgery")

	if docID.DoctorID == nil || *docID.DoctorID != d.ID {
		t.Fatalf("expected identity to carry doctor id %s, got %v", d.ID, docID.DoctorID)
	}

	list, total, err := s.doctors.List(ctx, doctor.ListFilter{Specialty: "diag"}, 10, 0)
	if err != nil {
		t.Fatalf("list doctors: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].ID != d.ID || list[0].User == nil {
		t.Fatalf("unexpected filtered doctors %d %+v", total, list)
	}

	updated, err := s.doctors.Update(ctx, docID, d.ID, doctor.UpdateInput{Bio: strptr("Nephrology too"), FullName: strptr("Greg House")})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if updated.Bio == nil || *updated.Bio != "Nephrology too" || updated.User.FullName != "Greg House" {
		t.Errorf("unexpected updated doctor %+v", updated)
	}

	// A profile with appointments cannot be removed.
	patient := s.newPatient(t, "pat@example.com")
	if _, err := s.scheduling.CreateAppointment(ctx, patient, scheduling.AppointmentInput{
		DoctorID: d.ID, Date: "2026-03-02", StartTime: "09:00", EndTime: "09:30",
	}); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if err := s.doctors.Delete(ctx, adminActor(), d.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict deleting doctor with appointments, got %v", err)
	}
	if _, err := s.doctors.Get(ctx, d.ID); err != nil {
		t.Errorf("doctor should survive the rolled back delete: %v", err)
	}

	// The transaction rolls back both writes on failure; a clean delete
	// deactivates the user.
	other, otherID := s.newDoctor(t, "strange@example.com", "Neurosurgery")
	if err := s.doctors.Delete(ctx, adminActor(), other.ID); err != nil {
		t.Fatalf("delete doctor: %v", err)
	}
	if _, err := s.doctors.Get(ctx, other.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected deleted doctor to be gone, got %v", err)
	}
	if _, err := s.identity.LoadIdentity(ctx, otherID.ID); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected doctor user to be deactivated, got %v", err)
	}
}

func TestScheduling_SchedulesAndAppointments(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	d, docID := s.newDoctor(t, "house@example.com", "Diagnostics")
	patient := s.newPatient(t, "pat@example.com")
	other := s.newPatient(t, "other@example.com")

	for _, date := range []string{"2026-03-01", "2026-03-02", "2026-03-05"} {
		if _, err := s.scheduling.CreateSchedule(ctx, docID, scheduling.ScheduleInput{
			Date: date, StartTime: "09:00", EndTime: "12:00",
		}); err != nil {
			t.Fatalf("create schedule %s: %v", date, err)
		}
	}
	schedules, total, err := s.scheduling.ListSchedules(ctx, scheduling.ScheduleFilter{
		DoctorID: &d.ID, StartDate: "2026-03-02", EndDate: "2026-03-31",
	}, 10, 0)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if total != 2 || schedules[0].Date != "2026-03-02" || schedules[1].Date != "2026-03-05" {
		t.Errorf("unexpected schedules %d %+v", total, schedules)
	}

	missing := uuid.New()
	_, err = s.scheduling.CreateSchedule(ctx, adminActor(), scheduling.ScheduleInput{
		DoctorID: &missing, Date: "2026-03-01", StartTime: "09:00", EndTime: "10:00",
	})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Fields["doctorId"] == "" {
		t.Errorf("expected doctorId validation error, got %v", err)
	}

	appt, err := s.scheduling.CreateAppointment(ctx, patient, scheduling.AppointmentInput{
		DoctorID: d.ID, Date: "2026-03-02", StartTime: "09:00", EndTime: "09:30", Notes: strptr("cough"),
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	if appt.Status != scheduling.StatusPending || appt.PatientID != patient.ID {
		t.Errorf("unexpected appointment %+v", appt)
	}

	got, n, err := s.scheduling.ListAppointments(ctx, other, scheduling.AppointmentFilter{}, 10, 0)
	if err != nil || n != 0 || len(got) != 0 {
		t.Errorf("other patient should see nothing, got %d %v", n, err)
	}
	got, n, err = s.scheduling.ListAppointments(ctx, docID, scheduling.AppointmentFilter{From: "2026-03-01", To: "2026-03-02"}, 10, 0)
	if err != nil || n != 1 || got[0].ID != appt.ID {
		t.Errorf("doctor should see the booking, got %d %v", n, err)
	}

	confirmed, err := s.scheduling.UpdateStatus(ctx, docID, appt.ID, scheduling.StatusConfirmed)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	reloaded, err := s.scheduling.GetAppointment(ctx, patient, appt.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != scheduling.StatusConfirmed || !reloaded.UpdatedAt.Equal(confirmed.UpdatedAt) {
		t.Errorf("status not persisted: %+v", reloaded)
	}
	if len(s.events.Events()) != 4 {
		t.Errorf("expected 4 events, got %d", len(s.events.Events()))
	}
}

func TestMedical_UpsertKeyedByAppointment(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	d, docID := s.newDoctor(t, "house@example.com", "Diagnostics")
	patient := s.newPatient(t, "pat@example.com")
	appt, err := s.scheduling.CreateAppointment(ctx, patient, scheduling.AppointmentInput{
		DoctorID: d.ID, Date: "2026-03-02", StartTime: "09:00", EndTime: "09:30",
	})
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}

	first, created, err := s.medical.Upsert(ctx, docID, medical.UpsertInput{
		AppointmentID: appt.ID, Diagnosis: strptr("Lupus"), Attachments: []string{"mri.png"},
	})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	second, created, err := s.medical.Upsert(ctx, docID, medical.UpsertInput{
		AppointmentID: appt.ID, Diagnosis: strptr("Not lupus"),
	})
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the same record, got %s and %s", first.ID, second.ID)
	}

	rec, err := s.medical.GetByAppointment(ctx, patient, appt.ID)
	if err != nil {
		t.Fatalf("patient read: %v", err)
	}
	if rec.Diagnosis == nil || *rec.Diagnosis != "Not lupus" || len(rec.Attachments) != 0 {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.PatientID != patient.ID || rec.DoctorID != d.ID {
		t.Errorf("record parties not derived from appointment: %+v", rec)
	}

	if _, _, err := s.medical.Upsert(ctx, adminActor(), medical.UpsertInput{AppointmentID: appt.ID}); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected admin write to be disabled, got %v", err)
	}
}

func TestAnalytics_Visits(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	house, _ := s.newDoctor(t, "house@example.com", "Diagnostics")
	grey, _ := s.newDoctor(t, "grey@example.com", "Surgery")
	patient := s.newPatient(t, "pat@example.com")

	book := func(doctorID uuid.UUID, date string) {
		t.Helper()
		if _, err := s.scheduling.CreateAppointment(ctx, patient, scheduling.AppointmentInput{
			DoctorID: doctorID, Date: date, StartTime: "10:00", EndTime: "10:30",
		}); err != nil {
			t.Fatalf("book: %v", err)
		}
	}
	book(house.ID, "2026-03-01")
	book(house.ID, "2026-03-01")
	book(grey.ID, "2026-03-02")

	days, err := s.analytics.VisitsByDay(ctx, analytics.Filter{})
	if err != nil {
		t.Fatalf("visits by day: %v", err)
	}
	if len(days) != 2 || days[0] != (analytics.DayCount{Date: "2026-03-01", Count: 2}) {
		t.Errorf("unexpected days %+v", days)
	}

	byDoctor, err := s.analytics.VisitsByDoctor(ctx, analytics.Filter{})
	if err != nil {
		t.Fatalf("visits by doctor: %v", err)
	}
	if len(byDoctor) != 2 || byDoctor[0].DoctorID != house.ID || byDoctor[0].Count != 2 {
		t.Errorf("unexpected doctors %+v", byDoctor)
	}

	bySpecialty, err := s.analytics.VisitsBySpecialty(ctx, analytics.Filter{From: "2026-03-02"})
	if err != nil {
		t.Fatalf("visits by specialty: %v", err)
	}
	if len(bySpecialty) != 1 || bySpecialty["Surgery"] != 1 {
		t.Errorf("unexpected specialties %v", bySpecialty)
	}
}

func TestAudit_StoreListAndPurge(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	store := audit.NewStorePG(globalPool)

	actor := uuid.New()
	old := audit.New(ctx, &actor, "Doctor", uuid.NewString(), audit.ActionDelete, map[string]string{"specialty": "x"}, nil)
	old.CreatedAt = time.Now().Add(-100 * 24 * time.Hour)
	recent := audit.New(ctx, &actor, "Appointment", uuid.NewString(), audit.ActionCreate, nil, map[string]string{"status": "pending"})
	for _, e := range []audit.Entry{old, recent} {
		if err := store.Insert(ctx, e); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	logs, total, err := store.List(ctx, audit.Filter{Entity: "Appointment"}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(logs) != 1 || logs[0].Action != audit.ActionCreate || len(logs[0].After) == 0 {
		t.Errorf("unexpected logs %d %+v", total, logs)
	}

	n, err := store.PurgeOlderThan(ctx, time.Now().Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged entry, got %d", n)
	}
}

func TestUsers_UpdateProfileKeepsDeactivation(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	d, docID := s.newDoctor(t, "house@example.com", "Diagnostics")

	stale, err := s.users.GetByID(ctx, d.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if _, err := s.identity.SetActive(ctx, adminActor(), d.UserID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	stale.FullName = "Greg House"
	if err := s.users.UpdateProfile(ctx, stale); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if stale.IsActive {
		t.Error("expected UpdateProfile to report the stored inactive flag")
	}

	if _, err := s.doctors.Update(ctx, adminActor(), d.ID, doctor.UpdateInput{Location: strptr("Ward 2")}); err != nil {
		t.Fatalf("doctor update: %v", err)
	}
	u, err := s.users.GetByID(ctx, d.UserID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.IsActive || u.FullName != "Greg House" {
		t.Errorf("unexpected user after profile writes %+v", u)
	}
	if _, err := s.identity.LoadIdentity(ctx, docID.ID); !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Errorf("expected deactivated doctor to stay locked out, got %v", err)
	}
}

func TestAudit_OversizedRequestMetadataStillStored(t *testing.T) {
	resetDB(t)
	store := audit.NewStorePG(globalPool)

	e := echo.New()
	e.IPExtractor = echo.ExtractIPDirect()
	e.Use(middleware.RequestID(), audit.Capture())
	e.POST("/logout", func(c echo.Context) error {
		entry := audit.New(c.Request().Context(), nil, "User", "", audit.ActionLogout, nil, nil)
		if err := store.Insert(c.Request().Context(), entry); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set(echo.HeaderXRequestID, strings.Repeat("a", 100))
	req.Header.Set(echo.HeaderXForwardedFor, strings.Repeat("9", 100))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	logs, total, err := store.List(context.Background(), audit.Filter{Action: audit.ActionLogout}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("expected the logout entry to be stored, got %d", total)
	}
	if logs[0].RequestID == nil || len(*logs[0].RequestID) > 64 || *logs[0].RequestID == strings.Repeat("a", 100) {
		t.Errorf("expected a server-minted request id, got %v", logs[0].RequestID)
	}
}
