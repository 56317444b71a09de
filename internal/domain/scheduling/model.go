package scheduling

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/platform/apperr"
)

const (
	dateLayout = time.DateOnly
	timeLayout = "15:04"
)

// -- Schedule --

// Schedule is a block of availability for one doctor on one day.
type Schedule struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctorId"`
	Date      string    `db:"date" json:"date"`
	StartTime string    `db:"start_time" json:"startTime"`
	EndTime   string    `db:"end_time" json:"endTime"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type ScheduleInput struct {
	// DoctorID defaults to the caller's own profile for doctors.
	DoctorID  *uuid.UUID `json:"doctorId"`
	Date      string     `json:"date"`
	StartTime string     `json:"startTime"`
	EndTime   string     `json:"endTime"`
}

// ScheduleUpdate is a partial update. Nil fields are left unchanged.
type ScheduleUpdate struct {
	Date      *string `json:"date"`
	StartTime *string `json:"startTime"`
	EndTime   *string `json:"endTime"`
}

func (u ScheduleUpdate) apply(s *Schedule) {
	if u.Date != nil {
		s.Date = strings.TrimSpace(*u.Date)
	}
	if u.StartTime != nil {
		s.StartTime = strings.TrimSpace(*u.StartTime)
	}
	if u.EndTime != nil {
		s.EndTime = strings.TrimSpace(*u.EndTime)
	}
}

type ScheduleFilter struct {
	DoctorID  *uuid.UUID
	StartDate string
	EndDate   string
}

// -- Appointment --

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type Appointment struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patientId"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctorId"`
	Date      string    `db:"date" json:"date"`
	StartTime string    `db:"start_time" json:"startTime"`
	EndTime   string    `db:"end_time" json:"endTime"`
	Status    Status    `db:"status" json:"status"`
	Notes     *string   `db:"notes" json:"notes"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type AppointmentInput struct {
	// PatientID is ignored for patients, who always book for themselves.
	PatientID *uuid.UUID `json:"patientId"`
	DoctorID  uuid.UUID  `json:"doctorId"`
	Date      string     `json:"date"`
	StartTime string     `json:"startTime"`
	EndTime   string     `json:"endTime"`
	Notes     *string    `json:"notes"`
}

type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    Status
	From      string
	To        string
}

// -- Validation --

// validateSlot checks a date and a time range on v.
func validateSlot(v *apperr.Validation, date, start, end string) {
	v.Check(validDate(date), "date", "must be a date in YYYY-MM-DD format")
	startOK := validTime(start)
	endOK := validTime(end)
	v.Check(startOK, "startTime", "must be a time in HH:MM format")
	v.Check(endOK, "endTime", "must be a time in HH:MM format")
	if startOK && endOK {
		// HH:MM compares correctly as a string.
		v.Check(end > start, "endTime", "must be after startTime")
	}
}

func validDate(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func validTime(s string) bool {
	if len(s) != 5 {
		return false
	}
	_, err := time.Parse(timeLayout, s)
	return err == nil
}

func validateDateRange(v *apperr.Validation, fromField, from, toField, to string) {
	if from != "" {
		v.Check(validDate(from), fromField, "must be a date in YYYY-MM-DD format")
	}
	if to != "" {
		v.Check(validDate(to), toField, "must be a date in YYYY-MM-DD format")
	}
	if from != "" && to != "" && validDate(from) && validDate(to) {
		v.Check(from <= to, toField, "must not be before "+fromField)
	}
}

// parseDate converts a validated YYYY-MM-DD string for a DATE column.
func parseDate(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}
