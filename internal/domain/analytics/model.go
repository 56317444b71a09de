// Package analytics reports appointment volume for administrators.
package analytics

import (
	"time"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/platform/apperr"
)

// DayCount is the number of appointments on one calendar day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DoctorCount is the number of appointments booked with one doctor.
type DoctorCount struct {
	DoctorID  uuid.UUID `json:"doctorId"`
	FullName  string    `json:"fullName"`
	Specialty string    `json:"specialty"`
	Count     int       `json:"count"`
}

// Filter narrows every report to a date window and, optionally, a status.
// Empty fields are unbounded.
type Filter struct {
	From   string
	To     string
	Status string
}

var statuses = map[string]bool{"pending": true, "confirmed": true, "completed": true, "cancelled": true}

func (f Filter) Validate() error {
	var v apperr.Validation
	from, fromErr := parseDate(f.From)
	to, toErr := parseDate(f.To)
	v.Check(fromErr == nil, "from", "must be a date (YYYY-MM-DD)")
	v.Check(toErr == nil, "to", "must be a date (YYYY-MM-DD)")
	if fromErr == nil && toErr == nil && !from.IsZero() && !to.IsZero() {
		v.Check(!to.Before(from), "to", "must not be before from")
	}
	v.Check(f.Status == "" || statuses[f.Status], "status", "must be one of pending, confirmed, completed, cancelled")
	return v.Err()
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}
