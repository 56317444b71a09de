package medical

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pws/pws/internal/platform/apperr"
)

// MaxAttachments bounds the attachment list of one record.
const MaxAttachments = 20

// Record is the clinical note for one appointment. There is at most one
// record per appointment.
type Record struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointmentId"`
	PatientID     uuid.UUID `db:"patient_id" json:"patientId"`
	DoctorID      uuid.UUID `db:"doctor_id" json:"doctorId"`
	Diagnosis     *string   `db:"diagnosis" json:"diagnosis"`
	Prescription  *string   `db:"prescription" json:"prescription"`
	Notes         *string   `db:"notes" json:"notes"`
	Attachments   []string  `db:"attachments" json:"attachments"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// UpsertInput replaces the clinical fields of the record for an
// appointment. Patient and doctor come from the appointment.
type UpsertInput struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	Diagnosis     *string   `json:"diagnosis"`
	Prescription  *string   `json:"prescription"`
	Notes         *string   `json:"notes"`
	Attachments   []string  `json:"attachments"`
}

func (in *UpsertInput) normalize() {
	out := make([]string, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	in.Attachments = out
}

func (in UpsertInput) Validate() error {
	var v apperr.Validation
	v.Check(in.AppointmentID != uuid.Nil, "appointmentId", "is required")
	v.Check(len(in.Attachments) <= MaxAttachments, "attachments", "must have at most 20 entries")
	return v.Err()
}
