package booking

import (
	"strings"
	"time"
)

const idTimestampLayout = "20060102150405"

// NewAppointmentID mints a human-readable appointment id like
// APPT-20250601143000. Collisions within the same second are caught at
// insert time and surfaced as ErrDuplicateAppointment.
func NewAppointmentID(now time.Time) string {
	return "APPT-" + now.Format(idTimestampLayout)
}

// NewPatientID mints an id for a patient whose details were confirmed
// during booking.
func NewPatientID(now time.Time) string {
	return "patient_" + now.Format(idTimestampLayout)
}

// NewTempPatientID mints a placeholder id for partially collected patient
// data before the booking is confirmed.
func NewTempPatientID(now time.Time) string {
	return "temp_" + now.Format(idTimestampLayout)
}

func IsTempPatientID(id string) bool {
	return strings.HasPrefix(id, "temp_")
}
