package booking

import "time"

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// DateLayout is the canonical on-wire and on-disk date format.
const DateLayout = "2006-01-02"

// SlotLayout matches the human-friendly slot labels ("9:00 AM").
const SlotLayout = "3:04 PM"

type Doctor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Specialty string    `json:"specialty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Age       *int      `json:"age,omitempty"`
	Gender    string    `json:"gender,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Appointment struct {
	ID          string    `json:"id"`
	DoctorID    string    `json:"doctor_id"`
	PatientID   string    `json:"patient_id"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Reason      string    `json:"reason"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	Status      string    `json:"status"`
	Specialty   string    `json:"specialty"`
	Rescheduled bool      `json:"rescheduled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

const (
	EventAppointmentBooked      = "appointment.booked"
	EventAppointmentCancelled   = "appointment.cancelled"
	EventAppointmentRescheduled = "appointment.rescheduled"
)

// EventLog is one audit row recording an appointment state transition.
// Payload holds event-specific details as JSON.
type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID string
	Payload       []byte
	CreatedAt     time.Time
}

func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// StartsAt resolves the appointment's date and slot label into a point in
// time within loc.
func (a Appointment) StartsAt(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+SlotLayout, a.Date+" "+a.Time, loc)
}
