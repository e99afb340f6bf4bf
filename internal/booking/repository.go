package booking

import (
	"context"
	"errors"
)

var (
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrDuplicateAppointment = errors.New("appointment id already exists")
	ErrSlotTaken            = errors.New("slot already booked")
)

// PatientUpdate carries the fields to merge into a patient record. Nil
// pointers leave the stored value untouched.
type PatientUpdate struct {
	Name   *string
	Phone  *string
	Age    *int
	Gender *string
}

type Repository interface {
	ListDoctors(ctx context.Context) ([]Doctor, error)
	GetDoctor(ctx context.Context, id string) (*Doctor, error)
	CreateDoctor(ctx context.Context, d *Doctor) error

	// ListActiveByDoctorDate returns non-cancelled appointments for one
	// doctor on one date, the unit the availability calculator subtracts
	// from the slot catalog.
	ListActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]Appointment, error)
	ListActiveByDate(ctx context.Context, date string) ([]Appointment, error)
	ListByPhone(ctx context.Context, phone string) ([]Appointment, error)
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
	// CreateAppointment returns ErrDuplicateAppointment on an id collision
	// and ErrSlotTaken when the live-slot uniqueness constraint rejects the
	// row.
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error

	// InsertEvent appends an audit row. Callers treat failures as
	// non-fatal.
	InsertEvent(ctx context.Context, ev EventLog) error

	GetPatient(ctx context.Context, id string) (*Patient, error)
	// FindPatientID returns "" with a nil error when no patient matches
	// the name and phone pair.
	FindPatientID(ctx context.Context, name, phone string) (string, error)
	// UpsertPatient inserts the patient if absent, otherwise merges the
	// provided fields into the existing record.
	UpsertPatient(ctx context.Context, id string, update PatientUpdate) error
}
