package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/medichat/appointment-chatbot/internal/redis"
)

var (
	ErrInvalidAppointment   = errors.New("appointment is missing required fields")
	ErrAppointmentCancelled = errors.New("appointment is cancelled")
	ErrAppointmentInPast    = errors.New("appointment is in the past")
)

// Service owns the booking writes. Every path that claims a slot goes
// through the distributed slot lock and re-checks the database while
// holding it.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	log    *zap.Logger
	now    func() time.Time
	loc    *time.Location
}

func NewService(repo Repository, locker redisclient.Locker, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    time.Now,
		loc:    time.Local,
	}
}

// Book persists a new appointment. The slot is re-checked against live
// rows inside the lock; a concurrent winner surfaces as ErrSlotTaken.
func (s *Service) Book(ctx context.Context, a *Appointment) error {
	if a.DoctorID == "" || a.Date == "" || a.Time == "" {
		return ErrInvalidAppointment
	}
	if a.ID == "" {
		a.ID = NewAppointmentID(s.now())
	}
	if a.Status == "" {
		a.Status = StatusConfirmed
	}

	if _, err := s.repo.GetDoctor(ctx, a.DoctorID); err != nil {
		return err
	}

	err := s.locker.WithSlotLock(ctx, a.DoctorID, a.Date, a.Time, func(ctx context.Context) error {
		taken, err := s.slotTaken(ctx, a.DoctorID, a.Date, a.Time, "")
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		return s.repo.CreateAppointment(ctx, a)
	})
	if err != nil {
		if errors.Is(err, ErrSlotTaken) {
			s.log.Warn("slot conflict on booking",
				zap.String("doctor_id", a.DoctorID),
				zap.String("date", a.Date),
				zap.String("time", a.Time))
		}
		return err
	}

	s.logEvent(ctx, a.ID, EventAppointmentBooked, map[string]any{
		"doctor_id": a.DoctorID,
		"date":      a.Date,
		"time":      a.Time,
	})

	s.log.Info("appointment booked",
		zap.String("appointment_id", a.ID),
		zap.String("doctor_id", a.DoctorID),
		zap.String("date", a.Date),
		zap.String("time", a.Time))
	return nil
}

// Cancel marks the appointment cancelled. Already-cancelled appointments
// return ErrAppointmentCancelled with the record so callers can report
// idempotently; past appointments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return a, ErrAppointmentCancelled
	}
	if s.inPast(a) {
		return a, ErrAppointmentInPast
	}

	a.Status = StatusCancelled
	if err := s.repo.UpdateAppointment(ctx, a); err != nil {
		return nil, fmt.Errorf("cancel appointment %s: %w", id, err)
	}

	s.logEvent(ctx, a.ID, EventAppointmentCancelled, map[string]any{
		"doctor_id": a.DoctorID,
		"date":      a.Date,
		"time":      a.Time,
	})

	s.log.Info("appointment cancelled", zap.String("appointment_id", id))
	return a, nil
}

// Reschedule moves an active appointment to a new slot under the same
// lock discipline as Book. The appointment's own current slot does not
// count as a conflict.
func (s *Service) Reschedule(ctx context.Context, id, newDate, newTime string) (*Appointment, error) {
	if newDate == "" || newTime == "" {
		return nil, ErrInvalidAppointment
	}

	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCancelled {
		return a, ErrAppointmentCancelled
	}
	if s.inPast(a) {
		return a, ErrAppointmentInPast
	}

	prevDate, prevTime := a.Date, a.Time
	err = s.locker.WithSlotLock(ctx, a.DoctorID, newDate, newTime, func(ctx context.Context) error {
		taken, err := s.slotTaken(ctx, a.DoctorID, newDate, newTime, a.ID)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		a.Date = newDate
		a.Time = newTime
		a.Rescheduled = true
		return s.repo.UpdateAppointment(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, a.ID, EventAppointmentRescheduled, map[string]any{
		"from_date": prevDate,
		"from_time": prevTime,
		"to_date":   newDate,
		"to_time":   newTime,
	})

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", id),
		zap.String("date", newDate),
		zap.String("time", newTime))
	return a, nil
}

// FindOrCreatePatient reuses an existing patient matched by name and
// phone, minting a new record otherwise.
func (s *Service) FindOrCreatePatient(ctx context.Context, name, phone string) (string, error) {
	id, err := s.repo.FindPatientID(ctx, name, phone)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = NewPatientID(s.now())
	update := PatientUpdate{Name: &name, Phone: &phone}
	if err := s.repo.UpsertPatient(ctx, id, update); err != nil {
		return "", err
	}
	return id, nil
}

// SavePartialPatient persists mid-flow patient details under a temporary
// id when none exists yet, so collected data survives an abandoned flow.
func (s *Service) SavePartialPatient(ctx context.Context, id string, update PatientUpdate) (string, error) {
	if id == "" {
		id = NewTempPatientID(s.now())
	}
	if err := s.repo.UpsertPatient(ctx, id, update); err != nil {
		return "", err
	}
	return id, nil
}

// logEvent records an audit row for an appointment state transition.
// Failures are logged, never surfaced; the booking itself already
// succeeded.
func (s *Service) logEvent(ctx context.Context, appointmentID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload failed",
			zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     s.now(),
	}
	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log failed",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID),
			zap.Error(err))
	}
}

func (s *Service) slotTaken(ctx context.Context, doctorID, date, slot, excludeID string) (bool, error) {
	appts, err := s.repo.ListActiveByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return false, err
	}
	for _, existing := range appts {
		if existing.Time == slot && existing.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) inPast(a *Appointment) bool {
	starts, err := a.StartsAt(s.loc)
	if err != nil {
		return false
	}
	return starts.Before(s.now())
}
