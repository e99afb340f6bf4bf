package booking

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps all records in process memory. It backs tests and
// the race simulator; the HTTP server uses PgRepository.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[string]Doctor
	patients     map[string]Patient
	appointments map[string]Appointment
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[string]Doctor),
		patients:     make(map[string]Patient),
		appointments: make(map[string]Appointment),
	}
}

func (r *MemoryRepository) ListDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doctors := make([]Doctor, 0, len(r.doctors))
	for _, d := range r.doctors {
		doctors = append(doctors, d)
	}
	sort.Slice(doctors, func(i, j int) bool {
		if doctors[i].Specialty != doctors[j].Specialty {
			return doctors[i].Specialty < doctors[j].Specialty
		}
		return doctors[i].Name < doctors[j].Name
	})
	return doctors, nil
}

func (r *MemoryRepository) GetDoctor(_ context.Context, id string) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) CreateDoctor(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := *d
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.doctors[d.ID] = stored
	return nil
}

func (r *MemoryRepository) ListActiveByDoctorDate(_ context.Context, doctorID, date string) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var appts []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Active() {
			appts = append(appts, a)
		}
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].Time < appts[j].Time })
	return appts, nil
}

func (r *MemoryRepository) ListActiveByDate(_ context.Context, date string) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var appts []Appointment
	for _, a := range r.appointments {
		if a.Date == date && a.Active() {
			appts = append(appts, a)
		}
	}
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].DoctorID != appts[j].DoctorID {
			return appts[i].DoctorID < appts[j].DoctorID
		}
		return appts[i].Time < appts[j].Time
	})
	return appts, nil
}

func (r *MemoryRepository) ListByPhone(_ context.Context, phone string) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var appts []Appointment
	for _, a := range r.appointments {
		if a.Phone == phone {
			appts = append(appts, a)
		}
	}
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].Date != appts[j].Date {
			return appts[i].Date > appts[j].Date
		}
		return appts[i].Time > appts[j].Time
	})
	return appts, nil
}

func (r *MemoryRepository) GetAppointment(_ context.Context, id string) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.appointments[a.ID]; exists {
		return ErrDuplicateAppointment
	}
	for _, existing := range r.appointments {
		if existing.Active() && existing.DoctorID == a.DoctorID &&
			existing.Date == a.Date && existing.Time == a.Time {
			return ErrSlotTaken
		}
	}

	now := time.Now()
	stored := *a
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.appointments[a.ID] = stored
	return nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.appointments[a.ID]
	if !ok {
		return ErrAppointmentNotFound
	}
	if a.Status != StatusCancelled {
		for _, existing := range r.appointments {
			if existing.ID != a.ID && existing.Active() && existing.DoctorID == a.DoctorID &&
				existing.Date == a.Date && existing.Time == a.Time {
				return ErrSlotTaken
			}
		}
	}

	stored.Date = a.Date
	stored.Time = a.Time
	stored.Status = a.Status
	stored.Rescheduled = a.Rescheduled
	stored.UpdatedAt = time.Now()
	r.appointments[a.ID] = stored
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns the recorded audit rows in insertion order.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) GetPatient(_ context.Context, id string) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) FindPatientID(_ context.Context, name, phone string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, p := range r.patients {
		if strings.EqualFold(p.Name, name) && p.Phone == phone {
			return id, nil
		}
	}
	return "", nil
}

func (r *MemoryRepository) UpsertPatient(_ context.Context, id string, update PatientUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	p, ok := r.patients[id]
	if !ok {
		p = Patient{ID: id, CreatedAt: now}
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Phone != nil {
		p.Phone = *update.Phone
	}
	if update.Age != nil {
		age := *update.Age
		p.Age = &age
	}
	if update.Gender != nil {
		p.Gender = *update.Gender
	}
	p.UpdatedAt = now
	r.patients[id] = p
	return nil
}
