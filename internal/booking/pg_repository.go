package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const slotUniqueConstraint = "idx_appointments_slot_live"

// db is the slice of pgxpool.Pool the repository actually uses, so tests
// can substitute a mock pool.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db db
}

func NewPgRepository(db db) *PgRepository {
	return &PgRepository{db: db}
}

const doctorColumns = `id, name, specialty, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+doctorColumns+` FROM doctors ORDER BY specialty, name`)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan doctor: %w", err)
		}
		doctors = append(doctors, *d)
	}
	return doctors, rows.Err()
}

func (r *PgRepository) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE id = $1`, id)
	d, err := scanDoctor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor %s: %w", id, err)
	}
	return d, nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d *Doctor) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO doctors (id, name, specialty) VALUES ($1, $2, $3)`,
		d.ID, d.Name, d.Specialty)
	if err != nil {
		return fmt.Errorf("create doctor %s: %w", d.ID, err)
	}
	return nil
}

const appointmentColumns = `id, doctor_id, patient_id, date, time, reason, name, phone,
	status, specialty, rescheduled, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.Time, &a.Reason,
		&a.Name, &a.Phone, &a.Status, &a.Specialty, &a.Rescheduled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) queryAppointments(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, *a)
	}
	return appts, rows.Err()
}

func (r *PgRepository) ListActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]Appointment, error) {
	appts, err := r.queryAppointments(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE doctor_id = $1 AND date = $2 AND status <> $3
		 ORDER BY time`,
		doctorID, date, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("list appointments for doctor %s on %s: %w", doctorID, date, err)
	}
	return appts, nil
}

func (r *PgRepository) ListActiveByDate(ctx context.Context, date string) ([]Appointment, error) {
	appts, err := r.queryAppointments(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE date = $1 AND status <> $2
		 ORDER BY doctor_id, time`,
		date, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("list appointments on %s: %w", date, err)
	}
	return appts, nil
}

func (r *PgRepository) ListByPhone(ctx context.Context, phone string) ([]Appointment, error) {
	appts, err := r.queryAppointments(ctx,
		`SELECT `+appointmentColumns+` FROM appointments
		 WHERE phone = $1
		 ORDER BY date DESC, time DESC`,
		phone)
	if err != nil {
		return nil, fmt.Errorf("list appointments for phone %s: %w", phone, err)
	}
	return appts, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO appointments
		   (id, doctor_id, patient_id, date, time, reason, name, phone, status, specialty, rescheduled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.DoctorID, a.PatientID, a.Date, a.Time, a.Reason, a.Name, a.Phone,
		a.Status, a.Specialty, a.Rescheduled)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == slotUniqueConstraint {
				return ErrSlotTaken
			}
			return ErrDuplicateAppointment
		}
		return fmt.Errorf("create appointment %s: %w", a.ID, err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE appointments
		 SET date = $2, time = $3, status = $4, rescheduled = $5, updated_at = now()
		 WHERE id = $1`,
		a.ID, a.Date, a.Time, a.Status, a.Rescheduled)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == slotUniqueConstraint {
			return ErrSlotTaken
		}
		return fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		 VALUES ($1, $2, $3, COALESCE($4, now()))`,
		ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var gender *string
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Age, &gender, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if gender != nil {
		p.Gender = *gender
	}
	return &p, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id string) (*Patient, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, phone, age, gender, created_at, updated_at FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

func (r *PgRepository) FindPatientID(ctx context.Context, name, phone string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM patients WHERE lower(name) = lower($1) AND phone = $2 LIMIT 1`,
		name, phone).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find patient by name and phone: %w", err)
	}
	return id, nil
}

func (r *PgRepository) UpsertPatient(ctx context.Context, id string, update PatientUpdate) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO patients (id, name, phone, age, gender)
		 VALUES ($1, COALESCE($2, ''), COALESCE($3, ''), $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   name = COALESCE($2, patients.name),
		   phone = COALESCE($3, patients.phone),
		   age = COALESCE($4, patients.age),
		   gender = COALESCE($5, patients.gender),
		   updated_at = now()`,
		id, update.Name, update.Phone, update.Age, update.Gender)
	if err != nil {
		return fmt.Errorf("upsert patient %s: %w", id, err)
	}
	return nil
}
