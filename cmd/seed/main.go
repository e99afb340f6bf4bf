package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/app"
	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/config"
	"github.com/medichat/appointment-chatbot/internal/db"
	"github.com/medichat/appointment-chatbot/internal/schedule"
)

var specialties = []string{
	"General Medicine",
	"Cardiology",
	"Dermatology",
	"Orthopedics",
	"Pediatrics",
	"Neurology",
}

const doctorsPerSpecialty = 2

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	migrator, err := db.NewMigrator(pool, "migrations")
	if err != nil {
		log.Fatal("init migrator", zap.Error(err))
	}
	if err := migrator.Run(ctx); err != nil {
		log.Fatal("run migrations", zap.Error(err))
	}
	_ = migrator.Close()

	repo := booking.NewPgRepository(pool)
	catalog := schedule.Catalog{Morning: cfg.MorningSlots, Evening: cfg.EveningSlots}

	var doctors []booking.Doctor
	n := 0
	for _, specialty := range specialties {
		for i := 0; i < doctorsPerSpecialty; i++ {
			n++
			d := booking.Doctor{
				ID:        fmt.Sprintf("doc_%03d", n),
				Name:      gofakeit.Name(),
				Specialty: specialty,
			}
			if err := repo.CreateDoctor(ctx, &d); err != nil {
				log.Fatal("create doctor", zap.Error(err), zap.String("id", d.ID))
			}
			doctors = append(doctors, d)
		}
	}
	log.Info("seeded doctors", zap.Int("count", len(doctors)))

	// Pre-book a slot or two per doctor so availability looks lived-in.
	tomorrow := time.Now().AddDate(0, 0, 1).Format(booking.DateLayout)
	slots := catalog.Slots(schedule.PrefAny)
	booked := 0
	for _, d := range doctors {
		name := gofakeit.Name()
		phone := gofakeit.Phone()
		patientID := fmt.Sprintf("patient_seed_%s", d.ID)
		if err := repo.UpsertPatient(ctx, patientID, booking.PatientUpdate{
			Name: &name, Phone: &phone,
		}); err != nil {
			log.Fatal("create patient", zap.Error(err))
		}

		slot := slots[rand.Intn(len(slots))]
		appt := booking.Appointment{
			ID:        fmt.Sprintf("APPT-SEED-%s", d.ID),
			DoctorID:  d.ID,
			PatientID: patientID,
			Date:      tomorrow,
			Time:      slot,
			Reason:    gofakeit.SentenceSimple(),
			Name:      name,
			Phone:     phone,
			Status:    booking.StatusConfirmed,
			Specialty: d.Specialty,
		}
		if err := repo.CreateAppointment(ctx, &appt); err != nil {
			log.Fatal("create appointment", zap.Error(err), zap.String("id", appt.ID))
		}
		booked++
	}

	log.Info("seed complete",
		zap.Int("doctors", len(doctors)),
		zap.Int("appointments", booked),
		zap.String("date", tomorrow))
}
