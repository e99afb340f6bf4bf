package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/app"
	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/config"
	"github.com/medichat/appointment-chatbot/internal/db"
	redisclient "github.com/medichat/appointment-chatbot/internal/redis"
	"github.com/medichat/appointment-chatbot/internal/whatsapp"
)

// reminderTTL keeps the dedup key alive well past the appointment so a
// restarted worker doesn't re-send.
const reminderTTL = 48 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		Timeout:  cfg.RedisTimeout,
		PoolSize: cfg.RedisPoolSize,
	})
	if err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	repo := booking.NewPgRepository(pool)
	wa := whatsapp.NewClient(cfg.GupshupAppName, cfg.GupshupAPIKey, cfg.GupshupSource, log)
	if !wa.Configured() {
		log.Warn("gupshup credentials not set, reminders will be logged only")
	}

	log.Info("reminder worker started", zap.Duration("interval", cfg.ReminderInterval))

	ticker := time.NewTicker(cfg.ReminderInterval)
	defer ticker.Stop()

	sendReminders(ctx, log, repo, rdb, wa)
	for {
		select {
		case <-ctx.Done():
			log.Info("reminder worker stopping")
			return
		case <-ticker.C:
			sendReminders(ctx, log, repo, rdb, wa)
		}
	}
}

// sendReminders notifies every patient with a confirmed appointment
// tomorrow, at most once per appointment.
func sendReminders(ctx context.Context, log *zap.Logger, repo booking.Repository, rdb *redis.Client, wa *whatsapp.Client) {
	tomorrow := time.Now().AddDate(0, 0, 1).Format(booking.DateLayout)

	appts, err := repo.ListActiveByDate(ctx, tomorrow)
	if err != nil {
		log.Error("list appointments for reminders", zap.Error(err))
		return
	}

	sent := 0
	for _, a := range appts {
		if a.Phone == "" {
			continue
		}

		ok, err := rdb.SetNX(ctx, "reminder:"+a.ID, time.Now().Format(time.RFC3339), reminderTTL).Result()
		if err != nil {
			log.Error("reminder dedup check", zap.Error(err), zap.String("appointment_id", a.ID))
			continue
		}
		if !ok {
			continue
		}

		text := reminderText(ctx, repo, a)
		if wa.Configured() {
			if err := wa.SendText(ctx, a.Phone, text); err != nil {
				log.Error("send reminder", zap.Error(err), zap.String("appointment_id", a.ID))
				// Let the next tick retry.
				_ = rdb.Del(ctx, "reminder:"+a.ID).Err()
				continue
			}
		} else {
			log.Info("reminder (not sent)", zap.String("appointment_id", a.ID), zap.String("text", text))
		}
		sent++
	}

	if sent > 0 {
		log.Info("reminders dispatched", zap.Int("count", sent), zap.String("date", tomorrow))
	}
}

func reminderText(ctx context.Context, repo booking.Repository, a booking.Appointment) string {
	doctorName := a.DoctorID
	if d, err := repo.GetDoctor(ctx, a.DoctorID); err == nil {
		doctorName = "Dr. " + d.Name
	}
	return fmt.Sprintf("Reminder: you have an appointment with %s tomorrow (%s) at %s. "+
		"Reply 'view my appointments' for details.", doctorName, a.Date, a.Time)
}
