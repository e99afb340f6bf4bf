package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/chat"
	"github.com/medichat/appointment-chatbot/internal/whatsapp"
)

type RouterConfig struct {
	Chat     *chat.Handler
	Service  *booking.Service
	Repo     booking.Repository
	Avail    chat.Availability
	WhatsApp *whatsapp.Client
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	s := &Server{
		chat:  cfg.Chat,
		svc:   cfg.Service,
		repo:  cfg.Repo,
		avail: cfg.Avail,
		wa:    cfg.WhatsApp,
		log:   cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health/live", livenessHandler())
	r.Get("/health/ready", readinessHandler(cfg.Pool, cfg.Redis))

	r.Post("/chat", s.handleChat)
	r.Post("/webhook/gupshup", s.handleGupshupWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/doctors", s.handleListDoctors)
		r.Get("/appointments", s.handleListAppointments)
		r.Post("/appointments/{id}/cancel", s.handleCancelAppointment)
		r.Post("/appointments/{id}/reschedule", s.handleRescheduleAppointment)
	})

	return r
}
