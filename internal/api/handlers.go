package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/chat"
	redisclient "github.com/medichat/appointment-chatbot/internal/redis"
	"github.com/medichat/appointment-chatbot/internal/schedule"
	"github.com/medichat/appointment-chatbot/internal/whatsapp"
)

type Server struct {
	chat  *chat.Handler
	svc   *booking.Service
	repo  booking.Repository
	avail chat.Availability
	wa    *whatsapp.Client
	log   *zap.Logger
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	reply := s.chat.Process(r.Context(), req.UserID, req.Message, req.Phone)
	writeJSON(w, http.StatusOK, ChatResponse{Response: reply})
}

// handleGupshupWebhook receives inbound WhatsApp messages. Non-text events
// are acknowledged and dropped; Gupshup retries anything that isn't a 200.
func (s *Server) handleGupshupWebhook(w http.ResponseWriter, r *http.Request) {
	var hook GupshupWebhook
	if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	phone := hook.Payload.Sender.Phone
	text := hook.Payload.Payload.Text
	if hook.Type != "message" || hook.Payload.Type != "text" || phone == "" || text == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	reply := s.chat.Process(r.Context(), phone, text, phone)

	if s.wa.Configured() {
		if err := s.wa.SendText(r.Context(), phone, reply.Text); err != nil {
			s.log.Error("send whatsapp reply failed",
				zap.Error(err), zap.String("destination", phone))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAppointments(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone query parameter is required")
		return
	}

	appts, err := s.repo.ListByPhone(r.Context(), phone)
	if err != nil {
		s.log.Error("list appointments failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	if appts == nil {
		appts = []booking.Appointment{}
	}
	writeJSON(w, http.StatusOK, AppointmentList{Appointments: appts, Count: len(appts)})
}

type cancelResponse struct {
	Message     string               `json:"message"`
	Appointment *booking.Appointment `json:"appointment"`
}

func (s *Server) handleCancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	appt, err := s.svc.Cancel(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cancelResponse{
			Message:     "appointment cancelled",
			Appointment: appt,
		})
	case errors.Is(err, booking.ErrAppointmentCancelled):
		writeJSON(w, http.StatusOK, cancelResponse{
			Message:     "appointment was already cancelled",
			Appointment: appt,
		})
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, booking.ErrAppointmentInPast):
		writeError(w, http.StatusConflict, "past appointments cannot be cancelled")
	default:
		s.log.Error("cancel appointment failed", zap.Error(err), zap.String("appointment_id", id))
		writeError(w, http.StatusInternalServerError, "failed to cancel appointment")
	}
}

// handleRescheduleAppointment is a three-phase exchange: no body or no
// date returns the open dates, a date without a time returns the open
// times, and both together perform the move.
func (s *Server) handleRescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	appt, err := s.repo.GetAppointment(r.Context(), id)
	if errors.Is(err, booking.ErrAppointmentNotFound) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		s.log.Error("load appointment failed", zap.Error(err), zap.String("appointment_id", id))
		writeError(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}
	if appt.Status == booking.StatusCancelled {
		writeError(w, http.StatusConflict, "cancelled appointments cannot be rescheduled")
		return
	}

	if req.Date == "" {
		dates, err := s.avail.AvailableDates(r.Context(), appt.DoctorID)
		if err != nil {
			s.log.Error("compute dates failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to compute availability")
			return
		}
		writeJSON(w, http.StatusOK, RescheduleOptions{
			Message: "select a new date, then call again with it",
			Dates:   dates,
		})
		return
	}

	if req.Time == "" {
		times, err := s.avail.AvailableSlots(r.Context(), appt.DoctorID, req.Date, schedule.PrefAny)
		if err != nil {
			s.log.Error("compute slots failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to compute availability")
			return
		}
		writeJSON(w, http.StatusOK, RescheduleOptions{
			Message: "select a new time, then call again with date and time",
			Times:   times,
		})
		return
	}

	moved, err := s.svc.Reschedule(r.Context(), id, req.Date, req.Time)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, moved)
	case errors.Is(err, booking.ErrSlotTaken), errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "the requested slot is no longer available")
	case errors.Is(err, booking.ErrAppointmentInPast):
		writeError(w, http.StatusConflict, "past appointments cannot be rescheduled")
	case errors.Is(err, booking.ErrAppointmentCancelled):
		writeError(w, http.StatusConflict, "cancelled appointments cannot be rescheduled")
	case errors.Is(err, booking.ErrInvalidAppointment):
		writeError(w, http.StatusBadRequest, "date and time are required")
	default:
		s.log.Error("reschedule failed", zap.Error(err), zap.String("appointment_id", id))
		writeError(w, http.StatusInternalServerError, "failed to reschedule appointment")
	}
}

func (s *Server) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := s.repo.ListDoctors(r.Context())
	if err != nil {
		s.log.Error("list doctors failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list doctors")
		return
	}
	if doctors == nil {
		doctors = []booking.Doctor{}
	}
	writeJSON(w, http.StatusOK, doctors)
}
