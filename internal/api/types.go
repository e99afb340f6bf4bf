package api

import (
	"encoding/json"
	"net/http"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/chat"
)

type ChatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Phone   string `json:"phone,omitempty"`
}

type ChatResponse struct {
	Response chat.Reply `json:"response"`
}

// GupshupWebhook is the inbound message envelope Gupshup posts. Only text
// messages are handled; other event types are acknowledged and dropped.
type GupshupWebhook struct {
	Type    string `json:"type"`
	Payload struct {
		Type   string `json:"type"`
		Sender struct {
			Phone string `json:"phone"`
			Name  string `json:"name"`
		} `json:"sender"`
		Payload struct {
			Text string `json:"text"`
		} `json:"payload"`
	} `json:"payload"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// RescheduleOptions is the phase-one and phase-two response: the choices
// for whichever of date and time is still missing.
type RescheduleOptions struct {
	Message string   `json:"message"`
	Dates   []string `json:"dates,omitempty"`
	Times   []string `json:"times,omitempty"`
}

type AppointmentList struct {
	Appointments []booking.Appointment `json:"appointments"`
	Count        int                   `json:"count"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
