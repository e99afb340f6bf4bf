package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
)

var (
	resetPhrases = []string{"reset", "restart", "clear memory", "clear cache", "start over"}

	greetingPhrases = []string{"hi", "hello", "hey", "menu", "main menu", "home", "okay"}

	bookingTriggers = []string{"book", "appointment", "schedule", "see a doctor"}

	viewTriggers = []string{"view my appointments", "my appointments", "view appointments"}

	cancelBookingPhrases = []string{"cancel booking", "stop booking"}
)

const (
	msgMenu = "Welcome! I can help you with your medical appointments:\n\n" +
		"- Book an appointment: say 'book appointment'\n" +
		"- View your appointments: say 'view my appointments'\n" +
		"- Ask me anything else and I'll do my best to help\n\n" +
		"How can I help you today?"
	msgReset          = "Our conversation has been cleared. How can I help you today?"
	msgBookingStopped = "No problem, I've stopped the booking. How else can I help you today?"
	msgAgentDown      = "I'm having trouble answering that right now. " +
		"You can say 'book appointment' to book, or 'menu' to see what I can do."
	msgUnexpected = "Sorry, something went wrong on our side. Please try again, " +
		"or type 'reset' to clear our conversation and start over."
)

// Handler routes each incoming message: reset and control phrases first,
// then the active booking flow, then intent keywords, and finally the
// conversational agent.
type Handler struct {
	store *Store
	flow  *Flow
	repo  booking.Repository
	agent Agent
	log   *zap.Logger
}

func NewHandler(store *Store, flow *Flow, repo booking.Repository, agent Agent, log *zap.Logger) *Handler {
	return &Handler{
		store: store,
		flow:  flow,
		repo:  repo,
		agent: agent,
		log:   log,
	}
}

// Process handles one inbound message from a user. channelPhone is the
// sender's number when the transport knows it (WhatsApp), empty otherwise.
func (h *Handler) Process(ctx context.Context, userID, text, channelPhone string) (reply Reply) {
	mem := h.store.Get(userID)
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic while processing message",
				zap.Any("panic", rec), zap.String("user_id", userID))
			mem.Booking = nil
			reply = Reply{Text: msgUnexpected, Outcome: OutcomeError}
		}
	}()

	normalized := strings.ToLower(strings.TrimSpace(text))
	reply = h.route(ctx, mem, normalized, text, channelPhone)

	mem.AppendHistory(RoleUser, text)
	mem.AppendHistory(RoleAssistant, reply.Text)
	return reply
}

func (h *Handler) route(ctx context.Context, mem *Memory, normalized, raw, channelPhone string) Reply {
	if matchesAny(normalized, resetPhrases, true) {
		h.store.Reset(mem.UserID)
		return Reply{Text: msgReset, Outcome: OutcomeMessage}
	}

	if mem.BookingActive() {
		if matchesAny(normalized, cancelBookingPhrases, false) {
			mem.Booking = nil
			return Reply{Text: msgBookingStopped, Outcome: OutcomeAborted}
		}
		return h.flow.Handle(ctx, mem, raw, channelPhone)
	}

	if matchesAny(normalized, greetingPhrases, true) {
		return Reply{Text: msgMenu, Outcome: OutcomeMessage}
	}

	if matchesAny(normalized, viewTriggers, false) {
		return h.viewAppointments(ctx, mem, channelPhone)
	}

	if normalized == "start" || matchesAny(normalized, bookingTriggers, false) {
		return h.flow.Start(ctx, mem)
	}

	answer, err := h.agent.Reply(ctx, mem.History, raw)
	if err != nil {
		h.log.Warn("agent reply failed", zap.Error(err), zap.String("user_id", mem.UserID))
		return Reply{Text: msgAgentDown, Outcome: OutcomeMessage}
	}
	return Reply{Text: answer, Outcome: OutcomeMessage}
}

func (h *Handler) viewAppointments(ctx context.Context, mem *Memory, channelPhone string) Reply {
	phone := channelPhone
	if phone == "" && mem.CurrentPatientID != "" {
		if p, err := h.repo.GetPatient(ctx, mem.CurrentPatientID); err == nil {
			phone = p.Phone
		}
	}
	if phone == "" {
		return Reply{
			Text: "I don't have a phone number on file for you yet. " +
				"Once you've booked an appointment I can look up your bookings.",
			Outcome: OutcomeMessage,
		}
	}

	appts, err := h.repo.ListByPhone(ctx, phone)
	if err != nil {
		h.log.Error("list appointments failed", zap.Error(err))
		return Reply{Text: msgSystemError, Outcome: OutcomeError}
	}
	if len(appts) == 0 {
		return Reply{
			Text:    "I couldn't find any appointments for your number. Say 'book appointment' to make one.",
			Outcome: OutcomeMessage,
		}
	}

	var sb strings.Builder
	sb.WriteString("Here are the appointments on file for your number:\n")
	for i, a := range appts {
		doctorName := a.DoctorID
		if d, err := h.repo.GetDoctor(ctx, a.DoctorID); err == nil {
			doctorName = "Dr. " + d.Name
		}
		fmt.Fprintf(&sb, "\n%d. %s with %s on %s at %s (%s)",
			i+1, a.ID, doctorName, displayDate(a.Date), a.Time, a.Status)
	}
	return Reply{Text: sb.String(), Outcome: OutcomeMessage}
}

// matchesAny reports whether the normalized input equals (exact) or
// contains (loose) one of the phrases.
func matchesAny(normalized string, phrases []string, exact bool) bool {
	for _, p := range phrases {
		if exact && normalized == p {
			return true
		}
		if !exact && strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
