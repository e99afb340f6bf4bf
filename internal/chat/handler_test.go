package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/schedule"
)

type stubAgent struct {
	answer string
	err    error
	calls  int
	last   string
}

func (a *stubAgent) Reply(_ context.Context, _ []AgentMessage, message string) (string, error) {
	a.calls++
	a.last = message
	return a.answer, a.err
}

func newTestHandler(t *testing.T, agent Agent) (*Handler, *Store, *booking.MemoryRepository) {
	t.Helper()

	repo := booking.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateDoctor(ctx, &booking.Doctor{
		ID: "doc_card", Name: "Sarah Chen", Specialty: "Cardiology",
	}))

	svc := booking.NewService(repo, passLocker{}, zap.NewNop())
	calc := schedule.NewCalculator(repo, schedule.DefaultCatalog(), 14, 3)
	flow := NewFlow(svc, calc, FlowConfig{}, zap.NewNop())
	store := NewStore()
	return NewHandler(store, flow, repo, agent, zap.NewNop()), store, repo
}

func TestHandlerGreetingShowsMenu(t *testing.T) {
	h, _, _ := newTestHandler(t, NewDisabledAgent())

	for _, greeting := range []string{"hi", "Hello", "MENU", "main menu", "okay"} {
		r := h.Process(context.Background(), "u1", greeting, "")
		assert.Equal(t, OutcomeMessage, r.Outcome, "input %q", greeting)
		assert.Contains(t, r.Text, "book appointment", "input %q", greeting)
	}
}

func TestHandlerBookingKeywordStartsFlow(t *testing.T) {
	h, store, _ := newTestHandler(t, NewDisabledAgent())

	r := h.Process(context.Background(), "u1", "I want to book an appointment", "")
	assert.Equal(t, OutcomeAdvance, r.Outcome)
	assert.Equal(t, StepSelectSpecialty, r.Step)
	assert.True(t, store.Get("u1").BookingActive())
}

func TestHandlerStartTokenStartsFlow(t *testing.T) {
	h, store, _ := newTestHandler(t, NewDisabledAgent())

	r := h.Process(context.Background(), "u1", "start", "")
	assert.Equal(t, StepSelectSpecialty, r.Step)
	assert.True(t, store.Get("u1").BookingActive())
}

func TestHandlerResetClearsMemory(t *testing.T) {
	h, store, _ := newTestHandler(t, NewDisabledAgent())
	ctx := context.Background()

	h.Process(ctx, "u1", "book appointment", "")
	require.True(t, store.Get("u1").BookingActive())

	r := h.Process(ctx, "u1", "reset", "")
	assert.Contains(t, r.Text, "cleared")
	assert.False(t, store.Get("u1").BookingActive())
	assert.Empty(t, store.Get("u1").CurrentPatientID)
}

func TestHandlerCancelBookingPhraseStopsFlow(t *testing.T) {
	h, store, _ := newTestHandler(t, NewDisabledAgent())
	ctx := context.Background()

	h.Process(ctx, "u1", "book appointment", "")
	r := h.Process(ctx, "u1", "please cancel booking", "")
	assert.Equal(t, OutcomeAborted, r.Outcome)
	assert.Contains(t, r.Text, "stopped the booking")
	assert.False(t, store.Get("u1").BookingActive())
}

func TestHandlerActiveFlowConsumesBookingWords(t *testing.T) {
	h, store, _ := newTestHandler(t, NewDisabledAgent())
	ctx := context.Background()

	h.Process(ctx, "u1", "book appointment", "")
	// Mid-flow input containing a trigger word goes to the flow, not to a
	// fresh Start.
	r := h.Process(ctx, "u1", "A", "")
	assert.Equal(t, StepSelectDoctor, r.Step)
	assert.Equal(t, StepSelectDoctor, store.Get("u1").Booking.Step)
}

func TestHandlerFallsBackToAgent(t *testing.T) {
	agent := &stubAgent{answer: "We're open 9 to 5 on weekdays."}
	h, store, _ := newTestHandler(t, agent)

	r := h.Process(context.Background(), "u1", "what are your opening hours?", "")
	assert.Equal(t, OutcomeMessage, r.Outcome)
	assert.Equal(t, "We're open 9 to 5 on weekdays.", r.Text)
	assert.Equal(t, 1, agent.calls)
	assert.Equal(t, "what are your opening hours?", agent.last)

	history := store.Get("u1").History
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestHandlerAgentFailureUsesFallbackText(t *testing.T) {
	agent := &stubAgent{err: errors.New("quota exceeded")}
	h, _, _ := newTestHandler(t, agent)

	r := h.Process(context.Background(), "u1", "tell me a joke", "")
	assert.Equal(t, OutcomeMessage, r.Outcome)
	assert.Contains(t, r.Text, "having trouble")
}

func TestHandlerViewAppointments(t *testing.T) {
	h, _, repo := newTestHandler(t, NewDisabledAgent())
	ctx := context.Background()

	require.NoError(t, repo.CreateAppointment(ctx, &booking.Appointment{
		ID:       "APPT-20250601080000",
		DoctorID: "doc_card",
		Date:     "2025-06-02",
		Time:     "9:00 AM",
		Phone:    "+15550001111",
		Status:   booking.StatusConfirmed,
	}))

	r := h.Process(ctx, "u1", "view my appointments", "+15550001111")
	assert.Equal(t, OutcomeMessage, r.Outcome)
	assert.Contains(t, r.Text, "APPT-20250601080000")
	assert.Contains(t, r.Text, "Dr. Sarah Chen")

	r = h.Process(ctx, "u2", "view my appointments", "+15550009999")
	assert.Contains(t, r.Text, "couldn't find any appointments")
}

func TestHandlerFullBookingConversation(t *testing.T) {
	h, store, repo := newTestHandler(t, NewDisabledAgent())
	ctx := context.Background()
	phone := "+15550001111"

	script := []string{"book appointment", "A", "A", "A", "morning", "A", "Jordan Lee"}
	var r Reply
	for _, msg := range script {
		r = h.Process(ctx, "u1", msg, phone)
	}
	require.Equal(t, StepConfirm, r.Step)

	r = h.Process(ctx, "u1", "chest pain follow-up", phone)
	require.Equal(t, OutcomeCompleted, r.Outcome)
	assert.False(t, store.Get("u1").BookingActive())

	appts, err := repo.ListByPhone(ctx, phone)
	require.NoError(t, err)
	require.Len(t, appts, 1)
}
