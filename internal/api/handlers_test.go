package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/chat"
	"github.com/medichat/appointment-chatbot/internal/schedule"
	"github.com/medichat/appointment-chatbot/internal/whatsapp"
)

type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _, _, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type apiFixture struct {
	router http.Handler
	repo   *booking.MemoryRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := booking.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateDoctor(ctx, &booking.Doctor{
		ID: "doc_card", Name: "Sarah Chen", Specialty: "Cardiology",
	}))

	log := zap.NewNop()
	svc := booking.NewService(repo, passLocker{}, log)
	calc := schedule.NewCalculator(repo, schedule.DefaultCatalog(), 14, 3)
	flow := chat.NewFlow(svc, calc, chat.FlowConfig{}, log)
	handler := chat.NewHandler(chat.NewStore(), flow, repo, chat.NewDisabledAgent(), log)

	router := NewRouter(RouterConfig{
		Chat:     handler,
		Service:  svc,
		Repo:     repo,
		Avail:    calc,
		WhatsApp: whatsapp.NewClient("", "", "", log),
		Logger:   log,
	})
	return &apiFixture{router: router, repo: repo}
}

func (fx *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func (fx *apiFixture) seedAppointment(t *testing.T, id string) {
	t.Helper()
	tomorrow := time.Now().AddDate(0, 0, 1).Format(booking.DateLayout)
	require.NoError(t, fx.repo.CreateAppointment(context.Background(), &booking.Appointment{
		ID:       id,
		DoctorID: "doc_card",
		Date:     tomorrow,
		Time:     "9:00 AM",
		Phone:    "+15550001111",
		Name:     "Jordan Lee",
		Status:   booking.StatusConfirmed,
	}))
}

func TestChatEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/chat", ChatRequest{UserID: "u1", Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Response.Text, "book appointment")
	assert.Equal(t, chat.OutcomeMessage, resp.Response.Outcome)
}

func TestChatEndpointStartsBooking(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/chat", ChatRequest{UserID: "u1", Message: "book appointment"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, chat.StepSelectSpecialty, resp.Response.Step)
	assert.NotEmpty(t, resp.Response.Buttons)
}

func TestChatEndpointValidation(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/chat", ChatRequest{UserID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString("not json"))
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGupshupWebhook(t *testing.T) {
	fx := newAPIFixture(t)

	hook := GupshupWebhook{Type: "message"}
	hook.Payload.Type = "text"
	hook.Payload.Sender.Phone = "15550001111"
	hook.Payload.Payload.Text = "hi"

	rec := fx.do(t, http.MethodPost, "/webhook/gupshup", hook)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGupshupWebhookIgnoresNonText(t *testing.T) {
	fx := newAPIFixture(t)

	hook := GupshupWebhook{Type: "message"}
	hook.Payload.Type = "image"
	hook.Payload.Sender.Phone = "15550001111"

	rec := fx.do(t, http.MethodPost, "/webhook/gupshup", hook)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
}

func TestListAppointments(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedAppointment(t, "APPT-1")

	rec := fx.do(t, http.MethodGet, "/api/v1/appointments?phone=%2B15550001111", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list AppointmentList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "APPT-1", list.Appointments[0].ID)

	rec = fx.do(t, http.MethodGet, "/api/v1/appointments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAppointment(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedAppointment(t, "APPT-1")

	rec := fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "appointment cancelled")

	// Cancelling again reports idempotently.
	rec = fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-1/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already cancelled")

	rec = fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRescheduleThreePhase(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedAppointment(t, "APPT-1")

	// Phase one: no body returns date options.
	rec := fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-1/reschedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var opts RescheduleOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	require.NotEmpty(t, opts.Dates)

	// Phase two: a date returns time options.
	rec = fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-1/reschedule",
		RescheduleRequest{Date: opts.Dates[0]})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	require.NotEmpty(t, opts.Times)

	// Phase three: date and time perform the move.
	rec = fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-1/reschedule",
		RescheduleRequest{Date: opts.Dates[0], Time: opts.Times[0]})
	require.Equal(t, http.StatusOK, rec.Code)

	var moved booking.Appointment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	assert.True(t, moved.Rescheduled)
	assert.Equal(t, opts.Times[0], moved.Time)
}

func TestRescheduleConflict(t *testing.T) {
	fx := newAPIFixture(t)
	fx.seedAppointment(t, "APPT-1")

	tomorrow := time.Now().AddDate(0, 0, 1).Format(booking.DateLayout)
	require.NoError(t, fx.repo.CreateAppointment(context.Background(), &booking.Appointment{
		ID:       "APPT-2",
		DoctorID: "doc_card",
		Date:     tomorrow,
		Time:     "10:00 AM",
		Status:   booking.StatusConfirmed,
	}))

	rec := fx.do(t, http.MethodPost, "/api/v1/appointments/APPT-1/reschedule",
		RescheduleRequest{Date: tomorrow, Time: "10:00 AM"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListDoctors(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodGet, "/api/v1/doctors", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doctors []booking.Doctor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doctors))
	require.Len(t, doctors, 1)
	assert.Equal(t, "Sarah Chen", doctors[0].Name)
}
