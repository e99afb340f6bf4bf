package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/schedule"
)

// passLocker runs the critical section without distributed locking; the
// repository's own conflict checks still apply.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _, _, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type flowFixture struct {
	flow *Flow
	repo *booking.MemoryRepository
	svc  *booking.Service
}

func newFlowFixture(t *testing.T, cfg FlowConfig) *flowFixture {
	t.Helper()

	repo := booking.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateDoctor(ctx, &booking.Doctor{
		ID: "doc_card", Name: "Sarah Chen", Specialty: "Cardiology",
	}))
	require.NoError(t, repo.CreateDoctor(ctx, &booking.Doctor{
		ID: "doc_derm", Name: "Miguel Santos", Specialty: "Dermatology",
	}))

	svc := booking.NewService(repo, passLocker{}, zap.NewNop())
	calc := schedule.NewCalculator(repo, schedule.DefaultCatalog(), 14, 3)
	return &flowFixture{
		flow: NewFlow(svc, calc, cfg, zap.NewNop()),
		repo: repo,
		svc:  svc,
	}
}

func (fx *flowFixture) bookEverything(t *testing.T, doctorID string, days int) {
	t.Helper()
	ctx := context.Background()
	calc := schedule.NewCalculator(fx.repo, schedule.DefaultCatalog(), days, days)
	dates, err := calc.AvailableDates(ctx, doctorID)
	require.NoError(t, err)
	for _, date := range dates {
		for _, slot := range schedule.DefaultCatalog().Slots(schedule.PrefAny) {
			require.NoError(t, fx.repo.CreateAppointment(ctx, &booking.Appointment{
				ID:       fmt.Sprintf("FILL-%s-%s-%s", doctorID, date, slot),
				DoctorID: doctorID,
				Date:     date,
				Time:     slot,
				Status:   booking.StatusConfirmed,
			}))
		}
	}
}

// walkToConfirm drives a memory through the default flow up to the reason
// prompt, using letter A at every option step.
func walkToConfirm(t *testing.T, fx *flowFixture, mem *Memory, phone string) {
	t.Helper()
	ctx := context.Background()

	r := fx.flow.Start(ctx, mem)
	require.Equal(t, StepSelectSpecialty, r.Step)

	r = fx.flow.Handle(ctx, mem, "A", phone)
	require.Equal(t, StepSelectDoctor, r.Step)

	r = fx.flow.Handle(ctx, mem, "A", phone)
	require.Equal(t, StepSelectDate, r.Step)

	r = fx.flow.Handle(ctx, mem, "A", phone)
	require.Equal(t, StepSelectTimePreference, r.Step)

	r = fx.flow.Handle(ctx, mem, "morning", phone)
	require.Equal(t, StepSelectTime, r.Step)

	r = fx.flow.Handle(ctx, mem, "A", phone)
	require.Equal(t, StepCollectName, r.Step)

	r = fx.flow.Handle(ctx, mem, "Jordan Lee", phone)
	if phone == "" {
		require.Equal(t, StepCollectPhone, r.Step)
		r = fx.flow.Handle(ctx, mem, "555-123-4567", phone)
	}
	require.Equal(t, StepConfirm, r.Step)
}

func TestFlowHappyPathWithChannelPhone(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	r := fx.flow.Start(ctx, mem)
	assert.Equal(t, OutcomeAdvance, r.Outcome)
	assert.Contains(t, r.Text, "A. Cardiology")
	assert.Contains(t, r.Text, "B. Dermatology")
	require.Len(t, r.Buttons, 2)

	r = fx.flow.Handle(ctx, mem, "A", "+15550001111")
	assert.Contains(t, r.Text, "You've selected Cardiology")
	assert.Contains(t, r.Text, "A. Dr. Sarah Chen")

	r = fx.flow.Handle(ctx, mem, "A", "+15550001111")
	assert.Contains(t, r.Text, "Available dates:")

	r = fx.flow.Handle(ctx, mem, "A", "+15550001111")
	assert.Contains(t, r.Text, "morning")
	assert.Contains(t, r.Text, "evening")

	r = fx.flow.Handle(ctx, mem, "morning", "+15550001111")
	assert.Contains(t, r.Text, "A. 9:00 AM")
	assert.Contains(t, r.Text, "C. 11:00 AM")

	r = fx.flow.Handle(ctx, mem, "A", "+15550001111")
	assert.Contains(t, r.Text, "full name")

	// Channel already knows the number, so the phone step is skipped.
	r = fx.flow.Handle(ctx, mem, "Jordan Lee", "+15550001111")
	assert.Equal(t, StepConfirm, r.Step)
	assert.Contains(t, r.Text, "reason")

	r = fx.flow.Handle(ctx, mem, "annual checkup", "+15550001111")
	assert.Equal(t, OutcomeCompleted, r.Outcome)
	assert.Contains(t, r.Text, "Appointment ID: APPT-")
	assert.Contains(t, r.Text, "Dr. Sarah Chen (Cardiology)")
	assert.Contains(t, r.Text, "9:00 AM")
	assert.Nil(t, mem.Booking)

	appts, err := fx.repo.ListByPhone(ctx, "+15550001111")
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "doc_card", appts[0].DoctorID)
	assert.Equal(t, "9:00 AM", appts[0].Time)
	assert.Equal(t, "annual checkup", appts[0].Reason)
	assert.Equal(t, booking.StatusConfirmed, appts[0].Status)

	// Patient record was resolved and linked.
	p, err := fx.repo.GetPatient(ctx, appts[0].PatientID)
	require.NoError(t, err)
	assert.Equal(t, "Jordan Lee", p.Name)
	assert.False(t, booking.IsTempPatientID(appts[0].PatientID))
}

func TestFlowCollectsPhoneWithoutChannel(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	walkToConfirm(t, fx, mem, "")

	r := fx.flow.Handle(ctx, mem, "skin rash", "")
	require.Equal(t, OutcomeCompleted, r.Outcome)

	appts, err := fx.repo.ListByPhone(ctx, "555-123-4567")
	require.NoError(t, err)
	require.Len(t, appts, 1)
}

func TestFlowInvalidInputRepromptsIdentically(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	fx.flow.Start(ctx, mem)
	fx.flow.Handle(ctx, mem, "A", "")

	first := fx.flow.Handle(ctx, mem, "zzz no doctor here", "")
	second := fx.flow.Handle(ctx, mem, "something else invalid", "")

	assert.Equal(t, OutcomeRetry, first.Outcome)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Step, second.Step)
	assert.Equal(t, StepSelectDoctor, mem.Booking.Step)
}

func TestFlowRejectsUnlistedDate(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	fx.flow.Start(ctx, mem)
	fx.flow.Handle(ctx, mem, "A", "")
	fx.flow.Handle(ctx, mem, "A", "")

	r := fx.flow.Handle(ctx, mem, "1999-01-01", "")
	assert.Equal(t, OutcomeRetry, r.Outcome)
	assert.Contains(t, r.Text, "1999-01-01 is not available")
	assert.Equal(t, StepSelectDate, mem.Booking.Step)
}

func TestFlowAcceptsTypedListedDate(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	fx.flow.Start(ctx, mem)
	fx.flow.Handle(ctx, mem, "A", "")
	fx.flow.Handle(ctx, mem, "A", "")

	listed := mem.Booking.DateOptions.Options()[1].Value
	r := fx.flow.Handle(ctx, mem, listed, "")
	assert.Equal(t, OutcomeAdvance, r.Outcome)
	assert.Equal(t, listed, mem.Booking.Date)
}

func TestFlowInvalidAgeRetries(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{CollectDemographics: true})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	walkToConfirmDemographics := func() {
		fx.flow.Start(ctx, mem)
		fx.flow.Handle(ctx, mem, "A", "")
		fx.flow.Handle(ctx, mem, "A", "")
		fx.flow.Handle(ctx, mem, "A", "")
		fx.flow.Handle(ctx, mem, "morning", "")
		fx.flow.Handle(ctx, mem, "A", "")
		fx.flow.Handle(ctx, mem, "Jordan Lee", "")
		fx.flow.Handle(ctx, mem, "555-123-4567", "")
	}
	walkToConfirmDemographics()
	require.Equal(t, StepCollectAge, mem.Booking.Step)

	for _, bad := range []string{"200", "0", "-5", "thirty"} {
		r := fx.flow.Handle(ctx, mem, bad, "")
		assert.Equal(t, OutcomeRetry, r.Outcome, "input %q", bad)
		assert.Equal(t, StepCollectAge, mem.Booking.Step)
	}

	r := fx.flow.Handle(ctx, mem, "34", "")
	assert.Equal(t, StepCollectGender, r.Step)

	r = fx.flow.Handle(ctx, mem, "robot", "")
	assert.Equal(t, OutcomeRetry, r.Outcome)

	r = fx.flow.Handle(ctx, mem, "Female", "")
	require.Equal(t, StepConfirm, r.Step)

	r = fx.flow.Handle(ctx, mem, "follow-up", "")
	require.Equal(t, OutcomeCompleted, r.Outcome)

	appts, err := fx.repo.ListByPhone(ctx, "555-123-4567")
	require.NoError(t, err)
	require.Len(t, appts, 1)
	p, err := fx.repo.GetPatient(ctx, appts[0].PatientID)
	require.NoError(t, err)
	require.NotNil(t, p.Age)
	assert.Equal(t, 34, *p.Age)
	assert.Equal(t, "female", p.Gender)
}

func TestFlowNoAvailabilityAborts(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	fx.bookEverything(t, "doc_card", 14)
	fx.bookEverything(t, "doc_derm", 14)

	mem := &Memory{UserID: "u1"}
	r := fx.flow.Start(context.Background(), mem)
	assert.Equal(t, OutcomeAborted, r.Outcome)
	assert.Contains(t, r.Text, "fully booked")
	assert.Nil(t, mem.Booking)
}

func TestFlowDoctorFillsUpMidFlow(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	require.NoError(t, fx.repo.CreateDoctor(ctx, &booking.Doctor{
		ID: "doc_card2", Name: "Aisha Okafor", Specialty: "Cardiology",
	}))

	mem := &Memory{UserID: "u1"}
	fx.flow.Start(ctx, mem)
	fx.flow.Handle(ctx, mem, "A", "")
	require.Equal(t, StepSelectDoctor, mem.Booking.Step)
	require.Equal(t, 2, mem.Booking.DoctorOptions.Len())

	// Dr. Okafor fills up between the roster fetch and the pick.
	fx.bookEverything(t, "doc_card2", 14)

	r := fx.flow.Handle(ctx, mem, "A", "")
	assert.Equal(t, OutcomeRetry, r.Outcome)
	assert.Contains(t, r.Text, "Dr. Aisha Okafor has no available appointments")
	assert.Equal(t, 1, mem.Booking.DoctorOptions.Len())

	r = fx.flow.Handle(ctx, mem, "A", "")
	assert.Equal(t, StepSelectDate, r.Step)
	assert.Equal(t, "doc_card", mem.Booking.DoctorID)
}

func TestFlowResolvesDoctorByRawName(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	fx.flow.Start(ctx, mem)
	r := fx.flow.Handle(ctx, mem, "A", "")
	require.Equal(t, StepSelectDoctor, r.Step)

	// The stored name, without the "Dr." prefix the prompt shows.
	r = fx.flow.Handle(ctx, mem, "Sarah Chen", "")
	assert.Equal(t, OutcomeAdvance, r.Outcome)
	assert.Equal(t, StepSelectDate, r.Step)
	assert.Equal(t, "doc_card", mem.Booking.DoctorID)
}

func TestFlowResolvesDoctorByNameWithSpecialtySuffix(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{SkipSpecialty: true})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	r := fx.flow.Start(ctx, mem)
	require.Equal(t, StepSelectDoctor, r.Step)
	require.Contains(t, r.Text, "(Dermatology)")

	// Typed name lacks the specialty suffix the display carries.
	r = fx.flow.Handle(ctx, mem, "Dr. Miguel Santos", "")
	assert.Equal(t, OutcomeAdvance, r.Outcome)
	assert.Equal(t, StepSelectDate, r.Step)
	assert.Equal(t, "doc_derm", mem.Booking.DoctorID)
}

func TestFlowLargeRosterShowsFirstPage(t *testing.T) {
	repo := booking.NewMemoryRepository()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		require.NoError(t, repo.CreateDoctor(ctx, &booking.Doctor{
			ID:        fmt.Sprintf("doc_%02d", i),
			Name:      fmt.Sprintf("Doctor %02d", i),
			Specialty: "Cardiology",
		}))
	}
	svc := booking.NewService(repo, passLocker{}, zap.NewNop())
	calc := schedule.NewCalculator(repo, schedule.DefaultCatalog(), 14, 3)
	flow := NewFlow(svc, calc, FlowConfig{SkipSpecialty: true}, zap.NewNop())

	mem := &Memory{UserID: "u1"}
	r := flow.Start(ctx, mem)
	require.Equal(t, StepSelectDoctor, r.Step)
	assert.Contains(t, r.Text, "Showing the first 26 doctors.")
	assert.Len(t, r.Buttons, 26)
	assert.Equal(t, 26, mem.Booking.DoctorOptions.Len())
}

func TestFlowSinglePeriodCollapsesToYes(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()

	// Fill every morning slot on doc_derm's first open date.
	calc := schedule.NewCalculator(fx.repo, schedule.DefaultCatalog(), 14, 1)
	dates, err := calc.AvailableDates(ctx, "doc_derm")
	require.NoError(t, err)
	require.NotEmpty(t, dates)
	for _, slot := range schedule.DefaultCatalog().Morning {
		require.NoError(t, fx.repo.CreateAppointment(ctx, &booking.Appointment{
			ID:       "FILL-" + slot,
			DoctorID: "doc_derm",
			Date:     dates[0],
			Time:     slot,
			Status:   booking.StatusConfirmed,
		}))
	}

	mem := &Memory{UserID: "u1"}
	fx.flow.Start(ctx, mem)
	fx.flow.Handle(ctx, mem, "B", "")
	r := fx.flow.Handle(ctx, mem, "A", "")
	require.Equal(t, StepSelectDate, r.Step)

	r = fx.flow.Handle(ctx, mem, "A", "")
	require.Equal(t, StepSelectTimePreference, r.Step)
	assert.Contains(t, r.Text, "Only evening slots are available")
	assert.True(t, mem.Booking.SinglePeriod)

	// Morning is not on offer; the step retries until the user accepts.
	r = fx.flow.Handle(ctx, mem, "no thanks, morning please", "")
	assert.Equal(t, OutcomeRetry, r.Outcome)

	r = fx.flow.Handle(ctx, mem, "yes", "")
	assert.Equal(t, StepSelectTime, r.Step)
	assert.Contains(t, r.Text, "1:00 PM")
	assert.NotContains(t, r.Text, "9:00 AM")
}

func TestFlowSlotRaceAtConfirm(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()

	first := &Memory{UserID: "u1"}
	second := &Memory{UserID: "u2"}
	walkToConfirm(t, fx, first, "+15550001111")
	walkToConfirm(t, fx, second, "+15550002222")

	r := fx.flow.Handle(ctx, first, "checkup", "+15550001111")
	require.Equal(t, OutcomeCompleted, r.Outcome)

	r = fx.flow.Handle(ctx, second, "checkup", "+15550002222")
	assert.Equal(t, OutcomeAborted, r.Outcome)
	assert.Contains(t, r.Text, "just been booked by another patient")
	assert.Nil(t, second.Booking)
}

func TestFlowAbortLeavesNoResidue(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()

	first := &Memory{UserID: "u1"}
	second := &Memory{UserID: "u2"}
	walkToConfirm(t, fx, first, "+15550001111")
	walkToConfirm(t, fx, second, "+15550002222")

	r := fx.flow.Handle(ctx, first, "checkup", "+15550001111")
	require.Equal(t, OutcomeCompleted, r.Outcome)
	r = fx.flow.Handle(ctx, second, "checkup", "+15550002222")
	require.Equal(t, OutcomeAborted, r.Outcome)

	// A fresh start after the abort carries nothing over.
	r = fx.flow.Start(ctx, second)
	require.Equal(t, OutcomeAdvance, r.Outcome)
	st := second.Booking
	assert.Equal(t, StepSelectSpecialty, st.Step)
	assert.Empty(t, st.DoctorID)
	assert.Empty(t, st.Date)
	assert.Empty(t, st.Time)
	assert.Empty(t, st.Name)
}

func TestFlowSkipSpecialtyStartsAtDoctors(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{SkipSpecialty: true})
	mem := &Memory{UserID: "u1"}

	r := fx.flow.Start(context.Background(), mem)
	assert.Equal(t, StepSelectDoctor, r.Step)
	assert.Contains(t, r.Text, "Dr. Sarah Chen (Cardiology)")
	assert.Contains(t, r.Text, "Dr. Miguel Santos (Dermatology)")
}

func TestFlowPartialPatientSavedMidFlow(t *testing.T) {
	fx := newFlowFixture(t, FlowConfig{})
	ctx := context.Background()
	mem := &Memory{UserID: "u1"}

	fx.flow.Start(ctx, mem)
	fx.flow.Handle(ctx, mem, "A", "")
	fx.flow.Handle(ctx, mem, "A", "")
	fx.flow.Handle(ctx, mem, "A", "")
	fx.flow.Handle(ctx, mem, "evening", "")
	fx.flow.Handle(ctx, mem, "A", "")
	fx.flow.Handle(ctx, mem, "Jordan Lee", "")

	require.NotEmpty(t, mem.CurrentPatientID)
	assert.True(t, booking.IsTempPatientID(mem.CurrentPatientID))

	p, err := fx.repo.GetPatient(ctx, mem.CurrentPatientID)
	require.NoError(t, err)
	assert.Equal(t, "Jordan Lee", p.Name)
}
