package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medichat/appointment-chatbot/internal/booking"
	"github.com/medichat/appointment-chatbot/internal/options"
	redisclient "github.com/medichat/appointment-chatbot/internal/redis"
	"github.com/medichat/appointment-chatbot/internal/schedule"
)

// Step identifies where a booking conversation currently waits for input.
type Step string

const (
	StepSelectSpecialty      Step = "select_specialty"
	StepSelectDoctor         Step = "select_doctor"
	StepSelectDate           Step = "select_date"
	StepSelectTimePreference Step = "select_time_preference"
	StepSelectTime           Step = "select_time"
	StepCollectName          Step = "collect_name"
	StepCollectPhone         Step = "collect_phone"
	StepCollectAge           Step = "collect_age"
	StepCollectGender        Step = "collect_gender"
	StepConfirm              Step = "confirm"
)

// Availability is the schedule surface the flow reads. Both the computed
// and the fixed calculator satisfy it.
type Availability interface {
	Catalog() schedule.Catalog
	AvailableSlots(ctx context.Context, doctorID, date string, pref schedule.Preference) ([]string, error)
	AvailableDates(ctx context.Context, doctorID string) ([]string, error)
	DoctorsWithAvailability(ctx context.Context) ([]booking.Doctor, error)
}

// State is the accumulating booking form. Option indexes are captured when
// a step is entered and stay frozen until it resolves, so letters keep
// their meaning across retries.
type State struct {
	Step      Step
	StartedAt time.Time

	Roster           []booking.Doctor
	SpecialtyOptions *options.Index
	DoctorOptions    *options.Index
	DateOptions      *options.Index
	SlotOptions      *options.Index

	Specialty    string
	DoctorID     string
	Date         string
	Morning      []string
	Evening      []string
	SinglePeriod bool
	Preference   schedule.Preference
	Time         string
	Name         string
	Phone        string
	Age          int
	Gender       string
	Reason       string
}

func (st *State) doctor(id string) *booking.Doctor {
	for i := range st.Roster {
		if st.Roster[i].ID == id {
			return &st.Roster[i]
		}
	}
	return nil
}

// FlowConfig tailors the flow per deployment: single-specialty clinics
// skip the specialty step, and demographics collection is optional.
type FlowConfig struct {
	SkipSpecialty       bool
	CollectDemographics bool
}

type Flow struct {
	svc   *booking.Service
	avail Availability
	cfg   FlowConfig
	log   *zap.Logger
	now   func() time.Time
}

func NewFlow(svc *booking.Service, avail Availability, cfg FlowConfig, log *zap.Logger) *Flow {
	return &Flow{
		svc:   svc,
		avail: avail,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

const (
	msgAllBooked = "We're sorry, but all of our doctors are fully booked at this time. " +
		"Please try again later or contact our office directly for assistance."
	msgSystemError = "System error: unable to process your booking right now. " +
		"Please try again later or contact our office directly. " +
		"You can also type 'reset' to clear our conversation and start over."
	msgSlotRace = "We're sorry, but this time slot has just been booked by another patient. " +
		"Please start over by asking to book an appointment."
	msgMissingPatient = "Missing patient information. The booking has been reset. " +
		"Please start over by asking to book an appointment."
	msgMissingDetails = "Missing appointment details. The booking has been reset. " +
		"Please start over by asking to book an appointment."
	msgSaveFailed = "System error: unable to save your appointment. " +
		"Please try again later or contact our office directly."
)

var dateRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// Start opens a new booking flow for the user, replacing any prior one.
func (f *Flow) Start(ctx context.Context, mem *Memory) Reply {
	doctors, err := f.avail.DoctorsWithAvailability(ctx)
	if err != nil {
		return f.systemError(mem, err)
	}
	if len(doctors) == 0 {
		mem.Booking = nil
		return Reply{Text: msgAllBooked, Outcome: OutcomeAborted}
	}

	st := &State{
		Roster:    doctors,
		StartedAt: f.now(),
	}
	mem.Booking = st

	if f.cfg.SkipSpecialty {
		return f.enterDoctorStep(st, doctors, true)
	}

	seen := make(map[string]bool)
	var specialties []string
	for _, d := range doctors {
		if !seen[d.Specialty] {
			seen[d.Specialty] = true
			specialties = append(specialties, d.Specialty)
		}
	}

	ix, err := options.FromValues(specialties)
	if err != nil {
		return f.systemError(mem, err)
	}
	st.SpecialtyOptions = ix
	st.Step = StepSelectSpecialty

	text := "Let's book your appointment. First, please select a medical specialty " +
		"by typing the corresponding letter:\n\n" + strings.Join(ix.Lines(), "\n")
	return Reply{Text: text, Buttons: buttonsFor(ix), Outcome: OutcomeAdvance, Step: st.Step}
}

// Handle advances the active flow with one user message.
func (f *Flow) Handle(ctx context.Context, mem *Memory, input, channelPhone string) Reply {
	st := mem.Booking
	if st == nil {
		return f.Start(ctx, mem)
	}

	switch st.Step {
	case StepSelectSpecialty:
		return f.handleSpecialty(st, input)
	case StepSelectDoctor:
		return f.handleDoctor(ctx, mem, st, input)
	case StepSelectDate:
		return f.handleDate(ctx, mem, st, input)
	case StepSelectTimePreference:
		return f.handleTimePreference(st, input)
	case StepSelectTime:
		return f.handleTime(st, input)
	case StepCollectName:
		return f.handleName(ctx, mem, st, input, channelPhone)
	case StepCollectPhone:
		return f.handlePhone(ctx, mem, st, input)
	case StepCollectAge:
		return f.handleAge(ctx, mem, st, input)
	case StepCollectGender:
		return f.handleGender(ctx, mem, st, input)
	case StepConfirm:
		return f.handleConfirm(ctx, mem, st, input)
	default:
		f.log.Error("unknown booking step", zap.String("step", string(st.Step)))
		mem.Booking = nil
		return Reply{Text: msgSystemError, Outcome: OutcomeError}
	}
}

func (f *Flow) handleSpecialty(st *State, input string) Reply {
	opt, ok := st.SpecialtyOptions.Resolve(input)
	if !ok {
		text := "I couldn't identify which specialty you'd like. Please select from the " +
			"options below by typing the letter:\n\n" + strings.Join(st.SpecialtyOptions.Lines(), "\n")
		return Reply{Text: text, Buttons: buttonsFor(st.SpecialtyOptions), Outcome: OutcomeRetry, Step: st.Step}
	}

	st.Specialty = opt.Value
	var matching []booking.Doctor
	for _, d := range st.Roster {
		if d.Specialty == opt.Value {
			matching = append(matching, d)
		}
	}
	return f.enterDoctorStep(st, matching, false)
}

func (f *Flow) enterDoctorStep(st *State, doctors []booking.Doctor, withSpecialty bool) Reply {
	opts := make([]options.Option, 0, len(doctors))
	for _, d := range doctors {
		display := "Dr. " + d.Name
		if withSpecialty {
			display = fmt.Sprintf("Dr. %s (%s)", d.Name, d.Specialty)
		}
		opts = append(opts, options.Option{Value: d.ID, Display: display, Alias: d.Name})
	}

	ix, err := options.NewIndex(opts)
	truncated := err != nil
	if truncated {
		ix, _ = options.NewIndex(opts[:options.MaxOptions])
	}
	st.DoctorOptions = ix
	st.Step = StepSelectDoctor

	var lead string
	if st.Specialty != "" {
		lead = fmt.Sprintf("Great! You've selected %s. ", st.Specialty)
	}
	text := lead + "Please select a doctor by typing the corresponding letter:\n\n" +
		strings.Join(ix.Lines(), "\n")
	if truncated {
		text += fmt.Sprintf("\n\nShowing the first %d doctors.", options.MaxOptions)
	}
	return Reply{Text: text, Buttons: buttonsFor(ix), Outcome: OutcomeAdvance, Step: st.Step}
}

func (f *Flow) handleDoctor(ctx context.Context, mem *Memory, st *State, input string) Reply {
	opt, ok := st.DoctorOptions.Resolve(input)
	if !ok {
		text := "I couldn't identify which doctor you'd like to see. Please select from the " +
			"options below by typing the letter:\n\n" + strings.Join(st.DoctorOptions.Lines(), "\n")
		return Reply{Text: text, Buttons: buttonsFor(st.DoctorOptions), Outcome: OutcomeRetry, Step: st.Step}
	}

	dates, err := f.avail.AvailableDates(ctx, opt.Value)
	if err != nil {
		return f.systemError(mem, err)
	}
	if len(dates) == 0 {
		st.DoctorOptions = st.DoctorOptions.Without(opt.Value)
		if st.DoctorOptions.Len() == 0 {
			mem.Booking = nil
			return Reply{Text: msgAllBooked, Outcome: OutcomeAborted}
		}
		doctor := st.doctor(opt.Value)
		text := fmt.Sprintf("I apologize, but Dr. %s has no available appointments at this time. "+
			"Please select another doctor:\n\n%s",
			doctor.Name, strings.Join(st.DoctorOptions.Lines(), "\n"))
		return Reply{Text: text, Buttons: buttonsFor(st.DoctorOptions), Outcome: OutcomeRetry, Step: st.Step}
	}

	st.DoctorID = opt.Value
	return f.enterDateStep(st, dates)
}

func (f *Flow) enterDateStep(st *State, dates []string) Reply {
	opts := make([]options.Option, 0, len(dates))
	for _, d := range dates {
		opts = append(opts, options.Option{Value: d, Display: displayDate(d)})
	}
	ix, err := options.NewIndex(opts)
	truncated := err != nil
	if truncated {
		ix, _ = options.NewIndex(opts[:options.MaxOptions])
	}
	st.DateOptions = ix
	st.Step = StepSelectDate

	doctor := st.doctor(st.DoctorID)
	text := fmt.Sprintf("When would you like your appointment with Dr. %s?\n\n"+
		"Available dates:\n%s\n\nPlease select by letter, or type a date in YYYY-MM-DD format.",
		doctor.Name, strings.Join(ix.Lines(), "\n"))
	if truncated {
		text += fmt.Sprintf("\n\nShowing the first %d dates.", options.MaxOptions)
	}
	return Reply{Text: text, Buttons: buttonsFor(ix), Outcome: OutcomeAdvance, Step: st.Step}
}

func (f *Flow) handleDate(ctx context.Context, mem *Memory, st *State, input string) Reply {
	doctor := st.doctor(st.DoctorID)

	var chosen string
	if typed := dateRe.FindString(input); typed != "" {
		for _, opt := range st.DateOptions.Options() {
			if opt.Value == typed {
				chosen = typed
				break
			}
		}
		if chosen == "" {
			text := fmt.Sprintf("I'm sorry, but %s is not available with Dr. %s. "+
				"Please select from these available dates:\n\n%s",
				typed, doctor.Name, strings.Join(st.DateOptions.Lines(), "\n"))
			return Reply{Text: text, Buttons: buttonsFor(st.DateOptions), Outcome: OutcomeRetry, Step: st.Step}
		}
	} else if opt, ok := st.DateOptions.Resolve(input); ok {
		chosen = opt.Value
	} else {
		text := "Please select one of the available dates by typing its letter, " +
			"or type a date in YYYY-MM-DD format:\n\n" + strings.Join(st.DateOptions.Lines(), "\n")
		return Reply{Text: text, Buttons: buttonsFor(st.DateOptions), Outcome: OutcomeRetry, Step: st.Step}
	}

	morning, err := f.avail.AvailableSlots(ctx, st.DoctorID, chosen, schedule.PrefMorning)
	if err != nil {
		return f.systemError(mem, err)
	}
	evening, err := f.avail.AvailableSlots(ctx, st.DoctorID, chosen, schedule.PrefEvening)
	if err != nil {
		return f.systemError(mem, err)
	}

	// The date may have filled up since it was offered.
	if len(morning) == 0 && len(evening) == 0 {
		st.DateOptions = st.DateOptions.Without(chosen)
		if st.DateOptions.Len() == 0 {
			mem.Booking = nil
			return Reply{Text: msgAllBooked, Outcome: OutcomeAborted}
		}
		text := fmt.Sprintf("I'm sorry, but %s is no longer available with Dr. %s. "+
			"Please select from these available dates:\n\n%s",
			chosen, doctor.Name, strings.Join(st.DateOptions.Lines(), "\n"))
		return Reply{Text: text, Buttons: buttonsFor(st.DateOptions), Outcome: OutcomeRetry, Step: st.Step}
	}

	st.Date = chosen
	st.Morning = morning
	st.Evening = evening
	st.Step = StepSelectTimePreference

	if len(morning) == 0 || len(evening) == 0 {
		st.SinglePeriod = true
		if len(morning) > 0 {
			st.Preference = schedule.PrefMorning
		} else {
			st.Preference = schedule.PrefEvening
		}
		text := fmt.Sprintf("Only %s slots are available with Dr. %s on %s. "+
			"Shall we continue? Please reply 'yes' to see the times.",
			st.Preference, doctor.Name, displayDate(chosen))
		return Reply{
			Text:    text,
			Buttons: []Button{{Text: "Yes", Value: "yes"}},
			Outcome: OutcomeAdvance,
			Step:    st.Step,
		}
	}

	text := fmt.Sprintf("For your appointment with Dr. %s on %s, do you prefer a morning "+
		"or an evening slot? Please reply 'morning' or 'evening'.",
		doctor.Name, displayDate(chosen))
	return Reply{
		Text: text,
		Buttons: []Button{
			{Text: "Morning", Value: "morning"},
			{Text: "Evening", Value: "evening"},
		},
		Outcome: OutcomeAdvance,
		Step:    st.Step,
	}
}

func (f *Flow) handleTimePreference(st *State, input string) Reply {
	lowered := strings.ToLower(strings.TrimSpace(input))
	doctor := st.doctor(st.DoctorID)

	if st.SinglePeriod {
		switch {
		case strings.Contains(lowered, "yes"), lowered == "y", lowered == "ok", lowered == "okay", lowered == "sure",
			strings.Contains(lowered, string(st.Preference)):
			return f.enterTimeStep(st)
		default:
			text := fmt.Sprintf("Only %s slots are available with Dr. %s on %s. "+
				"Please reply 'yes' to see the times, or type 'cancel booking' to stop.",
				st.Preference, doctor.Name, displayDate(st.Date))
			return Reply{
				Text:    text,
				Buttons: []Button{{Text: "Yes", Value: "yes"}},
				Outcome: OutcomeRetry,
				Step:    st.Step,
			}
		}
	}

	switch {
	case strings.Contains(lowered, "morning"):
		st.Preference = schedule.PrefMorning
	case strings.Contains(lowered, "evening"), strings.Contains(lowered, "afternoon"):
		st.Preference = schedule.PrefEvening
	default:
		text := fmt.Sprintf("For your appointment with Dr. %s on %s, do you prefer a morning "+
			"or an evening slot? Please reply 'morning' or 'evening'.",
			doctor.Name, displayDate(st.Date))
		return Reply{
			Text: text,
			Buttons: []Button{
				{Text: "Morning", Value: "morning"},
				{Text: "Evening", Value: "evening"},
			},
			Outcome: OutcomeRetry,
			Step:    st.Step,
		}
	}
	return f.enterTimeStep(st)
}

func (f *Flow) enterTimeStep(st *State) Reply {
	slots := st.Morning
	if st.Preference == schedule.PrefEvening {
		slots = st.Evening
	}

	ix, _ := options.FromValues(slots)
	st.SlotOptions = ix
	st.Step = StepSelectTime

	doctor := st.doctor(st.DoctorID)
	text := fmt.Sprintf("For %s with Dr. %s, these %s slots are available:\n\n%s\n\n"+
		"What time works for you?",
		displayDate(st.Date), doctor.Name, st.Preference, strings.Join(ix.Lines(), "\n"))
	return Reply{Text: text, Buttons: buttonsFor(ix), Outcome: OutcomeAdvance, Step: st.Step}
}

func (f *Flow) handleTime(st *State, input string) Reply {
	opt, ok := st.SlotOptions.Resolve(input)
	if !ok {
		doctor := st.doctor(st.DoctorID)
		text := fmt.Sprintf("Please select one of these available time slots for Dr. %s on %s:\n\n%s",
			doctor.Name, displayDate(st.Date), strings.Join(st.SlotOptions.Lines(), "\n"))
		return Reply{Text: text, Buttons: buttonsFor(st.SlotOptions), Outcome: OutcomeRetry, Step: st.Step}
	}

	st.Time = opt.Value
	st.Step = StepCollectName
	return Reply{
		Text:    "Please enter your full name for the booking:",
		Outcome: OutcomeAdvance,
		Step:    st.Step,
	}
}

func (f *Flow) handleName(ctx context.Context, mem *Memory, st *State, input, channelPhone string) Reply {
	name := strings.TrimSpace(input)
	if name == "" {
		return Reply{
			Text:    "Your name is required. Please enter your full name:",
			Outcome: OutcomeRetry,
			Step:    st.Step,
		}
	}

	st.Name = name
	f.savePartial(ctx, mem, booking.PatientUpdate{Name: &name})

	// A phone-backed channel already told us the number.
	if channelPhone != "" {
		st.Phone = channelPhone
		phone := channelPhone
		f.savePartial(ctx, mem, booking.PatientUpdate{Phone: &phone})
		return f.afterPhone(st)
	}

	st.Step = StepCollectPhone
	return Reply{
		Text:    "Thanks! Now please enter your phone number:",
		Outcome: OutcomeAdvance,
		Step:    st.Step,
	}
}

func (f *Flow) handlePhone(ctx context.Context, mem *Memory, st *State, input string) Reply {
	phone := strings.TrimSpace(input)
	if countDigits(phone) < 7 {
		return Reply{
			Text:    "That doesn't look like a valid phone number. Please enter your phone number:",
			Outcome: OutcomeRetry,
			Step:    st.Step,
		}
	}

	st.Phone = phone
	f.savePartial(ctx, mem, booking.PatientUpdate{Phone: &phone})
	return f.afterPhone(st)
}

func (f *Flow) afterPhone(st *State) Reply {
	if f.cfg.CollectDemographics {
		st.Step = StepCollectAge
		return Reply{Text: "Please enter your age:", Outcome: OutcomeAdvance, Step: st.Step}
	}
	return f.enterConfirmStep(st)
}

func (f *Flow) handleAge(ctx context.Context, mem *Memory, st *State, input string) Reply {
	age, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || age <= 0 || age >= 120 {
		return Reply{
			Text:    "That doesn't look like a valid age. Please enter your age as a number between 1 and 119:",
			Outcome: OutcomeRetry,
			Step:    st.Step,
		}
	}

	st.Age = age
	f.savePartial(ctx, mem, booking.PatientUpdate{Age: &age})
	st.Step = StepCollectGender
	return Reply{
		Text:    "Please enter your gender (male, female, or other):",
		Outcome: OutcomeAdvance,
		Step:    st.Step,
	}
}

func (f *Flow) handleGender(ctx context.Context, mem *Memory, st *State, input string) Reply {
	gender := strings.ToLower(strings.TrimSpace(input))
	switch gender {
	case "male", "female", "other":
	default:
		return Reply{
			Text:    "Please enter your gender as one of: male, female, or other:",
			Outcome: OutcomeRetry,
			Step:    st.Step,
		}
	}

	st.Gender = gender
	f.savePartial(ctx, mem, booking.PatientUpdate{Gender: &gender})
	return f.enterConfirmStep(st)
}

func (f *Flow) enterConfirmStep(st *State) Reply {
	st.Step = StepConfirm
	return Reply{
		Text:    "Lastly, please tell us the reason for your visit to confirm the appointment.",
		Outcome: OutcomeAdvance,
		Step:    st.Step,
	}
}

func (f *Flow) handleConfirm(ctx context.Context, mem *Memory, st *State, input string) Reply {
	reason := strings.TrimSpace(input)
	if reason == "" {
		return Reply{
			Text:    "Please provide a brief reason for your visit:",
			Outcome: OutcomeRetry,
			Step:    st.Step,
		}
	}
	st.Reason = reason

	if st.Name == "" || st.Phone == "" {
		mem.Booking = nil
		return Reply{Text: msgMissingPatient, Outcome: OutcomeAborted}
	}
	doctor := st.doctor(st.DoctorID)
	if doctor == nil || st.Date == "" || st.Time == "" {
		mem.Booking = nil
		return Reply{Text: msgMissingDetails, Outcome: OutcomeAborted}
	}

	patientID, err := f.svc.FindOrCreatePatient(ctx, st.Name, st.Phone)
	if err != nil {
		f.log.Error("resolve patient failed", zap.Error(err))
		mem.Booking = nil
		return Reply{Text: msgSaveFailed, Outcome: OutcomeError}
	}
	if f.cfg.CollectDemographics {
		update := booking.PatientUpdate{}
		if st.Age > 0 {
			update.Age = &st.Age
		}
		if st.Gender != "" {
			update.Gender = &st.Gender
		}
		if _, err := f.svc.SavePartialPatient(ctx, patientID, update); err != nil {
			f.log.Warn("save demographics failed", zap.Error(err))
		}
	}

	appt := &booking.Appointment{
		ID:        booking.NewAppointmentID(f.now()),
		DoctorID:  st.DoctorID,
		PatientID: patientID,
		Date:      st.Date,
		Time:      st.Time,
		Reason:    st.Reason,
		Name:      st.Name,
		Phone:     st.Phone,
		Status:    booking.StatusConfirmed,
		Specialty: doctor.Specialty,
	}

	err = f.svc.Book(ctx, appt)
	switch {
	case err == nil:
	case bookingContended(err):
		mem.Booking = nil
		return Reply{Text: msgSlotRace, Outcome: OutcomeAborted}
	default:
		f.log.Error("book appointment failed", zap.Error(err))
		mem.Booking = nil
		return Reply{Text: msgSaveFailed, Outcome: OutcomeError}
	}

	mem.CurrentPatientID = patientID
	mem.Booking = nil

	text := fmt.Sprintf("Your appointment is confirmed!\n\n"+
		"Appointment ID: %s\n"+
		"Doctor: Dr. %s (%s)\n"+
		"Date: %s\n"+
		"Time: %s\n"+
		"Patient: %s\n"+
		"Reason: %s\n\n"+
		"We look forward to seeing you. You can say 'view my appointments' at any time to review your bookings.",
		appt.ID, doctor.Name, doctor.Specialty, displayDate(appt.Date), appt.Time, appt.Name, appt.Reason)
	return Reply{Text: text, Outcome: OutcomeCompleted}
}

// savePartial persists collected details mid-flow so they survive an
// abandoned conversation. Failures are logged, not surfaced.
func (f *Flow) savePartial(ctx context.Context, mem *Memory, update booking.PatientUpdate) {
	id, err := f.svc.SavePartialPatient(ctx, mem.CurrentPatientID, update)
	if err != nil {
		f.log.Warn("save partial patient failed", zap.Error(err))
		return
	}
	mem.CurrentPatientID = id
}

func (f *Flow) systemError(mem *Memory, err error) Reply {
	f.log.Error("booking flow error", zap.Error(err))
	mem.Booking = nil
	return Reply{Text: msgSystemError, Outcome: OutcomeError}
}

// bookingContended covers both losing the database re-check and failing
// to take the slot lock at all.
func bookingContended(err error) bool {
	return errors.Is(err, booking.ErrSlotTaken) || errors.Is(err, redisclient.ErrLockNotAcquired)
}

func buttonsFor(ix *options.Index) []Button {
	opts := ix.Options()
	buttons := make([]Button, 0, len(opts))
	for i, opt := range opts {
		buttons = append(buttons, Button{Text: opt.Display, Value: options.Letter(i)})
	}
	return buttons
}

func displayDate(date string) string {
	t, err := time.Parse(booking.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Monday, January 02, 2006")
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
