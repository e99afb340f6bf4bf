package schedule

import (
	"context"
	"time"

	"github.com/medichat/appointment-chatbot/internal/booking"
)

// Store is the slice of the booking repository the calculator reads.
type Store interface {
	ListDoctors(ctx context.Context) ([]booking.Doctor, error)
	ListActiveByDoctorDate(ctx context.Context, doctorID, date string) ([]booking.Appointment, error)
}

// Calculator derives open slots from live appointments. An empty result is
// normal fully-booked output, never an error.
type Calculator struct {
	store   Store
	catalog Catalog
	horizon int
	dateCap int
	now     func() time.Time
}

// NewCalculator scans up to horizon days starting tomorrow and returns at
// most dateCap open dates per doctor.
func NewCalculator(store Store, catalog Catalog, horizon, dateCap int) *Calculator {
	return &Calculator{
		store:   store,
		catalog: catalog,
		horizon: horizon,
		dateCap: dateCap,
		now:     time.Now,
	}
}

func (c *Calculator) Catalog() Catalog {
	return c.catalog
}

// AvailableSlots returns the catalog slots for the preference that have no
// live appointment for the doctor on the date, preserving catalog order.
func (c *Calculator) AvailableSlots(ctx context.Context, doctorID, date string, pref Preference) ([]string, error) {
	appts, err := c.store.ListActiveByDoctorDate(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]bool, len(appts))
	for _, a := range appts {
		taken[a.Time] = true
	}

	var open []string
	for _, slot := range c.catalog.Slots(pref) {
		if !taken[slot] {
			open = append(open, slot)
		}
	}
	return open, nil
}

// AvailableDates walks the scan window day by day, starting tomorrow, and
// collects dates where the doctor has at least one open slot, up to the
// date cap.
func (c *Calculator) AvailableDates(ctx context.Context, doctorID string) ([]string, error) {
	var dates []string
	today := c.now()
	for day := 1; day <= c.horizon && len(dates) < c.dateCap; day++ {
		date := today.AddDate(0, 0, day).Format(booking.DateLayout)
		open, err := c.AvailableSlots(ctx, doctorID, date, PrefAny)
		if err != nil {
			return nil, err
		}
		if len(open) > 0 {
			dates = append(dates, date)
		}
	}
	return dates, nil
}

// HasAvailability reports whether the doctor has any open slot within the
// scan window.
func (c *Calculator) HasAvailability(ctx context.Context, doctorID string) (bool, error) {
	today := c.now()
	for day := 1; day <= c.horizon; day++ {
		date := today.AddDate(0, 0, day).Format(booking.DateLayout)
		open, err := c.AvailableSlots(ctx, doctorID, date, PrefAny)
		if err != nil {
			return false, err
		}
		if len(open) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// DoctorsWithAvailability filters the doctor roster down to those with at
// least one bookable slot in the scan window.
func (c *Calculator) DoctorsWithAvailability(ctx context.Context) ([]booking.Doctor, error) {
	doctors, err := c.store.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}

	var open []booking.Doctor
	for _, d := range doctors {
		has, err := c.HasAvailability(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if has {
			open = append(open, d)
		}
	}
	return open, nil
}
