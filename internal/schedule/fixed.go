package schedule

import (
	"context"
	"time"

	"github.com/medichat/appointment-chatbot/internal/booking"
)

// FixedCalculator always offers the full catalog regardless of booked
// appointments. It serves demos and load drivers where a deterministic
// slot list matters more than correctness; double bookings are still
// rejected at the service layer.
type FixedCalculator struct {
	store   Store
	catalog Catalog
	dateCap int
	now     func() time.Time
}

func NewFixedCalculator(store Store, catalog Catalog, dateCap int) *FixedCalculator {
	return &FixedCalculator{
		store:   store,
		catalog: catalog,
		dateCap: dateCap,
		now:     time.Now,
	}
}

func (c *FixedCalculator) Catalog() Catalog {
	return c.catalog
}

func (c *FixedCalculator) AvailableSlots(_ context.Context, _, _ string, pref Preference) ([]string, error) {
	return c.catalog.Slots(pref), nil
}

func (c *FixedCalculator) AvailableDates(_ context.Context, _ string) ([]string, error) {
	dates := make([]string, 0, c.dateCap)
	today := c.now()
	for day := 1; day <= c.dateCap; day++ {
		dates = append(dates, today.AddDate(0, 0, day).Format(booking.DateLayout))
	}
	return dates, nil
}

func (c *FixedCalculator) HasAvailability(_ context.Context, _ string) (bool, error) {
	return true, nil
}

func (c *FixedCalculator) DoctorsWithAvailability(ctx context.Context) ([]booking.Doctor, error) {
	return c.store.ListDoctors(ctx)
}
