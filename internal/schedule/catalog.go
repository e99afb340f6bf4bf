// Package schedule computes which dates and slots a doctor can still be
// booked for, as the difference between the clinic's slot catalog and the
// live appointments on record.
package schedule

// Preference narrows the slot catalog to one period of the day.
type Preference string

const (
	PrefAny     Preference = ""
	PrefMorning Preference = "morning"
	PrefEvening Preference = "evening"
)

// Catalog is the fixed set of bookable slot labels per day, in display
// order. Every doctor shares the same catalog.
type Catalog struct {
	Morning []string
	Evening []string
}

func DefaultCatalog() Catalog {
	return Catalog{
		Morning: []string{"9:00 AM", "10:00 AM", "11:00 AM"},
		Evening: []string{"1:00 PM", "2:00 PM", "3:00 PM"},
	}
}

// Slots returns the catalog entries for the preference, morning before
// evening when no preference is given.
func (c Catalog) Slots(pref Preference) []string {
	switch pref {
	case PrefMorning:
		return c.Morning
	case PrefEvening:
		return c.Evening
	default:
		all := make([]string, 0, len(c.Morning)+len(c.Evening))
		all = append(all, c.Morning...)
		all = append(all, c.Evening...)
		return all
	}
}
