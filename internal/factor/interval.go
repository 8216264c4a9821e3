package factor

import (
	"fmt"
	"time"
)

// Interval is an inclusive date window. Start counts from 00:00:00 of its calendar day and
// End runs through 23:59:59 of its day, both in UTC, which is how fact dates are loaded.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds an Interval from exactly two endpoints.
func NewInterval(points ...time.Time) (Interval, error) {
	if len(points) != 2 {
		return Interval{}, fmt.Errorf("%w: need 2 endpoints, got %d", ErrInvalidInterval, len(points))
	}
	iv := Interval{Start: points[0], End: points[1]}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate rejects unset intervals and intervals ending before they start.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("%w: missing endpoint", ErrInvalidInterval)
	}
	if iv.lower().After(iv.upper()) {
		return fmt.Errorf("%w: end %s precedes start %s", ErrInvalidInterval, iv.End.Format(time.DateOnly), iv.Start.Format(time.DateOnly))
	}
	return nil
}

// Contains reports whether t falls inside the window.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.lower()) && !t.After(iv.upper())
}

func (iv Interval) lower() time.Time {
	y, m, d := iv.Start.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (iv Interval) upper() time.Time {
	y, m, d := iv.End.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// String renders the window as dd.mm.yyyy - dd.mm.yyyy.
func (iv Interval) String() string {
	return iv.Start.Format("02.01.2006") + " - " + iv.End.Format("02.01.2006")
}

// DefaultPeriods returns the standard comparison windows relative to now: the base
// period starts monthsBack months before the current month, the fact period covers
// the periodMonths months preceding the current month, and both span whole months.
// The current month is taken from now's own calendar; the windows are in UTC.
func DefaultPeriods(now time.Time, monthsBack, periodMonths int) (base, fact Interval) {
	cur := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	baseStart := cur.AddDate(0, -monthsBack, 0)
	base = Interval{Start: baseStart, End: baseStart.AddDate(0, periodMonths, -1)}

	fact = Interval{Start: cur.AddDate(0, -periodMonths, 0), End: cur.AddDate(0, 0, -1)}
	return base, fact
}
