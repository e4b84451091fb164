package scheduler

import (
	"fmt"
	"time"

	"github.com/romiteld/crm-sync-engine/internal/store"
)

// deliveryHour is the local hour every cadence anchors to (spec.md §4.4).
const deliveryHour = 9

// NextAnchor computes the next local delivery time after `from` for the
// given cadence, in the subscriber's timezone. The returned time always
// carries tz's location so later arithmetic (DST transitions, month
// rollover) stays correct.
func NextAnchor(cadence store.Cadence, tz string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: unknown timezone %q: %w", tz, err)
	}
	local := from.In(loc)

	switch cadence {
	case store.CadenceDaily:
		return atHour(local.AddDate(0, 0, 1), loc), nil
	case store.CadenceWeekly:
		return atHour(nextWeekday(local, time.Monday), loc), nil
	case store.CadenceBiweekly:
		nextMonday := nextWeekday(local, time.Monday)
		return atHour(nextMonday.AddDate(0, 0, 14), loc), nil
	case store.CadenceMonthly:
		firstOfNext := time.Date(local.Year(), local.Month()+1, 1, 0, 0, 0, 0, loc)
		return atHour(firstOfNext, loc), nil
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown cadence %q", cadence)
	}
}

// atHour pins date (ignoring its time-of-day) to deliveryHour:00:00 local.
func atHour(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), deliveryHour, 0, 0, 0, loc)
}

// nextWeekday returns the next date (strictly after `from`'s calendar day)
// that falls on weekday. "This Monday" means the Monday of the upcoming
// week, never today even if today is already weekday.
func nextWeekday(from time.Time, weekday time.Weekday) time.Time {
	daysUntil := (int(weekday) - int(from.Weekday()) + 7) % 7
	if daysUntil == 0 {
		daysUntil = 7
	}
	return from.AddDate(0, 0, daysUntil)
}
