package gcal

import (
	"errors"
	"fmt"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/teambition/rrule-go"
)

const clockLayout = "15:04"

// ErrInvalidSlotTime is returned for unparseable or inverted slot times.
var ErrInvalidSlotTime = errors.New("invalid slot time")

var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Occurrence is one dated instance of a weekly slot.
type Occurrence struct {
	Date  string
	Start time.Time
	End   time.Time
}

// Occurrences returns up to limit weekly occurrences of the slot within the
// semester, starting with the first one on or after from's calendar day.
// Both semester bounds are inclusive. A limit of zero or less means no cap.
func Occurrences(slot *db.TimetableSlot, sem *db.Semester, from time.Time, loc *time.Location, limit int) ([]Occurrence, error) {
	if slot.DayOfWeek < 0 || slot.DayOfWeek > 6 {
		return nil, fmt.Errorf("day of week %d out of range", slot.DayOfWeek)
	}

	startClock, endClock, err := ParseSlotTimes(slot.StartTime, slot.EndTime)
	if err != nil {
		return nil, err
	}

	first := dateIn(sem.StartDate, loc)
	today := dateIn(from.In(loc), loc)
	if today.After(first) {
		first = today
	}
	ey, em, ed := sem.EndDate.Date()
	last := time.Date(ey, em, ed, 23, 59, 59, 0, loc)
	if first.After(last) {
		return nil, nil
	}

	opts := rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{weekdays[slot.DayOfWeek]},
		Dtstart:   first,
		Until:     last,
	}
	if limit > 0 {
		opts.Count = limit
	}

	rule, err := rrule.NewRRule(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build recurrence: %w", err)
	}

	dates := rule.All()
	out := make([]Occurrence, 0, len(dates))
	for _, d := range dates {
		y, m, day := d.In(loc).Date()
		out = append(out, Occurrence{
			Date:  d.In(loc).Format(db.DateLayout),
			Start: time.Date(y, m, day, startClock.Hour(), startClock.Minute(), 0, 0, loc),
			End:   time.Date(y, m, day, endClock.Hour(), endClock.Minute(), 0, 0, loc),
		})
	}

	return out, nil
}

// ParseSlotTimes parses "HH:MM" start and end times. End must be after start.
func ParseSlotTimes(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(clockLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q", ErrInvalidSlotTime, start)
	}
	e, err := time.Parse(clockLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q", ErrInvalidSlotTime, end)
	}
	if !e.After(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is not after start %s", ErrInvalidSlotTime, end, start)
	}
	return s, e, nil
}

// dateIn returns midnight of t's calendar date in loc. Semester dates are
// stored as midnight UTC, so their Y/M/D is taken as is.
func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
