// Package export renders timetables as iCalendar feeds.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/gcal"
	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

const productID = "-//SmartSched//Timetable//EN"

var weekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Timetable writes one weekly recurring VEVENT per slot, bounded by the
// semester. Slots whose weekday never falls inside the semester are left
// out. Times are written in loc.
func Timetable(w io.Writer, sem *db.Semester, slots []*db.TimetableSlot, loc *time.Location, stamp time.Time) error {
	if loc == nil {
		loc = time.UTC
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropCalendarScale, "GREGORIAN")

	ey, em, ed := sem.EndDate.Date()
	until := time.Date(ey, em, ed, 23, 59, 59, 0, loc)

	for _, slot := range slots {
		first, err := gcal.Occurrences(slot, sem, sem.StartDate, loc, 1)
		if err != nil {
			return fmt.Errorf("slot %s: %w", slot.ID, err)
		}
		if len(first) == 0 {
			continue
		}

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, slot.ID+"@smartsched")
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
		event.Props.SetDateTime(ical.PropDateTimeStart, first[0].Start)
		event.Props.SetDateTime(ical.PropDateTimeEnd, first[0].End)
		event.Props.SetText(ical.PropSummary, slot.Subject)
		if desc := gcal.ClassDescription(slot); desc != "" {
			event.Props.SetText(ical.PropDescription, desc)
		}
		if slot.Location != "" {
			event.Props.SetText(ical.PropLocation, slot.Location)
		}

		rule := rrule.ROption{
			Freq:      rrule.WEEKLY,
			Byweekday: []rrule.Weekday{weekdays[slot.DayOfWeek]},
			Until:     until.UTC(),
		}
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule.RRuleString()
		event.Props.Set(prop)

		cal.Children = append(cal.Children, event.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}
