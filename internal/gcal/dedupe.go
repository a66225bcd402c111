package gcal

import (
	"strings"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
)

// FilterExternal drops events that mirror a timetable slot: the trimmed,
// case-folded title equals a slot subject and the event falls on the slot's
// weekday in loc. The remaining events are the user's own.
func FilterExternal(events []RemoteEvent, slots []*db.TimetableSlot, loc *time.Location) []RemoteEvent {
	if loc == nil {
		loc = time.UTC
	}

	subjects := make(map[time.Weekday]map[string]bool)
	for _, slot := range slots {
		day := time.Weekday(slot.DayOfWeek)
		if subjects[day] == nil {
			subjects[day] = make(map[string]bool)
		}
		subjects[day][normalizeTitle(slot.Subject)] = true
	}

	out := make([]RemoteEvent, 0, len(events))
	for _, ev := range events {
		if ev.Title != nil && subjects[ev.Start.In(loc).Weekday()][normalizeTitle(*ev.Title)] {
			continue
		}
		out = append(out, ev)
	}

	return out
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
