package gcal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"google.golang.org/api/calendar/v3"
)

var errNoStart = errors.New("event has no start")

// RemoteEvent is the normalized, read-only view of a provider event.
// Title, Description and Location are nil when the provider has none.
type RemoteEvent struct {
	ID          string
	Title       *string
	Description *string
	Location    *string
	Start       time.Time
	End         time.Time
	IsAllDay    bool
	HTMLLink    string
}

// MarshalJSON renders all-day bounds as plain dates and timed bounds as RFC 3339.
func (e RemoteEvent) MarshalJSON() ([]byte, error) {
	layout := time.RFC3339
	if e.IsAllDay {
		layout = db.DateLayout
	}
	return json.Marshal(struct {
		ID          string  `json:"id"`
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Location    *string `json:"location"`
		Start       string  `json:"start"`
		End         string  `json:"end"`
		IsAllDay    bool    `json:"isAllDay"`
		HTMLLink    string  `json:"htmlLink,omitempty"`
	}{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.Start.Format(layout),
		End:         e.End.Format(layout),
		IsAllDay:    e.IsAllDay,
		HTMLLink:    e.HTMLLink,
	})
}

// TitleText returns the title or "" when absent.
func (e *RemoteEvent) TitleText() string {
	if e.Title == nil {
		return ""
	}
	return *e.Title
}

// fromAPI normalizes a provider event. All-day dates are read in loc.
func fromAPI(e *calendar.Event, loc *time.Location) (RemoteEvent, error) {
	if e.Start == nil {
		return RemoteEvent{}, errNoStart
	}

	ev := RemoteEvent{
		ID:          e.Id,
		Title:       optional(e.Summary),
		Description: optional(e.Description),
		Location:    optional(e.Location),
		IsAllDay:    e.Start.DateTime == "",
		HTMLLink:    e.HtmlLink,
	}

	start, err := parseEventTime(e.Start, loc)
	if err != nil {
		return RemoteEvent{}, fmt.Errorf("invalid start: %w", err)
	}
	ev.Start = start

	switch {
	case e.End != nil:
		end, err := parseEventTime(e.End, loc)
		if err != nil {
			return RemoteEvent{}, fmt.Errorf("invalid end: %w", err)
		}
		ev.End = end
	case ev.IsAllDay:
		ev.End = start.AddDate(0, 0, 1)
	default:
		ev.End = start
	}

	return ev, nil
}

func parseEventTime(t *calendar.EventDateTime, loc *time.Location) (time.Time, error) {
	if t.DateTime != "" {
		return time.Parse(time.RFC3339, t.DateTime)
	}
	if t.Date != "" {
		return time.ParseInLocation(db.DateLayout, t.Date, loc)
	}
	return time.Time{}, errNoStart
}

// toAPI converts an input into a provider event. All-day events use an
// exclusive end date, at least one day after the start.
func toAPI(in *EventInput, loc *time.Location) *calendar.Event {
	ev := &calendar.Event{
		Summary:     in.Title,
		Description: in.Description,
		Location:    in.Location,
	}

	if in.AllDay {
		start := in.Start.In(loc)
		end := in.End.In(loc)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		ev.Start = &calendar.EventDateTime{Date: start.Format(db.DateLayout)}
		ev.End = &calendar.EventDateTime{Date: end.Format(db.DateLayout)}
		return ev
	}

	ev.Start = &calendar.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: loc.String()}
	ev.End = &calendar.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: loc.String()}
	return ev
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
