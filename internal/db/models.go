package db

import (
	"time"
)

// DateLayout is the storage and wire format of calendar dates.
const DateLayout = "2006-01-02"

// Priority represents a task priority.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

// ValidPriorities contains all valid priority values.
var ValidPriorities = map[Priority]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
}

// IsValid returns true if the priority is a known valid value.
func (p Priority) IsValid() bool {
	return ValidPriorities[p]
}

// StoredCredential is the Google Calendar credential embedded in a user row.
// Only the token manager writes it. When Connected is true the access token
// cipher is set and must decrypt under the current vault key.
type StoredCredential struct {
	Connected          bool      `json:"connected"`
	AccessTokenCipher  string    `json:"-"`
	RefreshTokenCipher *string   `json:"-"`
	Expiry             time.Time `json:"expiry"`
	RemoteAccountEmail *string   `json:"remote_account_email"`
}

// User represents a user in the system.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a to-do item that may be mirrored as a single calendar event.
// RemoteEventID is only ever set while SyncEnabled is true.
type Task struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Title         string     `json:"title"`
	Detail        string     `json:"detail"`
	Category      string     `json:"category"`
	Priority      Priority   `json:"priority"`
	Completed     bool       `json:"completed"`
	DueDate       *time.Time `json:"due_date"`
	StartTime     *time.Time `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	SyncEnabled   bool       `json:"sync_with_calendar"`
	RemoteEventID *string    `json:"remote_event_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Schedule returns the event window for the task. Start is StartTime, or
// DueDate when no start is set. ok is false when neither is present.
// End is nil when the task has no explicit end.
func (t *Task) Schedule() (start time.Time, end *time.Time, ok bool) {
	switch {
	case t.StartTime != nil:
		start = *t.StartTime
	case t.DueDate != nil:
		start = *t.DueDate
	default:
		return time.Time{}, nil, false
	}
	if t.EndTime != nil && t.EndTime.After(start) {
		end = t.EndTime
	}
	return start, end, true
}

// Semester is the date range that scopes timetable slots.
// StartDate and EndDate carry a calendar date only (midnight UTC).
type Semester struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimetableSlot is a weekly recurring class.
type TimetableSlot struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SemesterID  string    `json:"semester_id"`
	DayOfWeek   int       `json:"day_of_week"` // 0 = Sunday ... 6 = Saturday
	Subject     string    `json:"subject"`
	StartTime   string    `json:"start_time"` // "HH:MM", 24-hour
	EndTime     string    `json:"end_time"`
	Location    string    `json:"location"`
	Instructor  string    `json:"instructor"`
	Notes       string    `json:"notes"`
	SyncEnabled bool      `json:"sync_with_calendar"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SlotEvent tracks one remote event created for a slot occurrence.
type SlotEvent struct {
	ID             string    `json:"id"`
	SlotID         string    `json:"slot_id"`
	RemoteEventID  string    `json:"remote_event_id"`
	OccurrenceDate string    `json:"occurrence_date"`
	CreatedAt      time.Time `json:"created_at"`
}
