package gcal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryCalendar is an in-memory EventService that records every call.
type memoryCalendar struct {
	mu        sync.Mutex
	events    map[string]RemoteEvent
	nextID    int
	calls     []string
	failEvery map[int]error // insert number -> error
	inserts   int
	deleteErr map[string]error
}

func newMemoryCalendar() *memoryCalendar {
	return &memoryCalendar{events: make(map[string]RemoteEvent), failEvery: map[int]error{}, deleteErr: map[string]error{}}
}

func (m *memoryCalendar) ListEvents(_ context.Context, _ ListOptions) ([]RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "list")
	out := make([]RemoteEvent, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	return out, nil
}

func (m *memoryCalendar) InsertEvent(_ context.Context, in *EventInput) (*RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "insert")
	m.inserts++
	if err := m.failEvery[m.inserts]; err != nil {
		return nil, err
	}
	m.nextID++
	ev := toRemote(fmt.Sprintf("evt-%d", m.nextID), in)
	m.events[ev.ID] = ev
	return &ev, nil
}

func (m *memoryCalendar) UpdateEvent(_ context.Context, id string, in *EventInput) (*RemoteEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "update")
	if _, ok := m.events[id]; !ok {
		return nil, ErrEventNotFound
	}
	ev := toRemote(id, in)
	m.events[id] = ev
	return &ev, nil
}

func (m *memoryCalendar) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "delete")
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := m.events[id]; !ok {
		return ErrEventNotFound
	}
	delete(m.events, id)
	return nil
}

func (m *memoryCalendar) put(ev RemoteEvent) {
	m.events[ev.ID] = ev
}

func toRemote(id string, in *EventInput) RemoteEvent {
	return RemoteEvent{
		ID:          id,
		Title:       optional(in.Title),
		Description: optional(in.Description),
		Location:    optional(in.Location),
		Start:       in.Start,
		End:         in.End,
		IsAllDay:    in.AllDay,
	}
}

type staticClients struct {
	svc EventService
	err error
}

func (s *staticClients) Client(context.Context, string) (EventService, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.svc, nil
}

var testNow = time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC) // a Wednesday

func newTestEngine(svc EventService) *Engine {
	e := NewEngine(&staticClients{svc: svc}, EngineConfig{Location: time.UTC, RequestDelay: -1})
	e.now = func() time.Time { return testNow }
	return e
}

func strPtr(s string) *string { return &s }

func TestSyncTaskTransitions(t *testing.T) {
	ctx := context.Background()
	due := time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)

	t.Run("enabled without id creates one event", func(t *testing.T) {
		cal := newMemoryCalendar()
		task := &db.Task{ID: "t1", Title: "Essay", Priority: db.PriorityHigh, Category: "School", DueDate: &due, SyncEnabled: true}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskCreated, res.Outcome)
		require.NotNil(t, res.RemoteEventID)
		require.Len(t, cal.events, 1)

		ev := cal.events[*res.RemoteEventID]
		assert.Equal(t, "📋 Essay", *ev.Title)
		assert.Equal(t, "Task from SmartSched\n\nPriority: High\nCategory: School", *ev.Description)
		assert.True(t, ev.End.Equal(due.Add(time.Hour)), "end defaults to one hour after start")
	})

	t.Run("explicit end is kept", func(t *testing.T) {
		cal := newMemoryCalendar()
		start := due
		end := due.Add(3 * time.Hour)
		task := &db.Task{ID: "t1", Title: "Exam", StartTime: &start, EndTime: &end, SyncEnabled: true}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.True(t, cal.events[*res.RemoteEventID].End.Equal(end))
	})

	t.Run("enabled without schedule is skipped", func(t *testing.T) {
		cal := newMemoryCalendar()
		task := &db.Task{ID: "t1", Title: "Someday", SyncEnabled: true}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskUnscheduled, res.Outcome)
		assert.Nil(t, res.RemoteEventID)
		assert.Empty(t, cal.calls)
	})

	t.Run("enabled with id updates in place", func(t *testing.T) {
		cal := newMemoryCalendar()
		cal.put(RemoteEvent{ID: "evt-9", Title: strPtr("old")})
		task := &db.Task{ID: "t1", Title: "New title", DueDate: &due, SyncEnabled: true, RemoteEventID: strPtr("evt-9")}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskUpdated, res.Outcome)
		assert.Equal(t, "evt-9", *res.RemoteEventID)
		assert.Equal(t, "📋 New title", *cal.events["evt-9"].Title)
		assert.Len(t, cal.events, 1)
	})

	t.Run("enabled with id recreates when gone remotely", func(t *testing.T) {
		cal := newMemoryCalendar()
		task := &db.Task{ID: "t1", Title: "Essay", DueDate: &due, SyncEnabled: true, RemoteEventID: strPtr("vanished")}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskRecreated, res.Outcome)
		require.NotNil(t, res.RemoteEventID)
		assert.NotEqual(t, "vanished", *res.RemoteEventID)
		assert.Equal(t, []string{"update", "insert"}, cal.calls)
	})

	t.Run("enabled with id but no schedule deletes", func(t *testing.T) {
		cal := newMemoryCalendar()
		cal.put(RemoteEvent{ID: "evt-1"})
		task := &db.Task{ID: "t1", Title: "Essay", SyncEnabled: true, RemoteEventID: strPtr("evt-1")}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskDeleted, res.Outcome)
		assert.Nil(t, res.RemoteEventID)
		assert.Empty(t, cal.events)
	})

	t.Run("disabled with id deletes and clears, idempotently", func(t *testing.T) {
		cal := newMemoryCalendar()
		cal.put(RemoteEvent{ID: "evt-1"})
		task := &db.Task{ID: "t1", Title: "Essay", DueDate: &due, SyncEnabled: false, RemoteEventID: strPtr("evt-1")}
		engine := newTestEngine(cal)

		res, err := engine.SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskDeleted, res.Outcome)
		assert.Nil(t, res.RemoteEventID)
		assert.Empty(t, cal.events)

		task.RemoteEventID = res.RemoteEventID
		calls := len(cal.calls)
		res, err = engine.SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskNoop, res.Outcome)
		assert.Len(t, cal.calls, calls, "second call must not reach the provider")
	})

	t.Run("deleting an already gone event succeeds", func(t *testing.T) {
		cal := newMemoryCalendar()
		task := &db.Task{ID: "t1", Title: "Essay", RemoteEventID: strPtr("gone")}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskDeleted, res.Outcome)
	})

	t.Run("disabled without id is a no-op", func(t *testing.T) {
		cal := newMemoryCalendar()
		task := &db.Task{ID: "t1", Title: "Essay", DueDate: &due}

		res, err := newTestEngine(cal).SyncTask(ctx, "u", task)
		require.NoError(t, err)
		assert.Equal(t, TaskNoop, res.Outcome)
		assert.Empty(t, cal.calls)
	})

	t.Run("client errors propagate", func(t *testing.T) {
		engine := NewEngine(&staticClients{err: oauth.ErrNotConnected}, EngineConfig{})
		task := &db.Task{ID: "t1", Title: "Essay", DueDate: &due, SyncEnabled: true}

		_, err := engine.SyncTask(ctx, "u", task)
		assert.ErrorIs(t, err, oauth.ErrNotConnected)
	})
}

func TestSyncSlotOccurrences(t *testing.T) {
	ctx := context.Background()
	slot := &db.TimetableSlot{
		ID: "s1", DayOfWeek: 2, Subject: "Algorithms", StartTime: "09:00", EndTime: "10:30",
		Location: "Room 4", Instructor: "Dr. Knuth",
	}

	t.Run("semester with three Tuesdays creates three events", func(t *testing.T) {
		cal := newMemoryCalendar()
		sem := &db.Semester{
			StartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
		}

		res, err := newTestEngine(cal).SyncSlotOccurrences(ctx, "u", slot, sem)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempted)
		assert.Equal(t, 3, res.Created)
		assert.Equal(t, 0, res.Failed)
		require.Len(t, res.Events, 3)
		assert.Equal(t, "2026-10-20", res.Events[0].OccurrenceDate)
		assert.Equal(t, "2026-11-03", res.Events[2].OccurrenceDate)

		ev := cal.events[res.Events[0].RemoteEventID]
		assert.Equal(t, "Algorithms", *ev.Title)
		assert.Equal(t, "Room: Room 4\nInstructor: Dr. Knuth", *ev.Description)
		assert.True(t, ev.Start.Equal(time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)))
		assert.True(t, ev.End.Equal(time.Date(2026, 10, 20, 10, 30, 0, 0, time.UTC)))
	})

	t.Run("capped at the occurrence limit", func(t *testing.T) {
		cal := newMemoryCalendar()
		sem := &db.Semester{
			StartDate: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC),
		}

		res, err := newTestEngine(cal).SyncSlotOccurrences(ctx, "u", slot, sem)
		require.NoError(t, err)
		assert.Equal(t, DefaultOccurrenceLimit, res.Created)
		assert.Equal(t, "2026-10-20", res.Events[0].OccurrenceDate, "starts at the first occurrence after today")
	})

	t.Run("a failed occurrence is skipped", func(t *testing.T) {
		cal := newMemoryCalendar()
		cal.failEvery[2] = oauth.ErrTransient
		sem := &db.Semester{
			StartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
		}

		res, err := newTestEngine(cal).SyncSlotOccurrences(ctx, "u", slot, sem)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempted)
		assert.Equal(t, 2, res.Created)
		assert.Equal(t, 1, res.Failed)
		assert.Len(t, res.Events, 2)
	})

	t.Run("past semester creates nothing", func(t *testing.T) {
		cal := newMemoryCalendar()
		sem := &db.Semester{
			StartDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		}

		res, err := newTestEngine(cal).SyncSlotOccurrences(ctx, "u", slot, sem)
		require.NoError(t, err)
		assert.Zero(t, res.Attempted)
		assert.Empty(t, cal.calls)
	})

	t.Run("inserts are paced", func(t *testing.T) {
		cal := newMemoryCalendar()
		engine := NewEngine(&staticClients{svc: cal}, EngineConfig{RequestDelay: 20 * time.Millisecond})
		engine.now = func() time.Time { return testNow }
		sem := &db.Semester{
			StartDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 11, 5, 0, 0, 0, 0, time.UTC),
		}

		started := time.Now()
		res, err := engine.SyncSlotOccurrences(ctx, "u", slot, sem)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Created)
		assert.GreaterOrEqual(t, time.Since(started), 35*time.Millisecond)
	})
}

func TestDeleteSlotOccurrences(t *testing.T) {
	cal := newMemoryCalendar()
	cal.put(RemoteEvent{ID: "a"})
	cal.put(RemoteEvent{ID: "b"})
	cal.deleteErr["b"] = oauth.ErrTransient

	res, err := newTestEngine(cal).DeleteSlotOccurrences(context.Background(), "u", []db.SlotEvent{
		{RemoteEventID: "a"}, {RemoteEventID: "b"}, {RemoteEventID: "already-gone"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempted)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Failed)
	assert.ElementsMatch(t, []string{"a", "already-gone"}, res.Removed)
}

func TestCleanupInvalidEvents(t *testing.T) {
	cal := newMemoryCalendar()
	cal.put(RemoteEvent{ID: "empty"})
	cal.put(RemoteEvent{ID: "undef", Title: strPtr("undefined")})
	cal.put(RemoteEvent{ID: "math", Title: strPtr("Math Class")})

	res, err := newTestEngine(cal).CleanupInvalidEvents(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{Found: 2, Deleted: 2, Failed: 0}, *res)
	assert.Contains(t, cal.events, "math")
	assert.Len(t, cal.events, 1)

	t.Run("failures are counted and skipped", func(t *testing.T) {
		cal := newMemoryCalendar()
		cal.put(RemoteEvent{ID: "n1", Title: strPtr("null")})
		cal.put(RemoteEvent{ID: "n2", Title: strPtr("NULL")})
		cal.deleteErr["n1"] = errors.New("boom")

		res, err := newTestEngine(cal).CleanupInvalidEvents(context.Background(), "u")
		require.NoError(t, err)
		assert.Equal(t, CleanupResult{Found: 2, Deleted: 1, Failed: 1}, *res)
	})
}

func TestIsInvalidEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   RemoteEvent
		want bool
	}{
		{"nil title", RemoteEvent{}, true},
		{"blank title", RemoteEvent{Title: strPtr("   ")}, true},
		{"undefined any case", RemoteEvent{Title: strPtr("Undefined")}, true},
		{"null", RemoteEvent{Title: strPtr("null")}, true},
		{"bare placeholder", RemoteEvent{Title: strPtr("Class")}, true},
		{"placeholder with description", RemoteEvent{Title: strPtr("Class"), Description: strPtr("Room: 1")}, false},
		{"real title", RemoteEvent{Title: strPtr("Math Class")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInvalidEvent(tt.ev))
		})
	}
}

func TestFilterExternal(t *testing.T) {
	monday := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	events := []RemoteEvent{
		{ID: "class", Title: strPtr("  algorithms "), Start: monday},
		{ID: "doctor", Title: strPtr("Doctor Appointment"), Start: monday},
		{ID: "tuesday", Title: strPtr("Algorithms"), Start: monday.AddDate(0, 0, 1)},
		{ID: "untitled", Start: monday},
	}
	slots := []*db.TimetableSlot{{Subject: "Algorithms", DayOfWeek: 1}}

	got := FilterExternal(events, slots, time.UTC)

	ids := make([]string, 0, len(got))
	for _, ev := range got {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{"doctor", "tuesday", "untitled"}, ids)
}
