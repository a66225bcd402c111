package gcal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/metrics"
	"golang.org/x/time/rate"
)

// Defaults for EngineConfig.
const (
	DefaultOccurrenceLimit = 10
	DefaultRequestDelay    = 200 * time.Millisecond
	DefaultCleanupWindow   = 6
)

const (
	taskTitlePrefix        = "📋 "
	defaultTaskDescription = "Task from SmartSched"
	defaultTaskDuration    = time.Hour
	cleanupMaxResults      = 2500
	placeholderClassTitle  = "Class"
)

// TaskOutcome names the transition SyncTask took.
type TaskOutcome string

const (
	TaskCreated     TaskOutcome = "created"
	TaskUpdated     TaskOutcome = "updated"
	TaskRecreated   TaskOutcome = "recreated"
	TaskDeleted     TaskOutcome = "deleted"
	TaskUnscheduled TaskOutcome = "skipped_unscheduled"
	TaskNoop        TaskOutcome = "noop"
)

// TaskResult is the outcome of a task sync and the remote id the task should
// now carry. RemoteEventID is nil when the task must have no remote event.
type TaskResult struct {
	Outcome       TaskOutcome
	RemoteEventID *string
}

// SlotSyncResult reports a bulk occurrence sync. Events holds one entry per
// created remote event.
type SlotSyncResult struct {
	Attempted int            `json:"attempted"`
	Created   int            `json:"created"`
	Failed    int            `json:"failed"`
	Events    []db.SlotEvent `json:"-"`
}

// SlotDeleteResult reports a bulk occurrence delete. Removed lists the remote
// ids that no longer exist, whether deleted now or already gone.
type SlotDeleteResult struct {
	Attempted int      `json:"attempted"`
	Deleted   int      `json:"deleted"`
	Failed    int      `json:"failed"`
	Removed   []string `json:"-"`
}

// EngineConfig tunes the reconciliation engine. Zero values take defaults,
// except RequestDelay where a negative value disables pacing.
type EngineConfig struct {
	Location            *time.Location
	OccurrenceLimit     int
	RequestDelay        time.Duration
	CleanupWindowMonths int
}

// Engine reconciles tasks and timetable slots with remote events. It never
// touches a remote event other than the ids it is given, except in
// CleanupInvalidEvents.
type Engine struct {
	clients         ClientSource
	location        *time.Location
	occurrenceLimit int
	requestDelay    time.Duration
	cleanupMonths   int
	now             func() time.Time
}

// NewEngine creates an engine that obtains clients from the given source.
func NewEngine(clients ClientSource, cfg EngineConfig) *Engine {
	e := &Engine{
		clients:         clients,
		location:        cfg.Location,
		occurrenceLimit: cfg.OccurrenceLimit,
		requestDelay:    cfg.RequestDelay,
		cleanupMonths:   cfg.CleanupWindowMonths,
		now:             time.Now,
	}
	if e.location == nil {
		e.location = time.UTC
	}
	if e.occurrenceLimit <= 0 {
		e.occurrenceLimit = DefaultOccurrenceLimit
	}
	if e.requestDelay == 0 {
		e.requestDelay = DefaultRequestDelay
	}
	if e.cleanupMonths <= 0 {
		e.cleanupMonths = DefaultCleanupWindow
	}
	return e
}

// Location returns the time zone the engine schedules in.
func (e *Engine) Location() *time.Location {
	return e.location
}

// SyncTask brings the task's remote event in line with its sync flag and
// schedule. Every combination of enabled, linked and scheduled is handled:
//
//	enabled, unlinked, scheduled    create
//	enabled, unlinked, unscheduled  skip
//	enabled, linked,   scheduled    update, recreate if gone remotely
//	enabled, linked,   unscheduled  delete and unlink
//	disabled, linked                delete and unlink
//	disabled, unlinked              no-op
//
// A remote event that is already gone counts as deleted.
func (e *Engine) SyncTask(ctx context.Context, userID string, task *db.Task) (TaskResult, error) {
	hasID := task.RemoteEventID != nil && *task.RemoteEventID != ""
	start, end, scheduled := task.Schedule()

	var (
		result TaskResult
		err    error
	)
	switch {
	case task.SyncEnabled && !hasID && scheduled:
		result, err = e.createTaskEvent(ctx, userID, task, start, end, TaskCreated)
	case task.SyncEnabled && !hasID:
		result = TaskResult{Outcome: TaskUnscheduled}
	case task.SyncEnabled && scheduled:
		result, err = e.updateTaskEvent(ctx, userID, task, start, end)
	case hasID:
		result, err = e.deleteTaskEvent(ctx, userID, *task.RemoteEventID)
	default:
		result = TaskResult{Outcome: TaskNoop}
	}

	if err != nil {
		metrics.ObserveSyncOutcome("task", "failed")
		return TaskResult{}, err
	}
	metrics.ObserveSyncOutcome("task", string(result.Outcome))
	return result, nil
}

// DeleteTaskEvent removes the remote event of a task that is being deleted.
func (e *Engine) DeleteTaskEvent(ctx context.Context, userID, eventID string) error {
	_, err := e.deleteTaskEvent(ctx, userID, eventID)
	return err
}

func (e *Engine) createTaskEvent(ctx context.Context, userID string, task *db.Task, start time.Time, end *time.Time, outcome TaskOutcome) (TaskResult, error) {
	client, err := e.clients.Client(ctx, userID)
	if err != nil {
		return TaskResult{}, err
	}

	ev, err := client.InsertEvent(ctx, taskInput(task, start, end))
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to create event for task %s: %w", task.ID, err)
	}

	log.Printf("[Sync] Task %s synced as event %s", task.ID, ev.ID)
	return TaskResult{Outcome: outcome, RemoteEventID: &ev.ID}, nil
}

func (e *Engine) updateTaskEvent(ctx context.Context, userID string, task *db.Task, start time.Time, end *time.Time) (TaskResult, error) {
	client, err := e.clients.Client(ctx, userID)
	if err != nil {
		return TaskResult{}, err
	}

	id := *task.RemoteEventID
	ev, err := client.UpdateEvent(ctx, id, taskInput(task, start, end))
	if errors.Is(err, ErrEventNotFound) {
		log.Printf("[Sync] Event %s for task %s is gone remotely, recreating", id, task.ID)
		return e.createTaskEvent(ctx, userID, task, start, end, TaskRecreated)
	}
	if err != nil {
		return TaskResult{}, fmt.Errorf("failed to update event for task %s: %w", task.ID, err)
	}

	return TaskResult{Outcome: TaskUpdated, RemoteEventID: &ev.ID}, nil
}

func (e *Engine) deleteTaskEvent(ctx context.Context, userID, eventID string) (TaskResult, error) {
	client, err := e.clients.Client(ctx, userID)
	if err != nil {
		return TaskResult{}, err
	}

	if err := client.DeleteEvent(ctx, eventID); err != nil && !errors.Is(err, ErrEventNotFound) {
		return TaskResult{}, fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}

	return TaskResult{Outcome: TaskDeleted}, nil
}

func taskInput(task *db.Task, start time.Time, end *time.Time) *EventInput {
	stop := start.Add(defaultTaskDuration)
	if end != nil {
		stop = *end
	}

	detail := strings.TrimSpace(task.Detail)
	if detail == "" {
		detail = defaultTaskDescription
	}

	return &EventInput{
		Title:       taskTitlePrefix + task.Title,
		Description: fmt.Sprintf("%s\n\nPriority: %s\nCategory: %s", detail, task.Priority, task.Category),
		Start:       start,
		End:         stop,
	}
}

// SyncSlotOccurrences creates one remote event per upcoming occurrence of the
// slot in the semester. Inserts run one at a time, paced by the request
// delay. A failed occurrence is logged and skipped.
func (e *Engine) SyncSlotOccurrences(ctx context.Context, userID string, slot *db.TimetableSlot, sem *db.Semester) (*SlotSyncResult, error) {
	occurrences, err := Occurrences(slot, sem, e.now(), e.location, e.occurrenceLimit)
	if err != nil {
		return nil, err
	}

	result := &SlotSyncResult{}
	if len(occurrences) == 0 {
		return result, nil
	}

	client, err := e.clients.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	limiter := e.pacer()
	for _, occ := range occurrences {
		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}

		result.Attempted++
		ev, err := client.InsertEvent(ctx, slotInput(slot, occ))
		if err != nil {
			result.Failed++
			log.Printf("[Sync] Failed to create %s occurrence on %s: %v", slot.Subject, occ.Date, err)
			continue
		}

		result.Created++
		result.Events = append(result.Events, db.SlotEvent{
			SlotID:         slot.ID,
			RemoteEventID:  ev.ID,
			OccurrenceDate: occ.Date,
		})
	}

	metrics.ObserveSyncOutcome("slot", "synced")
	log.Printf("[Sync] Slot %s: %d of %d occurrences created", slot.ID, result.Created, result.Attempted)
	return result, nil
}

// DeleteSlotOccurrences deletes the given tracked events, continuing past
// failures. Already-gone events count as deleted.
func (e *Engine) DeleteSlotOccurrences(ctx context.Context, userID string, events []db.SlotEvent) (*SlotDeleteResult, error) {
	result := &SlotDeleteResult{}
	if len(events) == 0 {
		return result, nil
	}

	client, err := e.clients.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	limiter := e.pacer()
	for _, ev := range events {
		if err := limiter.Wait(ctx); err != nil {
			return result, err
		}

		result.Attempted++
		if err := client.DeleteEvent(ctx, ev.RemoteEventID); err != nil && !errors.Is(err, ErrEventNotFound) {
			result.Failed++
			log.Printf("[Sync] Failed to delete occurrence event %s: %v", ev.RemoteEventID, err)
			continue
		}

		result.Deleted++
		result.Removed = append(result.Removed, ev.RemoteEventID)
	}

	return result, nil
}

func (e *Engine) pacer() *rate.Limiter {
	if e.requestDelay < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.requestDelay), 1)
}

func slotInput(slot *db.TimetableSlot, occ Occurrence) *EventInput {
	return &EventInput{
		Title:       slot.Subject,
		Description: ClassDescription(slot),
		Location:    slot.Location,
		Start:       occ.Start,
		End:         occ.End,
	}
}

// ClassDescription renders the room, instructor and notes lines of a slot.
func ClassDescription(slot *db.TimetableSlot) string {
	var lines []string
	if slot.Location != "" {
		lines = append(lines, "Room: "+slot.Location)
	}
	if slot.Instructor != "" {
		lines = append(lines, "Instructor: "+slot.Instructor)
	}
	if slot.Notes != "" {
		lines = append(lines, "Notes: "+slot.Notes)
	}
	return strings.Join(lines, "\n")
}
