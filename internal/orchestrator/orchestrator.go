// Package orchestrator connects task and timetable changes to the calendar
// engine. It decides whether a change needs a remote call and persists the
// links the engine hands back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aanjaneya24/smartsched/internal/activity"
	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/gcal"
	"github.com/aanjaneya24/smartsched/internal/metrics"
	"github.com/aanjaneya24/smartsched/internal/oauth"
)

// ErrNoActiveSemester is returned when a slot's semester is not the user's
// active one. Only slots of the active semester are mirrored.
var ErrNoActiveSemester = errors.New("slot is not in the active semester")

// Site names a place in the application that triggers calendar work.
type Site string

const (
	SiteTaskCreated Site = "task_created"
	SiteTaskUpdated Site = "task_updated"
	SiteTaskDeleted Site = "task_deleted"
	SiteSlotCreated Site = "slot_created"
	SiteSlotUpdated Site = "slot_updated"
	SiteSlotDeleted Site = "slot_deleted"
	SiteTaskResync  Site = "task_resync"
	SiteSlotResync  Site = "slot_resync"
	SiteCleanup     Site = "cleanup"
)

// Policy decides what happens to a calendar failure at a call site.
type Policy int

const (
	// Propagate returns the error to the caller.
	Propagate Policy = iota
	// Swallow logs the error; the local change stands.
	Swallow
)

// Policies maps every call site to its failure policy. CRUD call sites
// swallow so a calendar outage never blocks local edits. Calendar actions
// the user asked for explicitly propagate.
var Policies = map[Site]Policy{
	SiteTaskCreated: Swallow,
	SiteTaskUpdated: Swallow,
	SiteTaskDeleted: Swallow,
	SiteSlotCreated: Swallow,
	SiteSlotUpdated: Swallow,
	SiteSlotDeleted: Swallow,
	SiteTaskResync:  Propagate,
	SiteSlotResync:  Propagate,
	SiteCleanup:     Propagate,
}

// PolicyFor returns the policy of a site. Unknown sites propagate.
func PolicyFor(site Site) Policy {
	if p, ok := Policies[site]; ok {
		return p
	}
	return Propagate
}

// Engine is the reconciliation engine.
type Engine interface {
	SyncTask(ctx context.Context, userID string, task *db.Task) (gcal.TaskResult, error)
	DeleteTaskEvent(ctx context.Context, userID, eventID string) error
	SyncSlotOccurrences(ctx context.Context, userID string, slot *db.TimetableSlot, sem *db.Semester) (*gcal.SlotSyncResult, error)
	DeleteSlotOccurrences(ctx context.Context, userID string, events []db.SlotEvent) (*gcal.SlotDeleteResult, error)
	CleanupInvalidEvents(ctx context.Context, userID string) (*gcal.CleanupResult, error)
}

// Store persists remote links.
type Store interface {
	SetTaskRemoteEvent(ctx context.Context, taskID string, remoteEventID *string) error
	GetActiveSemester(ctx context.Context, userID string) (*db.Semester, error)
	GetSlotEvents(ctx context.Context, slotID string) ([]db.SlotEvent, error)
	AddSlotEvents(ctx context.Context, slotID string, events []db.SlotEvent) error
	RemoveSlotEvents(ctx context.Context, slotID string, remoteEventIDs []string) error
}

// Connections reports whether a user has a calendar connection.
type Connections interface {
	Status(ctx context.Context, userID string) (*oauth.Status, error)
}

// Orchestrator runs calendar work for local changes.
type Orchestrator struct {
	engine  Engine
	store   Store
	conns   Connections
	tracker *activity.Tracker
}

// New creates an orchestrator. Bulk runs are recorded in tracker.
func New(engine Engine, store Store, conns Connections, tracker *activity.Tracker) *Orchestrator {
	if tracker == nil {
		tracker = activity.NewTracker()
	}
	return &Orchestrator{
		engine:  engine,
		store:   store,
		conns:   conns,
		tracker: tracker,
	}
}

// TaskCreated mirrors a newly created task.
func (o *Orchestrator) TaskCreated(ctx context.Context, task *db.Task) error {
	_, err := o.syncTask(ctx, SiteTaskCreated, task)
	return err
}

// TaskUpdated reconciles an edited task. The task must carry the remote id
// it had before the edit.
func (o *Orchestrator) TaskUpdated(ctx context.Context, task *db.Task) error {
	_, err := o.syncTask(ctx, SiteTaskUpdated, task)
	return err
}

// ResyncTask reconciles a task on the user's request.
func (o *Orchestrator) ResyncTask(ctx context.Context, task *db.Task) (gcal.TaskResult, error) {
	return o.syncTask(ctx, SiteTaskResync, task)
}

// TaskDeleted removes the remote event of a deleted task.
func (o *Orchestrator) TaskDeleted(ctx context.Context, task *db.Task) error {
	if !linked(task.RemoteEventID) {
		return nil
	}

	err := o.requireConnection(ctx, task.UserID)
	if err == nil {
		err = o.engine.DeleteTaskEvent(ctx, task.UserID, *task.RemoteEventID)
	}
	return o.handle(SiteTaskDeleted, task.ID, err)
}

func (o *Orchestrator) syncTask(ctx context.Context, site Site, task *db.Task) (gcal.TaskResult, error) {
	if !task.SyncEnabled && !linked(task.RemoteEventID) {
		return gcal.TaskResult{Outcome: gcal.TaskNoop}, nil
	}

	if err := o.requireConnection(ctx, task.UserID); err != nil {
		return gcal.TaskResult{}, o.handle(site, task.ID, err)
	}

	result, err := o.engine.SyncTask(ctx, task.UserID, task)
	if err != nil {
		return gcal.TaskResult{}, o.handle(site, task.ID, err)
	}

	if !sameID(task.RemoteEventID, result.RemoteEventID) {
		if err := o.store.SetTaskRemoteEvent(ctx, task.ID, result.RemoteEventID); err != nil {
			return result, o.handle(site, task.ID, fmt.Errorf("failed to store remote event id: %w", err))
		}
		task.RemoteEventID = result.RemoteEventID
	}

	return result, nil
}

// SlotCreated creates remote events for the upcoming occurrences of a new
// slot in the active semester.
func (o *Orchestrator) SlotCreated(ctx context.Context, slot *db.TimetableSlot) error {
	if !slot.SyncEnabled {
		return nil
	}

	err := o.requireConnection(ctx, slot.UserID)
	if err == nil {
		var sem *db.Semester
		if sem, err = o.activeSemesterFor(ctx, slot); err == nil {
			_, err = o.syncOccurrences(ctx, slot, sem)
		}
	}
	return o.handle(SiteSlotCreated, slot.ID, err)
}

// SlotUpdated replaces the slot's tracked events with a fresh set.
func (o *Orchestrator) SlotUpdated(ctx context.Context, slot *db.TimetableSlot) error {
	_, err := o.reconcileSlot(ctx, SiteSlotUpdated, slot)
	return err
}

// ResyncSlot replaces the slot's tracked events on the user's request.
func (o *Orchestrator) ResyncSlot(ctx context.Context, slot *db.TimetableSlot) (*gcal.SlotSyncResult, error) {
	return o.reconcileSlot(ctx, SiteSlotResync, slot)
}

// SlotDeleted deletes the remote events of a deleted slot. The tracked rows
// are gone with the slot, so the caller reads them before deleting it.
func (o *Orchestrator) SlotDeleted(ctx context.Context, slot *db.TimetableSlot, tracked []db.SlotEvent) error {
	if len(tracked) == 0 {
		return nil
	}

	err := o.requireConnection(ctx, slot.UserID)
	if err == nil {
		runID := o.tracker.Start(slot.UserID, activity.KindSlotDelete, slot.Subject)
		var res *gcal.SlotDeleteResult
		res, err = o.engine.DeleteSlotOccurrences(ctx, slot.UserID, tracked)
		o.finishDelete(runID, res, err)
	}
	return o.handle(SiteSlotDeleted, slot.ID, err)
}

// Cleanup deletes invalid remote events for the user.
func (o *Orchestrator) Cleanup(ctx context.Context, userID string) (*gcal.CleanupResult, error) {
	runID := o.tracker.Start(userID, activity.KindCleanup, "")
	res, err := o.engine.CleanupInvalidEvents(ctx, userID)
	if err != nil {
		o.tracker.Finish(runID, 0, 0, 0, err)
		return nil, o.handle(SiteCleanup, userID, err)
	}
	o.tracker.Finish(runID, res.Found, res.Deleted, res.Failed, nil)
	return res, nil
}

// Activity returns the active and recent bulk runs of a user.
func (o *Orchestrator) Activity(userID string) map[string]interface{} {
	return o.tracker.ForUser(userID)
}

func (o *Orchestrator) reconcileSlot(ctx context.Context, site Site, slot *db.TimetableSlot) (*gcal.SlotSyncResult, error) {
	tracked, err := o.store.GetSlotEvents(ctx, slot.ID)
	if err != nil {
		return nil, o.handle(site, slot.ID, fmt.Errorf("failed to load slot events: %w", err))
	}
	if len(tracked) == 0 && !slot.SyncEnabled {
		return &gcal.SlotSyncResult{}, nil
	}

	if err := o.requireConnection(ctx, slot.UserID); err != nil {
		return nil, o.handle(site, slot.ID, err)
	}

	if len(tracked) > 0 {
		if err := o.clearSlotEvents(ctx, slot, tracked); err != nil {
			return nil, o.handle(site, slot.ID, err)
		}
	}

	if !slot.SyncEnabled {
		return &gcal.SlotSyncResult{}, nil
	}

	sem, err := o.activeSemesterFor(ctx, slot)
	if err != nil {
		return nil, o.handle(site, slot.ID, err)
	}

	result, err := o.syncOccurrences(ctx, slot, sem)
	if err != nil {
		return nil, o.handle(site, slot.ID, err)
	}
	return result, nil
}

func (o *Orchestrator) syncOccurrences(ctx context.Context, slot *db.TimetableSlot, sem *db.Semester) (*gcal.SlotSyncResult, error) {
	runID := o.tracker.Start(slot.UserID, activity.KindSlotSync, slot.Subject)

	result, err := o.engine.SyncSlotOccurrences(ctx, slot.UserID, slot, sem)
	if result != nil && len(result.Events) > 0 {
		if storeErr := o.store.AddSlotEvents(ctx, slot.ID, result.Events); storeErr != nil && err == nil {
			err = fmt.Errorf("failed to store slot events: %w", storeErr)
		}
	}

	if result == nil {
		o.tracker.Finish(runID, 0, 0, 0, err)
	} else {
		o.tracker.Finish(runID, result.Attempted, result.Created, result.Failed, err)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) clearSlotEvents(ctx context.Context, slot *db.TimetableSlot, tracked []db.SlotEvent) error {
	runID := o.tracker.Start(slot.UserID, activity.KindSlotDelete, slot.Subject)

	res, err := o.engine.DeleteSlotOccurrences(ctx, slot.UserID, tracked)
	if res != nil && len(res.Removed) > 0 {
		if storeErr := o.store.RemoveSlotEvents(ctx, slot.ID, res.Removed); storeErr != nil && err == nil {
			err = fmt.Errorf("failed to untrack slot events: %w", storeErr)
		}
	}

	o.finishDelete(runID, res, err)
	return err
}

func (o *Orchestrator) finishDelete(runID string, res *gcal.SlotDeleteResult, err error) {
	if res == nil {
		o.tracker.Finish(runID, 0, 0, 0, err)
		return
	}
	o.tracker.Finish(runID, res.Attempted, res.Deleted, res.Failed, err)
}

func (o *Orchestrator) activeSemesterFor(ctx context.Context, slot *db.TimetableSlot) (*db.Semester, error) {
	sem, err := o.store.GetActiveSemester(ctx, slot.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNoActiveSemester
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active semester: %w", err)
	}
	if sem.ID != slot.SemesterID {
		return nil, ErrNoActiveSemester
	}
	return sem, nil
}

func (o *Orchestrator) requireConnection(ctx context.Context, userID string) error {
	status, err := o.conns.Status(ctx, userID)
	if err != nil {
		return err
	}
	if !status.Connected {
		return oauth.ErrNotConnected
	}
	return nil
}

func (o *Orchestrator) handle(site Site, subject string, err error) error {
	if err == nil {
		return nil
	}
	if PolicyFor(site) == Propagate {
		return err
	}

	log.Printf("[Orchestrator] %s %s: calendar sync skipped: %v", site, subject, err)
	metrics.ObserveSyncOutcome(string(site), "swallowed")
	return nil
}

func linked(id *string) bool {
	return id != nil && *id != ""
}

func sameID(a, b *string) bool {
	if !linked(a) || !linked(b) {
		return linked(a) == linked(b)
	}
	return *a == *b
}
