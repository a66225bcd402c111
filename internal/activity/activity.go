package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names a bulk calendar operation.
type Kind string

const (
	KindSlotSync   Kind = "slot_sync"
	KindSlotDelete Kind = "slot_delete"
	KindCleanup    Kind = "cleanup"
)

// Run represents the state of one bulk calendar operation.
type Run struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Kind        Kind       `json:"kind"`
	Subject     string     `json:"subject,omitempty"`
	Status      string     `json:"status"` // "running", "completed", "partial", "error"
	Attempted   int        `json:"attempted"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Tracker tracks bulk calendar runs for all users.
type Tracker struct {
	mu        sync.RWMutex
	active    map[string]*Run // runID -> run
	recent    []*Run          // most recent first
	maxRecent int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:    make(map[string]*Run),
		recent:    make([]*Run, 0),
		maxRecent: 50,
	}
}

// Start begins tracking a run and returns its id.
func (t *Tracker) Start(userID string, kind Kind, subject string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.New().String()
	t.active[id] = &Run{
		ID:        id,
		UserID:    userID,
		Kind:      kind,
		Subject:   subject,
		Status:    "running",
		StartedAt: time.Now(),
	}
	return id
}

// Finish records the counters of a run and moves it to the recent list.
// A non-nil err marks the run as failed.
func (t *Tracker) Finish(runID string, attempted, succeeded, failed int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, exists := t.active[runID]
	if !exists {
		return
	}

	now := time.Now()
	run.CompletedAt = &now
	run.Duration = now.Sub(run.StartedAt).Round(time.Millisecond).String()
	run.Attempted = attempted
	run.Succeeded = succeeded
	run.Failed = failed

	switch {
	case err != nil:
		run.Status = "error"
		run.Message = err.Error()
	case failed > 0:
		run.Status = "partial"
	default:
		run.Status = "completed"
	}

	t.recent = append([]*Run{run}, t.recent...)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[:t.maxRecent]
	}

	delete(t.active, runID)
}

// Active returns the user's running operations.
func (t *Tracker) Active(userID string) []*Run {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*Run, 0)
	for _, run := range t.active {
		if run.UserID != userID {
			continue
		}
		copy := *run
		copy.Duration = time.Since(run.StartedAt).Round(time.Millisecond).String()
		result = append(result, &copy)
	}
	return result
}

// Recent returns the user's completed operations, most recent first.
func (t *Tracker) Recent(userID string) []*Run {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*Run, 0)
	for _, run := range t.recent {
		if run.UserID != userID {
			continue
		}
		copy := *run
		result = append(result, &copy)
	}
	return result
}

// ForUser returns both active and recent runs for the user.
func (t *Tracker) ForUser(userID string) map[string]interface{} {
	return map[string]interface{}{
		"active": t.Active(userID),
		"recent": t.Recent(userID),
	}
}
