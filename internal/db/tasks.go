package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const taskColumns = `id, user_id, title, detail, category, priority, completed,
	due_date, start_time, end_time, sync_with_calendar, remote_event_id, created_at, updated_at`

// CreateTask inserts a new task.
func (db *DB) CreateTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Category == "" {
		task.Category = "General"
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	task.CreatedAt = time.Now().UTC()
	task.UpdatedAt = task.CreatedAt

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		task.ID, task.UserID, task.Title, task.Detail, task.Category, task.Priority, task.Completed,
		utcPtr(task.DueDate), utcPtr(task.StartTime), utcPtr(task.EndTime),
		task.SyncEnabled, task.RemoteEventID, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask returns a task owned by the given user.
func (db *DB) GetTask(ctx context.Context, userID, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ? AND user_id = ?`
	return scanTask(db.conn.QueryRowContext(ctx, query, id, userID))
}

// GetTasksByUserID returns all tasks for a user, newest first.
func (db *DB) GetTasksByUserID(ctx context.Context, userID string) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// UpdateTask updates the user-editable fields of a task.
// The remote event link is managed through SetTaskRemoteEvent, except that
// turning sync off detaches it. The caller's copy keeps the id.
func (db *DB) UpdateTask(ctx context.Context, task *Task) error {
	task.UpdatedAt = time.Now().UTC()

	query := `UPDATE tasks SET
		title = ?, detail = ?, category = ?, priority = ?, completed = ?,
		due_date = ?, start_time = ?, end_time = ?, sync_with_calendar = ?,
		remote_event_id = CASE WHEN ? THEN remote_event_id ELSE NULL END, updated_at = ?
		WHERE id = ? AND user_id = ?`

	result, err := db.conn.ExecContext(ctx, query,
		task.Title, task.Detail, task.Category, task.Priority, task.Completed,
		utcPtr(task.DueDate), utcPtr(task.StartTime), utcPtr(task.EndTime),
		task.SyncEnabled, task.SyncEnabled, task.UpdatedAt, task.ID, task.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return requireRow(result)
}

// SetTaskRemoteEvent stores or clears the linked remote event id.
func (db *DB) SetTaskRemoteEvent(ctx context.Context, taskID string, remoteEventID *string) error {
	query := `UPDATE tasks SET remote_event_id = ?, updated_at = ? WHERE id = ?`

	result, err := db.conn.ExecContext(ctx, query, remoteEventID, time.Now().UTC(), taskID)
	if err != nil {
		return fmt.Errorf("failed to set task remote event: %w", err)
	}
	return requireRow(result)
}

// DeleteTask deletes a task owned by the given user.
func (db *DB) DeleteTask(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task            Task
		due, start, end sql.NullTime
		remoteEventID   sql.NullString
		priority        string
	)
	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &task.Detail, &task.Category, &priority, &task.Completed,
		&due, &start, &end, &task.SyncEnabled, &remoteEventID, &task.CreatedAt, &task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	task.Priority = Priority(priority)
	task.DueDate = timePtr(due)
	task.StartTime = timePtr(start)
	task.EndTime = timePtr(end)
	if remoteEventID.Valid {
		task.RemoteEventID = &remoteEventID.String
	}

	return &task, nil
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
