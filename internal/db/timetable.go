package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const semesterColumns = `id, user_id, name, start_date, end_date, is_active, created_at, updated_at`

const slotColumns = `id, user_id, semester_id, day_of_week, subject, start_time, end_time,
	location, instructor, notes, sync_with_calendar, created_at, updated_at`

// CreateSemester inserts a new semester. An active semester deactivates the
// user's other semesters in the same transaction.
func (db *DB) CreateSemester(ctx context.Context, s *Semester) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if s.IsActive {
		if _, err := tx.ExecContext(ctx, `UPDATE semesters SET is_active = 0 WHERE user_id = ?`, s.UserID); err != nil {
			return fmt.Errorf("failed to deactivate semesters: %w", err)
		}
	}

	query := `INSERT INTO semesters (` + semesterColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		s.ID, s.UserID, s.Name, s.StartDate.Format(DateLayout), s.EndDate.Format(DateLayout),
		s.IsActive, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create semester: %w", err)
	}

	return tx.Commit()
}

// GetSemester returns a semester owned by the given user.
func (db *DB) GetSemester(ctx context.Context, userID, id string) (*Semester, error) {
	query := `SELECT ` + semesterColumns + ` FROM semesters WHERE id = ? AND user_id = ?`
	return scanSemester(db.conn.QueryRowContext(ctx, query, id, userID))
}

// GetActiveSemester returns the user's active semester, or ErrNotFound.
func (db *DB) GetActiveSemester(ctx context.Context, userID string) (*Semester, error) {
	query := `SELECT ` + semesterColumns + ` FROM semesters WHERE user_id = ? AND is_active = 1`
	return scanSemester(db.conn.QueryRowContext(ctx, query, userID))
}

// GetSemestersByUserID returns all semesters for a user, latest start first.
func (db *DB) GetSemestersByUserID(ctx context.Context, userID string) ([]*Semester, error) {
	query := `SELECT ` + semesterColumns + ` FROM semesters WHERE user_id = ? ORDER BY start_date DESC`

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query semesters: %w", err)
	}
	defer rows.Close()

	var semesters []*Semester
	for rows.Next() {
		s, err := scanSemester(rows)
		if err != nil {
			return nil, err
		}
		semesters = append(semesters, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating semesters: %w", err)
	}

	return semesters, nil
}

// SetActiveSemester makes one semester active and all others inactive.
func (db *DB) SetActiveSemester(ctx context.Context, userID, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE semesters SET is_active = 0, updated_at = ? WHERE user_id = ?`, now, userID); err != nil {
		return fmt.Errorf("failed to deactivate semesters: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE semesters SET is_active = 1, updated_at = ? WHERE id = ? AND user_id = ?`, now, id, userID)
	if err != nil {
		return fmt.Errorf("failed to activate semester: %w", err)
	}
	if err := requireRow(result); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteSemester deletes a semester and, by cascade, its slots.
func (db *DB) DeleteSemester(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM semesters WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete semester: %w", err)
	}
	return requireRow(result)
}

func scanSemester(row rowScanner) (*Semester, error) {
	var (
		s          Semester
		start, end string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Name, &start, &end, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan semester: %w", err)
	}

	if s.StartDate, err = time.Parse(DateLayout, start); err != nil {
		return nil, fmt.Errorf("invalid semester start date %q: %w", start, err)
	}
	if s.EndDate, err = time.Parse(DateLayout, end); err != nil {
		return nil, fmt.Errorf("invalid semester end date %q: %w", end, err)
	}

	return &s, nil
}

// CreateSlot inserts a new timetable slot.
func (db *DB) CreateSlot(ctx context.Context, slot *TimetableSlot) error {
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	slot.CreatedAt = time.Now().UTC()
	slot.UpdatedAt = slot.CreatedAt

	query := `INSERT INTO timetable_slots (` + slotColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		slot.ID, slot.UserID, slot.SemesterID, slot.DayOfWeek, slot.Subject, slot.StartTime, slot.EndTime,
		slot.Location, slot.Instructor, slot.Notes, slot.SyncEnabled, slot.CreatedAt, slot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create slot: %w", err)
	}

	return nil
}

// GetSlot returns a slot owned by the given user.
func (db *DB) GetSlot(ctx context.Context, userID, id string) (*TimetableSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM timetable_slots WHERE id = ? AND user_id = ?`
	return scanSlot(db.conn.QueryRowContext(ctx, query, id, userID))
}

// GetSlotsBySemester returns a semester's slots ordered by weekday and start time.
func (db *DB) GetSlotsBySemester(ctx context.Context, userID, semesterID string) ([]*TimetableSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM timetable_slots
		WHERE user_id = ? AND semester_id = ? ORDER BY day_of_week, start_time`

	rows, err := db.conn.QueryContext(ctx, query, userID, semesterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slots: %w", err)
	}
	defer rows.Close()

	var slots []*TimetableSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slots: %w", err)
	}

	return slots, nil
}

// UpdateSlot updates an existing slot.
func (db *DB) UpdateSlot(ctx context.Context, slot *TimetableSlot) error {
	slot.UpdatedAt = time.Now().UTC()

	query := `UPDATE timetable_slots SET
		day_of_week = ?, subject = ?, start_time = ?, end_time = ?, location = ?,
		instructor = ?, notes = ?, sync_with_calendar = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`

	result, err := db.conn.ExecContext(ctx, query,
		slot.DayOfWeek, slot.Subject, slot.StartTime, slot.EndTime, slot.Location,
		slot.Instructor, slot.Notes, slot.SyncEnabled, slot.UpdatedAt, slot.ID, slot.UserID,
	)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	return requireRow(result)
}

// DeleteSlot deletes a slot. Its tracked slot events go with it.
func (db *DB) DeleteSlot(ctx context.Context, userID, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM timetable_slots WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	return requireRow(result)
}

func scanSlot(row rowScanner) (*TimetableSlot, error) {
	var slot TimetableSlot
	err := row.Scan(
		&slot.ID, &slot.UserID, &slot.SemesterID, &slot.DayOfWeek, &slot.Subject, &slot.StartTime, &slot.EndTime,
		&slot.Location, &slot.Instructor, &slot.Notes, &slot.SyncEnabled, &slot.CreatedAt, &slot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan slot: %w", err)
	}
	return &slot, nil
}

// AddSlotEvents records remote events created for a slot's occurrences.
func (db *DB) AddSlotEvents(ctx context.Context, slotID string, events []SlotEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := `INSERT OR IGNORE INTO slot_events (id, slot_id, remote_event_id, occurrence_date, created_at)
		VALUES (?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, query, uuid.New().String(), slotID, e.RemoteEventID, e.OccurrenceDate, now); err != nil {
			return fmt.Errorf("failed to add slot event: %w", err)
		}
	}

	return tx.Commit()
}

// GetSlotEvents returns the remote events tracked for a slot.
func (db *DB) GetSlotEvents(ctx context.Context, slotID string) ([]SlotEvent, error) {
	query := `SELECT id, slot_id, remote_event_id, occurrence_date, created_at
		FROM slot_events WHERE slot_id = ? ORDER BY occurrence_date`

	rows, err := db.conn.QueryContext(ctx, query, slotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query slot events: %w", err)
	}
	defer rows.Close()

	var events []SlotEvent
	for rows.Next() {
		var e SlotEvent
		if err := rows.Scan(&e.ID, &e.SlotID, &e.RemoteEventID, &e.OccurrenceDate, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan slot event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slot events: %w", err)
	}

	return events, nil
}

// RemoveSlotEvents forgets the given remote event ids for a slot.
func (db *DB) RemoveSlotEvents(ctx context.Context, slotID string, remoteEventIDs []string) error {
	for _, id := range remoteEventIDs {
		_, err := db.conn.ExecContext(ctx,
			`DELETE FROM slot_events WHERE slot_id = ? AND remote_event_id = ?`, slotID, id)
		if err != nil {
			return fmt.Errorf("failed to remove slot event: %w", err)
		}
	}
	return nil
}
