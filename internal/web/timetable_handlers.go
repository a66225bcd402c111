package web

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/export"
	"github.com/aanjaneya24/smartsched/internal/validator"
	"github.com/gin-gonic/gin"
)

type semesterRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	IsActive  bool   `json:"is_active"`
}

func (r *semesterRequest) semester(userID string) (*db.Semester, error) {
	if err := validator.Title("name", r.Name); err != nil {
		return nil, err
	}
	start, err := time.Parse(db.DateLayout, r.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", validator.ErrInvalidField)
	}
	end, err := time.Parse(db.DateLayout, r.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: end_date must be YYYY-MM-DD", validator.ErrInvalidField)
	}
	if err := validator.DateRange(start, end); err != nil {
		return nil, err
	}
	return &db.Semester{UserID: userID, Name: r.Name, StartDate: start, EndDate: end, IsActive: r.IsActive}, nil
}

// APIListSemesters returns the user's semesters.
func (h *Handlers) APIListSemesters(c *gin.Context) {
	semesters, err := h.db.GetSemestersByUserID(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err, "Failed to load semesters")
		return
	}
	if semesters == nil {
		semesters = []*db.Semester{}
	}
	c.JSON(http.StatusOK, gin.H{"semesters": semesters})
}

// APICreateSemester creates a semester.
func (h *Handlers) APICreateSemester(c *gin.Context) {
	var req semesterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sem, err := req.semester(currentUserID(c))
	if err != nil {
		respondError(c, err, "")
		return
	}
	if err := h.db.CreateSemester(c.Request.Context(), sem); err != nil {
		respondError(c, err, "Failed to create semester")
		return
	}
	c.JSON(http.StatusCreated, sem)
}

// APIActivateSemester makes a semester the active one. Slot events already
// on the calendar are left in place; a slot resync moves them.
func (h *Handlers) APIActivateSemester(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUserID(c)
	if err := h.db.SetActiveSemester(ctx, userID, c.Param("id")); err != nil {
		respondError(c, err, "Failed to activate semester")
		return
	}

	sem, err := h.db.GetSemester(ctx, userID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load semester")
		return
	}
	c.JSON(http.StatusOK, sem)
}

// APIDeleteSemester deletes a semester with its slots and their remote events.
func (h *Handlers) APIDeleteSemester(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUserID(c)

	sem, err := h.db.GetSemester(ctx, userID, c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load semester")
		return
	}
	slots, err := h.db.GetSlotsBySemester(ctx, userID, sem.ID)
	if err != nil {
		respondError(c, err, "Failed to load timetable")
		return
	}

	// Tracked events cascade away with the semester.
	tracked := make([][]db.SlotEvent, len(slots))
	for i, slot := range slots {
		if tracked[i], err = h.db.GetSlotEvents(ctx, slot.ID); err != nil {
			respondError(c, err, "Failed to load slot events")
			return
		}
	}

	if err := h.db.DeleteSemester(ctx, userID, sem.ID); err != nil {
		respondError(c, err, "Failed to delete semester")
		return
	}
	for i, slot := range slots {
		if err := h.orch.SlotDeleted(ctx, slot, tracked[i]); err != nil {
			respondError(c, err, "Failed to remove calendar events")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Semester deleted"})
}

type slotRequest struct {
	SemesterID       string `json:"semester_id"`
	DayOfWeek        *int   `json:"day_of_week"`
	Subject          string `json:"subject"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Location         string `json:"location"`
	Instructor       string `json:"instructor"`
	Notes            string `json:"notes"`
	SyncWithCalendar bool   `json:"sync_with_calendar"`
}

func (r *slotRequest) validate() error {
	if r.DayOfWeek == nil {
		return fmt.Errorf("%w: day_of_week is required", validator.ErrInvalidField)
	}
	if err := validator.DayOfWeek(*r.DayOfWeek); err != nil {
		return err
	}
	if err := validator.Title("subject", r.Subject); err != nil {
		return err
	}
	if err := validator.ClockRange(r.StartTime, r.EndTime); err != nil {
		return err
	}
	for field, v := range map[string]string{"location": r.Location, "instructor": r.Instructor} {
		if err := validator.MaxLength(field, v, validator.MaxTitleLength); err != nil {
			return err
		}
	}
	return validator.MaxLength("notes", r.Notes, validator.MaxTextLength)
}

func (r *slotRequest) apply(slot *db.TimetableSlot) {
	slot.DayOfWeek = *r.DayOfWeek
	slot.Subject = r.Subject
	slot.StartTime = r.StartTime
	slot.EndTime = r.EndTime
	slot.Location = r.Location
	slot.Instructor = r.Instructor
	slot.Notes = r.Notes
	slot.SyncEnabled = r.SyncWithCalendar
}

func bindSlot(c *gin.Context) (*slotRequest, bool) {
	var req slotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return nil, false
	}
	if err := req.validate(); err != nil {
		respondError(c, err, "")
		return nil, false
	}
	return &req, true
}

// semesterFor resolves an explicit semester id, or the active semester when empty.
func (h *Handlers) semesterFor(c *gin.Context, id string) (*db.Semester, error) {
	userID := currentUserID(c)
	if id != "" {
		return h.db.GetSemester(c.Request.Context(), userID, id)
	}
	return h.db.GetActiveSemester(c.Request.Context(), userID)
}

// APIListSlots returns the slots of a semester (query semester_id), or of
// the active semester.
func (h *Handlers) APIListSlots(c *gin.Context) {
	sem, err := h.semesterFor(c, c.Query("semester_id"))
	if errors.Is(err, db.ErrNotFound) && c.Query("semester_id") == "" {
		c.JSON(http.StatusOK, gin.H{"semester": nil, "slots": []*db.TimetableSlot{}})
		return
	}
	if err != nil {
		respondError(c, err, "Failed to load semester")
		return
	}

	slots, err := h.db.GetSlotsBySemester(c.Request.Context(), sem.UserID, sem.ID)
	if err != nil {
		respondError(c, err, "Failed to load timetable")
		return
	}
	if slots == nil {
		slots = []*db.TimetableSlot{}
	}
	c.JSON(http.StatusOK, gin.H{"semester": sem, "slots": slots})
}

// APICreateSlot adds a weekly class and mirrors its upcoming occurrences.
func (h *Handlers) APICreateSlot(c *gin.Context) {
	req, ok := bindSlot(c)
	if !ok {
		return
	}

	sem, err := h.semesterFor(c, req.SemesterID)
	if err != nil {
		respondError(c, err, "Failed to load semester")
		return
	}

	slot := &db.TimetableSlot{UserID: sem.UserID, SemesterID: sem.ID}
	req.apply(slot)

	ctx := c.Request.Context()
	if err := h.db.CreateSlot(ctx, slot); err != nil {
		respondError(c, err, "Failed to create slot")
		return
	}
	if err := h.orch.SlotCreated(ctx, slot); err != nil {
		respondError(c, err, "Failed to sync slot")
		return
	}

	c.JSON(http.StatusCreated, slot)
}

// APIUpdateSlot replaces a slot and its remote occurrences.
func (h *Handlers) APIUpdateSlot(c *gin.Context) {
	req, ok := bindSlot(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	slot, err := h.db.GetSlot(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load slot")
		return
	}

	req.apply(slot)
	if err := h.db.UpdateSlot(ctx, slot); err != nil {
		respondError(c, err, "Failed to update slot")
		return
	}
	if err := h.orch.SlotUpdated(ctx, slot); err != nil {
		respondError(c, err, "Failed to sync slot")
		return
	}

	c.JSON(http.StatusOK, slot)
}

// APIDeleteSlot deletes a slot and its remote occurrences.
func (h *Handlers) APIDeleteSlot(c *gin.Context) {
	ctx := c.Request.Context()
	slot, err := h.db.GetSlot(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load slot")
		return
	}

	tracked, err := h.db.GetSlotEvents(ctx, slot.ID)
	if err != nil {
		respondError(c, err, "Failed to load slot events")
		return
	}
	if err := h.db.DeleteSlot(ctx, slot.UserID, slot.ID); err != nil {
		respondError(c, err, "Failed to delete slot")
		return
	}
	if err := h.orch.SlotDeleted(ctx, slot, tracked); err != nil {
		respondError(c, err, "Failed to remove calendar events")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Slot deleted"})
}

// APISyncSlot replaces a slot's remote occurrences on request.
func (h *Handlers) APISyncSlot(c *gin.Context) {
	ctx := c.Request.Context()
	slot, err := h.db.GetSlot(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load slot")
		return
	}

	result, err := h.orch.ResyncSlot(ctx, slot)
	if err != nil {
		respondError(c, err, "Failed to sync slot")
		return
	}
	c.JSON(http.StatusOK, result)
}

// APIExportTimetable downloads a semester's timetable as an iCalendar file.
func (h *Handlers) APIExportTimetable(c *gin.Context) {
	sem, err := h.semesterFor(c, c.Query("semester_id"))
	if err != nil {
		respondError(c, err, "Failed to load semester")
		return
	}

	slots, err := h.db.GetSlotsBySemester(c.Request.Context(), sem.UserID, sem.ID)
	if err != nil {
		respondError(c, err, "Failed to load timetable")
		return
	}

	var buf bytes.Buffer
	if err := export.Timetable(&buf, sem, slots, h.engine.Location(), time.Now()); err != nil {
		respondError(c, err, "Failed to export timetable")
		return
	}

	c.Header("Content-Disposition", `attachment; filename="timetable.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}
