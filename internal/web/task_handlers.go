package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/validator"
	"github.com/gin-gonic/gin"
)

// taskRequest is the body of task create and update. Update replaces every field.
type taskRequest struct {
	Title            string      `json:"title"`
	Detail           string      `json:"detail"`
	Category         string      `json:"category"`
	Priority         db.Priority `json:"priority"`
	Completed        bool        `json:"completed"`
	DueDate          *time.Time  `json:"due_date"`
	StartTime        *time.Time  `json:"start_time"`
	EndTime          *time.Time  `json:"end_time"`
	SyncWithCalendar bool        `json:"sync_with_calendar"`
}

func (r *taskRequest) validate() error {
	if err := validator.Title("title", r.Title); err != nil {
		return err
	}
	if err := validator.MaxLength("detail", r.Detail, validator.MaxTextLength); err != nil {
		return err
	}
	if err := validator.MaxLength("category", r.Category, validator.MaxCategoryLength); err != nil {
		return err
	}
	if r.Priority == "" {
		r.Priority = db.PriorityMedium
	}
	if !r.Priority.IsValid() {
		return fmt.Errorf("%w: priority must be Low, Medium or High", validator.ErrInvalidField)
	}
	return validator.TimeRange(r.StartTime, r.EndTime)
}

func (r *taskRequest) apply(task *db.Task) {
	task.Title = r.Title
	task.Detail = r.Detail
	task.Category = r.Category
	task.Priority = r.Priority
	task.Completed = r.Completed
	task.DueDate = r.DueDate
	task.StartTime = r.StartTime
	task.EndTime = r.EndTime
	task.SyncEnabled = r.SyncWithCalendar
}

func bindTask(c *gin.Context) (*taskRequest, bool) {
	var req taskRequest
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

// APIListTasks returns the user's tasks.
func (h *Handlers) APIListTasks(c *gin.Context) {
	tasks, err := h.db.GetTasksByUserID(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err, "Failed to load tasks")
		return
	}
	if tasks == nil {
		tasks = []*db.Task{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// APIGetTask returns one task.
func (h *Handlers) APIGetTask(c *gin.Context) {
	task, err := h.db.GetTask(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load task")
		return
	}
	c.JSON(http.StatusOK, task)
}

// APICreateTask stores a task and mirrors it when sync is on. A calendar
// failure does not fail the request.
func (h *Handlers) APICreateTask(c *gin.Context) {
	req, ok := bindTask(c)
	if !ok {
		return
	}

	task := &db.Task{UserID: currentUserID(c)}
	req.apply(task)

	ctx := c.Request.Context()
	if err := h.db.CreateTask(ctx, task); err != nil {
		respondError(c, err, "Failed to create task")
		return
	}
	if err := h.orch.TaskCreated(ctx, task); err != nil {
		respondError(c, err, "Failed to sync task")
		return
	}

	c.JSON(http.StatusCreated, task)
}

// APIUpdateTask replaces a task and reconciles its remote event.
func (h *Handlers) APIUpdateTask(c *gin.Context) {
	req, ok := bindTask(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	task, err := h.db.GetTask(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load task")
		return
	}

	req.apply(task)
	if err := h.db.UpdateTask(ctx, task); err != nil {
		respondError(c, err, "Failed to update task")
		return
	}
	// task still carries the remote id it had, so a disabled sync can delete it.
	if err := h.orch.TaskUpdated(ctx, task); err != nil {
		respondError(c, err, "Failed to sync task")
		return
	}
	// The stored row is already detached even when the remote delete failed.
	if !task.SyncEnabled {
		task.RemoteEventID = nil
	}

	c.JSON(http.StatusOK, task)
}

// APIDeleteTask deletes a task and its remote event.
func (h *Handlers) APIDeleteTask(c *gin.Context) {
	ctx := c.Request.Context()
	task, err := h.db.GetTask(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load task")
		return
	}

	if err := h.db.DeleteTask(ctx, task.UserID, task.ID); err != nil {
		respondError(c, err, "Failed to delete task")
		return
	}
	if err := h.orch.TaskDeleted(ctx, task); err != nil {
		respondError(c, err, "Failed to remove calendar event")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

// APISyncTask reconciles one task on request. Calendar errors are reported.
func (h *Handlers) APISyncTask(c *gin.Context) {
	ctx := c.Request.Context()
	task, err := h.db.GetTask(ctx, currentUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to load task")
		return
	}

	result, err := h.orch.ResyncTask(ctx, task)
	if err != nil {
		respondError(c, err, "Failed to sync task")
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": result.Outcome, "task": task})
}
