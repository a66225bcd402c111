package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/gcal"
	"github.com/aanjaneya24/smartsched/internal/oauth"
	"github.com/aanjaneya24/smartsched/internal/validator"
	"github.com/gin-gonic/gin"
)

const (
	defaultEventResults = 50
	maxEventResults     = 2500
	externalWindow      = 7 * 24 * time.Hour
)

// APICalendarAuthURL returns the Google consent URL for the current user.
func (h *Handlers) APICalendarAuthURL(c *gin.Context) {
	authURL, err := h.connector.BeginAuthorization(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err, "Failed to start Google Calendar authorization")
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorizationUrl": authURL})
}

// CalendarCallback completes the consent flow. Google redirects the browser
// here without the app's session, so the user is taken from the signed state.
func (h *Handlers) CalendarCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		h.renderCallback(c, http.StatusBadRequest, false, "Google Calendar access was not granted.")
		return
	}

	ctx := c.Request.Context()
	userID, email, err := h.connector.CompleteAuthorization(ctx, c.Query("code"), c.Query("state"))
	if err != nil {
		status, message := callbackFailure(err)
		sanitizeError(err, message)
		h.renderCallback(c, status, false, message)
		return
	}

	h.notifier.SendReconnectedAlert(ctx, userID, email)
	h.renderCallback(c, http.StatusOK, true, "Google Calendar connected as "+email+".")
}

func callbackFailure(err error) (int, string) {
	switch {
	case errors.Is(err, oauth.ErrInvalidState), errors.Is(err, oauth.ErrMissingCode):
		return http.StatusBadRequest, "The authorization request is invalid or has expired. Please try again."
	case errors.Is(err, oauth.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Google Calendar integration is not configured."
	case errors.Is(err, oauth.ErrTransient):
		return http.StatusBadGateway, "Google is temporarily unavailable. Please try again."
	case errors.Is(err, oauth.ErrTokenExchange), errors.Is(err, oauth.ErrTokenVerify), errors.Is(err, oauth.ErrMissingEmail):
		return http.StatusBadRequest, "Google rejected the authorization. Please try again."
	default:
		return http.StatusInternalServerError, "Failed to connect Google Calendar."
	}
}

func (h *Handlers) renderCallback(c *gin.Context, status int, success bool, message string) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(c.Writer, "callback.html", gin.H{
		"Success": success,
		"Message": message,
	}); err != nil {
		sanitizeError(err, "Failed to render callback page")
	}
}

// APICalendarDisconnect removes the user's credential.
func (h *Handlers) APICalendarDisconnect(c *gin.Context) {
	if err := h.connector.Disconnect(c.Request.Context(), currentUserID(c)); err != nil {
		respondError(c, err, "Failed to disconnect Google Calendar")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Google Calendar disconnected", "connected": false})
}

// APICalendarStatus reports whether the integration is configured and the
// user is connected.
func (h *Handlers) APICalendarStatus(c *gin.Context) {
	status, err := h.connector.Status(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err, "Failed to load Google Calendar status")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"configured":         h.connector.Configured(),
		"connected":          status.Connected,
		"remoteAccountEmail": status.RemoteAccountEmail,
	})
}

// APIListEvents lists events from the user's primary calendar.
// Query: timeMin, timeMax (RFC 3339), maxResults.
func (h *Handlers) APIListEvents(c *gin.Context) {
	opts, err := h.listOptions(c, 0)
	if err != nil {
		respondError(c, err, "")
		return
	}

	events, err := h.listEvents(c, opts)
	if err != nil {
		respondError(c, err, "Failed to list calendar events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// APITodayEvents lists today's events in the configured time zone.
func (h *Handlers) APITodayEvents(c *gin.Context) {
	loc := h.engine.Location()
	y, m, d := time.Now().In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)

	events, err := h.listEvents(c, gcal.ListOptions{
		TimeMin:      start,
		TimeMax:      start.AddDate(0, 0, 1),
		MaxResults:   defaultEventResults,
		OrderByStart: true,
	})
	if err != nil {
		respondError(c, err, "Failed to list today's events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// APIExternalEvents lists events that do not mirror a slot of the active
// semester, so the client can show them next to its own timetable.
func (h *Handlers) APIExternalEvents(c *gin.Context) {
	opts, err := h.listOptions(c, externalWindow)
	if err != nil {
		respondError(c, err, "")
		return
	}

	events, err := h.listEvents(c, opts)
	if err != nil {
		respondError(c, err, "Failed to list calendar events")
		return
	}

	userID := currentUserID(c)
	var slots []*db.TimetableSlot
	sem, err := h.db.GetActiveSemester(c.Request.Context(), userID)
	switch {
	case err == nil:
		if slots, err = h.db.GetSlotsBySemester(c.Request.Context(), userID, sem.ID); err != nil {
			respondError(c, err, "Failed to load timetable")
			return
		}
	case !errors.Is(err, db.ErrNotFound):
		respondError(c, err, "Failed to load active semester")
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": gcal.FilterExternal(events, slots, h.engine.Location())})
}

type createEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	IsAllDay    bool      `json:"isAllDay"`
}

// APICreateEvent creates a standalone event on the user's primary calendar.
func (h *Handlers) APICreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := validateEvent(&req); err != nil {
		respondError(c, err, "")
		return
	}

	client, err := h.calendars.Client(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err, "Failed to connect to Google Calendar")
		return
	}

	event, err := client.InsertEvent(c.Request.Context(), &gcal.EventInput{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Start:       req.Start,
		End:         req.End,
		AllDay:      req.IsAllDay,
	})
	if err != nil {
		respondError(c, err, "Failed to create calendar event")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

func validateEvent(req *createEventRequest) error {
	if err := validator.Title("title", req.Title); err != nil {
		return err
	}
	if err := validator.MaxLength("description", req.Description, validator.MaxTextLength); err != nil {
		return err
	}
	if err := validator.MaxLength("location", req.Location, validator.MaxTitleLength); err != nil {
		return err
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", validator.ErrInvalidField)
	}
	return validator.TimeRange(&req.Start, &req.End)
}

// APICleanupUndefined deletes sync debris from the user's calendar.
func (h *Handlers) APICleanupUndefined(c *gin.Context) {
	result, err := h.orch.Cleanup(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err, "Failed to clean up calendar events")
		return
	}
	c.JSON(http.StatusOK, result)
}

// APISyncActivity returns the user's running and recent bulk sync runs.
func (h *Handlers) APISyncActivity(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Activity(currentUserID(c)))
}

func (h *Handlers) listEvents(c *gin.Context, opts gcal.ListOptions) ([]gcal.RemoteEvent, error) {
	client, err := h.calendars.Client(c.Request.Context(), currentUserID(c))
	if err != nil {
		return nil, err
	}
	return client.ListEvents(c.Request.Context(), opts)
}

// listOptions reads the listing query. timeMin defaults to now. When
// defaultSpan is set, timeMax defaults to timeMin plus that span.
func (h *Handlers) listOptions(c *gin.Context, defaultSpan time.Duration) (gcal.ListOptions, error) {
	opts := gcal.ListOptions{
		TimeMin:      time.Now(),
		MaxResults:   defaultEventResults,
		OrderByStart: true,
	}

	if v := c.Query("timeMin"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%w: timeMin must be an RFC 3339 timestamp", validator.ErrInvalidField)
		}
		opts.TimeMin = t
	}

	if v := c.Query("timeMax"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%w: timeMax must be an RFC 3339 timestamp", validator.ErrInvalidField)
		}
		opts.TimeMax = t
	} else if defaultSpan > 0 {
		opts.TimeMax = opts.TimeMin.Add(defaultSpan)
	}

	if !opts.TimeMax.IsZero() && !opts.TimeMax.After(opts.TimeMin) {
		return opts, fmt.Errorf("%w: timeMax must be after timeMin", validator.ErrInvalidField)
	}

	if v := c.Query("maxResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxEventResults {
			return opts, fmt.Errorf("%w: maxResults must be between 1 and %d", validator.ErrInvalidField, maxEventResults)
		}
		opts.MaxResults = int64(n)
	}

	return opts, nil
}
