// Package gcal adapts the Google Calendar v3 API and reconciles local tasks
// and timetable slots with remote events.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/aanjaneya24/smartsched/internal/metrics"
	"github.com/aanjaneya24/smartsched/internal/oauth"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// ErrEventNotFound is returned when the remote event no longer exists.
var ErrEventNotFound = errors.New("calendar event not found")

// ListOptions bounds an event listing.
type ListOptions struct {
	TimeMin    time.Time
	TimeMax    time.Time
	MaxResults int64
	// OrderByStart sorts by start time. The API requires single events for this.
	OrderByStart bool
}

// EventInput is the writable shape of a remote event.
type EventInput struct {
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// EventService is the subset of the Calendar API this service uses. All
// operations act on the user's primary calendar.
type EventService interface {
	ListEvents(ctx context.Context, opts ListOptions) ([]RemoteEvent, error)
	InsertEvent(ctx context.Context, in *EventInput) (*RemoteEvent, error)
	UpdateEvent(ctx context.Context, eventID string, in *EventInput) (*RemoteEvent, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// ClientSource hands out an EventService bound to a user's credential.
type ClientSource interface {
	Client(ctx context.Context, userID string) (EventService, error)
}

// TokenProvider supplies per-user oauth2 tokens. Implemented by *oauth.Manager.
type TokenProvider interface {
	Credentials(ctx context.Context, userID string) (*oauth2.Token, error)
	TokenSource(ctx context.Context, userID string) oauth2.TokenSource
}

// ClientFactory builds Calendar API clients for users.
type ClientFactory struct {
	tokens   TokenProvider
	location *time.Location
	options  []option.ClientOption
}

// NewClientFactory creates a factory. loc is used to interpret all-day dates
// and to label timed events. Extra client options are appended to every
// service, which lets tests point the client at a local server.
func NewClientFactory(tokens TokenProvider, loc *time.Location, opts ...option.ClientOption) *ClientFactory {
	if loc == nil {
		loc = time.UTC
	}
	return &ClientFactory{tokens: tokens, location: loc, options: opts}
}

// Client returns an EventService for the user. It fails fast with
// oauth.ErrNotConnected (or another token error) before any API call.
func (f *ClientFactory) Client(ctx context.Context, userID string) (EventService, error) {
	token, err := f.tokens.Credentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(token, f.tokens.TokenSource(ctx, userID)),
		},
	}

	opts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, f.options...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &Client{svc: svc, location: f.location}, nil
}

// Client is an EventService backed by the Google Calendar API.
type Client struct {
	svc      *calendar.Service
	location *time.Location
}

// ListEvents lists single (expanded) events on the primary calendar.
func (c *Client) ListEvents(ctx context.Context, opts ListOptions) ([]RemoteEvent, error) {
	call := c.svc.Events.List(primaryCalendar).SingleEvents(true).Context(ctx)
	if !opts.TimeMin.IsZero() {
		call = call.TimeMin(opts.TimeMin.Format(time.RFC3339))
	}
	if !opts.TimeMax.IsZero() {
		call = call.TimeMax(opts.TimeMax.Format(time.RFC3339))
	}
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}
	if opts.OrderByStart {
		call = call.OrderBy("startTime")
	}

	resp, err := call.Do()
	if err != nil {
		return nil, c.fail("list", err)
	}
	metrics.ObserveCalendarCall("list", "ok")

	events := make([]RemoteEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		ev, err := fromAPI(item, c.location)
		if err != nil {
			log.Printf("[Calendar] Skipping event %s: %v", item.Id, err)
			continue
		}
		events = append(events, ev)
	}

	return events, nil
}

// InsertEvent creates an event and returns it as stored by the provider.
func (c *Client) InsertEvent(ctx context.Context, in *EventInput) (*RemoteEvent, error) {
	created, err := c.svc.Events.Insert(primaryCalendar, toAPI(in, c.location)).Context(ctx).Do()
	if err != nil {
		return nil, c.fail("insert", err)
	}
	metrics.ObserveCalendarCall("insert", "ok")
	return c.normalize(created)
}

// UpdateEvent replaces an existing event. A missing event yields ErrEventNotFound.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, in *EventInput) (*RemoteEvent, error) {
	updated, err := c.svc.Events.Update(primaryCalendar, eventID, toAPI(in, c.location)).Context(ctx).Do()
	if err != nil {
		return nil, c.fail("update", err)
	}
	metrics.ObserveCalendarCall("update", "ok")
	return c.normalize(updated)
}

// DeleteEvent deletes an event. A missing event yields ErrEventNotFound.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	if err := c.svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do(); err != nil {
		return c.fail("delete", err)
	}
	metrics.ObserveCalendarCall("delete", "ok")
	return nil
}

func (c *Client) normalize(e *calendar.Event) (*RemoteEvent, error) {
	ev, err := fromAPI(e, c.location)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Client) fail(op string, err error) error {
	classified := classifyAPIError(err)
	metrics.ObserveCalendarCall(op, errorClass(classified))
	return fmt.Errorf("calendar %s: %w", op, classified)
}

// classifyAPIError maps Calendar API failures onto ErrEventNotFound and the
// oauth error taxonomy. Token errors pass through unchanged.
func classifyAPIError(err error) error {
	for _, sentinel := range []error{oauth.ErrNotConnected, oauth.ErrReauthRequired, oauth.ErrNotConfigured, oauth.ErrTransient} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%w: %w", oauth.ErrTransient, err)
	}

	switch {
	case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
		return fmt.Errorf("%w: %w", ErrEventNotFound, err)
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", oauth.ErrReauthRequired, err)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", oauth.ErrTransient, err)
	case gerr.Code == http.StatusForbidden && isRateLimited(gerr):
		return fmt.Errorf("%w: %w", oauth.ErrTransient, err)
	}

	return err
}

func isRateLimited(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return "not_found"
	case errors.Is(err, oauth.ErrReauthRequired), errors.Is(err, oauth.ErrNotConnected):
		return "unauthorized"
	case errors.Is(err, oauth.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
