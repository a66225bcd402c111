package gcal

import (
	"context"
	"errors"
	"log"
	"strings"
)

// CleanupResult reports a cleanup run.
type CleanupResult struct {
	Found   int `json:"total"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// CleanupInvalidEvents deletes remote events left behind by broken syncs in
// a window of the configured number of months around now: events with an
// empty title, the literal titles "undefined" or "null", or the bare
// placeholder "Class" with no description. A failed delete does not stop
// the run.
func (e *Engine) CleanupInvalidEvents(ctx context.Context, userID string) (*CleanupResult, error) {
	client, err := e.clients.Client(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	events, err := client.ListEvents(ctx, ListOptions{
		TimeMin:    now.AddDate(0, -e.cleanupMonths, 0),
		TimeMax:    now.AddDate(0, e.cleanupMonths, 0),
		MaxResults: cleanupMaxResults,
	})
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	for _, ev := range events {
		if !IsInvalidEvent(ev) {
			continue
		}
		result.Found++

		if err := client.DeleteEvent(ctx, ev.ID); err != nil && !errors.Is(err, ErrEventNotFound) {
			result.Failed++
			log.Printf("[Cleanup] Failed to delete event %s: %v", ev.ID, err)
			continue
		}
		result.Deleted++
	}

	log.Printf("[Cleanup] User %s: found %d invalid events, deleted %d, failed %d",
		userID, result.Found, result.Deleted, result.Failed)
	return result, nil
}

// IsInvalidEvent reports whether an event looks like sync debris.
func IsInvalidEvent(ev RemoteEvent) bool {
	title := strings.TrimSpace(ev.TitleText())
	switch strings.ToLower(title) {
	case "", "undefined", "null":
		return true
	}
	return title == placeholderClassTitle && ev.Description == nil
}
