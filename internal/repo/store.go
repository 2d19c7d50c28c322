package repo

import (
	"context"
	"slices"
	"strings"

	"eventsnap/internal/services/events"
)

// EventStore persists the event history. Failures are reported as
// *events.StorageError; a missing event is events.ErrNotFound.
type EventStore interface {
	// SaveEvents inserts events, replacing any with the same id.
	SaveEvents(ctx context.Context, list []events.CalendarEvent) error
	// GetAllEvents returns every event ordered by start date.
	GetAllEvents(ctx context.Context) ([]events.CalendarEvent, error)
	UpdateEvent(ctx context.Context, e events.CalendarEvent) error
	DeleteEvent(ctx context.Context, id string) error
	ClearHistory(ctx context.Context) error
	// SearchEvents matches query case-insensitively against title,
	// location and description.
	SearchEvents(ctx context.Context, query string) ([]events.CalendarEvent, error)
	Ping(ctx context.Context) error
	Close()
}

func sortByStart(list []events.CalendarEvent) {
	slices.SortStableFunc(list, func(a, b events.CalendarEvent) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return a.Created.Compare(b.Created)
	})
}

func matches(e events.CalendarEvent, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	for _, field := range []string{e.Title, e.Location, e.Description} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
