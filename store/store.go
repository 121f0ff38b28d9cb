package store

import (
	"context"
	"time"
)

// EventSource is the read/write boundary for stored event definitions.
// Implementations must apply the candidate-window predicate of
// ListCandidates exactly as documented so the materializer can prune
// events entirely outside a query window at low cost.
type EventSource interface {
	// GetEvent retrieves one event by id.
	GetEvent(ctx context.Context, id string) (*Event, error)
	// ListCalendarEvents retrieves all events of a calendar.
	ListCalendarEvents(ctx context.Context, calendarID string) ([]*Event, error)
	// ListCandidates retrieves events that may produce instances in
	// the closed window [begin, end]: DtStart <= end AND
	// (LastDate unknown OR LastDate >= begin).
	ListCandidates(ctx context.Context, begin, end time.Time) ([]*Event, error)
	// ListExceptions retrieves the exception events whose OriginalID
	// references the given master event.
	ListExceptions(ctx context.Context, originalID string) ([]*Event, error)
	// PutEvent inserts or replaces an event record.
	PutEvent(ctx context.Context, ev *Event) error
	// DeleteEvent removes an event. Implementations do not cascade;
	// the materializer owns instance cleanup.
	DeleteEvent(ctx context.Context, id string) error
	// DeleteCalendarEvents removes every event of a calendar and
	// returns the removed ids so the caller can cascade to instances.
	DeleteCalendarEvents(ctx context.Context, calendarID string) ([]string, error)
}

// InstanceSink is the derived-instance side of the store. Rows are
// keyed (EventID, Begin); writes scoped to a set of owning events must
// not disturb rows owned by unrelated events.
type InstanceSink interface {
	// ReplaceInstances atomically deletes all rows owned by eventIDs
	// and inserts the given rows.
	ReplaceInstances(ctx context.Context, eventIDs []string, instances []Instance) error
	// DeleteInstances removes all rows owned by eventIDs.
	DeleteInstances(ctx context.Context, eventIDs []string) error
	// ClearInstances wipes the sink (full-wipe invalidation).
	ClearInstances(ctx context.Context) error
	// ListInstances range-scans rows overlapping the closed window
	// [begin, end], ordered by Begin then EventID.
	ListInstances(ctx context.Context, begin, end time.Time) ([]Instance, error)
	// ListInstancesByDay scans rows whose [StartDay, EndDay] span
	// intersects [startDay, endDay]; the busy aggregator's index.
	ListInstancesByDay(ctx context.Context, startDay, endDay int) ([]Instance, error)
	// UpdateDisplayFields refreshes the denormalized Summary/Location
	// copies on rows owned by the event, without touching geometry.
	UpdateDisplayFields(ctx context.Context, ev *Event) error
}

// Store combines both sides; the materializer requires a single
// implementation so event reads and instance writes observe one
// consistent snapshot under its lock.
type Store interface {
	EventSource
	InstanceSink
}
